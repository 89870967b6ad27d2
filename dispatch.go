package pgbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/rickchristie/postgres-bridge/internal/argcheck"
	"github.com/rickchristie/postgres-bridge/internal/errprompt"
	"github.com/rickchristie/postgres-bridge/internal/protection"
	"github.com/rickchristie/postgres-bridge/internal/render"
)

// Database is the set of operations the Dispatcher needs. *PoolManager
// implements it.
type Database interface {
	Query(ctx context.Context, sql string, params []any) (QueryOutcome, error)
	Execute(ctx context.Context, sql string, params []any) (ExecuteOutcome, error)
	ListTables(ctx context.Context) (QueryOutcome, error)
	DescribeTable(ctx context.Context, schema, name string) (TableDescription, error)
	CreateTable(ctx context.Context, def TableDefinition) (ExecuteOutcome, error)
}

var _ Database = (*PoolManager)(nil)

// Dispatcher validates tool calls, gates SQL by statement class, and turns
// every outcome into a tool result. It is the only place errors become results.
type Dispatcher struct {
	db      Database
	tools   []mcp.Tool
	schemas map[string]*argcheck.Schema
	hints   *errprompt.Matcher
	logger  zerolog.Logger
}

// NewDispatcher creates a Dispatcher over db with the default error hints.
func NewDispatcher(db Database, logger zerolog.Logger) *Dispatcher {
	tools := ToolDefinitions()
	schemas := make(map[string]*argcheck.Schema, len(tools))
	for _, t := range tools {
		schemas[t.Name] = argcheck.MustCompile(t.Name, inputSchema(t))
	}
	return &Dispatcher{
		db:      db,
		tools:   tools,
		schemas: schemas,
		hints:   errprompt.MustNewMatcher(errprompt.DefaultRules),
		logger:  logger,
	}
}

// Tools returns the tool definitions served by d.
func (d *Dispatcher) Tools() []mcp.Tool {
	return d.tools
}

// Handle runs one tool call. It never panics and never returns nil; failures
// come back as results with IsError set.
func (d *Dispatcher) Handle(ctx context.Context, name string, rawArgs any) (result *mcp.CallToolResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("tool", name).Interface("panic", r).Msg("tool call panicked")
			result = d.failure(name, fmt.Errorf("internal failure: %v", r))
		}
	}()

	text, err := d.dispatch(ctx, name, rawArgs)
	if err != nil {
		return d.failure(name, err)
	}
	return mcp.NewToolResultText(text)
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, rawArgs any) (string, error) {
	schema, ok := d.schemas[name]
	if !ok {
		return "", newValidationError("unknown tool %q", name)
	}
	args, err := checkArgs(schema, rawArgs)
	if err != nil {
		return "", err
	}

	switch name {
	case ToolQuery:
		return d.query(ctx, args)
	case ToolExecute:
		return d.execute(ctx, args)
	case ToolCreateTable:
		return d.createTable(ctx, args)
	case ToolDescribeTable:
		return d.describeTable(ctx, args)
	case ToolListTables:
		out, err := d.db.ListTables(ctx)
		if err != nil {
			return "", err
		}
		return render.Rows(out.Fields, out.Rows, out.RowCount, out.Truncated), nil
	}
	return "", newValidationError("unknown tool %q", name)
}

func (d *Dispatcher) query(ctx context.Context, args map[string]any) (string, error) {
	sql, err := statementArg(args)
	if err != nil {
		return "", err
	}

	verdict := protection.Classify(sql)
	switch {
	case verdict.Class == protection.ReadOnly:
	case verdict.Phrase != "":
		return "", blockedError(verdict)
	default:
		return "", newValidationError("the query tool only runs read-only statements (SELECT or WITH); use the execute tool for %s statements", verbLabel(sql))
	}

	out, err := d.db.Query(ctx, sql, paramsArg(args))
	if err != nil {
		return "", err
	}
	return render.Rows(out.Fields, out.Rows, out.RowCount, out.Truncated), nil
}

func (d *Dispatcher) execute(ctx context.Context, args map[string]any) (string, error) {
	sql, err := statementArg(args)
	if err != nil {
		return "", err
	}

	verdict := protection.Classify(sql)
	switch verdict.Class {
	case protection.Mutating:
	case protection.ReadOnly:
		return "", newValidationError("the execute tool does not run read-only statements; use the query tool for SELECT and WITH statements")
	default:
		return "", blockedError(verdict)
	}

	out, err := d.db.Execute(ctx, sql, paramsArg(args))
	if err != nil {
		return "", err
	}
	return render.Command(out.Verb, out.RowsAffected), nil
}

func (d *Dispatcher) createTable(ctx context.Context, args map[string]any) (string, error) {
	var def TableDefinition
	if err := decodeArgs(args, &def); err != nil {
		return "", err
	}
	if err := def.Validate(); err != nil {
		return "", err
	}
	if _, err := d.db.CreateTable(ctx, def); err != nil {
		return "", err
	}
	if def.IfNotExists {
		return fmt.Sprintf("Table %s is ready (created, or it already existed).", def.QualifiedName()), nil
	}
	return fmt.Sprintf("Successfully created table %s.", def.QualifiedName()), nil
}

func (d *Dispatcher) describeTable(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["tableName"].(string)
	schema, _ := args["schema"].(string)

	var problems []string
	if !ValidIdentifier(name) {
		problems = append(problems, fmt.Sprintf("invalid table name %q: must match %s", name, identifierPattern))
	}
	if schema != "" && !ValidIdentifier(schema) {
		problems = append(problems, fmt.Sprintf("invalid schema name %q: must match %s", schema, identifierPattern))
	}
	if len(problems) > 0 {
		return "", &ValidationError{Problems: problems}
	}

	desc, err := d.db.DescribeTable(ctx, schema, name)
	if err != nil {
		return "", err
	}
	return render.Sections(
		fmt.Sprintf("Table %s.%s (%s)", desc.Schema, desc.Name, strings.ReplaceAll(desc.Type, "_", " ")),
		render.Section{Title: "Columns", Body: renderOutcome(desc.Columns)},
		render.Section{Title: "Indexes", Body: renderNonEmpty(desc.Indexes)},
		render.Section{Title: "Foreign keys", Body: renderNonEmpty(desc.ForeignKeys)},
	), nil
}

// failure converts err into an error result, appending hints for database errors.
func (d *Dispatcher) failure(tool string, err error) *mcp.CallToolResult {
	var (
		valErr *ValidationError
		dbErr  *DatabaseError
		msg    string
	)
	switch {
	case errors.As(err, &valErr):
		msg = "Validation error: " + valErr.Error()
		d.logger.Debug().Str("tool", tool).Err(err).Msg("tool call rejected")
	case errors.As(err, &dbErr):
		msg = "Database error during " + dbErr.Error()
		logEvent := d.logger.Warn().Str("tool", tool).Err(err)
		if patterns := d.hints.MatchedPatterns(dbErr.Error()); len(patterns) > 0 {
			logEvent = logEvent.Strs("error_prompts", patterns)
		}
		logEvent.Msg("tool call failed")
		if hint := d.hints.Match(dbErr.Error()); hint != "" {
			msg += "\n\n" + hint
		}
	default:
		msg = "Unexpected error: " + err.Error()
		d.logger.Error().Str("tool", tool).Err(err).Msg("tool call failed")
	}
	return mcp.NewToolResultError(msg)
}

// inputSchema returns the JSON Schema document of a tool's arguments.
func inputSchema(tool mcp.Tool) map[string]any {
	schema := map[string]any{"type": "object"}
	if len(tool.InputSchema.Properties) > 0 {
		schema["properties"] = tool.InputSchema.Properties
	}
	if len(tool.InputSchema.Required) > 0 {
		schema["required"] = tool.InputSchema.Required
	}
	return schema
}

// checkArgs normalizes rawArgs to a JSON object and validates it against the
// tool's compiled input schema.
func checkArgs(schema *argcheck.Schema, rawArgs any) (map[string]any, error) {
	value, err := normalizeArgs(rawArgs)
	if err != nil {
		return nil, newValidationError("arguments are not valid JSON: %v", err)
	}

	if problems := schema.Check(value); len(problems) > 0 {
		msgs := make([]string, len(problems))
		for i, p := range problems {
			msgs[i] = p.String()
		}
		return nil, &ValidationError{Problems: msgs}
	}
	return value.(map[string]any), nil
}

// normalizeArgs turns whatever the transport delivered into generic JSON values.
// Absent arguments become an empty object.
func normalizeArgs(rawArgs any) (any, error) {
	switch v := rawArgs.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case json.RawMessage:
		return decodeJSON(v)
	case []byte:
		return decodeJSON(v)
	case string:
		return decodeJSON([]byte(v))
	}
	b, err := json.Marshal(rawArgs)
	if err != nil {
		return nil, err
	}
	return decodeJSON(b)
}

func decodeJSON(b []byte) (any, error) {
	if len(strings.TrimSpace(string(b))) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeArgs re-decodes already validated arguments into a typed struct.
func decodeArgs(args map[string]any, dst any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return newValidationError("arguments do not match the tool contract: %v", err)
	}
	return nil
}

func statementArg(args map[string]any) (string, error) {
	sql, _ := args["query"].(string)
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "", newValidationError("query: must not be empty")
	}
	return sql, nil
}

func paramsArg(args map[string]any) []any {
	params, _ := args["params"].([]any)
	return params
}

// blockedError reports a statement no tool will run.
func blockedError(v protection.Verdict) error {
	if v.Phrase != "" {
		return newValidationError("statement blocked: contains forbidden phrase %q", v.Phrase)
	}
	return newValidationError("statement blocked: %s; the execute tool accepts INSERT, UPDATE, DELETE, CREATE, ALTER, DROP, TRUNCATE, GRANT, and REVOKE", v.Reason)
}

func verbLabel(sql string) string {
	if verb := protection.LeadingVerb(sql); verb != "" {
		return strings.ToUpper(verb)
	}
	return "non-SELECT"
}

func renderOutcome(out QueryOutcome) string {
	return render.Rows(out.Fields, out.Rows, out.RowCount, out.Truncated)
}

func renderNonEmpty(out QueryOutcome) string {
	if len(out.Rows) == 0 {
		return ""
	}
	return renderOutcome(out)
}
