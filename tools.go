package pgbridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool names.
const (
	ToolQuery         = "query"
	ToolExecute       = "execute"
	ToolCreateTable   = "create_table"
	ToolDescribeTable = "describe_table"
	ToolListTables    = "list_tables"
)

var columnItemSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name":       map[string]any{"type": "string", "description": "Column name"},
		"type":       map[string]any{"type": "string", "description": "PostgreSQL data type, e.g. integer, text, varchar(255), timestamp with time zone"},
		"nullable":   map[string]any{"type": "boolean", "description": "Whether the column accepts NULL (default true)"},
		"primaryKey": map[string]any{"type": "boolean", "description": "Whether the column is part of the primary key"},
		"unique":     map[string]any{"type": "boolean", "description": "Whether the column has a UNIQUE constraint"},
		"default":    map[string]any{"type": "string", "description": "Default value expression"},
	},
	"required": []string{"name", "type"},
}

// ToolDefinitions returns the input contracts of every tool, in a fixed order.
func ToolDefinitions() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(ToolQuery,
			mcp.WithDescription("Run a read-only SQL statement (SELECT or WITH) and return the rows as a table. Use $1, $2, ... placeholders with params for values."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("The SELECT or WITH statement to run"),
			),
			mcp.WithArray("params",
				mcp.Description("Positional parameter values for $1, $2, ..."),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		mcp.NewTool(ToolExecute,
			mcp.WithDescription("Run a data-changing SQL statement (INSERT, UPDATE, DELETE, CREATE, ALTER, DROP, TRUNCATE, GRANT, REVOKE) and report the affected row count."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("The statement to execute"),
			),
			mcp.WithArray("params",
				mcp.Description("Positional parameter values for $1, $2, ..."),
			),
			mcp.WithDestructiveHintAnnotation(true),
		),
		mcp.NewTool(ToolCreateTable,
			mcp.WithDescription("Create a table from a list of column definitions."),
			mcp.WithString("tableName",
				mcp.Required(),
				mcp.Description("Name of the table to create"),
			),
			mcp.WithString("schema",
				mcp.Description("Schema to create the table in (defaults to the search path)"),
			),
			mcp.WithArray("columns",
				mcp.Required(),
				mcp.Description("Column definitions"),
				mcp.Items(columnItemSchema),
			),
			mcp.WithBoolean("ifNotExists",
				mcp.Description("Do nothing if the table already exists"),
			),
		),
		mcp.NewTool(ToolDescribeTable,
			mcp.WithDescription("Describe a table's columns, indexes, and foreign keys."),
			mcp.WithString("tableName",
				mcp.Required(),
				mcp.Description("The table to describe"),
			),
			mcp.WithString("schema",
				mcp.Description("The schema name (searches all non-system schemas when omitted)"),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		mcp.NewTool(ToolListTables,
			mcp.WithDescription("List the tables, views, materialized views, and foreign tables the current role can read."),
			mcp.WithReadOnlyHintAnnotation(true),
		),
	}
}

// RegisterMCPTools registers every tool on mcpServer, routing calls through d.
func RegisterMCPTools(mcpServer *server.MCPServer, d *Dispatcher) {
	for _, tool := range d.Tools() {
		name := tool.Name
		mcpServer.AddTool(tool, d.loggedToolHandler(name, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return d.Handle(ctx, name, req.Params.Arguments), nil
		}))
	}
}

// loggedToolHandler wraps a tool handler to log request and response sizes.
func (d *Dispatcher) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		startTime := time.Now()
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		d.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", resultLength(result)).
			Bool("is_error", result != nil && result.IsError).
			Dur("duration", time.Since(startTime)).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
