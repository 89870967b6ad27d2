package pgbridge

import (
	"fmt"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// QueryOutcome is the result of a row-returning statement. Rows holds at most
// MaxRows entries; RowCount is the number of rows the engine produced.
type QueryOutcome struct {
	Fields    []string
	Rows      [][]any
	RowCount  int64
	Truncated bool
}

// ExecuteOutcome is the result of a mutating statement. Verb is taken from the
// engine's command tag, not from the submitted text.
type ExecuteOutcome struct {
	Verb         string
	RowsAffected int64
}

// TableDescription is the catalog view of one relation.
type TableDescription struct {
	Schema      string
	Name        string
	Type        string // "table", "view", "materialized_view", "foreign_table", "partitioned_table"
	Columns     QueryOutcome
	Indexes     QueryOutcome
	ForeignKeys QueryOutcome
}

// TableDefinition is the input of the create_table tool.
type TableDefinition struct {
	Schema      string             `json:"schema,omitempty"`
	Name        string             `json:"tableName"`
	Columns     []ColumnDefinition `json:"columns"`
	IfNotExists bool               `json:"ifNotExists,omitempty"`
}

// ColumnDefinition describes one column of a TableDefinition. A nil Nullable
// leaves the engine default (nullable).
type ColumnDefinition struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   *bool  `json:"nullable,omitempty"`
	PrimaryKey bool   `json:"primaryKey,omitempty"`
	Unique     bool   `json:"unique,omitempty"`
	Default    string `json:"default,omitempty"`
}

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	// type name words, each optionally followed by (p) or (p, s), then array brackets
	columnTypePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\s*\(\s*\d+(\s*,\s*\d+)?\s*\))?(\s+[A-Za-z_][A-Za-z0-9_]*(\s*\(\s*\d+(\s*,\s*\d+)?\s*\))?)*(\[\d*\])*$`)
)

// ValidIdentifier reports whether name is a plain unquoted SQL identifier.
// Identifiers cannot be bound as parameters, so this is their only guard.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// QualifiedName returns schema.name, or name alone when no schema is set.
func (d TableDefinition) QualifiedName() string {
	if d.Schema == "" {
		return d.Name
	}
	return d.Schema + "." + d.Name
}

// Validate checks every identifier, type, and default in the definition and
// reports all problems at once.
func (d TableDefinition) Validate() error {
	var problems []string
	if !ValidIdentifier(d.Name) {
		problems = append(problems, fmt.Sprintf("invalid table name %q: must match %s", d.Name, identifierPattern))
	}
	if d.Schema != "" && !ValidIdentifier(d.Schema) {
		problems = append(problems, fmt.Sprintf("invalid schema name %q: must match %s", d.Schema, identifierPattern))
	}
	if len(d.Columns) == 0 {
		problems = append(problems, "at least one column is required")
	}

	seen := make(map[string]bool, len(d.Columns))
	for i, col := range d.Columns {
		if !ValidIdentifier(col.Name) {
			problems = append(problems, fmt.Sprintf("columns[%d]: invalid column name %q", i, col.Name))
		} else if key := strings.ToLower(col.Name); seen[key] {
			problems = append(problems, fmt.Sprintf("columns[%d]: duplicate column name %q", i, col.Name))
		} else {
			seen[key] = true
		}
		if !columnTypePattern.MatchString(strings.TrimSpace(col.Type)) {
			problems = append(problems, fmt.Sprintf("columns[%d]: invalid column type %q", i, col.Type))
		}
		if strings.Contains(col.Default, ";") || strings.Contains(col.Default, "--") || strings.Contains(col.Default, "/*") {
			problems = append(problems, fmt.Sprintf("columns[%d]: default for %q may not contain ';' or comments", i, col.Name))
		} else if strings.TrimSpace(col.Default) != "" && !singleExpression(col.Default) {
			problems = append(problems, fmt.Sprintf("columns[%d]: default for %q must be a single expression", i, col.Name))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// singleExpression reports whether expr parses as exactly one unaliased
// SELECT target with no other clauses. A default that passes cannot close the
// column list or append table clauses when spliced into CREATE TABLE.
func singleExpression(expr string) bool {
	tree, err := pg_query.Parse("SELECT " + expr)
	if err != nil || len(tree.GetStmts()) != 1 {
		return false
	}
	sel := tree.GetStmts()[0].GetStmt().GetSelectStmt()
	if sel == nil || len(sel.GetTargetList()) != 1 {
		return false
	}
	if sel.GetIntoClause() != nil || len(sel.GetFromClause()) > 0 || sel.GetWhereClause() != nil ||
		len(sel.GetGroupClause()) > 0 || sel.GetHavingClause() != nil || len(sel.GetWindowClause()) > 0 ||
		len(sel.GetSortClause()) > 0 || sel.GetLimitCount() != nil || sel.GetLimitOffset() != nil ||
		len(sel.GetLockingClause()) > 0 || sel.GetWithClause() != nil || len(sel.GetDistinctClause()) > 0 {
		return false
	}
	target := sel.GetTargetList()[0].GetResTarget()
	return target != nil && target.GetName() == "" && target.GetVal() != nil
}
