package pgbridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rickchristie/postgres-bridge/internal/render"
)

const listTablesSQL = `
SELECT
    n.nspname AS schema,
    c.relname AS name,
    CASE c.relkind
        WHEN 'r' THEN 'table'
        WHEN 'v' THEN 'view'
        WHEN 'm' THEN 'materialized_view'
        WHEN 'f' THEN 'foreign_table'
        WHEN 'p' THEN 'partitioned_table'
    END AS type,
    pg_catalog.pg_get_userbyid(c.relowner) AS owner
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'v', 'm', 'f', 'p')
  AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
  AND n.nspname NOT LIKE 'pg_temp%'
  AND has_table_privilege(c.oid, 'SELECT')
ORDER BY n.nspname, c.relname`

// An empty $2 searches every non-system schema, preferring public. Names are
// also tried lowercased, the way unquoted identifiers are folded.
const resolveTableSQL = `
SELECT
    n.nspname AS schema,
    c.relname AS name,
    CASE c.relkind
        WHEN 'r' THEN 'table'
        WHEN 'v' THEN 'view'
        WHEN 'm' THEN 'materialized_view'
        WHEN 'f' THEN 'foreign_table'
        WHEN 'p' THEN 'partitioned_table'
    END AS type
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relname IN ($1::text, lower($1::text))
  AND ($2::text = '' OR n.nspname IN ($2::text, lower($2::text)))
  AND c.relkind IN ('r', 'v', 'm', 'f', 'p')
  AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
ORDER BY (c.relname = $1::text) DESC, (n.nspname = 'public') DESC, n.nspname
LIMIT 1`

const describeColumnsSQL = `
SELECT
    a.attname AS column_name,
    pg_catalog.format_type(a.atttypid, a.atttypmod) AS data_type,
    CASE WHEN a.attnotnull THEN 'NO' ELSE 'YES' END AS nullable,
    pg_catalog.pg_get_expr(d.adbin, d.adrelid) AS default_value,
    EXISTS (
        SELECT 1 FROM pg_catalog.pg_index i
        WHERE i.indrelid = a.attrelid AND i.indisprimary AND a.attnum = ANY(i.indkey)
    ) AS primary_key
FROM pg_catalog.pg_attribute a
LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE a.attrelid = $1::text::regclass
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum`

const describeIndexesSQL = `
SELECT
    c.relname AS index_name,
    pg_catalog.pg_get_indexdef(i.indexrelid) AS definition,
    i.indisunique AS is_unique,
    i.indisprimary AS is_primary
FROM pg_catalog.pg_index i
JOIN pg_catalog.pg_class c ON c.oid = i.indexrelid
WHERE i.indrelid = $1::text::regclass
ORDER BY c.relname`

const describeForeignKeysSQL = `
SELECT
    con.conname AS constraint_name,
    (
        SELECT string_agg(a.attname, ', ' ORDER BY array_position(con.conkey, a.attnum))
        FROM pg_catalog.pg_attribute a
        WHERE a.attrelid = con.conrelid AND a.attnum = ANY(con.conkey)
    ) AS columns,
    con.confrelid::regclass::text AS referenced_table,
    (
        SELECT string_agg(a.attname, ', ' ORDER BY array_position(con.confkey, a.attnum))
        FROM pg_catalog.pg_attribute a
        WHERE a.attrelid = con.confrelid AND a.attnum = ANY(con.confkey)
    ) AS referenced_columns,
    CASE con.confupdtype
        WHEN 'a' THEN 'NO ACTION'
        WHEN 'r' THEN 'RESTRICT'
        WHEN 'c' THEN 'CASCADE'
        WHEN 'n' THEN 'SET NULL'
        WHEN 'd' THEN 'SET DEFAULT'
    END AS on_update,
    CASE con.confdeltype
        WHEN 'a' THEN 'NO ACTION'
        WHEN 'r' THEN 'RESTRICT'
        WHEN 'c' THEN 'CASCADE'
        WHEN 'n' THEN 'SET NULL'
        WHEN 'd' THEN 'SET DEFAULT'
    END AS on_delete
FROM pg_catalog.pg_constraint con
WHERE con.contype = 'f'
  AND con.conrelid = $1::text::regclass
ORDER BY con.conname`

// ListTables returns every relation outside the system schemas that the
// current role can select from.
func (m *PoolManager) ListTables(ctx context.Context) (QueryOutcome, error) {
	return m.query(ctx, "list tables", listTablesSQL, nil)
}

// DescribeTable returns the columns, indexes, and foreign keys of a relation.
// An empty schema searches all non-system schemas, preferring public.
func (m *PoolManager) DescribeTable(ctx context.Context, schema, name string) (TableDescription, error) {
	startTime := time.Now()
	const op = "describe table"

	found, err := m.query(ctx, op, resolveTableSQL, []any{name, schema})
	if err != nil {
		return TableDescription{}, err
	}
	if len(found.Rows) == 0 {
		target := name
		if schema != "" {
			target = schema + "." + name
		}
		return TableDescription{}, newValidationError("table %q not found; use list_tables to see available tables", target)
	}

	desc := TableDescription{
		Schema: render.FormatValue(found.Rows[0][0]),
		Name:   render.FormatValue(found.Rows[0][1]),
		Type:   render.FormatValue(found.Rows[0][2]),
	}
	qualName := quoteIdent(desc.Schema) + "." + quoteIdent(desc.Name)

	if desc.Columns, err = m.query(ctx, op, describeColumnsSQL, []any{qualName}); err != nil {
		return TableDescription{}, err
	}
	if desc.Indexes, err = m.query(ctx, op, describeIndexesSQL, []any{qualName}); err != nil {
		return TableDescription{}, err
	}
	if desc.ForeignKeys, err = m.query(ctx, op, describeForeignKeysSQL, []any{qualName}); err != nil {
		return TableDescription{}, err
	}

	m.logger.Info().
		Str("schema", desc.Schema).
		Str("table", desc.Name).
		Str("type", desc.Type).
		Int("column_count", len(desc.Columns.Rows)).
		Dur("duration", time.Since(startTime)).
		Msg("table described")
	return desc, nil
}

// CreateTable validates def and runs the generated CREATE TABLE statement.
func (m *PoolManager) CreateTable(ctx context.Context, def TableDefinition) (ExecuteOutcome, error) {
	sql, err := buildCreateTableSQL(def)
	if err != nil {
		return ExecuteOutcome{}, err
	}
	return m.Execute(ctx, sql, nil)
}

// buildCreateTableSQL renders def as DDL. Identifiers are emitted unquoted and
// must already satisfy ValidIdentifier. More than one primary-key column
// produces a table-level PRIMARY KEY constraint.
func buildCreateTableSQL(def TableDefinition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}

	var pk []string
	for _, col := range def.Columns {
		if col.PrimaryKey {
			pk = append(pk, col.Name)
		}
	}

	lines := make([]string, 0, len(def.Columns)+1)
	for _, col := range def.Columns {
		var sb strings.Builder
		sb.WriteString(col.Name)
		sb.WriteByte(' ')
		sb.WriteString(strings.TrimSpace(col.Type))
		if col.PrimaryKey && len(pk) == 1 {
			sb.WriteString(" PRIMARY KEY")
		} else if col.Nullable != nil && !*col.Nullable {
			sb.WriteString(" NOT NULL")
		}
		if col.Unique && !(col.PrimaryKey && len(pk) == 1) {
			sb.WriteString(" UNIQUE")
		}
		if d := strings.TrimSpace(col.Default); d != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(d)
		}
		lines = append(lines, sb.String())
	}
	if len(pk) > 1 {
		lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pk, ", ")))
	}

	ifNotExists := ""
	if def.IfNotExists {
		ifNotExists = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE TABLE %s%s (\n  %s\n)", ifNotExists, def.QualifiedName(), strings.Join(lines, ",\n  ")), nil
}

// quoteIdent escapes a SQL identifier for use as a regclass literal.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
