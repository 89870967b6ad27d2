// Package render turns query and command outcomes into deterministic,
// size-bounded text for tool results.
package render

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// NoRowsMessage is returned for a query outcome without rows.
	NoRowsMessage = "Query executed successfully. No rows returned."

	// MaxDisplayRows caps the number of rows written into a table.
	MaxDisplayRows = 100

	// MaxCellLength caps a single rendered cell, in runes.
	MaxCellLength = 500
)

// Rows renders a result set as a pipe-delimited table. rowCount is the number
// of rows the engine reported; truncated reports whether the pool kept fewer
// rows than that.
func Rows(fields []string, rows [][]any, rowCount int64, truncated bool) string {
	if len(rows) == 0 {
		return NoRowsMessage
	}

	var sb strings.Builder
	if len(fields) == 0 {
		fmt.Fprintf(&sb, "Query returned %d row(s) with no columns.", len(rows))
		if truncated {
			fmt.Fprintf(&sb, " Result limited to %d of %d row(s).", len(rows), rowCount)
		}
		return sb.String()
	}

	header := make([]string, len(fields))
	sep := make([]string, len(fields))
	for i, f := range fields {
		header[i] = escapeCell(f)
		sep[i] = "---"
	}
	sb.WriteString(strings.Join(header, " | "))
	sb.WriteByte('\n')
	sb.WriteString(strings.Join(sep, " | "))
	sb.WriteByte('\n')

	shown := len(rows)
	if shown > MaxDisplayRows {
		shown = MaxDisplayRows
	}
	cells := make([]string, len(fields))
	for _, row := range rows[:shown] {
		for i := range fields {
			var v any
			if i < len(row) {
				v = row[i]
			}
			cells[i] = escapeCell(FormatValue(v))
		}
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteByte('\n')
	}

	if remaining := len(rows) - shown; remaining > 0 {
		fmt.Fprintf(&sb, "\n... and %d more row(s) not shown", remaining)
		sb.WriteByte('\n')
	}
	if truncated {
		fmt.Fprintf(&sb, "\nResult limited to %d of %d row(s). Add a LIMIT or narrower WHERE clause to see the rest.", len(rows), rowCount)
		sb.WriteByte('\n')
	}

	return strings.TrimRight(sb.String(), "\n")
}

// Command renders the outcome of a mutating statement. verb is the command
// verb reported by the engine (for example "INSERT").
func Command(verb string, affected int64) string {
	switch strings.ToLower(verb) {
	case "insert":
		return fmt.Sprintf("Successfully inserted %d row(s).", affected)
	case "update":
		return fmt.Sprintf("Successfully updated %d row(s).", affected)
	case "delete":
		return fmt.Sprintf("Successfully deleted %d row(s).", affected)
	case "create":
		return "Successfully executed CREATE statement."
	case "alter":
		return "Successfully executed ALTER statement."
	case "drop":
		return "Successfully executed DROP statement."
	case "truncate":
		return "Successfully truncated table."
	case "grant":
		return "Successfully granted privileges."
	case "revoke":
		return "Successfully revoked privileges."
	default:
		return fmt.Sprintf("Statement executed successfully. %d row(s) affected.", affected)
	}
}

// Section is a titled block inside a multi-part rendering.
type Section struct {
	Title string
	Body  string
}

// Sections joins titled blocks, skipping empty bodies.
func Sections(title string, sections ...Section) string {
	var sb strings.Builder
	sb.WriteString(title)
	for _, s := range sections {
		if s.Body == "" {
			continue
		}
		sb.WriteString("\n\n")
		sb.WriteString(s.Title)
		sb.WriteString(":\n")
		sb.WriteString(s.Body)
	}
	return sb.String()
}

func escapeCell(s string) string {
	if utf8.RuneCountInString(s) > MaxCellLength {
		runes := []rune(s)
		s = string(runes[:MaxCellLength]) + "..."
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", `\n`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}
