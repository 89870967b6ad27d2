// Package errprompt appends guidance to database error messages so the caller
// can correct its next call.
package errprompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is the error prompt matcher's own rule type.
type Rule struct {
	Pattern string
	Message string
}

// DefaultRules are the hints shipped with the bridge.
var DefaultRules = []Rule{
	{Pattern: `(?i)relation .* does not exist`, Message: "The table does not exist. Use list_tables to see available tables."},
	{Pattern: `(?i)column .* does not exist`, Message: "The column does not exist. Use describe_table to see the table's columns."},
	{Pattern: `(?i)permission denied`, Message: "The database role lacks privileges for this statement. Ask the user to grant access."},
	{Pattern: `(?i)syntax error`, Message: "Check the SQL syntax. Only PostgreSQL syntax is supported."},
	{Pattern: `(?i)cannot insert multiple commands into a prepared statement`, Message: "Send one statement per call."},
	{Pattern: `(?i)(statement timeout|timed out|canceling statement)`, Message: "The statement exceeded the query timeout. Narrow the query or add a LIMIT."},
	{Pattern: `(?i)already exists`, Message: "The object already exists. Use ifNotExists or pick another name."},
	{Pattern: `(?i)violates (foreign key|unique|not-null|check) constraint`, Message: "The statement violates a table constraint. Use describe_table to inspect constraints."},
	{Pattern: `(?i)(could not receive data|connection refused|failed to connect|acquire)`, Message: "The database connection is unavailable or the pool is exhausted. Retry shortly."},
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher checks error messages against patterns and returns guidance prompts.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher creates a new Matcher. Returns an error on invalid regex patterns.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, message: r.Message}
	}
	return &Matcher{rules: compiled}, nil
}

// MustNewMatcher is NewMatcher for static rule sets. Panics on invalid patterns.
func MustNewMatcher(rules []Rule) *Matcher {
	m, err := NewMatcher(rules)
	if err != nil {
		panic(err)
	}
	return m
}

// Match checks error message against all rules (top to bottom).
// Returns all matching prompt messages joined with newline separators.
// Returns empty string if no match.
func (m *Matcher) Match(errMsg string) string {
	var matches []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			matches = append(matches, rule.message)
		}
	}
	return strings.Join(matches, "\n")
}

// MatchedPatterns returns the regex patterns that matched the given error message.
// Returns nil if no match.
func (m *Matcher) MatchedPatterns(errMsg string) []string {
	var patterns []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			patterns = append(patterns, rule.pattern.String())
		}
	}
	return patterns
}
