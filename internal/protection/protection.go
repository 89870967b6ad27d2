// Package protection classifies raw SQL text into read-only, mutating, or
// forbidden statements.
//
// Classification is lexical: it looks at the normalized text, not a parse
// tree. Verbs hidden inside string literals, comments, or semicolon-separated
// batches are not detected.
package protection

import (
	"strings"
	"unicode"
)

// Class is the statement class assigned by Classify.
type Class int

const (
	Forbidden Class = iota
	ReadOnly
	Mutating
)

func (c Class) String() string {
	switch c {
	case ReadOnly:
		return "read-only"
	case Mutating:
		return "mutating"
	default:
		return "forbidden"
	}
}

// ReasonUnrecognized is the Forbidden reason for statements whose leading
// verb is not in any known class.
const ReasonUnrecognized = "unrecognized command"

// Verdict is the outcome of Classify. Phrase is set when a forbidden phrase
// matched.
type Verdict struct {
	Class  Class
	Reason string
	Phrase string
}

// forbiddenPhrases are matched anywhere in the normalized text, independent of
// the leading verb.
var forbiddenPhrases = []string{
	"drop database",
	"drop schema",
	"drop user",
	"drop role",
	"alter system",
	"shutdown",
	"restart",
}

var mutatingVerbs = map[string]bool{
	"insert":   true,
	"update":   true,
	"delete":   true,
	"create":   true,
	"alter":    true,
	"drop":     true,
	"truncate": true,
	"grant":    true,
	"revoke":   true,
}

// Classify returns the statement class of sql.
func Classify(sql string) Verdict {
	normalized := strings.ToLower(strings.TrimSpace(sql))

	for _, phrase := range forbiddenPhrases {
		if strings.Contains(normalized, phrase) {
			return Verdict{Class: Forbidden, Reason: "forbidden phrase " + `"` + phrase + `"`, Phrase: phrase}
		}
	}

	if strings.HasPrefix(normalized, "select") || strings.HasPrefix(normalized, "with") {
		return Verdict{Class: ReadOnly}
	}

	if mutatingVerbs[leadingToken(normalized)] {
		return Verdict{Class: Mutating}
	}

	return Verdict{Class: Forbidden, Reason: ReasonUnrecognized}
}

// LeadingVerb returns the run of letters at the start of sql, lowercased. It
// labels statements for messages and logs; Classify matches whole tokens.
func LeadingVerb(sql string) string {
	return leadingWord(strings.ToLower(strings.TrimSpace(sql)))
}

// leadingToken returns s up to the first whitespace, so "delete;" is not
// the verb "delete".
func leadingToken(s string) string {
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		return s[:i]
	}
	return s
}

// leadingWord returns the run of ASCII letters at the start of s.
func leadingWord(s string) string {
	end := 0
	for end < len(s) && s[end] >= 'a' && s[end] <= 'z' {
		end++
	}
	return s[:end]
}
