// Package argcheck validates tool-call arguments against a tool's JSON Schema
// and reports every violation as a field path and a short reason.
package argcheck

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Problem is one violated field path.
type Problem struct {
	Path   string
	Reason string
}

func (p Problem) String() string {
	if p.Path == "" {
		return p.Reason
	}
	return p.Path + ": " + p.Reason
}

// Schema is a compiled argument schema. It is safe for concurrent use.
type Schema struct {
	sch *jsonschema.Schema
}

// Compile compiles schema, any value that marshals to a JSON Schema document.
// name identifies the schema in compile errors.
func Compile(name string, schema any) (*Schema, error) {
	doc, err := toJSONValue(schema)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return &Schema{sch: sch}, nil
}

// MustCompile is Compile for schemas known at build time.
func MustCompile(name string, schema any) *Schema {
	s, err := Compile(name, schema)
	if err != nil {
		panic(err)
	}
	return s
}

// Check validates value and returns every problem found, ordered by path.
// A property set to null counts as absent. Properties the schema does not
// declare are ignored unless the schema forbids them.
func (s *Schema) Check(value any) []Problem {
	v, err := toJSONValue(value)
	if err != nil {
		return []Problem{{Reason: "arguments are not JSON: " + err.Error()}}
	}
	v = dropNulls(v)

	err = s.sch.Validate(v)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []Problem{{Reason: err.Error()}}
	}

	var problems []Problem
	collect(verr, &problems)
	sort.SliceStable(problems, func(i, j int) bool {
		if problems[i].Path != problems[j].Path {
			return problems[i].Path < problems[j].Path
		}
		return problems[i].Reason < problems[j].Reason
	})
	return problems
}

// collect flattens the error tree into one Problem per leaf.
func collect(e *jsonschema.ValidationError, problems *[]Problem) {
	if len(e.Causes) > 0 {
		for _, cause := range e.Causes {
			collect(cause, problems)
		}
		return
	}

	path := formatPath(e.InstanceLocation)
	switch k := e.ErrorKind.(type) {
	case *kind.Required:
		for _, name := range k.Missing {
			*problems = append(*problems, Problem{Path: joinPath(path, name), Reason: "is required"})
		}
	case *kind.Type:
		*problems = append(*problems, Problem{Path: path, Reason: fmt.Sprintf("must be %s, got %s", article(k.Want), k.Got)})
	default:
		*problems = append(*problems, Problem{Path: path, Reason: e.ErrorKind.LocalizedString(printer)})
	}
}

// formatPath renders an instance location as columns[0].name.
func formatPath(loc []string) string {
	var sb strings.Builder
	for _, seg := range loc {
		if _, err := strconv.Atoi(seg); err == nil && sb.Len() > 0 {
			sb.WriteString("[" + seg + "]")
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(seg)
	}
	return sb.String()
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func article(want []string) string {
	names := make([]string, len(want))
	for i, w := range want {
		switch w {
		case "array", "object", "integer":
			names[i] = "an " + w
		default:
			names[i] = "a " + w
		}
	}
	return strings.Join(names, " or ")
}

// toJSONValue round-trips v through JSON so the validator sees only the
// types it understands, with numbers as json.Number.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

func dropNulls(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			if item == nil {
				delete(val, k)
				continue
			}
			val[k] = dropNulls(item)
		}
	case []any:
		for i, item := range val {
			val[i] = dropNulls(item)
		}
	}
	return v
}
