// Package schema compiles JSON Schema documents into a tree of typed nodes and
// validates decoded JSON values against that tree.
//
// Only the subset of JSON Schema that collections need is understood: object,
// array and primitive nodes with their usual constraints, plus enum/const and
// type unions. Unknown keywords are treated as annotations and ignored.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MaxDepth bounds the nesting of compiled schemas.
const MaxDepth = 32

// Schema is a compiled JSON Schema whose root is an object node.
type Schema struct {
	root        *objectNode
	raw         json.RawMessage
	canonical   []byte
	title       string
	description string
}

// Compile parses raw and builds the validation tree.
// It returns a *CompileError when the document is not a usable schema.
func Compile(raw []byte) (*Schema, error) {
	doc, err := decode(raw)
	if err != nil {
		return nil, &CompileError{Path: "", Message: fmt.Sprintf("invalid json: %v", err)}
	}

	def, ok := doc.(map[string]any)
	if !ok {
		return nil, &CompileError{Path: "", Message: "schema must be a JSON object"}
	}

	if t, ok := def["type"]; ok && t != "object" {
		return nil, &CompileError{Path: "/type", Message: `root schema must have type "object"`}
	}
	if _, ok := def["properties"]; !ok {
		return nil, &CompileError{Path: "/properties", Message: "root schema must declare properties"}
	}

	n, err := compileNode(def, "", 0)
	if err != nil {
		return nil, err
	}
	root, ok := n.(*objectNode)
	if !ok {
		return nil, &CompileError{Path: "", Message: "root schema must be an object schema"}
	}

	canonical, err := json.Marshal(def)
	if err != nil {
		return nil, &CompileError{Path: "", Message: fmt.Sprintf("canonicalize: %v", err)}
	}

	s := &Schema{
		root:      root,
		raw:       append(json.RawMessage(nil), bytes.TrimSpace(raw)...),
		canonical: canonical,
	}
	s.title, _ = def["title"].(string)
	s.description, _ = def["description"].(string)
	return s, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// static schemas.
func MustCompile(raw string) *Schema {
	s, err := Compile([]byte(raw))
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a decoded JSON value (usually a map[string]any) against the
// schema. The returned error is a *ValidationError listing every violation.
func (s *Schema) Validate(value any) error {
	var errs []Violation
	s.root.validate(value, "", &errs)
	if len(errs) > 0 {
		return &ValidationError{Violations: errs}
	}
	return nil
}

// Title returns the schema title, if any.
func (s *Schema) Title() string { return s.title }

// Description returns the schema description, if any.
func (s *Schema) Description() string { return s.description }

// Raw returns the schema exactly as it was submitted.
func (s *Schema) Raw() json.RawMessage { return s.raw }

// Canonical returns a normalized encoding of the schema (sorted keys, no
// insignificant whitespace). Equal schemas have equal canonical forms.
func (s *Schema) Canonical() []byte { return s.canonical }

// Properties lists the top-level property names in sorted order.
func (s *Schema) Properties() []string {
	return append([]string(nil), s.root.order...)
}

// Required lists the required top-level properties.
func (s *Schema) Required() []string {
	return append([]string(nil), s.root.required...)
}

// CompileError reports a malformed schema.
type CompileError struct {
	Path    string
	Message string
}

func (e *CompileError) Error() string {
	if e.Path == "" {
		return "invalid schema: " + e.Message
	}
	return fmt.Sprintf("invalid schema at %s: %s", e.Path, e.Message)
}

// Violation is a single failed constraint.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError is returned by Schema.Validate.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		path := v.Path
		if path == "" {
			path = "/"
		}
		parts = append(parts, path+": "+v.Message)
	}
	return "document does not match schema: " + strings.Join(parts, "; ")
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after schema")
	}
	return v, nil
}
