package schema_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/quipu/pkg/schema"
)

const userSchema = `{
	"title": "User",
	"type": "object",
	"properties": {
		"name":  {"type": "string", "minLength": 1},
		"age":   {"type": "integer", "minimum": 0},
		"email": {"type": "string", "format": "email"},
		"role":  {"enum": ["admin", "member"]},
		"tags":  {"type": "array", "items": {"type": "string"}, "maxItems": 3},
		"address": {
			"type": "object",
			"properties": {"city": {"type": "string"}},
			"required": ["city"],
			"additionalProperties": false
		},
		"nickname": {"type": ["string", "null"]}
	},
	"required": ["name"]
}`

func decodeDoc(t *testing.T, raw string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	require.NoError(t, dec.Decode(&m))
	return m
}

func violations(t *testing.T, err error) []schema.Violation {
	t.Helper()
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)
	return verr.Violations
}

func TestCompile_Accessors(t *testing.T) {
	s := schema.MustCompile(userSchema)
	assert.Equal(t, "User", s.Title())
	assert.Equal(t, []string{"address", "age", "email", "name", "nickname", "role", "tags"}, s.Properties())
	assert.Equal(t, []string{"name"}, s.Required())
	assert.True(t, json.Valid(s.Raw()))
}

func TestCompile_CanonicalIgnoresKeyOrderAndWhitespace(t *testing.T) {
	a := schema.MustCompile(`{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"number"}}}`)
	b := schema.MustCompile(`{ "properties": { "b": {"type":"number"}, "a": {"type":"string"} }, "type": "object" }`)
	assert.Equal(t, string(a.Canonical()), string(b.Canonical()))
}

func TestCompile_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":              `{"type":`,
		"not an object":         `[1,2]`,
		"root not object type":  `{"type":"string","properties":{}}`,
		"missing properties":    `{"type":"object"}`,
		"unknown type":          `{"properties":{"a":{"type":"decimal"}}}`,
		"bad pattern":           `{"properties":{"a":{"type":"string","pattern":"("}}}`,
		"empty enum":            `{"properties":{"a":{"enum":[]}}}`,
		"negative minLength":    `{"properties":{"a":{"type":"string","minLength":-1}}}`,
		"required not strings":  `{"properties":{},"required":[1]}`,
		"schema additionalProp": `{"properties":{},"additionalProperties":{"type":"string"}}`,
		"trailing data":         `{"properties":{}} {}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := schema.Compile([]byte(raw))
			var cerr *schema.CompileError
			assert.True(t, errors.As(err, &cerr), "expected CompileError, got %v", err)
		})
	}
}

func TestCompile_DepthLimit(t *testing.T) {
	inner := `{"type":"string"}`
	for i := 0; i < schema.MaxDepth+1; i++ {
		inner = `{"type":"object","properties":{"n":` + inner + `}}`
	}
	_, err := schema.Compile([]byte(inner))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting")
}

func TestValidate_Accepts(t *testing.T) {
	s := schema.MustCompile(userSchema)
	doc := decodeDoc(t, `{
		"name": "ada",
		"age": 36,
		"email": "ada@example.com",
		"role": "admin",
		"tags": ["math", "engines"],
		"address": {"city": "London"},
		"nickname": null,
		"extra": true
	}`)
	assert.NoError(t, s.Validate(doc))
}

func TestValidate_CollectsEveryViolation(t *testing.T) {
	s := schema.MustCompile(userSchema)
	doc := decodeDoc(t, `{
		"age": 1.5,
		"email": "not-an-email",
		"role": "root",
		"tags": ["a", 2, "c", "d"],
		"address": {"zip": "123"},
		"nickname": 7
	}`)

	got := violations(t, s.Validate(doc))
	paths := make([]string, 0, len(got))
	for _, v := range got {
		paths = append(paths, v.Path)
	}

	assert.Contains(t, paths, "/name")
	assert.Contains(t, paths, "/age")
	assert.Contains(t, paths, "/email")
	assert.Contains(t, paths, "/role")
	assert.Contains(t, paths, "/tags")
	assert.Contains(t, paths, "/tags/1")
	assert.Contains(t, paths, "/address/city")
	assert.Contains(t, paths, "/address/zip")
	assert.Contains(t, paths, "/nickname")
}

func TestValidate_RootMustBeObject(t *testing.T) {
	s := schema.MustCompile(`{"properties":{}}`)
	got := violations(t, s.Validate([]any{}))
	require.Len(t, got, 1)
	assert.Equal(t, "", got[0].Path)
	assert.Contains(t, s.Validate("x").Error(), "/: expected object")
}

func TestValidate_NumericBounds(t *testing.T) {
	s := schema.MustCompile(`{"properties":{
		"score": {"type":"number","exclusiveMinimum":0,"maximum":1}
	}}`)

	assert.NoError(t, s.Validate(map[string]any{"score": json.Number("0.5")}))
	assert.NoError(t, s.Validate(map[string]any{"score": 1}))
	assert.Error(t, s.Validate(map[string]any{"score": 0}))
	assert.Error(t, s.Validate(map[string]any{"score": 1.01}))
	assert.Error(t, s.Validate(map[string]any{"score": "1"}))
}

func TestValidate_Formats(t *testing.T) {
	s := schema.MustCompile(`{"properties":{
		"at":   {"type":"string","format":"date-time"},
		"day":  {"type":"string","format":"date"},
		"link": {"type":"string","format":"uri"},
		"ref":  {"type":"string","format":"uuid"},
		"note": {"type":"string","format":"markdown"}
	}}`)

	ok := map[string]any{
		"at":   "2024-05-01T10:00:00Z",
		"day":  "2024-05-01",
		"link": "https://example.com/a",
		"ref":  "7f1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d",
		"note": "anything goes",
	}
	assert.NoError(t, s.Validate(ok))

	bad := map[string]any{
		"at":   "yesterday",
		"day":  "01/05/2024",
		"link": "/relative",
		"ref":  "not-a-uuid",
	}
	assert.Len(t, violations(t, s.Validate(bad)), 4)
}

func TestValidate_ConstAndPattern(t *testing.T) {
	s := schema.MustCompile(`{"properties":{
		"kind": {"const": "invoice"},
		"code": {"type":"string","pattern":"^[A-Z]{3}$"}
	}}`)
	assert.NoError(t, s.Validate(map[string]any{"kind": "invoice", "code": "BRL"}))

	got := violations(t, s.Validate(map[string]any{"kind": "receipt", "code": "brl"}))
	assert.Len(t, got, 2)
}

func TestEqual(t *testing.T) {
	assert.True(t, schema.Equal(json.Number("1"), float64(1)))
	assert.True(t, schema.Equal(json.Number("1.50"), 1.5))
	assert.True(t, schema.Equal(
		map[string]any{"a": []any{json.Number("1"), "x"}},
		map[string]any{"a": []any{1, "x"}},
	))
	assert.False(t, schema.Equal(map[string]any{"a": 1}, map[string]any{"a": 1, "b": 2}))
	assert.False(t, schema.Equal("1", 1))
	assert.False(t, schema.Equal(nil, false))
	assert.True(t, schema.Equal(nil, nil))
}

type object map[string]any

type role string

func TestValidate_GoTypedValues(t *testing.T) {
	s := schema.MustCompile(userSchema)
	doc := map[string]any{
		"name":    "ada",
		"age":     int32(36),
		"role":    role("member"),
		"tags":    []string{"math"},
		"address": object{"city": "London"},
	}
	assert.NoError(t, s.Validate(doc))

	doc["address"] = map[string]string{"town": "London"}
	got := violations(t, s.Validate(doc))
	paths := make([]string, 0, len(got))
	for _, v := range got {
		paths = append(paths, v.Path)
	}
	assert.ElementsMatch(t, []string{"/address/city", "/address/town"}, paths)
}

func TestEqual_GoTypedValues(t *testing.T) {
	assert.True(t, schema.Equal(
		map[string]any{"meta": map[string]any{"n": json.Number("1")}},
		object{"meta": object{"n": 1}},
	))
	assert.True(t, schema.Equal([]any{"a", "b"}, []string{"a", "b"}))
	assert.True(t, schema.Equal("member", role("member")))
	assert.True(t, schema.Equal(role("member"), "member"))
	assert.True(t, schema.Equal(int64(3), uint8(3)))
	assert.False(t, schema.Equal([]any{"a"}, []string{"b"}))
}

func TestNormalize(t *testing.T) {
	inner := []int{1, 2}
	in := object{"meta": object{"n": 1, "list": inner}, "r": role("x"), "raw": []byte("b")}

	out, ok := schema.Normalize(in).(map[string]any)
	require.True(t, ok)
	meta, ok := out["meta"].(map[string]any)
	require.True(t, ok, "nested maps become map[string]any, got %T", out["meta"])
	assert.Equal(t, []any{int64(1), int64(2)}, meta["list"])
	assert.Equal(t, "x", out["r"])
	assert.Equal(t, []byte("b"), out["raw"])

	meta["n"] = "changed"
	assert.Equal(t, 1, in["meta"].(object)["n"], "the copy does not share nested values")

	assert.Nil(t, schema.Normalize(map[string]any(nil)))
	assert.Nil(t, schema.Normalize([]string(nil)))
}
