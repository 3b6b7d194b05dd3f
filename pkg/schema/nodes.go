package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Kind is a JSON Schema primitive type.
type Kind uint8

const (
	KindAny Kind = iota
	KindObject
	KindArray
	KindString
	KindNumber
	KindInteger
	KindBoolean
	KindNull
)

var kindNames = map[string]Kind{
	"object":  KindObject,
	"array":   KindArray,
	"string":  KindString,
	"number":  KindNumber,
	"integer": KindInteger,
	"boolean": KindBoolean,
	"null":    KindNull,
}

func (k Kind) String() string {
	for name, kind := range kindNames {
		if kind == k {
			return name
		}
	}
	return "any"
}

// node is one variant of the compiled schema tree.
type node interface {
	kind() Kind
	validate(v any, path string, errs *[]Violation)
}

// common holds the keywords that apply to every variant.
type common struct {
	enum     []any
	constVal any
	hasConst bool
}

func (c *common) check(v any, path string, errs *[]Violation) {
	if c.hasConst && !Equal(v, c.constVal) {
		addf(errs, path, "must be equal to constant %s", render(c.constVal))
	}
	if len(c.enum) > 0 {
		for _, e := range c.enum {
			if Equal(v, e) {
				return
			}
		}
		values := make([]string, 0, len(c.enum))
		for _, e := range c.enum {
			values = append(values, render(e))
		}
		addf(errs, path, "must be one of [%s]", strings.Join(values, ", "))
	}
}

type anyNode struct{ common }

func (n *anyNode) kind() Kind { return KindAny }
func (n *anyNode) validate(v any, path string, errs *[]Violation) {
	n.check(v, path, errs)
}

type objectNode struct {
	common
	properties map[string]node
	order      []string
	required   []string
	additional *bool
}

func (n *objectNode) kind() Kind { return KindObject }

func (n *objectNode) validate(v any, path string, errs *[]Violation) {
	obj, ok := asObject(v)
	if !ok {
		addf(errs, path, "expected object, got %s", typeName(v))
		return
	}
	n.check(v, path, errs)

	for _, name := range n.required {
		if _, ok := obj[name]; !ok {
			addf(errs, path+"/"+escape(name), "is required")
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		child, ok := n.properties[k]
		if !ok {
			if n.additional != nil && !*n.additional {
				addf(errs, path+"/"+escape(k), "additional property is not allowed")
			}
			continue
		}
		child.validate(obj[k], path+"/"+escape(k), errs)
	}
}

type arrayNode struct {
	common
	items    node
	minItems *int
	maxItems *int
}

func (n *arrayNode) kind() Kind { return KindArray }

func (n *arrayNode) validate(v any, path string, errs *[]Violation) {
	arr, ok := asArray(v)
	if !ok {
		addf(errs, path, "expected array, got %s", typeName(v))
		return
	}
	n.check(v, path, errs)
	if n.minItems != nil && len(arr) < *n.minItems {
		addf(errs, path, "must contain at least %d items", *n.minItems)
	}
	if n.maxItems != nil && len(arr) > *n.maxItems {
		addf(errs, path, "must contain at most %d items", *n.maxItems)
	}
	if n.items == nil {
		return
	}
	for i, item := range arr {
		n.items.validate(item, path+"/"+strconv.Itoa(i), errs)
	}
}

type stringNode struct {
	common
	minLength *int
	maxLength *int
	pattern   *regexp.Regexp
	format    string
}

func (n *stringNode) kind() Kind { return KindString }

func (n *stringNode) validate(v any, path string, errs *[]Violation) {
	s, ok := v.(string)
	if !ok {
		addf(errs, path, "expected string, got %s", typeName(v))
		return
	}
	n.check(v, path, errs)
	length := utf8.RuneCountInString(s)
	if n.minLength != nil && length < *n.minLength {
		addf(errs, path, "must be at least %d characters", *n.minLength)
	}
	if n.maxLength != nil && length > *n.maxLength {
		addf(errs, path, "must be at most %d characters", *n.maxLength)
	}
	if n.pattern != nil && !n.pattern.MatchString(s) {
		addf(errs, path, "must match pattern %q", n.pattern.String())
	}
	if n.format != "" && !checkFormat(n.format, s) {
		addf(errs, path, "must be a valid %s", n.format)
	}
}

type numberNode struct {
	common
	integer          bool
	minimum          *float64
	maximum          *float64
	exclusiveMinimum *float64
	exclusiveMaximum *float64
}

func (n *numberNode) kind() Kind {
	if n.integer {
		return KindInteger
	}
	return KindNumber
}

func (n *numberNode) validate(v any, path string, errs *[]Violation) {
	f, ok := toFloat(v)
	if !ok {
		addf(errs, path, "expected %s, got %s", n.kind(), typeName(v))
		return
	}
	if n.integer && !isInteger(v, f) {
		addf(errs, path, "expected integer, got %s", render(v))
		return
	}
	n.check(v, path, errs)
	if n.minimum != nil && f < *n.minimum {
		addf(errs, path, "must be >= %v", *n.minimum)
	}
	if n.maximum != nil && f > *n.maximum {
		addf(errs, path, "must be <= %v", *n.maximum)
	}
	if n.exclusiveMinimum != nil && f <= *n.exclusiveMinimum {
		addf(errs, path, "must be > %v", *n.exclusiveMinimum)
	}
	if n.exclusiveMaximum != nil && f >= *n.exclusiveMaximum {
		addf(errs, path, "must be < %v", *n.exclusiveMaximum)
	}
}

type booleanNode struct{ common }

func (n *booleanNode) kind() Kind { return KindBoolean }
func (n *booleanNode) validate(v any, path string, errs *[]Violation) {
	if _, ok := v.(bool); !ok {
		addf(errs, path, "expected boolean, got %s", typeName(v))
		return
	}
	n.check(v, path, errs)
}

type nullNode struct{ common }

func (n *nullNode) kind() Kind { return KindNull }
func (n *nullNode) validate(v any, path string, errs *[]Violation) {
	if v != nil {
		addf(errs, path, "expected null, got %s", typeName(v))
	}
}

// unionNode accepts a value matching any of its variants ("type": [..]).
type unionNode struct {
	variants []node
}

func (n *unionNode) kind() Kind { return KindAny }

func (n *unionNode) validate(v any, path string, errs *[]Violation) {
	names := make([]string, 0, len(n.variants))
	var best []Violation
	for _, variant := range n.variants {
		var local []Violation
		variant.validate(v, path, &local)
		if len(local) == 0 {
			return
		}
		if best == nil && variant.kind() == kindOf(v) {
			best = local
		}
		names = append(names, variant.kind().String())
	}
	if best != nil {
		*errs = append(*errs, best...)
		return
	}
	addf(errs, path, "expected one of [%s], got %s", strings.Join(names, ", "), typeName(v))
}

func compileNode(def map[string]any, path string, depth int) (node, error) {
	if depth > MaxDepth {
		return nil, &CompileError{Path: path, Message: fmt.Sprintf("schema nesting exceeds %d levels", MaxDepth)}
	}

	c, err := compileCommon(def, path)
	if err != nil {
		return nil, err
	}

	kinds, err := compileType(def, path)
	if err != nil {
		return nil, err
	}

	if len(kinds) > 1 {
		u := &unionNode{}
		for _, k := range kinds {
			n, err := compileKind(k, def, path, depth, c)
			if err != nil {
				return nil, err
			}
			u.variants = append(u.variants, n)
		}
		return u, nil
	}
	return compileKind(kinds[0], def, path, depth, c)
}

func compileType(def map[string]any, path string) ([]Kind, error) {
	raw, ok := def["type"]
	if !ok {
		switch {
		case def["properties"] != nil:
			return []Kind{KindObject}, nil
		case def["items"] != nil:
			return []Kind{KindArray}, nil
		default:
			return []Kind{KindAny}, nil
		}
	}

	switch t := raw.(type) {
	case string:
		k, ok := kindNames[t]
		if !ok {
			return nil, &CompileError{Path: path + "/type", Message: fmt.Sprintf("unknown type %q", t)}
		}
		return []Kind{k}, nil
	case []any:
		if len(t) == 0 {
			return nil, &CompileError{Path: path + "/type", Message: "type list must not be empty"}
		}
		kinds := make([]Kind, 0, len(t))
		for i, item := range t {
			name, ok := item.(string)
			k, known := kindNames[name]
			if !ok || !known {
				return nil, &CompileError{Path: fmt.Sprintf("%s/type/%d", path, i), Message: fmt.Sprintf("unknown type %v", item)}
			}
			kinds = append(kinds, k)
		}
		return kinds, nil
	default:
		return nil, &CompileError{Path: path + "/type", Message: "type must be a string or an array of strings"}
	}
}

func compileKind(k Kind, def map[string]any, path string, depth int, c common) (node, error) {
	switch k {
	case KindObject:
		return compileObject(def, path, depth, c)
	case KindArray:
		return compileArray(def, path, depth, c)
	case KindString:
		return compileString(def, path, c)
	case KindNumber, KindInteger:
		return compileNumber(def, path, k == KindInteger, c)
	case KindBoolean:
		return &booleanNode{common: c}, nil
	case KindNull:
		return &nullNode{common: c}, nil
	default:
		return &anyNode{common: c}, nil
	}
}

func compileCommon(def map[string]any, path string) (common, error) {
	var c common
	if raw, ok := def["enum"]; ok {
		values, ok := raw.([]any)
		if !ok || len(values) == 0 {
			return c, &CompileError{Path: path + "/enum", Message: "enum must be a non-empty array"}
		}
		c.enum = values
	}
	if v, ok := def["const"]; ok {
		c.constVal = v
		c.hasConst = true
	}
	return c, nil
}

func compileObject(def map[string]any, path string, depth int, c common) (node, error) {
	n := &objectNode{common: c, properties: make(map[string]node)}

	if raw, ok := def["properties"]; ok {
		props, ok := raw.(map[string]any)
		if !ok {
			return nil, &CompileError{Path: path + "/properties", Message: "properties must be an object"}
		}
		for name, sub := range props {
			subDef, ok := sub.(map[string]any)
			if !ok {
				return nil, &CompileError{Path: path + "/properties/" + escape(name), Message: "property schema must be an object"}
			}
			child, err := compileNode(subDef, path+"/properties/"+escape(name), depth+1)
			if err != nil {
				return nil, err
			}
			n.properties[name] = child
			n.order = append(n.order, name)
		}
		sort.Strings(n.order)
	}

	if raw, ok := def["required"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, &CompileError{Path: path + "/required", Message: "required must be an array of strings"}
		}
		seen := make(map[string]bool, len(list))
		for i, item := range list {
			name, ok := item.(string)
			if !ok {
				return nil, &CompileError{Path: fmt.Sprintf("%s/required/%d", path, i), Message: "required entries must be strings"}
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			n.required = append(n.required, name)
		}
	}

	if raw, ok := def["additionalProperties"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return nil, &CompileError{Path: path + "/additionalProperties", Message: "only boolean additionalProperties is supported"}
		}
		n.additional = &b
	}
	return n, nil
}

func compileArray(def map[string]any, path string, depth int, c common) (node, error) {
	n := &arrayNode{common: c}
	if raw, ok := def["items"]; ok {
		itemDef, ok := raw.(map[string]any)
		if !ok {
			return nil, &CompileError{Path: path + "/items", Message: "items must be a schema object"}
		}
		items, err := compileNode(itemDef, path+"/items", depth+1)
		if err != nil {
			return nil, err
		}
		n.items = items
	}
	var err error
	if n.minItems, err = intKeyword(def, "minItems", path); err != nil {
		return nil, err
	}
	if n.maxItems, err = intKeyword(def, "maxItems", path); err != nil {
		return nil, err
	}
	return n, nil
}

func compileString(def map[string]any, path string, c common) (node, error) {
	n := &stringNode{common: c}
	var err error
	if n.minLength, err = intKeyword(def, "minLength", path); err != nil {
		return nil, err
	}
	if n.maxLength, err = intKeyword(def, "maxLength", path); err != nil {
		return nil, err
	}
	if raw, ok := def["pattern"]; ok {
		expr, ok := raw.(string)
		if !ok {
			return nil, &CompileError{Path: path + "/pattern", Message: "pattern must be a string"}
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, &CompileError{Path: path + "/pattern", Message: err.Error()}
		}
		n.pattern = re
	}
	if raw, ok := def["format"]; ok {
		format, ok := raw.(string)
		if !ok {
			return nil, &CompileError{Path: path + "/format", Message: "format must be a string"}
		}
		n.format = format
	}
	return n, nil
}

func compileNumber(def map[string]any, path string, integer bool, c common) (node, error) {
	n := &numberNode{common: c, integer: integer}
	for key, dst := range map[string]**float64{
		"minimum":          &n.minimum,
		"maximum":          &n.maximum,
		"exclusiveMinimum": &n.exclusiveMinimum,
		"exclusiveMaximum": &n.exclusiveMaximum,
	} {
		raw, ok := def[key]
		if !ok {
			continue
		}
		f, ok := toFloat(raw)
		if !ok {
			return nil, &CompileError{Path: path + "/" + key, Message: key + " must be a number"}
		}
		*dst = &f
	}
	return n, nil
}

func intKeyword(def map[string]any, key, path string) (*int, error) {
	raw, ok := def[key]
	if !ok {
		return nil, nil
	}
	f, ok := toFloat(raw)
	if !ok || f < 0 || f != math.Trunc(f) {
		return nil, &CompileError{Path: path + "/" + key, Message: key + " must be a non-negative integer"}
	}
	i := int(f)
	return &i, nil
}

func checkFormat(format, s string) bool {
	switch format {
	case "date-time":
		_, err := time.Parse(time.RFC3339, s)
		return err == nil
	case "date":
		_, err := time.Parse(time.DateOnly, s)
		return err == nil
	case "email":
		addr, err := mail.ParseAddress(s)
		return err == nil && addr.Address == s
	case "uri":
		u, err := url.Parse(s)
		return err == nil && u.IsAbs()
	case "uuid":
		_, err := uuid.Parse(s)
		return err == nil && len(s) == 36
	default:
		// unknown formats are annotations
		return true
	}
}

func addf(errs *[]Violation, path, format string, args ...any) {
	*errs = append(*errs, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
}

// escape encodes a property name as a JSON pointer token.
func escape(name string) string {
	name = strings.ReplaceAll(name, "~", "~0")
	return strings.ReplaceAll(name, "/", "~1")
}

func kindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBoolean
	case string:
		return KindString
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	}
	if _, ok := asObject(v); ok {
		return KindObject
	}
	if _, ok := asArray(v); ok {
		return KindArray
	}
	if f, ok := toFloat(v); ok {
		if isInteger(v, f) {
			return KindInteger
		}
		return KindNumber
	}
	return KindAny
}

func typeName(v any) string {
	if k := kindOf(v); k != KindAny {
		return k.String()
	}
	return fmt.Sprintf("%T", v)
}

func render(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
