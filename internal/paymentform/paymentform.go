// Package paymentform builds the dynamic payment form of an écriture from the
// required fields of its payment category and method, and validates the
// submitted details against a JSON Schema compiled from those fields.
package paymentform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/validation"
)

// Field types.
const (
	TypeText   = "text"
	TypeNumber = "number"
	TypeDate   = "date"
	TypeSelect = "select"
)

const schemaURL = "https://go-achats.local/schemas/payment-details.json"

// Fields returns the union of the category and method fields. Category fields
// come first; a name already declared keeps its first definition.
func Fields(category *models.PaymentCategory, method *models.PaymentMethod) []models.FieldDef {
	var out []models.FieldDef
	seen := map[string]bool{}
	add := func(defs []models.FieldDef) {
		for _, f := range defs {
			if f.Name == "" || seen[f.Name] {
				continue
			}
			seen[f.Name] = true
			if f.Type == "" {
				f.Type = TypeText
			}
			out = append(out, f)
		}
	}
	if category != nil {
		add(category.RequiredFields)
	}
	if method != nil {
		add(method.RequiredFields)
	}
	return out
}

// Schema renders the JSON Schema (draft 2020-12) requiring every field.
func Schema(fields []models.FieldDef) ([]byte, error) {
	props := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		props[f.Name] = fieldSchema(f)
		required = append(required, f.Name)
	}
	return json.Marshal(map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
		"required":   required,
	})
}

func fieldSchema(f models.FieldDef) map[string]any {
	switch f.Type {
	case TypeNumber:
		return map[string]any{"type": "number", "exclusiveMinimum": 0}
	case TypeDate:
		return map[string]any{"type": "string", "format": "date"}
	case TypeSelect:
		return map[string]any{"type": "string", "enum": f.Options}
	default:
		return map[string]any{"type": "string", "minLength": 1, "maxLength": 255}
	}
}

// Compile compiles the schema of the given fields.
func Compile(fields []models.FieldDef) (*jsonschema.Schema, error) {
	raw, err := Schema(fields)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("payment schema load failed: %w", err)
	}
	return c.Compile(schemaURL)
}

// Validate checks details against the union of required fields and returns
// one violation per failing field, keyed "details.<name>".
func Validate(category *models.PaymentCategory, method *models.PaymentMethod, details map[string]any) (validation.Violations, error) {
	fields := Fields(category, method)
	v := validation.Violations{}
	if len(fields) == 0 {
		return v, nil
	}
	sch, err := Compile(fields)
	if err != nil {
		return nil, err
	}
	instance, err := normalize(details)
	if err != nil {
		return nil, err
	}
	err = sch.Validate(instance)
	if err == nil {
		return v, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, err
	}
	for _, leaf := range leaves(verr) {
		field, code := classify(leaf, fields, details)
		for _, name := range field {
			v.Add("details."+name, code)
		}
	}
	if v.Empty() {
		v.Add("details", "invalid_format")
	}
	return v, nil
}

// normalize round-trips details through JSON so numbers reach the validator
// as json.Number, whatever Go type the map held.
func normalize(details map[string]any) (any, error) {
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	return out, nil
}

func leaves(e *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(e.Causes) == 0 {
		return []*jsonschema.ValidationError{e}
	}
	var out []*jsonschema.ValidationError
	for _, c := range e.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

func classify(e *jsonschema.ValidationError, fields []models.FieldDef, details map[string]any) ([]string, string) {
	keyword := e.KeywordLocation[strings.LastIndex(e.KeywordLocation, "/")+1:]
	if keyword == "required" {
		var missing []string
		for _, f := range fields {
			if _, ok := details[f.Name]; !ok {
				missing = append(missing, f.Name)
			}
		}
		return missing, "required"
	}
	name := strings.TrimPrefix(e.InstanceLocation, "/")
	if i := strings.Index(name, "/"); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return nil, ""
	}
	switch keyword {
	case "minLength":
		return []string{name}, "required"
	case "maxLength":
		return []string{name}, "too_long"
	case "enum":
		return []string{name}, "invalid_choice"
	case "exclusiveMinimum", "minimum":
		return []string{name}, "must_be_positive"
	default:
		return []string{name}, "invalid_format"
	}
}
