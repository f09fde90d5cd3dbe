package domo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
)

const auditPageSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": ["array", "null"],
	"items": {"type": "object"}
}`

const createDatasetSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "schema"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"schema": {
			"type": "object",
			"required": ["columns"],
			"properties": {
				"columns": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"required": ["type", "name"],
						"properties": {
							"type": {"enum": ["STRING", "LONG", "DOUBLE", "DATETIME", "DATE"]},
							"name": {"type": "string", "minLength": 1}
						}
					}
				}
			}
		}
	}
}`

var (
	auditPageShape     = compileShape("audit-page.json", auditPageSchema)
	createDatasetShape = compileShape("create-dataset.json", createDatasetSchema)
)

// ShapeError lists why a JSON document did not match the expected shape.
type ShapeError struct {
	Errors []string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("unexpected json shape: %s", strings.Join(e.Errors, "; "))
}

func compileShape(name, schema string) *santhosh.Schema {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

func validateShape(sch *santhosh.Schema, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &ShapeError{Errors: collectValidationErrors(ve)}
		}
		return &ShapeError{Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}
