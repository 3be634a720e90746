package api

import (
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// parseSchema проверяет, что JSON-схема flow парсится.
// Пустая схема допустима.
func parseSchema(schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	_, err := compileSchema(schema)
	return err
}

// validateParameters проверяет параметры запуска против JSON-схемы flow.
// Пустая схема — параметры не ограничены.
func validateParameters(schema map[string]any, params map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := compileSchema(schema)
	if err != nil {
		return err
	}

	if params == nil {
		params = map[string]any{}
	}
	if err := compiled.VisitJSON(map[string]any(params)); err != nil {
		return fmt.Errorf("parameters do not match schema: %w", err)
	}
	return nil
}

func compileSchema(schema map[string]any) (*openapi3.Schema, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	var compiled openapi3.Schema
	if err := compiled.UnmarshalJSON(schemaJSON); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &compiled, nil
}
