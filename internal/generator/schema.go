package generator

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema 结构化输出的 JSON Schema，同时用于请求 response_format 与本地校验
type Schema struct {
	Name       string
	Definition map[string]any
}

var practiceTasksSchema = &Schema{
	Name: "practice_tasks",
	Definition: map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"tasks"},
		"properties": map[string]any{
			"tasks": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []any{"title", "content", "difficulty", "solution"},
					"properties": map[string]any{
						"title":      map[string]any{"type": "string"},
						"content":    map[string]any{"type": "string", "minLength": 1},
						"difficulty": map[string]any{"type": "string", "enum": []any{"easy", "medium", "hard", "EA", "ME", "HA"}},
						"solution":   map[string]any{"type": "string"},
					},
				},
			},
		},
	},
}

var quizQuestionsSchema = &Schema{
	Name: "quiz_questions",
	Definition: map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"questions"},
		"properties": map[string]any{
			"questions": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []any{"question_text", "options", "question_type", "correct_answer"},
					"properties": map[string]any{
						"question_text":  map[string]any{"type": "string", "minLength": 1},
						"options":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"question_type":  map[string]any{"type": "string"},
						"correct_answer": map[string]any{"type": "string", "minLength": 1},
					},
				},
			},
		},
	},
}

var schemaCache sync.Map // map[string]*jsonschema.Schema

func compiledSchema(schema *Schema) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(schema.Name); ok {
		return cached.(*jsonschema.Schema), nil
	}

	// jsonschema 需要解析后的 JSON 值而非 Go map 字面量
	raw, err := json.Marshal(schema.Definition)
	if err != nil {
		return nil, fmt.Errorf("marshal schema definition: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse schema definition: %w", err)
	}

	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("schema://%s.json", schema.Name)
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	schemaCache.Store(schema.Name, compiled)
	return compiled, nil
}

// decodeStructured 校验后解码到 dst，失败统一返回 *ErrInvalidResponse
func decodeStructured(schema *Schema, raw json.RawMessage, dst any) error {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("invalid JSON: %w", err)}
	}

	compiled, err := compiledSchema(schema)
	if err != nil {
		return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("schema %q: %w", schema.Name, err)}
	}
	if err := compiled.Validate(parsed); err != nil {
		return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("schema validation failed: %w", err)}
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return &ErrInvalidResponse{Content: raw, Err: err}
	}
	return nil
}
