package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const envelopeSchema = `{
  "type": "object",
  "required": ["success"],
  "properties": {
    "success": {"type": "boolean"},
    "error": {"type": "string"},
    "processingResult": {"type": ["object", "null"]}
  }
}`

const resultSchema = `{
  "type": "object",
  "required": ["totalLines", "averageSentiment", "sentimentDistribution", "results"],
  "properties": {
    "totalLines": {"type": "integer", "minimum": 0},
    "processingTimeMs": {"type": "number", "minimum": 0},
    "workersUsed": {"type": "integer", "minimum": 0},
    "averageSentiment": {"type": "number"},
    "sentimentDistribution": {
      "type": "object",
      "required": ["positive", "neutral", "negative"],
      "properties": {
        "positive": {"type": "integer", "minimum": 0},
        "neutral": {"type": "integer", "minimum": 0},
        "negative": {"type": "integer", "minimum": 0}
      }
    },
    "results": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["lineNumber", "originalText", "sentimentScore", "sentimentLabel"],
        "properties": {
          "lineNumber": {"type": "integer", "minimum": 1},
          "originalText": {"type": "string"},
          "sentimentScore": {"type": "number"},
          "sentimentLabel": {"enum": ["positive", "neutral", "negative"]},
          "keywords": {"type": ["array", "null"], "items": {"type": "string"}},
          "patternsFound": {"type": ["array", "null"], "items": {"type": "string"}},
          "metadata": {"type": ["object", "null"]}
        }
      }
    }
  }
}`

// schemas holds the compiled response schemas.
type schemas struct {
	envelope *jsonschema.Schema
	result   *jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("envelope.json", strings.NewReader(envelopeSchema)); err != nil {
		return nil, fmt.Errorf("add envelope schema: %w", err)
	}
	if err := compiler.AddResource("result.json", strings.NewReader(resultSchema)); err != nil {
		return nil, fmt.Errorf("add result schema: %w", err)
	}
	envelope, err := compiler.Compile("envelope.json")
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	result, err := compiler.Compile("result.json")
	if err != nil {
		return nil, fmt.Errorf("compile result schema: %w", err)
	}
	return &schemas{envelope: envelope, result: result}, nil
}

func validate(s *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}
