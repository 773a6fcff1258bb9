package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const logSchemaURL = "https://uaal.schemas.local/execution-log.schema.json"

const logSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["toolCall", "prompt", "params"],
  "properties": {
    "timestamp": {"type": "string"},
    "userId":    {"type": "string"},
    "prompt":    {"type": "string", "minLength": 1},
    "toolCall":  {"type": "string", "minLength": 1},
    "params":    {"type": "object"},
    "executed":  {"type": "boolean"}
  }
}`

// requiredFields is checked before schema validation so the error names the
// first missing field directly.
var requiredFields = []string{"toolCall", "prompt", "params"}

// Decoder parses execution logs from JSON and rejects malformed entries.
type Decoder struct {
	schema *jsonschema.Schema
}

// NewDecoder compiles the execution log schema.
func NewDecoder() (*Decoder, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(logSchemaURL, strings.NewReader(logSchema)); err != nil {
		return nil, fmt.Errorf("execution log schema load failed: %w", err)
	}
	compiled, err := c.Compile(logSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("execution log schema compile failed: %w", err)
	}
	return &Decoder{schema: compiled}, nil
}

// DecodeLogs reads a JSON array of execution logs.
func (d *Decoder) DecodeLogs(r io.Reader) ([]ExecutionLog, error) {
	var raws []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raws); err != nil {
		return nil, fmt.Errorf("decode execution logs: %w", err)
	}

	logs := make([]ExecutionLog, 0, len(raws))
	for i, raw := range raws {
		log, err := d.decode(raw, i)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, nil
}

// DecodeLog parses a single execution log object.
func (d *Decoder) DecodeLog(raw []byte) (ExecutionLog, error) {
	return d.decode(raw, -1)
}

func (d *Decoder) decode(raw []byte, index int) (ExecutionLog, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return ExecutionLog{}, fmt.Errorf("decode execution log: %w", err)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return ExecutionLog{}, &ValidationError{Index: index, Field: "$", Reason: "must be an object"}
	}
	for _, field := range requiredFields {
		if _, present := obj[field]; !present {
			return ExecutionLog{}, &ValidationError{Index: index, Field: field, Reason: "is required"}
		}
	}

	if err := d.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := deepestCause(ve)
			return ExecutionLog{}, &ValidationError{
				Index:  index,
				Field:  strings.TrimPrefix(leaf.InstanceLocation, "/"),
				Reason: leaf.Message,
			}
		}
		return ExecutionLog{}, fmt.Errorf("validate execution log: %w", err)
	}

	var log ExecutionLog
	if err := json.Unmarshal(raw, &log); err != nil {
		return ExecutionLog{}, fmt.Errorf("decode execution log: %w", err)
	}
	if err := log.Validate(); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Index = index
		}
		return ExecutionLog{}, err
	}
	return log, nil
}

func deepestCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}
