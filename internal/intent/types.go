// Package intent turns raw agent execution logs into canonical core intents.
//
// A core intent is what the agent declared it would do: the tool action plus
// normalized parameter values, with values stated explicitly in the prompt
// taking precedence over whatever the tool call carried.
package intent

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionLog is one agent action attempt as captured by the agent runtime.
type ExecutionLog struct {
	Timestamp string         `json:"timestamp,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Prompt    string         `json:"prompt"`
	ToolCall  string         `json:"toolCall"`
	Params    map[string]any `json:"params"`
	Executed  bool           `json:"executed"`
	Result    any            `json:"result,omitempty"`
}

// CoreIntent is the normalized description of what the agent intended.
type CoreIntent struct {
	Action           string         `json:"action"`
	NormalizedParams map[string]any `json:"normalizedParams"`
}

// ValidationError reports a malformed execution log.
type ValidationError struct {
	Index  int // position in a batch, -1 for a single log
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("execution log %d: field %q %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("execution log: field %q %s", e.Field, e.Reason)
}

// Validate checks the fields the pipeline cannot work without, in the same
// order the decoder checks them. A timestamp is optional but must be
// RFC 3339 when present.
func (l ExecutionLog) Validate() error {
	if l.ToolCall == "" {
		return &ValidationError{Index: -1, Field: "toolCall", Reason: "is required"}
	}
	if l.Prompt == "" {
		return &ValidationError{Index: -1, Field: "prompt", Reason: "is required"}
	}
	if l.Params == nil {
		return &ValidationError{Index: -1, Field: "params", Reason: "is required"}
	}
	if l.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339Nano, l.Timestamp); err != nil {
			return &ValidationError{Index: -1, Field: "timestamp", Reason: "must be an RFC 3339 date-time"}
		}
	}
	return nil
}

// ParsedTimestamp returns the log's timestamp in UTC, or false when the log
// carries none.
func (l ExecutionLog) ParsedTimestamp() (time.Time, bool) {
	if l.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, l.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// CloneParams deep-copies a parameter mapping so later changes by the caller
// cannot reach a stored analysis.
func CloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies the JSON container types; scalars are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneParams(t)
	case map[any]any:
		out := make(map[any]any, len(t))
		for k, e := range t {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Number reports whether v is a JSON-compatible numeric value and returns it
// as a float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Kind classifies a parameter value the way a JSON consumer sees it.
func Kind(v any) string {
	if _, ok := Number(v); ok {
		return "number"
	}
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any, map[any]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
