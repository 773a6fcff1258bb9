package sdk

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// VerdictHeader carries the firewall outcome on guarded responses.
const VerdictHeader = "X-UAAL-Outcome"

// toolEnvelope accepts the common tool call shapes.
type toolEnvelope struct {
	ToolName  string                 `json:"tool_name"`
	Name      string                 `json:"name"`     // MCP format
	Function  string                 `json:"function"` // OpenAI format
	Arguments map[string]interface{} `json:"arguments"`
	Params    map[string]interface{} `json:"params"`
	Prompt    string                 `json:"prompt"`
	UserID    string                 `json:"user_id"`
}

func (e toolEnvelope) toolCall() (ToolCall, bool) {
	name := e.ToolName
	if name == "" {
		name = e.Name
	}
	if name == "" {
		name = e.Function
	}
	args := e.Arguments
	if args == nil {
		args = e.Params
	}
	if name == "" || args == nil {
		return ToolCall{}, false
	}
	return ToolCall{Prompt: e.Prompt, ToolCall: name, Params: args, UserID: e.UserID}, true
}

// GuardMiddleware checks tool call requests against the firewall before the
// wrapped handler executes them. Requests that are not tool calls pass
// through untouched.
//
//	router.Use(sdk.GuardMiddlewareFunc(client))
func GuardMiddleware(client *Client, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var env toolEnvelope
		if json.Unmarshal(body, &env) != nil {
			next.ServeHTTP(w, r)
			return
		}
		call, ok := env.toolCall()
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		v, err := client.Check(r.Context(), call)
		switch {
		case err != nil && client.config.FailOpen:
			slog.Warn("Intent firewall unreachable (allowing through)", "tool", call.ToolCall, "error", err)
		case err != nil:
			slog.Error("Intent firewall unreachable (refusing)", "tool", call.ToolCall, "error", err)
			http.Error(w, "intent firewall unavailable", http.StatusServiceUnavailable)
			return
		case v.Blocked():
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(VerdictHeader, OutcomeBlocked)
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":            "Tool call blocked by intent firewall",
				"reason":           v.Reason,
				"core_intent_hash": v.CoreIntentHash,
				"violated_rules":   v.ViolatedRules,
			})
			return
		default:
			w.Header().Set(VerdictHeader, v.Outcome)
		}

		next.ServeHTTP(w, r)
	})
}

// GuardMiddlewareFunc returns Gorilla Mux compatible middleware
func GuardMiddlewareFunc(client *Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return GuardMiddleware(client, next)
	}
}
