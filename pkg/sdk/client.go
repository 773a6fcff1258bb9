// Package sdk lets an AI agent route tool calls through the intent firewall
// before executing them.
//
// Quick Start:
//
//	client := sdk.NewClient(sdk.Config{
//	    FirewallURL: "http://localhost:8080",
//	    AgentID:     "loan-agent-1",
//	})
//
//	err := client.Guard(ctx, sdk.ToolCall{
//	    Prompt:   "Approve a $250k loan for Acme Corp",
//	    ToolCall: "approve_loan",
//	    Params:   map[string]interface{}{"amount": 250000, "borrower": "Acme Corp"},
//	}, func(ctx context.Context) error {
//	    return approveLoan(ctx)
//	})
//	if errors.Is(err, sdk.ErrBlocked) {
//	    // the firewall refused; the tool did not run
//	}
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AgentHeader identifies the calling agent to the firewall's rate limiter.
const AgentHeader = "X-Agent-ID"

// ErrBlocked is returned by Guard when enforce mode rejects a call.
var ErrBlocked = errors.New("uaal-sdk: tool call blocked by intent firewall")

// Config holds the SDK configuration.
type Config struct {
	// FirewallURL is the firewall API endpoint (required)
	// Examples: "https://uaal.yourcompany.com", "http://localhost:8080"
	FirewallURL string

	// AgentID identifies this specific AI agent instance
	// Auto-generated if empty
	AgentID string

	// Timeout for firewall decisions (default 5s)
	Timeout time.Duration

	// FailOpen lets Guard run the tool when the firewall is unreachable.
	// The default is to refuse.
	FailOpen bool

	// OnBlock is called when a tool call is blocked
	OnBlock func(v *Verdict)
}

// Client is the SDK client. It is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new SDK client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.AgentID == "" {
		cfg.AgentID = fmt.Sprintf("agent-%d", time.Now().UnixNano())
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Check submits call to the firewall and returns its verdict. A blocked call
// is a verdict, not an error; errors mean no verdict was reached.
func (c *Client) Check(ctx context.Context, call ToolCall) (*Verdict, error) {
	if call.Timestamp == "" {
		call.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	body, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("uaal-sdk: failed to marshal tool call: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.FirewallURL+"/api/v1/logs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("uaal-sdk: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(AgentHeader, c.config.AgentID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("uaal-sdk: firewall request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("uaal-sdk: failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var v Verdict
		if err := json.Unmarshal(respBody, &v); err != nil {
			return nil, fmt.Errorf("uaal-sdk: failed to parse verdict: %w", err)
		}
		return &v, nil

	case http.StatusForbidden:
		var blocked struct {
			Error    string  `json:"error"`
			Analysis Verdict `json:"analysis"`
		}
		if err := json.Unmarshal(respBody, &blocked); err != nil {
			return nil, fmt.Errorf("uaal-sdk: failed to parse block: %w", err)
		}
		v := blocked.Analysis
		v.Outcome = OutcomeBlocked
		v.Reason = blocked.Error
		if c.config.OnBlock != nil {
			c.config.OnBlock(&v)
		}
		return &v, nil

	default:
		var apiErr struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &apiErr)
		return nil, fmt.Errorf("uaal-sdk: firewall returned %d: %s", resp.StatusCode, apiErr.Error)
	}
}

// Guard runs fn only when the firewall lets call proceed.
func (c *Client) Guard(ctx context.Context, call ToolCall, fn func(ctx context.Context) error) error {
	v, err := c.Check(ctx, call)
	if err != nil {
		if !c.config.FailOpen {
			return err
		}
	} else if v.Blocked() {
		return fmt.Errorf("%w: %s", ErrBlocked, v.Reason)
	}
	return fn(ctx)
}
