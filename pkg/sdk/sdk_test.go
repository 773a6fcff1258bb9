package sdk

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/uaal/internal/api"
	"github.com/ocx/uaal/internal/enforce"
	"github.com/ocx/uaal/internal/firewall"
)

func newFirewallServer(t *testing.T, mode enforce.Mode) *httptest.Server {
	t.Helper()
	fw := firewall.New(firewall.Options{Enforcer: enforce.NewEnforcer(mode)})
	s, err := api.NewServer(fw, api.Options{})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts
}

func inflatedLoan() ToolCall {
	return ToolCall{
		Prompt:   "Approve a $250k loan",
		ToolCall: "approve_loan",
		Params:   map[string]interface{}{"amount": 2500000},
		UserID:   "user-1",
	}
}

func honestLoan() ToolCall {
	call := inflatedLoan()
	call.Params = map[string]interface{}{"amount": 250000}
	return call
}

func TestCheck_ShadowModeReportsDenyButProceeds(t *testing.T) {
	ts := newFirewallServer(t, enforce.ModeShadow)
	client := NewClient(Config{FirewallURL: ts.URL, AgentID: "agent-1"})

	v, err := client.Check(context.Background(), inflatedLoan())
	require.NoError(t, err)
	assert.False(t, v.Blocked())
	assert.Equal(t, DecisionDeny, v.PolicyDecision)
	assert.Equal(t, "HIGH", v.RiskLevel)
	assert.True(t, v.HasDrift)
	require.Len(t, v.ViolatedRules, 1)
	assert.Equal(t, "loan_amount_limit", v.ViolatedRules[0].Name)
}

func TestGuard_EnforceModeBlocks(t *testing.T) {
	ts := newFirewallServer(t, enforce.ModeEnforce)
	var blocked *Verdict
	client := NewClient(Config{FirewallURL: ts.URL, OnBlock: func(v *Verdict) { blocked = v }})

	ran := false
	err := client.Guard(context.Background(), inflatedLoan(), func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBlocked)
	assert.False(t, ran)
	require.NotNil(t, blocked)
	assert.Contains(t, blocked.Reason, "approve_loan")

	err = client.Guard(context.Background(), honestLoan(), func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestGuard_FailClosedAndFailOpen(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()

	ran := false
	fn := func(context.Context) error { ran = true; return nil }

	err := NewClient(Config{FirewallURL: ts.URL}).Guard(context.Background(), honestLoan(), fn)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrBlocked))
	assert.False(t, ran)

	err = NewClient(Config{FirewallURL: ts.URL, FailOpen: true}).Guard(context.Background(), honestLoan(), fn)
	assert.NoError(t, err)
	assert.True(t, ran)
}

func TestCheck_InvalidCallIsError(t *testing.T) {
	ts := newFirewallServer(t, enforce.ModeShadow)
	client := NewClient(Config{FirewallURL: ts.URL})

	_, err := client.Check(context.Background(), ToolCall{Prompt: "no tool", Params: map[string]interface{}{}})
	assert.ErrorContains(t, err, "400")
}

func TestGuardMiddleware(t *testing.T) {
	ts := newFirewallServer(t, enforce.ModeEnforce)
	client := NewClient(Config{FirewallURL: ts.URL})

	executed := 0
	tool := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		executed++
		w.WriteHeader(http.StatusOK)
	})
	h := GuardMiddleware(client, tool)

	post := func(body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/tools/call", bytes.NewBufferString(body)))
		return rr
	}

	rr := post(`{"name":"approve_loan","prompt":"Approve a $250k loan","arguments":{"amount":2500000}}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, OutcomeBlocked, rr.Header().Get(VerdictHeader))

	rr = post(`{"function":"approve_loan","prompt":"Approve a $250k loan","params":{"amount":250000}}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, OutcomeRecorded, rr.Header().Get(VerdictHeader))

	rr = post(`{"hello":"world"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get(VerdictHeader))

	assert.Equal(t, 2, executed)
}
