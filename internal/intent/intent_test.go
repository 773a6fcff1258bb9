package intent

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_PromptAmountOverridesPayload(t *testing.T) {
	core := Normalize(ExecutionLog{
		Prompt:   "Approve a $250k business loan for Acme Corp",
		ToolCall: "approve_loan",
		Params:   map[string]any{"amount": 2500000.0, "borrower": "Acme Corp "},
	})

	assert.Equal(t, "approve_loan", core.Action)
	assert.Equal(t, 250000.0, core.NormalizedParams["amount"])
	assert.Equal(t, "acme corp", core.NormalizedParams["borrower"])
}

func TestNormalize_PayloadValues(t *testing.T) {
	core := Normalize(ExecutionLog{
		Prompt:   "do the thing",
		ToolCall: "update_record",
		Params: map[string]any{
			"price":  19.999,
			"count":  3,
			"status": "  ACTIVE ",
			"flag":   true,
			"tags":   []any{"a"},
		},
	})

	assert.Equal(t, 20.0, core.NormalizedParams["price"])
	assert.Equal(t, 3.0, core.NormalizedParams["count"])
	assert.Equal(t, "active", core.NormalizedParams["status"])
	assert.Equal(t, true, core.NormalizedParams["flag"])
	assert.Equal(t, []any{"a"}, core.NormalizedParams["tags"])
}

func TestNormalize_PromptValuesOnlyForPresentKeys(t *testing.T) {
	core := Normalize(ExecutionLog{
		Prompt:   "Send $5k to bob smith",
		ToolCall: "transfer_funds",
		Params:   map[string]any{"recipient": "mallory"},
	})

	assert.Equal(t, "bob smith", core.NormalizedParams["recipient"])
	_, hasAmount := core.NormalizedParams["amount"]
	assert.False(t, hasAmount, "amount is not a tool-call parameter")
}

func TestExtractFromPrompt(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		action string
		want   map[string]any
	}{
		{"commas", "Wire $1,200k now", "transfer_funds", map[string]any{"amount": 1200000.0}},
		{"no match", "Approve the loan", "approve_loan", map[string]any{}},
		{"borrower", "Approve loan for Globex 2", "approve_loan", map[string]any{"borrower": "globex 2"}},
		{"borrower ignored for other action", "Pay for lunch", "transfer_funds", map[string]any{}},
		{"recipient", "Transfer $10k to acct_99", "transfer_funds", map[string]any{"amount": 10000.0, "recipient": "acct_99"}},
		{"no k suffix", "Pay $500 to alice", "pay_invoice", map[string]any{}},
		{"huge shorthand", "approve a $9,300,000,000,000,000k loan", "approve_loan", map[string]any{"amount": 9.3e21}},
		{"to inside a word", "send the crypto to bob", "transfer_funds", map[string]any{"recipient": "bob"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractFromPrompt(tt.prompt, tt.action))
		})
	}
}

func TestHash_IgnoresKeyOrder(t *testing.T) {
	a := CoreIntent{Action: "approve_loan", NormalizedParams: map[string]any{"amount": 1.0, "borrower": "x", "term": 12}}
	b := CoreIntent{Action: "approve_loan", NormalizedParams: map[string]any{"term": 12, "borrower": "x", "amount": 1.0}}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 16)

	hc, err := Hash(map[string]any{"amount": 2.0})
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestValidate(t *testing.T) {
	valid := ExecutionLog{Prompt: "p", ToolCall: "x", Params: map[string]any{}}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name  string
		edit  func(*ExecutionLog)
		field string
	}{
		{"missing tool", func(l *ExecutionLog) { l.ToolCall = "" }, "toolCall"},
		{"missing prompt", func(l *ExecutionLog) { l.Prompt = "" }, "prompt"},
		{"missing params", func(l *ExecutionLog) { l.Params = nil }, "params"},
		{"bad timestamp", func(l *ExecutionLog) { l.Timestamp = "yesterday" }, "timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := valid
			tt.edit(&log)
			var ve *ValidationError
			require.True(t, errors.As(log.Validate(), &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidate_MatchesDecoder(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)

	for _, raw := range []string{
		`{"toolCall": "x", "params": {}}`,
		`{"prompt": "", "toolCall": "x", "params": {}}`,
		`{"prompt": "p", "toolCall": "x", "params": {}, "timestamp": "yesterday"}`,
	} {
		_, decodeErr := dec.DecodeLog([]byte(raw))
		var dve *ValidationError
		require.True(t, errors.As(decodeErr, &dve), raw)

		var log ExecutionLog
		require.NoError(t, json.Unmarshal([]byte(raw), &log))
		var lve *ValidationError
		require.True(t, errors.As(log.Validate(), &lve), raw)
		assert.Equal(t, dve.Field, lve.Field, raw)
	}
}

func TestCloneParams_IsDeep(t *testing.T) {
	params := map[string]any{"amount": 1.0, "meta": map[string]any{"tags": []any{"a"}}}
	clone := CloneParams(params)

	params["amount"] = 2.0
	params["meta"].(map[string]any)["tags"].([]any)[0] = "b"

	assert.Equal(t, map[string]any{"amount": 1.0, "meta": map[string]any{"tags": []any{"a"}}}, clone)
	assert.Nil(t, CloneParams(nil))
}

func TestDecoder_DecodeLogs(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)

	logs, err := dec.DecodeLogs(strings.NewReader(`[
		{"timestamp": "2025-01-01T00:00:00Z", "prompt": "Approve a $250k loan", "toolCall": "approve_loan",
		 "params": {"amount": 2500000}, "executed": true, "userId": "u-1"}
	]`))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "approve_loan", logs[0].ToolCall)
	assert.Equal(t, "u-1", logs[0].UserID)
	assert.Equal(t, 2500000.0, logs[0].Params["amount"])
	assert.True(t, logs[0].Executed)
}

func TestDecoder_MissingFieldIsNamed(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)

	_, err = dec.DecodeLogs(strings.NewReader(`[
		{"prompt": "a", "toolCall": "x", "params": {}},
		{"prompt": "b", "params": {}}
	]`))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 1, ve.Index)
	assert.Equal(t, "toolCall", ve.Field)
}

func TestDecoder_WrongTypeRejected(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)

	_, err = dec.DecodeLog([]byte(`{"prompt": "a", "toolCall": "x", "params": "amount=5"}`))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "params", ve.Field)
}
