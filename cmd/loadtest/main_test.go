package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/uaal/internal/api"
	"github.com/ocx/uaal/internal/enforce"
	"github.com/ocx/uaal/internal/firewall"
)

func startFirewall(t *testing.T, mode enforce.Mode) string {
	t.Helper()
	fw := firewall.New(firewall.Options{Enforcer: enforce.NewEnforcer(mode)})
	s, err := api.NewServer(fw, api.Options{})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestBuildCall_InflatesEveryNth(t *testing.T) {
	honest := buildCall(0, 10)
	assert.Equal(t, 50000, honest.Params["amount"])
	assert.Equal(t, "Approve a $50k loan for borrower 0", honest.Prompt)

	inflated := buildCall(9, 10)
	assert.Equal(t, 1400000, inflated.Params["amount"])

	never := buildCall(9, 0)
	assert.Equal(t, 140000, never.Params["amount"])
}

func TestRunLoadTest_ShadowMode(t *testing.T) {
	stats := runLoadTest(context.Background(), LoadTestConfig{
		FirewallURL:    startFirewall(t, enforce.ModeShadow),
		NumCalls:       20,
		Concurrency:    4,
		DriftEvery:     10,
		ReportInterval: time.Minute,
	})

	assert.Equal(t, uint64(20), stats.TotalCalls)
	assert.Equal(t, uint64(20), stats.Recorded)
	assert.Equal(t, uint64(0), stats.Blocked)
	assert.Equal(t, uint64(2), stats.Drifted)
	assert.Equal(t, uint64(0), stats.Errors)
	assert.LessOrEqual(t, stats.MinLatency, stats.MaxLatency)
}

func TestRunLoadTest_EnforceModeBlocksInflated(t *testing.T) {
	stats := runLoadTest(context.Background(), LoadTestConfig{
		FirewallURL:    startFirewall(t, enforce.ModeEnforce),
		NumCalls:       20,
		Concurrency:    4,
		DriftEvery:     10,
		ReportInterval: time.Minute,
	})

	assert.Equal(t, uint64(2), stats.Blocked)
	assert.Equal(t, uint64(18), stats.Recorded)
}

func TestRunLoadTest_UnreachableCountsErrors(t *testing.T) {
	stats := runLoadTest(context.Background(), LoadTestConfig{
		FirewallURL:    "http://127.0.0.1:1",
		NumCalls:       3,
		Concurrency:    1,
		ReportInterval: time.Minute,
	})

	assert.Equal(t, uint64(3), stats.Errors)
	assert.Equal(t, time.Duration(0), stats.MinLatency)
}

func TestCalculatePercentile(t *testing.T) {
	var latencies []time.Duration
	for i := 100; i >= 1; i-- {
		latencies = append(latencies, time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 96*time.Millisecond, calculatePercentile(latencies, 95))
	assert.Equal(t, 100*time.Millisecond, calculatePercentile(latencies, 99))
	assert.Equal(t, time.Duration(0), calculatePercentile(nil, 95))
	assert.Equal(t, 50500*time.Microsecond, calculateAverage(latencies))
}
