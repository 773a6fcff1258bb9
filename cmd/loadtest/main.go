package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ocx/uaal/pkg/sdk"
)

// LoadTestConfig holds load test parameters
type LoadTestConfig struct {
	FirewallURL    string
	NumCalls       int
	Concurrency    int
	DriftEvery     int
	ReportInterval time.Duration
}

// LoadTestStats tracks test metrics
type LoadTestStats struct {
	TotalCalls          uint64
	Recorded            uint64
	Blocked             uint64
	Drifted             uint64
	Errors              uint64
	TotalDuration       time.Duration
	AvgLatency          time.Duration
	MaxLatency          time.Duration
	MinLatency          time.Duration
	P95Latency          time.Duration
	P99Latency          time.Duration
	ThroughputPerSecond float64
}

func main() {
	url := flag.String("url", "http://localhost:8080", "Firewall base URL")
	numCalls := flag.Int("calls", 1000, "Number of tool calls to submit")
	concurrency := flag.Int("concurrency", 50, "Number of concurrent agents")
	driftEvery := flag.Int("drift-every", 10, "Inflate the amount on every Nth call (0 = never)")
	reportInterval := flag.Duration("report", 5*time.Second, "Stats reporting interval")
	flag.Parse()

	config := LoadTestConfig{
		FirewallURL:    *url,
		NumCalls:       *numCalls,
		Concurrency:    *concurrency,
		DriftEvery:     *driftEvery,
		ReportInterval: *reportInterval,
	}

	slog.Info("🚀 Starting intent firewall load test", "url", config.FirewallURL)
	slog.Info("Calls", "num_calls", config.NumCalls)
	slog.Info("Concurrency", "concurrency", config.Concurrency)
	stats := runLoadTest(context.Background(), config)

	printResults(stats)
	if stats.Errors > 0 {
		os.Exit(1)
	}
}

func runLoadTest(parent context.Context, config LoadTestConfig) *LoadTestStats {
	stats := &LoadTestStats{
		MinLatency: time.Hour,
	}
	var latencies []time.Duration
	var latenciesMu sync.Mutex

	calls := make(chan int, config.NumCalls)
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go reportStats(ctx, stats, &latenciesMu, config.ReportInterval)

	startTime := time.Now()
	for i := 0; i < config.Concurrency; i++ {
		client := sdk.NewClient(sdk.Config{
			FirewallURL: config.FirewallURL,
			AgentID:     fmt.Sprintf("loadtest-agent-%d", i),
		})
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for callID := range calls {
				submitCall(ctx, client, config, workerID, callID, stats, &latencies, &latenciesMu)
			}
		}(i)
	}

	for i := 0; i < config.NumCalls; i++ {
		calls <- i
	}
	close(calls)

	wg.Wait()
	totalDuration := time.Since(startTime)

	stats.TotalDuration = totalDuration
	stats.ThroughputPerSecond = float64(stats.TotalCalls) / totalDuration.Seconds()

	latenciesMu.Lock()
	if len(latencies) > 0 {
		stats.AvgLatency = calculateAverage(latencies)
		stats.P95Latency = calculatePercentile(latencies, 95)
		stats.P99Latency = calculatePercentile(latencies, 99)
	} else {
		stats.MinLatency = 0
	}
	latenciesMu.Unlock()

	return stats
}

// buildCall returns a loan approval whose submitted amount matches the prompt,
// or exceeds it tenfold on every driftEvery-th call.
func buildCall(callID, driftEvery int) sdk.ToolCall {
	stated := 50000 + (callID%20)*10000
	amount := stated
	if driftEvery > 0 && callID%driftEvery == driftEvery-1 {
		amount = stated * 10
	}
	return sdk.ToolCall{
		Prompt:   fmt.Sprintf("Approve a $%dk loan for borrower %d", stated/1000, callID%25),
		ToolCall: "approve_loan",
		Params: map[string]interface{}{
			"amount":   amount,
			"borrower": fmt.Sprintf("borrower %d", callID%25),
		},
		UserID: fmt.Sprintf("user-%d", callID%25),
	}
}

func submitCall(
	ctx context.Context,
	client *sdk.Client,
	config LoadTestConfig,
	workerID, callID int,
	stats *LoadTestStats,
	latencies *[]time.Duration,
	latenciesMu *sync.Mutex,
) {
	call := buildCall(callID, config.DriftEvery)

	start := time.Now()
	verdict, err := client.Check(ctx, call)
	latency := time.Since(start)

	atomic.AddUint64(&stats.TotalCalls, 1)

	if err != nil {
		atomic.AddUint64(&stats.Errors, 1)
		slog.Debug("call failed", "worker", workerID, "call", callID, "error", err)
		return
	}
	if verdict.Blocked() {
		atomic.AddUint64(&stats.Blocked, 1)
	} else {
		atomic.AddUint64(&stats.Recorded, 1)
	}
	if verdict.HasDrift {
		atomic.AddUint64(&stats.Drifted, 1)
	}

	latenciesMu.Lock()
	*latencies = append(*latencies, latency)
	if latency > stats.MaxLatency {
		stats.MaxLatency = latency
	}
	if latency < stats.MinLatency {
		stats.MinLatency = latency
	}
	latenciesMu.Unlock()
}

func reportStats(ctx context.Context, stats *LoadTestStats, mu *sync.Mutex, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mu.Lock()
			minLatency, maxLatency := stats.MinLatency, stats.MaxLatency
			mu.Unlock()
			slog.Info("Progress",
				"total", atomic.LoadUint64(&stats.TotalCalls),
				"recorded", atomic.LoadUint64(&stats.Recorded),
				"blocked", atomic.LoadUint64(&stats.Blocked),
				"errors", atomic.LoadUint64(&stats.Errors),
				"min_latency", minLatency,
				"max_latency", maxLatency)
		case <-ctx.Done():
			return
		}
	}
}

func percentOf(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func printResults(stats *LoadTestStats) {
	separator := "================================================================================"
	divider := "--------------------------------------------------------------------------------"

	fmt.Println("\n" + separator)
	fmt.Println("📊 LOAD TEST RESULTS")
	fmt.Println(separator)
	fmt.Printf("Total Calls:            %d\n", stats.TotalCalls)
	fmt.Printf("Recorded:               %d (%.2f%%)\n", stats.Recorded, percentOf(stats.Recorded, stats.TotalCalls))
	fmt.Printf("Blocked:                %d (%.2f%%)\n", stats.Blocked, percentOf(stats.Blocked, stats.TotalCalls))
	fmt.Printf("Drift Detected:         %d (%.2f%%)\n", stats.Drifted, percentOf(stats.Drifted, stats.TotalCalls))
	fmt.Printf("Errors:                 %d (%.2f%%)\n", stats.Errors, percentOf(stats.Errors, stats.TotalCalls))
	fmt.Println(divider)
	fmt.Printf("Total Duration:         %v\n", stats.TotalDuration)
	fmt.Printf("Throughput:             %.2f calls/sec\n", stats.ThroughputPerSecond)
	fmt.Println(divider)
	fmt.Printf("Latency (min):          %v\n", stats.MinLatency)
	fmt.Printf("Latency (avg):          %v\n", stats.AvgLatency)
	fmt.Printf("Latency (p95):          %v\n", stats.P95Latency)
	fmt.Printf("Latency (p99):          %v\n", stats.P99Latency)
	fmt.Printf("Latency (max):          %v\n", stats.MaxLatency)
	fmt.Println(separator)

	if stats.ThroughputPerSecond >= 100 {
		fmt.Println("✅ PASS: Throughput meets target (>100 calls/sec)")
	} else {
		fmt.Println("❌ FAIL: Throughput below target (<100 calls/sec)")
	}

	// Detection must stay under 50ms per action.
	if stats.P95Latency < 50*time.Millisecond {
		fmt.Println("✅ PASS: P95 latency meets target (<50ms)")
	} else {
		fmt.Println("⚠️  WARN: P95 latency above target (>50ms)")
	}

	if stats.Errors == 0 {
		fmt.Println("✅ PASS: No transport errors")
	} else {
		fmt.Println("❌ FAIL: Firewall returned errors")
	}
	fmt.Println(separator + "\n")
}

func calculateAverage(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}

	var total time.Duration
	for _, l := range latencies {
		total += l
	}

	return total / time.Duration(len(latencies))
}

func calculatePercentile(latencies []time.Duration, percentile int) time.Duration {
	if len(latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * float64(percentile) / 100.0)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}
