package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ocx/uaal/internal/config"
	"github.com/ocx/uaal/internal/enforce"
	"github.com/ocx/uaal/internal/firewall"
	"github.com/ocx/uaal/internal/intent"
)

const drainTimeout = 10 * time.Second

type analyzeFlags struct {
	input   string
	output  string
	summary bool
	format  string
}

func (af *analyzeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&af.input, "input", "i", "", "Input JSON logs file")
	cmd.Flags().StringVarP(&af.output, "output", "o", "proof.json", "Output file")
	cmd.Flags().BoolVar(&af.summary, "summary", false, "Show executive risk summary")
	cmd.Flags().StringVar(&af.format, "format", "json", "Output format: json or csv")
}

func newAnalyzeCommand(gf *globalFlags) *cobra.Command {
	af := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze historical LLM execution logs (shadow or enforce)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gf.loadConfig()
			if err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), cfg, af, gf.verbose)
		},
	}
	af.register(cmd)
	cmd.MarkFlagRequired("input")
	return cmd
}

func runAnalyze(ctx context.Context, out io.Writer, cfg *config.Config, af *analyzeFlags, verbose bool) error {
	if af.format != "json" && af.format != "csv" {
		return fmt.Errorf("--format must be json or csv, got %q", af.format)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logs, err := readLogs(af.input)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(ctx, cfg, buildOptions{})
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		rt.close(drainCtx)
	}()

	blocked, err := processLogs(ctx, out, rt.fw, logs, verbose)
	if err != nil {
		return err
	}

	if af.summary {
		sum, err := rt.fw.Summary(ctx, 0)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "\n📊 RISK SUMMARY")
		if err := writeIndented(out, sum); err != nil {
			return err
		}
	}

	written, err := writeOutput(ctx, rt.fw, af)
	if err != nil {
		return err
	}

	if rt.fw.Enforcer().Mode() == enforce.ModeEnforce {
		fmt.Fprintf(out, "\n🚫 %d action(s) blocked in enforce mode\n", blocked)
	}
	fmt.Fprintf(out, "\n✅ Shadow analysis complete → %s\n", written)
	return nil
}

func readLogs(path string) ([]intent.ExecutionLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder, err := intent.NewDecoder()
	if err != nil {
		return nil, err
	}
	return decoder.DecodeLogs(f)
}

// processLogs runs every log and keeps going after a block.
func processLogs(ctx context.Context, out io.Writer, fw *firewall.Firewall, logs []intent.ExecutionLog, verbose bool) (int, error) {
	blocked := 0
	for _, log := range logs {
		rec, err := fw.Process(ctx, log)

		var se *firewall.StageError
		pb, isBlock := enforce.IsPolicyBlocked(err)
		switch {
		case err == nil:
		case isBlock && !errors.As(err, &se):
			blocked++
			if verbose {
				fmt.Fprintf(out, "🚫 BLOCKED %s: %v\n", pb.Action, err)
			}
		default:
			return blocked, err
		}

		if verbose {
			fmt.Fprintf(out, "📊 %s\n", log.ToolCall)
			fmt.Fprintf(out, "   Drift: %t\n", rec.HasDrift)
			fmt.Fprintf(out, "   Risk: %s\n", rec.RiskLevel)
			fmt.Fprintf(out, "   Firewall: %s\n\n", rec.PolicyDecision)
		}
	}
	return blocked, nil
}

func writeOutput(ctx context.Context, fw *firewall.Firewall, af *analyzeFlags) (string, error) {
	path := af.output
	if af.format == "csv" {
		path = strings.Replace(path, ".json", ".csv", 1)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if af.format == "csv" {
		if err := fw.ExportCSV(ctx, f); err != nil {
			return "", err
		}
	} else {
		rep, err := fw.Report(ctx)
		if err != nil {
			return "", err
		}
		if err := writeIndented(f, rep); err != nil {
			return "", err
		}
	}
	return path, f.Close()
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
