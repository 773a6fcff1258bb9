package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ocx/uaal/internal/config"
)

func newEnforceCommand(gf *globalFlags) *cobra.Command {
	af := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "enforce",
		Short: "Run UAAL in real-time enforcement mode",
		Long: `Without --input, describes what enforce mode does with the current
configuration. With --input, analyzes the logs in enforce mode: denied
actions are blocked and counted, and processing continues.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gf.loadConfig()
			if err != nil {
				return err
			}
			cfg.Firewall.Mode = config.ModeEnforce

			out := cmd.OutOrStdout()
			printEnforceBanner(out, cfg)
			if af.input == "" {
				return nil
			}
			return runAnalyze(cmd.Context(), out, cfg, af, gf.verbose)
		},
	}
	af.register(cmd)
	return cmd
}

func printEnforceBanner(out io.Writer, cfg *config.Config) {
	fmt.Fprintln(out, "🚨 UAAL running in ENFORCE mode")
	fmt.Fprintln(out, "• Policy violations will be BLOCKED")

	if cfg.Rollout.Enabled {
		fmt.Fprintf(out, "• Gradual rollout: %.0f%% of denied actions blocked", cfg.Rollout.CurrentPercentage)
		if len(cfg.Rollout.Exceptions) > 0 {
			fmt.Fprintf(out, " (exempt: %s)", strings.Join(cfg.Rollout.Exceptions, ", "))
		}
		fmt.Fprintln(out)
	}

	sinks := configuredSinks(cfg)
	if len(sinks) == 0 {
		fmt.Fprintln(out, "• No decision sinks configured")
		return
	}
	fmt.Fprintf(out, "• Decisions will emit to %s\n", strings.Join(sinks, ", "))
}

func configuredSinks(cfg *config.Config) []string {
	var sinks []string
	if cfg.Sinks.Webhook.URL != "" {
		sinks = append(sinks, "webhook "+cfg.Sinks.Webhook.URL)
	}
	if cfg.Sinks.CloudTasks.ProjectID != "" {
		sinks = append(sinks, "cloud tasks queue "+cfg.Sinks.CloudTasks.QueueID)
	}
	if cfg.Sinks.PubSub.ProjectID != "" {
		sinks = append(sinks, "pub/sub topic "+cfg.Sinks.PubSub.TopicID)
	}
	if cfg.Sinks.Redis.Addr != "" && cfg.Sinks.Redis.Channel != "" {
		sinks = append(sinks, "redis channel "+cfg.Sinks.Redis.Channel)
	}
	return sinks
}
