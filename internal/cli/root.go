// Package cli implements the uaal command line.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ocx/uaal/internal/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	mode       string
	verbose    bool
}

// NewRootCommand builds the uaal command tree.
func NewRootCommand() *cobra.Command {
	gf := &globalFlags{}

	root := &cobra.Command{
		Use:   "uaal",
		Short: "UAAL - LLM intent firewall",
		Long: `UAAL compares what an AI agent said it would do with the action it
actually submitted, scores the drift, evaluates policy and records every
decision. Shadow mode only observes; enforce mode blocks denied actions.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(gf.verbose)
		},
	}

	root.PersistentFlags().StringVar(&gf.configPath, "config", os.Getenv("UAAL_CONFIG"), "Path to config YAML file")
	root.PersistentFlags().StringVar(&gf.mode, "mode", "", "Override firewall mode: shadow or enforce")
	root.PersistentFlags().BoolVarP(&gf.verbose, "verbose", "v", false, "Verbose output")

	root.AddCommand(
		newAnalyzeCommand(gf),
		newEnforceCommand(gf),
		newServeCommand(gf),
		newSimulateCommand(gf),
		newVerifyCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig reads the config file and applies the --mode override.
func (gf *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(gf.configPath)
	if err != nil {
		return nil, err
	}
	gf.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (gf *globalFlags) applyOverrides(cfg *config.Config) {
	if gf.mode != "" {
		cfg.Firewall.Mode = gf.mode
	}
}
