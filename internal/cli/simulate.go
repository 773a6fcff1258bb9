package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ocx/uaal/internal/api"
	"github.com/ocx/uaal/internal/config"
)

func newSimulateCommand(gf *globalFlags) *cobra.Command {
	var (
		input     string
		name      string
		action    string
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Test a candidate amount threshold against historical logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gf.loadConfig()
			if err != nil {
				return err
			}
			// A what-if run never blocks, emits or persists.
			cfg.Firewall.Mode = config.ModeShadow
			cfg.Firewall.Store = config.StoreConfig{Kind: "memory"}
			cfg.Sinks = config.SinksConfig{}
			cfg.Rollout.Enabled = false

			logs, err := readLogs(input)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, cfg, buildOptions{})
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			if _, err := rt.fw.ProcessBatch(ctx, logs); err != nil {
				return err
			}
			res, err := rt.fw.Simulate(ctx, action, name, threshold)
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Input JSON logs file")
	cmd.Flags().StringVar(&name, "policy", "candidate", "Name reported for the candidate policy")
	cmd.Flags().StringVar(&action, "action", api.DefaultSimulationAction, "Action the threshold applies to")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Amount above which the candidate policy blocks")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("threshold")
	return cmd
}
