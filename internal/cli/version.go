package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ocx/uaal/internal/policy"
)

// Version is set at build time with -ldflags "-X github.com/ocx/uaal/internal/cli.Version=...".
var Version = "1.2.0"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "uaal %s (default rule set %s)\n", Version, policy.DefaultRuleSetVersion)
		},
	}
}
