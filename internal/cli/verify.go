package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ocx/uaal/internal/ledger"
	"github.com/ocx/uaal/internal/report"
)

var errIntegrityMismatch = errors.New("integrity root mismatch")

func newVerifyCommand() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a proof file against its integrity root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(input)
			if err != nil {
				return err
			}

			var proof struct {
				Analyses  []json.RawMessage `json:"analyses"`
				Integrity *report.Integrity `json:"integrity"`
			}
			if err := json.Unmarshal(raw, &proof); err != nil {
				return fmt.Errorf("decode %s: %w", input, err)
			}
			if proof.Integrity == nil {
				return fmt.Errorf("%s has no integrity section", input)
			}

			l, err := ledger.Build(proof.Analyses)
			if err != nil {
				return err
			}
			if l.Len() != proof.Integrity.Leaves || l.Root() != proof.Integrity.Root {
				return fmt.Errorf("%w: recorded %s over %d analyses, computed %s over %d",
					errIntegrityMismatch, proof.Integrity.Root, proof.Integrity.Leaves, l.Root(), l.Len())
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s verified: %d analyses, root %s\n", input, l.Len(), l.Root())
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "proof.json", "Proof file written by analyze")
	return cmd
}
