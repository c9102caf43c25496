package cmd

import (
	"github.com/spf13/cobra"
)

var checkRFID string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Show the record for an rfid",
	Long: `Look up a record and show its hash and owner, noting when the active
signer owns it.

Example:
  provenance check --rfid 1a2b3c4d5e6f789
  provenance check --rfid 1a2b3c4d5e6f789 -o json | jq .owner`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openRuntime(cmd.Context(), cfg, runtimeOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		view, err := rt.service.Check(cmd.Context(), checkRFID)
		if err != nil {
			return err
		}
		return newFormatter(cmd).FormatRecord(view)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkRFID, "rfid", "", "15-character hex RFID tag")
}
