package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/provenance/internal/audit"
)

var (
	auditLimit  int
	auditOffset int
	auditAction string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit log sink",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored audit entries, newest first",
	Long: `List entries from the local sink store selected by server.store.

Examples:
  provenance audit list
  provenance audit list --action transfer --limit 10
  provenance audit list -o json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(cfg.Server)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		entries, err := store.List(cmd.Context(), audit.Query{
			Limit:  auditLimit,
			Offset: auditOffset,
			Action: auditAction,
		})
		if err != nil {
			return err
		}
		return newFormatter(cmd).FormatAuditEntries(entries)
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", audit.DefaultListLimit, "maximum entries to show")
	auditListCmd.Flags().IntVar(&auditOffset, "offset", 0, "entries to skip")
	auditListCmd.Flags().StringVar(&auditAction, "action", "", "only show entries with this action")
}
