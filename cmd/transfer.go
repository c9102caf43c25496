package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/provenance/internal/domain"
)

var transferReq domain.TransferRequest

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Transfer a record you own to a new owner",
	Long: `Transfer ownership of a record from the active signer to --to.

The registry must be approved as operator of the signer's tokens. When it
is not, the approval is granted first, which is a separate transaction.

Example:
  provenance transfer --rfid 1a2b3c4d5e6f789 --to 0x3C44...93BC`,
	RunE: runTransfer,
}

func init() {
	rootCmd.AddCommand(transferCmd)

	transferCmd.Flags().StringVar(&transferReq.RFID, "rfid", "", "15-character hex RFID tag")
	transferCmd.Flags().StringVar(&transferReq.NewOwner, "to", "", "new owner address")
}

func runTransfer(cmd *cobra.Command, _ []string) error {
	ctx, cancel := operationContext(cmd.Context(), cfg.Ledger)
	defer cancel()

	rt, err := openRuntime(ctx, cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	res, err := rt.service.Transfer(ctx, transferReq)
	if err != nil {
		return err
	}
	return newFormatter(cmd).FormatTransfer(res)
}
