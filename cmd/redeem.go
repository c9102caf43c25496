package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/provenance/internal/domain"
)

var redeemReq domain.RedemptionRequest

var redeemCmd = &cobra.Command{
	Use:   "redeem",
	Short: "Permanently retire a record",
	Long: `Redeem a record. Redemption is final: the record stops resolving and
its rfid can never be registered again.

Example:
  provenance redeem --rfid 1a2b3c4d5e6f789`,
	RunE: runRedeem,
}

func init() {
	rootCmd.AddCommand(redeemCmd)

	redeemCmd.Flags().StringVar(&redeemReq.RFID, "rfid", "", "15-character hex RFID tag")
}

func runRedeem(cmd *cobra.Command, _ []string) error {
	ctx, cancel := operationContext(cmd.Context(), cfg.Ledger)
	defer cancel()

	rt, err := openRuntime(ctx, cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	res, err := rt.service.Redeem(ctx, redeemReq)
	if err != nil {
		return err
	}
	return newFormatter(cmd).FormatRedeem(res)
}
