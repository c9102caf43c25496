package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/provenance/internal/domain"
)

var listReq domain.ListingRequest

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List an NFT for sale on the marketplace",
	Long: `Offer a token on the marketplace at a price in the payment token
(6 decimals). The market is approved for the token first when needed.

Requires the "marketplace" feature flag:
  flags:
    marketplace: true

Example:
  provenance list --nft 0xe7f1...0512 --token-id 1 --price 250.75`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listReq.NFT, "nft", "", "NFT contract address")
	listCmd.Flags().StringVar(&listReq.TokenID, "token-id", "", "token id")
	listCmd.Flags().StringVar(&listReq.Price, "price", "", "price, e.g. 250.75")
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx, cancel := operationContext(cmd.Context(), cfg.Ledger)
	defer cancel()

	rt, err := openRuntime(ctx, cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	res, err := rt.service.List(ctx, listReq)
	if err != nil {
		return err
	}
	return newFormatter(cmd).FormatListing(res)
}
