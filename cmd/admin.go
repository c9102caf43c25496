package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/provenance/internal/presentation"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Show the registry admin and whether the active signer is it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		rt, err := openRuntime(ctx, cfg, runtimeOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		admin, err := rt.service.Admin(ctx)
		if err != nil {
			return err
		}
		dto := presentation.AdminDTO{Admin: admin.Hex()}
		if signer, err := rt.ring.Address(ctx); err == nil {
			dto.Signer = signer.Hex()
			dto.IsAdmin = signer == admin
		}
		return newFormatter(cmd).FormatAdmin(dto)
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
}
