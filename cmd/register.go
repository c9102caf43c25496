package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/provenance/internal/domain"
	"github.com/zjrosen/provenance/internal/flags"
	"github.com/zjrosen/provenance/internal/orchestration/command"
	"github.com/zjrosen/provenance/internal/presentation"
	"github.com/zjrosen/provenance/internal/validate"
)

var registerReq domain.RegistrationRequest
var registerInspect bool

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a collectible record (admin only)",
	Long: `Register a new record binding an RFID tag to an authenticity hash,
an owner and a content URI. Only the registry admin may register; the
command refuses before submitting when the active signer is not the admin.

Examples:
  provenance register --rfid 1a2b3c4d5e6f789 --hash 3f78...001b \
    --owner 0x7099...79C8 --uri ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG

  # Decode the CID inside the URI first (printed to stderr)
  provenance register --inspect ...`,
	RunE: runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)

	registerCmd.Flags().StringVar(&registerReq.RFID, "rfid", "", "15-character hex RFID tag")
	registerCmd.Flags().StringVar(&registerReq.AuthenticityHash, "hash", "", "authenticity hash")
	registerCmd.Flags().StringVar(&registerReq.Owner, "owner", "", "owner address")
	registerCmd.Flags().StringVar(&registerReq.TokenURI, "uri", "", "ipfs:// content URI")
	registerCmd.Flags().BoolVar(&registerInspect, "inspect", false, "decode and print the CID of the token URI")
}

func runRegister(cmd *cobra.Command, _ []string) error {
	// Malformed input is rejected before the ledger is opened.
	if err := command.NewRegisterCommand(command.SourceCLI, registerReq).Validate(); err != nil {
		return err
	}

	ctx, cancel := operationContext(cmd.Context(), cfg.Ledger)
	defer cancel()

	rt, err := openRuntime(ctx, cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if registerInspect || rt.flags.Enabled(flags.FlagCIDInspect) {
		info, err := validate.DescribeCID(registerReq.TokenURI)
		switch {
		case err == nil:
			if err := presentation.NewFormatter(cmd.ErrOrStderr(), output).FormatCID(info); err != nil {
				return err
			}
		case registerInspect:
			return fmt.Errorf("inspect token URI: %w", err)
		}
	}

	if err := rt.service.RequireAdmin(ctx); err != nil {
		return err
	}
	res, err := rt.service.Register(ctx, registerReq)
	if err != nil {
		return err
	}
	return newFormatter(cmd).FormatRegister(res)
}
