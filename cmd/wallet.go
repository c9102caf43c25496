package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/provenance/internal/config"
	"github.com/zjrosen/provenance/internal/paths"
	"github.com/zjrosen/provenance/internal/presentation"
	"github.com/zjrosen/provenance/internal/pubsub"
	"github.com/zjrosen/provenance/internal/validate"
	"github.com/zjrosen/provenance/internal/wallet"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage signing accounts",
}

var walletAccountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List the accounts the wallet holds keys for",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ring, err := openWallet(cfg.Wallet, cfg.Ledger)
		if err != nil {
			return err
		}
		defer ring.Close()

		active, _ := ring.Address(cmd.Context())
		return newFormatter(cmd).FormatAccounts(presentation.AccountsFrom(ring.Accounts(), active))
	},
}

var walletUseCmd = &cobra.Command{
	Use:   "use <address>",
	Short: "Switch the active signing account",
	Long: `Switch the active account. The choice is saved as wallet.active_account
in the config file and written to the session file, so a running
"provenance serve" follows it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !validate.IsValidAddress(args[0]) {
			return fmt.Errorf("invalid address %q", args[0])
		}
		addr := common.HexToAddress(args[0])

		ring, err := openWallet(cfg.Wallet, cfg.Ledger)
		if err != nil {
			return err
		}
		defer ring.Close()
		if err := ring.Use(addr); err != nil {
			return err
		}

		if cfg.Wallet.SessionFile != "" {
			if err := wallet.WriteSessionFile(paths.ExpandHome(cfg.Wallet.SessionFile), addr); err != nil {
				return err
			}
		}
		path := viper.ConfigFileUsed()
		if path == "" {
			path = resolveConfigPath()
		}
		if err := config.SaveActiveAccount(path, addr); err != nil {
			return fmt.Errorf("saving active account: %w", err)
		}
		return newFormatter(cmd).FormatActiveAccount(addr)
	},
}

var walletWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow active account switches until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Wallet.SessionFile == "" {
			return fmt.Errorf("wallet.session_file is not set")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ring, err := openWallet(cfg.Wallet, cfg.Ledger)
		if err != nil {
			return err
		}
		defer ring.Close()

		f := newFormatter(cmd)
		switches := ring.Subscribe(ctx)
		go func() {
			_ = wallet.WatchSessionFile(ctx, ring, paths.ExpandHome(cfg.Wallet.SessionFile), cfg.Wallet.WatchDebounce)
		}()
		for {
			ev, ok := pubsub.Next(ctx, switches)
			if !ok {
				return nil
			}
			if err := f.FormatActiveAccount(ev.Payload); err != nil {
				return err
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletAccountsCmd, walletUseCmd, walletWatchCmd)
}
