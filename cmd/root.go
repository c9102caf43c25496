package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/provenance/internal/config"
	"github.com/zjrosen/provenance/internal/log"
	"github.com/zjrosen/provenance/internal/paths"
	"github.com/zjrosen/provenance/internal/presentation"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config

	// configErr is set by initConfig, which cannot return errors to cobra.
	configErr error

	outputFlag string
	output     presentation.Format
	debugFlag  bool
	logFile    string
	logLevel   string
	noColor    bool

	closeLog = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "provenance",
	Short: "Provenance records for physical collectibles",
	Long: `Register, transfer and redeem provenance records for RFID-tagged
collectibles on a ledger, and run the audit log sink that records every
completed action.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .provenance/config.yaml, then ~/.config/provenance/config.yaml)")
	pf.StringVarP(&outputFlag, "output", "o", "text", "output format: text or json")
	pf.BoolVar(&debugFlag, "debug", false, "enable debug logging (also PROVENANCE_DEBUG=1)")
	pf.StringVar(&logFile, "log-file", "", "write the debug log to this file instead of stderr")
	pf.StringVar(&logLevel, "log-level", "debug", "minimum level logged with --debug: debug, info, warn or error")
	pf.BoolVar(&noColor, "no-color", false, "disable styled output")
}

func initConfig() {
	// A missing .env is the common case.
	_ = godotenv.Load()

	viper.Reset()
	setDefaults(config.Defaults())
	viper.SetEnvPrefix("PROVENANCE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	configErr = nil
	cfg = config.Config{}

	path := resolveConfigPath()
	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			// First run: write the commented template and read it back.
			if !errors.Is(err, fs.ErrNotExist) {
				configErr = fmt.Errorf("reading config %s: %w", path, err)
				return
			}
			if writeErr := config.WriteDefaultConfig(path); writeErr == nil {
				_ = viper.ReadInConfig()
			}
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		configErr = fmt.Errorf("decoding config: %w", err)
	}
}

// resolveConfigPath returns --config, else the project config when present,
// else the user config.
func resolveConfigPath() string {
	if cfgFile != "" {
		return paths.ExpandHome(cfgFile)
	}
	if project := paths.ProjectConfigPath(); fileExists(project) {
		return project
	}
	return paths.UserConfigPath()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// setDefaults registers every key so environment variables can override keys
// the config file does not mention.
func setDefaults(d config.Config) {
	viper.SetDefault("ledger.backend", d.Ledger.Backend)
	viper.SetDefault("ledger.rpc_url", d.Ledger.RPCURL)
	viper.SetDefault("ledger.chain_id", d.Ledger.ChainID)
	viper.SetDefault("ledger.registry_address", d.Ledger.RegistryAddress)
	viper.SetDefault("ledger.token_address", d.Ledger.TokenAddress)
	viper.SetDefault("ledger.market_address", d.Ledger.MarketAddress)
	viper.SetDefault("ledger.admin_address", d.Ledger.AdminAddress)
	viper.SetDefault("ledger.dev_db_path", d.Ledger.DevDBPath)
	viper.SetDefault("ledger.confirm_timeout", d.Ledger.ConfirmTimeout)

	viper.SetDefault("wallet.private_keys", d.Wallet.PrivateKeys)
	viper.SetDefault("wallet.keystore_dir", d.Wallet.KeystoreDir)
	viper.SetDefault("wallet.password_env", d.Wallet.PasswordEnv)
	viper.SetDefault("wallet.active_account", d.Wallet.ActiveAccount)
	viper.SetDefault("wallet.session_file", d.Wallet.SessionFile)
	viper.SetDefault("wallet.watch_debounce", d.Wallet.WatchDebounce)

	viper.SetDefault("audit.base_url", d.Audit.BaseURL)
	viper.SetDefault("audit.timeout", d.Audit.Timeout)
	viper.SetDefault("audit.amqp.url", d.Audit.AMQP.URL)
	viper.SetDefault("audit.amqp.exchange", d.Audit.AMQP.Exchange)
	viper.SetDefault("audit.amqp.routing_key", d.Audit.AMQP.RoutingKey)
	viper.SetDefault("audit.amqp.queue", d.Audit.AMQP.Queue)

	viper.SetDefault("server.addr", d.Server.Addr)
	viper.SetDefault("server.store", d.Server.Store)
	viper.SetDefault("server.store_path", d.Server.StorePath)
	viper.SetDefault("server.relay_enabled", d.Server.RelayEnabled)
	viper.SetDefault("server.allow_origin", d.Server.AllowOrigin)

	viper.SetDefault("cache.record_ttl", d.Cache.RecordTTL)

	viper.SetDefault("tracing.enabled", d.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", d.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", d.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

func setup(cmd *cobra.Command, _ []string) error {
	if configErr != nil {
		return configErr
	}

	presentation.SetColorEnabled(!noColor)

	format, err := presentation.ParseFormat(outputFlag)
	if err != nil {
		return err
	}
	output = format

	if err := initLogging(cmd); err != nil {
		return err
	}
	log.Debug(log.CatConfig, "config loaded", "path", viper.ConfigFileUsed(), "backend", cfg.Ledger.Backend)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func initLogging(cmd *cobra.Command) error {
	debug := debugFlag || os.Getenv("PROVENANCE_DEBUG") != ""
	if !debug {
		log.SetEnabled(false)
		return nil
	}
	if logFile != "" {
		cleanup, err := log.Init(paths.ExpandHome(logFile))
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		closeLog = cleanup
		log.SetEnabled(true)
		log.SetMinLevel(log.ParseLevel(logLevel))
	} else {
		log.InitWriter(cmd.ErrOrStderr(), log.ParseLevel(logLevel))
	}
	log.Info(log.CatConfig, "provenance starting", "version", version, "command", cmd.CommandPath())
	return nil
}

// newFormatter writes to the command's stdout in the selected format.
// COLUMNS, when set, bounds the width of text output.
func newFormatter(cmd *cobra.Command) *presentation.Formatter {
	var opts []presentation.Option
	if cols, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && cols > 0 {
		opts = append(opts, presentation.WithWidth(cols))
	}
	return presentation.NewFormatter(cmd.OutOrStdout(), output, opts...)
}

// rootCause unwraps err to the innermost error.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// Execute runs the root command and reports a failure as "❌ <message>".
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		presentation.Error(rootCmd.ErrOrStderr(), err)
		log.ErrorErr(log.CatCommands, "command failed", rootCause(err))
	}
	closeLog()
	return err
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
