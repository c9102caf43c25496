package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zjrosen/provenance/internal/audit"
	"github.com/zjrosen/provenance/internal/config"
	"github.com/zjrosen/provenance/internal/flags"
	"github.com/zjrosen/provenance/internal/infrastructure/sqlite"
	"github.com/zjrosen/provenance/internal/ledger"
	"github.com/zjrosen/provenance/internal/ledger/devchain"
	"github.com/zjrosen/provenance/internal/ledger/evm"
	"github.com/zjrosen/provenance/internal/log"
	"github.com/zjrosen/provenance/internal/orchestration"
	"github.com/zjrosen/provenance/internal/orchestration/command"
	"github.com/zjrosen/provenance/internal/orchestration/processor"
	"github.com/zjrosen/provenance/internal/orchestration/tracing"
	"github.com/zjrosen/provenance/internal/paths"
	"github.com/zjrosen/provenance/internal/pubsub"
	"github.com/zjrosen/provenance/internal/wallet"
)

// appRuntime holds the collaborators built from the configuration for one
// command invocation.
type appRuntime struct {
	cfg       config.Config
	ring      *wallet.KeyRing
	ledger    *ledger.Ledger
	flags     *flags.Registry
	service   *orchestration.Service
	snapshots *ledger.SnapshotCache

	closers []func() error
}

type runtimeOptions struct {
	source     command.CommandSource
	commandLog pubsub.Publisher[processor.CommandLogEvent]
	// audit replaces the configured audit transports when set.
	audit audit.Logger
}

func openRuntime(ctx context.Context, c config.Config, opts runtimeOptions) (*appRuntime, error) {
	rt := &appRuntime{cfg: c, flags: flags.New(c.Flags)}

	ring, err := openWallet(c.Wallet, c.Ledger)
	if err != nil {
		return nil, err
	}
	rt.ring = ring
	rt.closers = append(rt.closers, func() error { ring.Close(); return nil })

	l, err := openLedger(ctx, c.Ledger, ring)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.ledger = l
	if l.Close != nil {
		rt.closers = append(rt.closers, l.Close)
	}

	auditLogger := opts.audit
	if auditLogger == nil {
		logger, closeAudit, err := openAudit(c.Audit)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		auditLogger = logger
		if closeAudit != nil {
			rt.closers = append(rt.closers, closeAudit)
		}
	}

	provider, err := tracing.NewProvider(c.Tracing)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	rt.closers = append(rt.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return provider.Shutdown(shutdownCtx)
	})

	rt.snapshots = ledger.NewSnapshotCache(l.Registry, c.Cache.RecordTTL)
	svc, err := orchestration.New(orchestration.Config{
		Ledger:     l,
		Identity:   ring,
		Audit:      auditLogger,
		Snapshots:  rt.snapshots,
		Flags:      rt.flags,
		Tracer:     provider.Tracer(),
		CommandLog: opts.commandLog,
		Source:     opts.source,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.service = svc
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *appRuntime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// openWallet loads the configured keys. The dev backend falls back to the
// well-known development accounts when none are configured.
func openWallet(w config.WalletConfig, l config.LedgerConfig) (*wallet.KeyRing, error) {
	ring := wallet.NewKeyRing(big.NewInt(l.ChainID))
	for i, key := range w.PrivateKeys {
		if _, err := ring.AddHexKey(key); err != nil {
			return nil, fmt.Errorf("wallet.private_keys[%d]: %w", i, err)
		}
	}
	if w.KeystoreDir != "" {
		password := ""
		if w.PasswordEnv != "" {
			password = os.Getenv(w.PasswordEnv)
		}
		if _, err := ring.LoadKeystoreDir(paths.ExpandHome(w.KeystoreDir), password); err != nil {
			return nil, fmt.Errorf("wallet.keystore_dir: %w", err)
		}
	}
	if len(ring.Accounts()) == 0 && l.Backend != config.BackendEVM {
		if err := ring.AddDevKeys(); err != nil {
			return nil, err
		}
		log.Info(log.CatWallet, "using development accounts", "count", len(wallet.DevKeys))
	}

	if w.ActiveAccount != "" {
		if err := ring.Use(common.HexToAddress(w.ActiveAccount)); err != nil {
			return nil, fmt.Errorf("wallet.active_account: %w", err)
		}
	}
	// The session file is what `wallet use` and other processes switch.
	if w.SessionFile != "" {
		addr, err := wallet.ReadSessionFile(paths.ExpandHome(w.SessionFile))
		switch {
		case err == nil:
			if err := ring.Use(addr); err != nil {
				log.Warn(log.CatWallet, "session file names unknown account", "address", addr.Hex())
			}
		case !errors.Is(err, os.ErrNotExist):
			log.Warn(log.CatWallet, "session file unreadable", "path", w.SessionFile, "error", err)
		}
	}
	return ring, nil
}

func openLedger(ctx context.Context, c config.LedgerConfig, ring *wallet.KeyRing) (*ledger.Ledger, error) {
	if c.Backend == config.BackendEVM {
		return evm.Open(ctx, evm.Config{
			RPCURL:   c.RPCURL,
			Registry: common.HexToAddress(c.RegistryAddress),
			Token:    common.HexToAddress(c.TokenAddress),
			Market:   optionalAddress(c.MarketAddress),
		}, ring)
	}
	return devchain.Open(ctx, paths.ExpandHome(c.DevDBPath), ring, devchain.Config{
		Registry: optionalAddress(c.RegistryAddress),
		Token:    optionalAddress(c.TokenAddress),
		Market:   optionalAddress(c.MarketAddress),
		Admin:    optionalAddress(c.AdminAddress),
	})
}

func optionalAddress(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}

// openAudit builds the HTTP transport and, when configured, the AMQP one.
func openAudit(c config.AuditConfig) (audit.Logger, func() error, error) {
	var loggers audit.Multi
	if c.BaseURL != "" {
		loggers = append(loggers, audit.NewHTTPLogger(c.BaseURL, c.Timeout))
	}
	var closer func() error
	if c.AMQP.Enabled() {
		pub, err := audit.DialAMQP(amqpConfig(c.AMQP))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting audit broker: %w", err)
		}
		loggers = append(loggers, pub)
		closer = pub.Close
	}
	switch len(loggers) {
	case 0:
		return audit.Noop{}, closer, nil
	case 1:
		return loggers[0], closer, nil
	default:
		return loggers, closer, nil
	}
}

func amqpConfig(c config.AMQPConfig) audit.AMQPConfig {
	return audit.AMQPConfig{
		URL:        c.URL,
		Exchange:   c.Exchange,
		RoutingKey: c.RoutingKey,
		Queue:      c.Queue,
	}
}

// openStore opens the audit sink store selected by server.store.
func openStore(c config.ServerConfig) (audit.Store, error) {
	path := c.StoreFile()
	if c.Store == config.StoreJSONL {
		return audit.NewJSONLStore(path)
	}
	db, err := sqlite.NewDB(path)
	if err != nil {
		return nil, err
	}
	return &closingStore{Store: db.AuditStore(), close: db.Close}, nil
}

// closingStore closes the database that owns the store.
type closingStore struct {
	audit.Store
	close func() error
}

func (s *closingStore) Close() error {
	return errors.Join(s.Store.Close(), s.close())
}

// operationContext bounds a write by ledger.confirm_timeout.
func operationContext(ctx context.Context, c config.LedgerConfig) (context.Context, context.CancelFunc) {
	if c.ConfirmTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.ConfirmTimeout)
}
