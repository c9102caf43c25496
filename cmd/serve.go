package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/provenance/internal/audit"
	"github.com/zjrosen/provenance/internal/config"
	"github.com/zjrosen/provenance/internal/flags"
	"github.com/zjrosen/provenance/internal/log"
	"github.com/zjrosen/provenance/internal/orchestration/command"
	"github.com/zjrosen/provenance/internal/orchestration/processor"
	"github.com/zjrosen/provenance/internal/paths"
	"github.com/zjrosen/provenance/internal/presentation"
	"github.com/zjrosen/provenance/internal/pubsub"
	"github.com/zjrosen/provenance/internal/server"
	"github.com/zjrosen/provenance/internal/wallet"
)

var (
	serveAddr  string
	serveRelay bool
	serveStore string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the audit log sink and registration relay",
	Long: `Run the HTTP audit log sink.

Endpoints:
  POST /log                    store an audit entry
  GET  /log                    list entries (?limit=&offset=&action=)
  POST /register-collectible   register with the server's admin key (relay only)
  GET  /records/:rfid          record lookup
  GET  /health                 liveness, orchestration and cache counters
  GET  /debug/logs             debug log as server-sent events (--debug only)

When audit.amqp.url and audit.amqp.queue are set, entries published to the
broker are stored as well.

Examples:
  provenance serve
  provenance serve --addr :8080 --store jsonl
  provenance serve --relay`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveRelay, "relay", false, "enable POST /register-collectible (overrides server.relay_enabled)")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "sink store: sqlite or jsonl (overrides server.store)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	c := cfg
	if serveAddr != "" {
		c.Server.Addr = serveAddr
	}
	if cmd.Flags().Changed("relay") {
		c.Server.RelayEnabled = serveRelay
	}
	if serveStore != "" {
		c.Server.Store = serveStore
		if err := config.ValidateServer(c.Server); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := newServeStack(ctx, c)
	if err != nil {
		return err
	}
	defer func() { _ = stack.Close() }()

	if err := newFormatter(cmd).FormatServe(presentation.ServeDTO{
		Addr:  fmt.Sprintf(":%d", stack.server.Port()),
		Store: c.Server.Store,
		Relay: stack.relay,
		AMQP:  stack.consumeAMQP,
	}); err != nil {
		return err
	}
	return stack.Run(ctx)
}

// serveStack is the sink server with the runtime behind its relay and
// record endpoints.
type serveStack struct {
	cfg         config.Config
	server      *server.Server
	rt          *appRuntime
	store       audit.Store
	commands    *pubsub.Broker[processor.CommandLogEvent]
	relay       bool
	consumeAMQP bool
}

func newServeStack(ctx context.Context, c config.Config) (*serveStack, error) {
	store, err := openStore(c.Server)
	if err != nil {
		return nil, fmt.Errorf("opening audit store: %w", err)
	}

	// Relayed actions are written straight to the store rather than posted
	// back to this server.
	sink := audit.LoggerFunc(func(ctx context.Context, entry audit.Entry) error {
		_, err := store.Append(ctx, entry.Map())
		return err
	})
	commands := pubsub.NewBroker[processor.CommandLogEvent]()

	rt, err := openRuntime(ctx, c, runtimeOptions{
		source:     command.SourceRelay,
		commandLog: commands,
		audit:      sink,
	})
	if err != nil {
		commands.Close()
		_ = store.Close()
		return nil, err
	}

	s := &serveStack{
		cfg:         c,
		rt:          rt,
		store:       store,
		commands:    commands,
		relay:       c.Server.RelayEnabled || rt.flags.Enabled(flags.FlagRelay),
		consumeAMQP: c.Audit.AMQP.Enabled() && c.Audit.AMQP.Queue != "",
	}

	hc := server.HandlerConfig{
		Store:       store,
		StoreKind:   c.Server.Store,
		Records:     rt.service,
		Metrics:     rt.service.Metrics,
		CacheStats:  rt.snapshots.Stats,
		LogStream:   log.Subscribe,
		AllowOrigin: c.Server.AllowOrigin,
	}
	if s.relay {
		hc.Registrar = rt.service
	}
	srv, err := server.NewServer(server.ServerConfig{
		Addr:          c.Server.Addr,
		WriteTimeout:  c.Ledger.ConfirmTimeout + 10*time.Second,
		HandlerConfig: hc,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.server = srv
	return s, nil
}

// Run serves until ctx ends. Account switching, command logging and the
// AMQP sink worker run alongside the server and stop with it.
func (s *serveStack) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	goFn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	signer := s.rt.ring.Subscribe(ctx)
	goFn(func() {
		for {
			ev, ok := pubsub.Next(ctx, signer)
			if !ok {
				return
			}
			s.rt.service.SignerChanged(ctx, ev.Payload)
		}
	})

	commands := s.commands.Subscribe(ctx)
	goFn(func() {
		for {
			ev, ok := pubsub.Next(ctx, commands)
			if !ok {
				return
			}
			e := ev.Payload
			log.Info(log.CatCommands, "relay command finished",
				"id", e.CommandID, "type", string(e.CommandType), "success", e.Success,
				"class", string(e.Class), "trace", e.TraceID)
		}
	})

	if path := s.cfg.Wallet.SessionFile; path != "" {
		goFn(func() {
			err := wallet.WatchSessionFile(ctx, s.rt.ring, paths.ExpandHome(path), s.cfg.Wallet.WatchDebounce)
			if err != nil && ctx.Err() == nil {
				log.ErrorErr(log.CatWallet, "session file watch stopped", err)
			}
		})
	}

	if s.consumeAMQP {
		goFn(func() {
			err := audit.NewSinkWorker(s.store).Consume(ctx, amqpConfig(s.cfg.Audit.AMQP))
			if err != nil && ctx.Err() == nil {
				log.ErrorErr(log.CatAudit, "sink worker stopped", err)
			}
		})
	}

	err := s.server.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

func (s *serveStack) Close() error {
	s.commands.Close()
	return errors.Join(s.rt.Close(), s.store.Close())
}
