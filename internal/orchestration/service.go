// Package orchestration wires the record sagas behind a synchronous command
// dispatcher and exposes them as typed operations for the CLI and the relay.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/provenance/internal/audit"
	"github.com/zjrosen/provenance/internal/domain"
	"github.com/zjrosen/provenance/internal/flags"
	"github.com/zjrosen/provenance/internal/ledger"
	"github.com/zjrosen/provenance/internal/log"
	"github.com/zjrosen/provenance/internal/orchestration/command"
	"github.com/zjrosen/provenance/internal/orchestration/handler"
	"github.com/zjrosen/provenance/internal/orchestration/metrics"
	"github.com/zjrosen/provenance/internal/orchestration/processor"
	"github.com/zjrosen/provenance/internal/orchestration/tracing"
	"github.com/zjrosen/provenance/internal/orchestration/types"
	"github.com/zjrosen/provenance/internal/pubsub"
	"github.com/zjrosen/provenance/internal/validate"
)

// ===========================================================================
// Configuration
// ===========================================================================

// Config holds the collaborators of a Service.
type Config struct {
	// Ledger provides the registry, token and (optionally) market clients.
	Ledger *ledger.Ledger
	// Identity resolves the signer on every operation.
	Identity ledger.Identity
	// Audit receives completed actions. Nil discards them.
	Audit audit.Logger
	// Snapshots is cleared after writes and serves Check. Optional.
	Snapshots *ledger.SnapshotCache
	// Flags gates optional operations such as listing.
	Flags *flags.Registry
	// Tracer creates command and saga spans. Nil disables tracing.
	Tracer trace.Tracer
	// CommandLog receives one event per dispatched command. Optional.
	CommandLog pubsub.Publisher[processor.CommandLogEvent]
	// SlowThreshold is when a command is logged as slow. Zero uses the default.
	SlowThreshold time.Duration
	// Source tags every command this service builds. Defaults to command.SourceCLI.
	Source command.CommandSource
}

// Validate checks that all required configuration is provided.
func (c *Config) Validate() error {
	if c.Ledger == nil || c.Ledger.Registry == nil {
		return fmt.Errorf("ledger registry is required")
	}
	if c.Ledger.Token == nil {
		return fmt.Errorf("ledger token is required")
	}
	if c.Identity == nil {
		return fmt.Errorf("identity is required")
	}
	return nil
}

// ===========================================================================
// Service
// ===========================================================================

// Service runs record operations through the dispatcher. Each operation kind
// runs at most once at a time; a second call of the same kind while one is in
// flight fails with types.ErrOperationInFlight.
type Service struct {
	dispatcher *processor.Dispatcher
	guard      *processor.InFlightGuard
	metrics    *metrics.Collector

	ledger    *ledger.Ledger
	identity  ledger.Identity
	snapshots *ledger.SnapshotCache
	flags     *flags.Registry
	source    command.CommandSource
}

// New builds a Service and registers the four record handlers.
//
// Middleware order, outermost first: logging, metrics, command log,
// tracing, in-flight guard, slow-command warning.
func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestration config: %w", err)
	}
	if cfg.Source == "" {
		cfg.Source = command.SourceCLI
	}

	guard := processor.NewInFlightGuard()
	collector := metrics.NewCollector()

	dispatcher := processor.NewDispatcher(processor.WithMiddleware(
		processor.NewLoggingMiddleware(),
		collector.Middleware(),
		processor.NewCommandLogMiddleware(cfg.CommandLog),
		tracing.NewTracingMiddleware(cfg.Tracer),
		guard.Middleware(),
		processor.NewSlowCommandMiddleware(cfg.SlowThreshold),
	))

	opts := []handler.Option{
		handler.WithTracer(cfg.Tracer),
		handler.WithAuditLogger(cfg.Audit),
		handler.WithSnapshots(cfg.Snapshots),
	}
	l := cfg.Ledger
	dispatcher.RegisterHandler(command.CmdRegisterRecord,
		handler.NewRegisterHandler(l.Registry, cfg.Identity, opts...))
	dispatcher.RegisterHandler(command.CmdTransferRecord,
		handler.NewTransferHandler(l.Registry, l.Token, cfg.Identity, opts...))
	dispatcher.RegisterHandler(command.CmdRedeemRecord,
		handler.NewRedeemHandler(l.Registry, cfg.Identity, opts...))
	dispatcher.RegisterHandler(command.CmdListCollectible,
		handler.NewListHandler(l.Market, l.TokenAt, cfg.Identity, opts...))

	return &Service{
		dispatcher: dispatcher,
		guard:      guard,
		metrics:    collector,
		ledger:     l,
		identity:   cfg.Identity,
		snapshots:  cfg.Snapshots,
		flags:      cfg.Flags,
		source:     cfg.Source,
	}, nil
}

// Register creates a record for an rfid that has none.
func (s *Service) Register(ctx context.Context, req domain.RegistrationRequest) (*handler.RegisterResult, error) {
	return dispatch[handler.RegisterResult](ctx, s, command.NewRegisterCommand(s.source, req))
}

// Transfer moves a record owned by the signer to a new owner.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (*handler.TransferResult, error) {
	return dispatch[handler.TransferResult](ctx, s, command.NewTransferCommand(s.source, req))
}

// Redeem retires a record.
func (s *Service) Redeem(ctx context.Context, req domain.RedemptionRequest) (*handler.RedeemResult, error) {
	return dispatch[handler.RedeemResult](ctx, s, command.NewRedeemCommand(s.source, req))
}

// List offers a token on the marketplace. Requires the marketplace flag.
func (s *Service) List(ctx context.Context, req domain.ListingRequest) (*handler.ListResult, error) {
	if !s.flags.Enabled(flags.FlagMarketplace) {
		return nil, fmt.Errorf("%w: %s", types.ErrFeatureDisabled, flags.FlagMarketplace)
	}
	return dispatch[handler.ListResult](ctx, s, command.NewListCommand(s.source, req))
}

func dispatch[T any](ctx context.Context, s *Service, cmd command.Command) (*T, error) {
	result, err := s.dispatcher.Dispatch(ctx, cmd)
	if err != nil {
		return nil, err
	}
	data, ok := result.Data.(*T)
	if !ok {
		return nil, fmt.Errorf("%s returned unexpected result %T", cmd.Type(), result.Data)
	}
	return data, nil
}

// ===========================================================================
// Reads
// ===========================================================================

// RecordView is a record as shown to the signer.
type RecordView struct {
	domain.Record
	// Signer is the active account, empty when none is resolved.
	Signer string `json:"signer,omitempty"`
	// OwnedBySigner is true when the signer owns the record.
	OwnedBySigner bool `json:"ownedBySigner"`
}

// Check reads the record for rfid, from the snapshot cache when configured.
// A missing record returns an error matching domain.ErrRecordNotFound.
func (s *Service) Check(ctx context.Context, rfid string) (*RecordView, error) {
	if !validate.IsValidRfid(rfid) {
		return nil, types.Invalid("rfid", rfid, "must be exactly 15 hexadecimal characters")
	}

	var (
		rec *domain.Record
		err error
	)
	if s.snapshots != nil {
		rec, err = s.snapshots.Get(ctx, rfid)
	} else {
		rec, err = s.ledger.Registry.GetRecord(ctx, rfid)
	}
	if err != nil {
		return nil, err
	}

	view := &RecordView{Record: *rec}
	if signer, err := s.identity.Address(ctx); err == nil && signer != (common.Address{}) {
		view.Signer = signer.Hex()
		view.OwnedBySigner = rec.OwnedBy(view.Signer)
	}
	return view, nil
}

// Admin returns the only account allowed to register records.
func (s *Service) Admin(ctx context.Context) (common.Address, error) {
	addr, err := s.ledger.Registry.AdminAddress(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("read admin address: %w", err)
	}
	return addr, nil
}

// IsAdmin reports whether the active signer is the registry admin.
func (s *Service) IsAdmin(ctx context.Context) (bool, error) {
	signer, err := s.identity.Address(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", types.ErrNoSigner, err)
	}
	admin, err := s.Admin(ctx)
	if err != nil {
		return false, err
	}
	return signer == admin, nil
}

// RequireAdmin fails with types.ErrNotAdmin unless the signer is the admin.
func (s *Service) RequireAdmin(ctx context.Context) error {
	signer, err := s.identity.Address(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrNoSigner, err)
	}
	admin, err := s.Admin(ctx)
	if err != nil {
		return err
	}
	if signer != admin {
		return &types.PreconditionError{Reason: types.ErrNotAdmin, Expected: admin.Hex(), Actual: signer.Hex()}
	}
	return nil
}

// ===========================================================================
// Introspection
// ===========================================================================

// Busy reports whether an operation of kind is in flight.
func (s *Service) Busy(kind command.CommandType) bool {
	return s.guard.Busy(kind)
}

// Metrics returns a copy of the per-kind counters.
func (s *Service) Metrics() map[command.CommandType]metrics.KindMetrics {
	return s.metrics.Snapshot()
}

// SignerChanged drops every snapshot so ownership flags are recomputed.
func (s *Service) SignerChanged(ctx context.Context, addr common.Address) {
	log.Info(log.CatWallet, "active signer changed", "address", addr.Hex())
	s.snapshots.Flush(ctx)
}

// IsRetryable reports whether err came from the ledger rather than the
// caller's input or the record's state.
func IsRetryable(err error) bool {
	return errors.Is(err, types.ErrLedgerSubmission) || errors.Is(err, types.ErrOperationInFlight)
}
