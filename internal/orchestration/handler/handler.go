// Package handler provides the saga handlers for record commands.
//
// Each handler runs a short sequence of named steps. Every step is a hard
// gate: a failure returns immediately and later steps never run. Nothing is
// compensated. A write the ledger already confirmed stays confirmed when a
// later step fails, and a retry re-reads ledger state before writing again.
package handler

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/provenance/internal/audit"
	"github.com/zjrosen/provenance/internal/ledger"
	"github.com/zjrosen/provenance/internal/log"
	"github.com/zjrosen/provenance/internal/orchestration/command"
	"github.com/zjrosen/provenance/internal/orchestration/tracing"
	"github.com/zjrosen/provenance/internal/orchestration/types"
)

// Saga step names, as reported in results, span events and SubmissionError.Step.
const (
	StepValidate           = "validate"
	StepResolveSigner      = "resolve-signer"
	StepCheckDuplicate     = "check-duplicate"
	StepRegister           = "register"
	StepVerifyOwner        = "verify-owner"
	StepCheckApproval      = "check-approval"
	StepGrantApproval      = "grant-approval"
	StepTransfer           = "transfer"
	StepRedeem             = "redeem"
	StepResolveToken       = "resolve-token"
	StepCheckTokenApproval = "check-token-approval"
	StepApproveToken       = "approve-token"
	StepListCollectible    = "list-collectible"
	StepAudit              = "audit"
	StepClearSnapshot      = "clear-snapshot"
)

// ===========================================================================
// Options
// ===========================================================================

// Option configures the collaborators shared by every handler.
type Option func(*base)

// WithTracer sets the tracer for saga spans.
// If tracer is nil, the handler keeps its default noop tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *base) {
		if tracer != nil {
			b.tracer = tracer
		}
	}
}

// WithAuditLogger sets where completed actions are recorded.
// If logger is nil, the handler keeps audit.Noop.
func WithAuditLogger(logger audit.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.audit = logger
		}
	}
}

// WithSnapshots sets the record snapshot cache cleared after writes.
func WithSnapshots(snapshots *ledger.SnapshotCache) Option {
	return func(b *base) {
		b.snapshots = snapshots
	}
}

type base struct {
	identity  ledger.Identity
	tracer    trace.Tracer
	audit     audit.Logger
	snapshots *ledger.SnapshotCache
}

func newBase(identity ledger.Identity, opts []Option) base {
	if identity == nil {
		panic("identity is required for record handlers")
	}
	b := base{
		identity: identity,
		tracer:   noop.NewTracerProvider().Tracer("noop"),
		audit:    audit.Noop{},
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// run wraps a saga body in a child span and records its outcome.
func (b *base) run(ctx context.Context, name string, body func(ctx context.Context, s *saga) (any, error)) (*command.CommandResult, error) {
	ctx, span := b.tracer.Start(ctx, tracing.SpanPrefixSaga+name, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	s := &saga{name: name, base: b}
	data, err := body(ctx, s)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String(tracing.AttrErrorClass, string(types.Classify(err))))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return command.Succeeded(data, s.steps), nil
}

// ===========================================================================
// Saga steps
// ===========================================================================

type saga struct {
	name  string
	base  *base
	steps []string
}

func (s *saga) begin(ctx context.Context, step string) {
	s.steps = append(s.steps, step)
	tracing.StepStarted(ctx, step)
	log.Debug(log.CatOrch, "saga step", "saga", s.name, "step", step)
}

func (s *saga) skip(ctx context.Context, step, reason string) {
	tracing.StepSkipped(ctx, step, reason)
	log.Debug(log.CatOrch, "saga step skipped", "saga", s.name, "step", step, "reason", reason)
}

// validate runs the command's field checks. No ledger call precedes it.
func (s *saga) validate(ctx context.Context, cmd command.Command) error {
	s.begin(ctx, StepValidate)
	return cmd.Validate()
}

// signer resolves the session identity afresh for this invocation.
func (s *saga) signer(ctx context.Context) (common.Address, error) {
	s.begin(ctx, StepResolveSigner)
	addr, err := s.base.identity.Address(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", types.ErrNoSigner, err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, types.ErrNoSigner
	}
	tracing.Signer(ctx, addr.Hex())
	return addr, nil
}

// submit sends a write and suspends until the ledger reports finality.
// Both a refused submission and a failed confirmation become SubmissionError.
func (s *saga) submit(ctx context.Context, step string, send func() (ledger.Pending, error)) (*ledger.Receipt, error) {
	s.begin(ctx, step)
	pending, err := send()
	if err != nil {
		return nil, &types.SubmissionError{Step: step, Err: err}
	}
	hash := pending.Hash().Hex()
	tracing.TxSubmitted(ctx, step, hash)
	log.Info(log.CatLedger, "transaction submitted", "saga", s.name, "step", step, "tx", hash)

	receipt, err := pending.Wait(ctx)
	if err != nil {
		return nil, &types.SubmissionError{Step: step, Err: fmt.Errorf("confirm %s: %w", hash, err)}
	}
	tracing.TxConfirmed(ctx, step, hash, receipt.BlockNumber)
	log.Info(log.CatLedger, "transaction confirmed", "saga", s.name, "step", step, "tx", hash, "block", receipt.BlockNumber)
	return receipt, nil
}

// read wraps a ledger read that is not a precondition check.
func (s *saga) read(ctx context.Context, step string, fn func() error) error {
	s.begin(ctx, step)
	if err := fn(); err != nil {
		return &types.SubmissionError{Step: step, Err: err}
	}
	return nil
}

// record logs the completed action. Its outcome never reaches the caller.
func (s *saga) record(ctx context.Context, entry audit.Entry) {
	s.begin(ctx, StepAudit)
	logger := s.base.audit
	audit.BestEffort(ctx, audit.LoggerFunc(func(ctx context.Context, e audit.Entry) error {
		err := logger.Record(ctx, e)
		if err != nil {
			trace.SpanFromContext(ctx).AddEvent(tracing.EventAuditFailed, trace.WithAttributes(
				attribute.String("audit.action", string(e.Action)),
				attribute.String(tracing.AttrErrorMessage, err.Error()),
			))
		}
		return err
	}), entry)
}

// clear drops the local snapshot of rfid.
func (s *saga) clear(ctx context.Context, rfid string) {
	if s.base.snapshots == nil {
		return
	}
	s.begin(ctx, StepClearSnapshot)
	s.base.snapshots.Invalidate(ctx, rfid)
}
