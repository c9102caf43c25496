package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/provenance/internal/orchestration/command"
	"github.com/zjrosen/provenance/internal/orchestration/processor"
	"github.com/zjrosen/provenance/internal/orchestration/types"
)

// NewTracingMiddleware starts a span per command named command.<type>.
// A nil tracer makes it a pass-through.
func NewTracingMiddleware(tracer trace.Tracer) processor.Middleware {
	if tracer == nil {
		return func(next processor.CommandHandler) processor.CommandHandler {
			return next
		}
	}

	return func(next processor.CommandHandler) processor.CommandHandler {
		return processor.HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			ctx = restoreSpanContext(ctx, cmd)
			ctx, span := tracer.Start(ctx, SpanPrefixCommand+cmd.Type().String(),
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			// Later logs for this command carry the span's trace id.
			if setter, ok := cmd.(interface{ SetSpanContext(trace.SpanContext) }); ok {
				setter.SetSpanContext(span.SpanContext())
			}

			span.SetAttributes(
				attribute.String(AttrCommandID, cmd.ID()),
				attribute.String(AttrCommandType, cmd.Type().String()),
			)
			if hasSource, ok := cmd.(interface{ Source() command.CommandSource }); ok {
				span.SetAttributes(attribute.String(AttrCommandSource, hasSource.Source().String()))
			}
			if hasRFID, ok := cmd.(interface{ RFID() string }); ok && hasRFID.RFID() != "" {
				span.SetAttributes(attribute.String(AttrRFID, hasRFID.RFID()))
			}

			result, err := next.Handle(ctx, cmd)

			failure := err
			if failure == nil && result != nil && !result.Success {
				failure = result.Error
				if failure == nil {
					span.SetStatus(codes.Error, "command failed without error details")
					return result, err
				}
			}
			if failure != nil {
				span.RecordError(failure)
				span.SetAttributes(attribute.String(AttrErrorClass, string(types.Classify(failure))))
				span.SetStatus(codes.Error, failure.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return result, err
		})
	}
}

// restoreSpanContext parents the command span under a span context the
// command already carries, e.g. one propagated by the relay.
func restoreSpanContext(ctx context.Context, cmd command.Command) context.Context {
	if hasSpanContext, ok := cmd.(interface{ SpanContext() trace.SpanContext }); ok {
		if sc := hasSpanContext.SpanContext(); sc.IsValid() {
			return trace.ContextWithRemoteSpanContext(ctx, sc)
		}
	}
	return ctx
}

// ===========================================================================
// Saga span events
// ===========================================================================

// StepStarted records that a saga step began.
func StepStarted(ctx context.Context, step string) {
	trace.SpanFromContext(ctx).AddEvent(EventStep, trace.WithAttributes(attribute.String(AttrSagaStep, step)))
}

// StepSkipped records that a conditional saga step did not need to run.
func StepSkipped(ctx context.Context, step, reason string) {
	trace.SpanFromContext(ctx).AddEvent(EventStepSkipped, trace.WithAttributes(
		attribute.String(AttrSagaStep, step),
		attribute.String("reason", reason),
	))
}

// TxSubmitted records a ledger write accepted for submission.
func TxSubmitted(ctx context.Context, step, hash string) {
	trace.SpanFromContext(ctx).AddEvent(EventTxSubmitted, trace.WithAttributes(
		attribute.String(AttrSagaStep, step),
		attribute.String(AttrTxHash, hash),
	))
}

// TxConfirmed records a ledger write reaching finality.
func TxConfirmed(ctx context.Context, step, hash string, block uint64) {
	trace.SpanFromContext(ctx).AddEvent(EventTxConfirmed, trace.WithAttributes(
		attribute.String(AttrSagaStep, step),
		attribute.String(AttrTxHash, hash),
		attribute.Int64(AttrTxBlock, int64(block)),
	))
}

// Signer tags the current span with the resolved signer.
func Signer(ctx context.Context, addr string) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(AttrSigner, addr))
}
