package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zjrosen/provenance/internal/log"
	"github.com/zjrosen/provenance/internal/orchestration/command"
	"github.com/zjrosen/provenance/internal/orchestration/types"
	"github.com/zjrosen/provenance/internal/pubsub"
)

// Middleware wraps a CommandHandler to add additional behavior.
// Middleware functions are composed using ChainMiddleware.
type Middleware func(CommandHandler) CommandHandler

// ChainMiddleware applies middlewares to a handler in reverse order.
// The first middleware in the list will be the outermost wrapper.
// For example: ChainMiddleware(handler, logging, guard, slow)
// Results in: logging(guard(slow(handler)))
func ChainMiddleware(handler CommandHandler, middlewares ...Middleware) CommandHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

func traceIDOf(cmd command.Command) string {
	if hasTraceID, ok := cmd.(interface{ TraceID() string }); ok {
		return hasTraceID.TraceID()
	}
	return ""
}

func sourceOf(cmd command.Command) command.CommandSource {
	if hasSource, ok := cmd.(interface{ Source() command.CommandSource }); ok {
		return hasSource.Source()
	}
	return ""
}

// outcome folds a handler return into one error.
func outcome(result *command.CommandResult, err error) error {
	if err != nil {
		return err
	}
	if result != nil && !result.Success {
		if result.Error != nil {
			return result.Error
		}
		return fmt.Errorf("command failed without error details")
	}
	return nil
}

// ===========================================================================
// Logging Middleware
// ===========================================================================

// NewLoggingMiddleware creates a middleware that logs command execution.
// Precondition and validation rejections log at warn, everything else that
// fails at error.
func NewLoggingMiddleware() Middleware {
	return func(next CommandHandler) CommandHandler {
		return HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)
			duration := time.Since(start)

			fields := []any{
				"command_id", cmd.ID(),
				"command_type", cmd.Type().String(),
				"trace_id", traceIDOf(cmd),
				"duration", duration,
				"source", string(sourceOf(cmd)),
			}

			failure := outcome(result, err)
			switch class := types.Classify(failure); class {
			case types.ClassNone:
				log.Debug(log.CatCommands, "command completed", fields...)
			case types.ClassValidation, types.ClassPrecondition, types.ClassBusy:
				log.Warn(log.CatCommands, "command rejected", append(fields, "class", string(class), "error", failure.Error())...)
			default:
				log.Error(log.CatCommands, "command failed",
					append(fields, "class", string(class), "error", failure.Error(), "cause", types.Cause(failure).Error())...)
			}
			return result, err
		})
	}
}

// ===========================================================================
// In-Flight Guard
// ===========================================================================

// InFlightGuard keeps one busy flag per command type. A command arriving
// while its type is busy is rejected with types.ErrOperationInFlight. The
// flag is released when the handler returns, whether it failed or not.
// Different types never block each other.
type InFlightGuard struct {
	mu   sync.Mutex
	busy map[command.CommandType]string
}

// NewInFlightGuard creates an empty guard.
func NewInFlightGuard() *InFlightGuard {
	return &InFlightGuard{busy: make(map[command.CommandType]string)}
}

// Busy reports whether a command of cmdType is running.
func (g *InFlightGuard) Busy(cmdType command.CommandType) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.busy[cmdType]
	return ok
}

func (g *InFlightGuard) acquire(cmd command.Command) (holder string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if holder, busy := g.busy[cmd.Type()]; busy {
		return holder, false
	}
	g.busy[cmd.Type()] = cmd.ID()
	return "", true
}

func (g *InFlightGuard) release(cmdType command.CommandType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, cmdType)
}

// Middleware returns the middleware function.
func (g *InFlightGuard) Middleware() Middleware {
	return func(next CommandHandler) CommandHandler {
		return HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			holder, ok := g.acquire(cmd)
			if !ok {
				log.Warn(log.CatOrch, "command rejected while in flight",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"in_flight", holder,
				)
				return nil, fmt.Errorf("%w: %s", types.ErrOperationInFlight, cmd.Type())
			}
			defer g.release(cmd.Type())
			return next.Handle(ctx, cmd)
		})
	}
}

// ===========================================================================
// Command Log Middleware
// ===========================================================================

// NewCommandLogMiddleware creates a middleware that publishes a CommandLogEvent
// for each processed command. A nil publisher makes it a pass-through.
func NewCommandLogMiddleware(broker pubsub.Publisher[CommandLogEvent]) Middleware {
	return func(next CommandHandler) CommandHandler {
		if broker == nil {
			return next
		}
		return HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)

			failure := outcome(result, err)
			event := CommandLogEvent{
				CommandID:   cmd.ID(),
				CommandType: cmd.Type(),
				Source:      sourceOf(cmd),
				Success:     failure == nil,
				Error:       failure,
				Class:       types.Classify(failure),
				Duration:    time.Since(start),
				Timestamp:   time.Now(),
				TraceID:     traceIDOf(cmd),
			}
			if result != nil {
				event.Steps = result.Steps
			}
			broker.Publish(pubsub.CommandFinished, event)

			return result, err
		})
	}
}

// ===========================================================================
// Slow Command Middleware
// ===========================================================================

// DefaultSlowThreshold is the default threshold for slow command warnings.
const DefaultSlowThreshold = 30 * time.Second

// NewSlowCommandMiddleware logs a warning when a command runs longer than
// threshold. It never aborts the handler: a submitted write cannot be withdrawn.
func NewSlowCommandMiddleware(threshold time.Duration) Middleware {
	if threshold <= 0 {
		threshold = DefaultSlowThreshold
	}
	return func(next CommandHandler) CommandHandler {
		return HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)
			if duration := time.Since(start); duration > threshold {
				log.Warn(log.CatOrch, "command exceeded time threshold",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"trace_id", traceIDOf(cmd),
					"duration", duration,
					"threshold", threshold,
				)
			}
			return result, err
		})
	}
}
