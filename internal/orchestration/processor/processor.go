// Package processor routes record commands to their saga handlers.
//
// Dispatch is synchronous: the caller's goroutine runs every saga step and
// suspends at each ledger round trip. There is no queue and no cancellation
// of submitted writes; concurrency control is the in-flight guard middleware.
package processor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/zjrosen/provenance/internal/orchestration/command"
	"github.com/zjrosen/provenance/internal/orchestration/types"
)

// CommandHandler executes a single command kind.
type CommandHandler interface {
	Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error)
}

// HandlerFunc adapts a function to CommandHandler.
type HandlerFunc func(ctx context.Context, cmd command.Command) (*command.CommandResult, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	return f(ctx, cmd)
}

// ErrUnknownCommandType is re-exported from types.
var ErrUnknownCommandType = types.ErrUnknownCommandType

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithMiddleware adds middleware to be applied to all handlers.
// Middleware is applied in order: first middleware wraps outermost.
func WithMiddleware(middlewares ...Middleware) Option {
	return func(d *Dispatcher) {
		d.middlewares = append(d.middlewares, middlewares...)
	}
}

// Dispatcher maps command types to wrapped handlers.
type Dispatcher struct {
	handlers    map[command.CommandType]CommandHandler
	middlewares []Middleware

	processedCount atomic.Int64
	errorCount     atomic.Int64
}

// NewDispatcher creates a Dispatcher with the given options.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[command.CommandType]CommandHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterHandler registers a handler for a command type, wrapped with all
// configured middleware. Must be called before the first Dispatch.
func (d *Dispatcher) RegisterHandler(cmdType command.CommandType, handler CommandHandler) {
	d.handlers[cmdType] = ChainMiddleware(handler, d.middlewares...)
}

// Has reports whether a handler is registered for cmdType.
func (d *Dispatcher) Has(cmdType command.CommandType) bool {
	_, ok := d.handlers[cmdType]
	return ok
}

// Dispatch runs cmd to completion on the calling goroutine.
// A failed saga returns its typed error; result is nil in that case.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	handler, ok := d.handlers[cmd.Type()]
	if !ok {
		d.errorCount.Add(1)
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommandType, cmd.Type())
	}

	result, err := handler.Handle(ctx, cmd)
	d.processedCount.Add(1)
	if err == nil && result != nil && !result.Success {
		err = result.Error
		if err == nil {
			err = fmt.Errorf("command %s failed without error details", cmd.Type())
		}
	}
	if err != nil {
		d.errorCount.Add(1)
		return nil, err
	}
	return result, nil
}

// ProcessedCount returns the total number of commands dispatched to a handler.
func (d *Dispatcher) ProcessedCount() int64 {
	return d.processedCount.Load()
}

// ErrorCount returns the total number of commands that failed.
func (d *Dispatcher) ErrorCount() int64 {
	return d.errorCount.Load()
}
