// Package command provides the command types dispatched to the record orchestrators.
// Every orchestration request is a Command; the dispatcher routes it by Type to
// the saga handler for that kind.
package command

import (
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Command represents an explicit intent entering the orchestration system.
type Command interface {
	// ID returns unique command identifier for tracing/correlation
	ID() string
	// Type returns the command type for routing to handlers
	Type() CommandType
	// Validate checks request fields before any ledger call
	Validate() error
	// CreatedAt returns when command was created
	CreatedAt() time.Time
}

// CommandType identifies the kind of command for handler routing.
// Each type carries its own in-flight flag.
type CommandType string

const (
	// CmdRegisterRecord writes a new record to the registry.
	CmdRegisterRecord CommandType = "register_record"
	// CmdTransferRecord moves a record from the session signer to a new owner.
	CmdTransferRecord CommandType = "transfer_record"
	// CmdRedeemRecord retires a record permanently.
	CmdRedeemRecord CommandType = "redeem_record"
	// CmdListCollectible offers a record's token on the marketplace.
	CmdListCollectible CommandType = "list_collectible"
)

// String returns the string representation of the CommandType.
func (ct CommandType) String() string {
	return string(ct)
}

// CommandSource identifies where the command originated.
type CommandSource string

const (
	// SourceCLI indicates the command came from a CLI invocation.
	SourceCLI CommandSource = "cli"
	// SourceRelay indicates the command came through the HTTP registration relay.
	SourceRelay CommandSource = "relay"
	// SourceInternal indicates the command was system-generated.
	SourceInternal CommandSource = "internal"
)

// String returns the string representation of the CommandSource.
func (cs CommandSource) String() string {
	return string(cs)
}

// BaseCommand provides common fields for all commands.
// Concrete command types should embed this struct.
type BaseCommand struct {
	id          string
	cmdType     CommandType
	createdAt   time.Time
	source      CommandSource
	traceID     string
	spanContext trace.SpanContext
}

// NewBaseCommand creates a BaseCommand with a generated UUID and current timestamp.
func NewBaseCommand(cmdType CommandType, source CommandSource) BaseCommand {
	return BaseCommand{
		id:        uuid.New().String(),
		cmdType:   cmdType,
		createdAt: time.Now(),
		source:    source,
	}
}

// ID returns the unique command identifier.
func (b *BaseCommand) ID() string {
	return b.id
}

// Type returns the command type for handler routing.
func (b *BaseCommand) Type() CommandType {
	return b.cmdType
}

// CreatedAt returns when the command was created.
func (b *BaseCommand) CreatedAt() time.Time {
	return b.createdAt
}

// Source returns the origin of this command.
func (b *BaseCommand) Source() CommandSource {
	return b.source
}

// TraceID returns the correlation ID. A valid span context wins over a
// manually set trace ID.
func (b *BaseCommand) TraceID() string {
	if b.spanContext.IsValid() {
		return b.spanContext.TraceID().String()
	}
	return b.traceID
}

// SetTraceID sets the correlation ID, e.g. one received from a relay request header.
func (b *BaseCommand) SetTraceID(traceID string) {
	b.traceID = traceID
}

// SpanContext returns the OpenTelemetry span context for trace propagation.
func (b *BaseCommand) SpanContext() trace.SpanContext {
	return b.spanContext
}

// SetSpanContext sets the OpenTelemetry span context for trace propagation.
func (b *BaseCommand) SetSpanContext(sc trace.SpanContext) {
	b.spanContext = sc
}

// Validate is a no-op for BaseCommand. Concrete commands override it.
func (b *BaseCommand) Validate() error {
	return nil
}

// CommandResult contains the outcome of command execution.
type CommandResult struct {
	// Success indicates whether the command executed successfully.
	Success bool
	// Error contains the error if Success is false.
	Error error
	// Data contains the saga's typed result for the caller.
	Data any
	// Steps lists the saga steps that ran, in order.
	Steps []string
}

// Succeeded returns a successful result carrying data.
func Succeeded(data any, steps []string) *CommandResult {
	return &CommandResult{Success: true, Data: data, Steps: steps}
}
