package processor

import (
	"time"

	"github.com/zjrosen/provenance/internal/orchestration/command"
	"github.com/zjrosen/provenance/internal/orchestration/types"
)

// CommandLogEvent is published after each command is processed.
// The serve command and CLI debug output subscribe to it.
type CommandLogEvent struct {
	// CommandID is the unique identifier of the processed command.
	CommandID string
	// CommandType indicates the type of command that was processed.
	CommandType command.CommandType
	// Source indicates where the command originated (cli, relay, internal).
	Source command.CommandSource
	// Success indicates whether the command executed successfully.
	Success bool
	// Error contains the error if the command failed (nil on success).
	Error error
	// Class is the taxonomy bucket of Error.
	Class types.Class
	// Steps lists the saga steps that completed.
	Steps []string
	// Duration is how long the command took to execute.
	Duration time.Duration
	// Timestamp is when the command finished processing.
	Timestamp time.Time
	// TraceID is the distributed trace ID for correlation (empty if tracing disabled).
	TraceID string
}
