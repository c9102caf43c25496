package tracing

// Span attribute keys.
const (
	AttrCommandID     = "command.id"
	AttrCommandType   = "command.type"
	AttrCommandSource = "command.source"

	AttrRFID   = "record.rfid"
	AttrSigner = "wallet.signer"

	AttrSagaStep     = "saga.step"
	AttrTxHash       = "ledger.tx_hash"
	AttrTxBlock      = "ledger.block_number"
	AttrErrorClass   = "error.class"
	AttrErrorMessage = "error.message"
)

// Span name prefixes.
const (
	SpanPrefixCommand = "command."
	SpanPrefixSaga    = "saga."
)

// Span event names.
const (
	EventStep        = "saga.step"
	EventStepSkipped = "saga.step.skipped"
	EventTxSubmitted = "ledger.tx.submitted"
	EventTxConfirmed = "ledger.tx.confirmed"
	EventAuditFailed = "audit.failed"
)
