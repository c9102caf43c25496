package handler

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zjrosen/provenance/internal/audit"
	"github.com/zjrosen/provenance/internal/ledger"
	"github.com/zjrosen/provenance/internal/orchestration/command"
	"github.com/zjrosen/provenance/internal/orchestration/types"
)

// ===========================================================================
// TransferHandler
// ===========================================================================

// TransferHandler handles CmdTransferRecord commands.
type TransferHandler struct {
	base
	registry ledger.Registry
	token    ledger.Token
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(registry ledger.Registry, token ledger.Token, identity ledger.Identity, opts ...Option) *TransferHandler {
	return &TransferHandler{base: newBase(identity, opts), registry: registry, token: token}
}

// TransferResult describes a confirmed ownership transfer.
type TransferResult struct {
	RFID string `json:"rfid"`
	From string `json:"from"`
	To   string `json:"to"`
	// ApprovalGranted is true when this call submitted the operator grant.
	ApprovalGranted bool         `json:"approvalGranted"`
	ApprovalTxHash  *common.Hash `json:"approvalTxHash,omitempty"`
	TxHash          common.Hash  `json:"txHash"`
	BlockNumber     uint64       `json:"blockNumber"`
}

// Handle processes a TransferCommand.
// 1. Validates rfid and new owner
// 2. Resolves the signer
// 3. Reads the record; the owner must equal the signer
// 4. Grants the registry operator approval when it is not already granted
// 5. Submits transferOwnership and waits for confirmation
// 6. Records the action (best effort)
//
// A failure after step 4 leaves the grant in place; a retry sees it at step 4
// and goes straight to the transfer.
func (h *TransferHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	xferCmd := cmd.(*command.TransferCommand)
	return h.run(ctx, "transfer", func(ctx context.Context, s *saga) (any, error) {
		if err := s.validate(ctx, xferCmd); err != nil {
			return nil, err
		}
		req := xferCmd.Request

		signer, err := s.signer(ctx)
		if err != nil {
			return nil, err
		}

		s.begin(ctx, StepVerifyOwner)
		rec, err := h.registry.GetRecord(ctx, req.RFID)
		if err != nil {
			return nil, &types.PreconditionError{Reason: types.ErrRecordUnreadable, RFID: req.RFID, Err: err}
		}
		if !rec.OwnedBy(signer.Hex()) {
			return nil, &types.PreconditionError{
				Reason:   types.ErrNotOwner,
				RFID:     req.RFID,
				Expected: signer.Hex(),
				Actual:   rec.Owner.Hex(),
			}
		}

		result := &TransferResult{RFID: req.RFID, From: signer.Hex(), To: req.NewOwner}

		operator := h.registry.Operator()
		var approved bool
		if err := s.read(ctx, StepCheckApproval, func() (err error) {
			approved, err = h.token.IsApprovedForAll(ctx, signer, operator)
			return err
		}); err != nil {
			return nil, err
		}
		if approved {
			s.skip(ctx, StepGrantApproval, "operator already approved")
		} else {
			receipt, err := s.submit(ctx, StepGrantApproval, func() (ledger.Pending, error) {
				return h.token.SetApprovalForAll(ctx, operator, true)
			})
			if err != nil {
				return nil, err
			}
			result.ApprovalGranted = true
			result.ApprovalTxHash = &receipt.TxHash
		}

		receipt, err := s.submit(ctx, StepTransfer, func() (ledger.Pending, error) {
			return h.registry.TransferOwnership(ctx, req.RFID, xferCmd.NewOwnerAddress())
		})
		if err != nil {
			return nil, err
		}
		result.TxHash = receipt.TxHash
		result.BlockNumber = receipt.BlockNumber

		s.record(ctx, audit.Entry{
			Action: audit.ActionTransfer,
			RFID:   req.RFID,
			User:   signer.Hex(),
			Fields: map[string]any{"newOwner": req.NewOwner},
		})
		s.clear(ctx, req.RFID)

		return result, nil
	})
}
