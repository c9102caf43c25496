package handler

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zjrosen/provenance/internal/audit"
	"github.com/zjrosen/provenance/internal/ledger"
	"github.com/zjrosen/provenance/internal/orchestration/command"
)

// ===========================================================================
// RedeemHandler
// ===========================================================================

// RedeemHandler handles CmdRedeemRecord commands. It does not check ownership
// before submitting; the registry rejects a non-owner's redemption.
type RedeemHandler struct {
	base
	registry ledger.Registry
}

// NewRedeemHandler creates a new RedeemHandler.
func NewRedeemHandler(registry ledger.Registry, identity ledger.Identity, opts ...Option) *RedeemHandler {
	return &RedeemHandler{base: newBase(identity, opts), registry: registry}
}

// RedeemResult describes a confirmed redemption.
type RedeemResult struct {
	RFID        string      `json:"rfid"`
	Signer      string      `json:"signer"`
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
}

// Handle processes a RedeemCommand.
// 1. Rejects an empty rfid
// 2. Resolves the signer
// 3. Submits redeemRecord and waits for confirmation
// 4. Records the action (best effort)
// 5. Drops the local snapshot; the record is gone from the ledger
func (h *RedeemHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	redeemCmd := cmd.(*command.RedeemCommand)
	return h.run(ctx, "redeem", func(ctx context.Context, s *saga) (any, error) {
		if err := s.validate(ctx, redeemCmd); err != nil {
			return nil, err
		}
		rfid := redeemCmd.Request.RFID

		signer, err := s.signer(ctx)
		if err != nil {
			return nil, err
		}

		receipt, err := s.submit(ctx, StepRedeem, func() (ledger.Pending, error) {
			return h.registry.RedeemRecord(ctx, rfid)
		})
		if err != nil {
			return nil, err
		}

		s.record(ctx, audit.Entry{Action: audit.ActionRedeem, RFID: rfid, User: signer.Hex()})
		s.clear(ctx, rfid)

		return &RedeemResult{
			RFID:        rfid,
			Signer:      signer.Hex(),
			TxHash:      receipt.TxHash,
			BlockNumber: receipt.BlockNumber,
		}, nil
	})
}
