package handler

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zjrosen/provenance/internal/audit"
	"github.com/zjrosen/provenance/internal/domain"
	"github.com/zjrosen/provenance/internal/ledger"
	"github.com/zjrosen/provenance/internal/orchestration/command"
	"github.com/zjrosen/provenance/internal/orchestration/types"
)

// ===========================================================================
// RegisterHandler
// ===========================================================================

// RegisterHandler handles CmdRegisterRecord commands.
type RegisterHandler struct {
	base
	registry ledger.Registry
}

// NewRegisterHandler creates a new RegisterHandler.
func NewRegisterHandler(registry ledger.Registry, identity ledger.Identity, opts ...Option) *RegisterHandler {
	return &RegisterHandler{base: newBase(identity, opts), registry: registry}
}

// RegisterResult describes a confirmed registration.
type RegisterResult struct {
	RFID        string      `json:"rfid"`
	Owner       string      `json:"owner"`
	Signer      string      `json:"signer"`
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
}

// Handle processes a RegisterCommand.
// 1. Validates rfid, owner, token URI and hash
// 2. Resolves the signer
// 3. Rejects an rfid that already has a live record
// 4. Submits registerRecord and waits for confirmation
// 5. Records the action (best effort)
func (h *RegisterHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	regCmd := cmd.(*command.RegisterCommand)
	return h.run(ctx, "register", func(ctx context.Context, s *saga) (any, error) {
		if err := s.validate(ctx, regCmd); err != nil {
			return nil, err
		}
		req := regCmd.Request

		signer, err := s.signer(ctx)
		if err != nil {
			return nil, err
		}

		// Advisory: a concurrent registration can still land between this
		// read and the write, in which case the ledger reverts.
		s.begin(ctx, StepCheckDuplicate)
		existing, err := h.registry.GetRecord(ctx, req.RFID)
		switch {
		case err == nil:
			return nil, &types.PreconditionError{
				Reason: types.ErrAlreadyRegistered,
				RFID:   req.RFID,
				Actual: existing.Owner.Hex(),
			}
		case !errors.Is(err, domain.ErrRecordNotFound):
			return nil, &types.PreconditionError{Reason: types.ErrRecordUnreadable, RFID: req.RFID, Err: err}
		}

		receipt, err := s.submit(ctx, StepRegister, func() (ledger.Pending, error) {
			return h.registry.RegisterRecord(ctx, regCmd.Record())
		})
		if err != nil {
			return nil, err
		}

		s.record(ctx, audit.Entry{
			Action: audit.ActionRegister,
			RFID:   req.RFID,
			User:   signer.Hex(),
			Fields: map[string]any{
				"newOwner":         req.Owner,
				"tokenURI":         req.TokenURI,
				"authenticityHash": req.AuthenticityHash,
			},
		})
		s.clear(ctx, req.RFID)

		return &RegisterResult{
			RFID:        req.RFID,
			Owner:       req.Owner,
			Signer:      signer.Hex(),
			TxHash:      receipt.TxHash,
			BlockNumber: receipt.BlockNumber,
		}, nil
	})
}
