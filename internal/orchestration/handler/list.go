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
// ListHandler
// ===========================================================================

// ListHandler handles CmdListCollectible commands.
type ListHandler struct {
	base
	market  ledger.Market
	tokenAt ledger.TokenResolver
}

// NewListHandler creates a new ListHandler. A nil market makes every listing
// fail with types.ErrMarketUnavailable.
func NewListHandler(market ledger.Market, tokenAt ledger.TokenResolver, identity ledger.Identity, opts ...Option) *ListHandler {
	return &ListHandler{base: newBase(identity, opts), market: market, tokenAt: tokenAt}
}

// ListResult describes a confirmed marketplace listing.
type ListResult struct {
	NFT     string `json:"nft"`
	TokenID string `json:"tokenId"`
	// Price is the listing price in payment token base units.
	Price           string       `json:"price"`
	Seller          string       `json:"seller"`
	ApprovalGranted bool         `json:"approvalGranted"`
	ApprovalTxHash  *common.Hash `json:"approvalTxHash,omitempty"`
	TxHash          common.Hash  `json:"txHash"`
	BlockNumber     uint64       `json:"blockNumber"`
}

// Handle processes a ListCommand.
// 1. Validates the contract address, token id and price
// 2. Resolves the signer
// 3. Approves the market for the token unless it already is
// 4. Submits listCollectible and waits for confirmation
// 5. Records the action (best effort)
func (h *ListHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	listCmd := cmd.(*command.ListCommand)
	return h.run(ctx, "list", func(ctx context.Context, s *saga) (any, error) {
		if err := s.validate(ctx, listCmd); err != nil {
			return nil, err
		}
		nft, tokenID, price, _ := listCmd.Parse()

		signer, err := s.signer(ctx)
		if err != nil {
			return nil, err
		}
		if h.market == nil || h.tokenAt == nil {
			return nil, types.ErrMarketUnavailable
		}
		marketAddr := h.market.Address()

		var token ledger.Token
		if err := s.read(ctx, StepResolveToken, func() (err error) {
			token, err = h.tokenAt(nft)
			return err
		}); err != nil {
			return nil, err
		}

		result := &ListResult{
			NFT:     nft.Hex(),
			TokenID: tokenID.String(),
			Price:   price.String(),
			Seller:  signer.Hex(),
		}

		var approved common.Address
		if err := s.read(ctx, StepCheckTokenApproval, func() (err error) {
			approved, err = token.GetApproved(ctx, tokenID)
			return err
		}); err != nil {
			return nil, err
		}
		if approved == marketAddr {
			s.skip(ctx, StepApproveToken, "market already approved")
		} else {
			receipt, err := s.submit(ctx, StepApproveToken, func() (ledger.Pending, error) {
				return token.Approve(ctx, marketAddr, tokenID)
			})
			if err != nil {
				return nil, err
			}
			result.ApprovalGranted = true
			result.ApprovalTxHash = &receipt.TxHash
		}

		receipt, err := s.submit(ctx, StepListCollectible, func() (ledger.Pending, error) {
			return h.market.ListCollectible(ctx, nft, tokenID, price)
		})
		if err != nil {
			return nil, err
		}
		result.TxHash = receipt.TxHash
		result.BlockNumber = receipt.BlockNumber

		s.record(ctx, audit.Entry{
			Action: audit.ActionList,
			User:   signer.Hex(),
			Fields: map[string]any{
				"nft":     nft.Hex(),
				"tokenId": tokenID.String(),
				"price":   listCmd.Request.Price,
			},
		})

		return result, nil
	})
}
