// Package ledger defines the client interfaces the orchestrators use to read
// and write the record registry, the token contract and the marketplace.
//
// Writes return a Pending transaction. Submitting and confirming are separate
// steps: a submitted transaction cannot be withdrawn, and Wait is where the
// caller suspends until the ledger reports finality.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zjrosen/provenance/internal/domain"
)

// ErrReverted is returned by Wait when the ledger executed and rejected a transaction.
var ErrReverted = errors.New("transaction reverted")

// ErrUnsupported is returned by optional operations a backend does not provide.
var ErrUnsupported = errors.New("operation not supported by ledger backend")

// Receipt is the confirmation of a finalized write.
type Receipt struct {
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
	GasUsed     uint64      `json:"gasUsed"`
}

// Pending is a submitted, not yet confirmed, transaction.
type Pending interface {
	Hash() common.Hash
	Wait(ctx context.Context) (*Receipt, error)
}

// Identity resolves the account that authorizes writes. Wallet sessions
// implement it; backends call it on every write, never caching the result.
type Identity interface {
	Address(ctx context.Context) (common.Address, error)
}

// Registry is the record registry contract.
type Registry interface {
	// GetRecord returns the live record for rfid or a *domain.RecordNotFoundError.
	GetRecord(ctx context.Context, rfid string) (*domain.Record, error)
	RegisterRecord(ctx context.Context, rec domain.Record) (Pending, error)
	TransferOwnership(ctx context.Context, rfid string, newOwner common.Address) (Pending, error)
	RedeemRecord(ctx context.Context, rfid string) (Pending, error)
	// AdminAddress is the single identity allowed to register records.
	AdminAddress(ctx context.Context) (common.Address, error)
	// Operator is the address that must hold the owner's delegation grant
	// before the registry can move a token.
	Operator() common.Address
}

// Token is the NFT contract backing registry records.
type Token interface {
	Address() common.Address
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
	SetApprovalForAll(ctx context.Context, operator common.Address, approved bool) (Pending, error)
	GetApproved(ctx context.Context, tokenID *big.Int) (common.Address, error)
	Approve(ctx context.Context, to common.Address, tokenID *big.Int) (Pending, error)
}

// Market is the marketplace contract.
type Market interface {
	Address() common.Address
	ListCollectible(ctx context.Context, nft common.Address, tokenID, price *big.Int) (Pending, error)
}

// TokenResolver returns a Token client for an arbitrary NFT contract address.
type TokenResolver func(addr common.Address) (Token, error)

// Ledger bundles the clients of one backend.
type Ledger struct {
	Registry Registry
	Token    Token
	// Market is nil when no market address is configured.
	Market  Market
	TokenAt TokenResolver
	// Close releases backend resources. May be nil.
	Close func() error
}

// Confirmed is a Pending that is already final. Backends that apply writes
// synchronously return it.
type Confirmed struct {
	Receipt Receipt
}

func (c Confirmed) Hash() common.Hash { return c.Receipt.TxHash }

func (c Confirmed) Wait(ctx context.Context) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := c.Receipt
	return &r, nil
}

// Failed is a Pending whose Wait reports err, used for writes that were
// accepted for submission but rejected on execution.
type Failed struct {
	TxHash common.Hash
	Err    error
}

func (f Failed) Hash() common.Hash { return f.TxHash }

func (f Failed) Wait(context.Context) (*Receipt, error) { return nil, f.Err }
