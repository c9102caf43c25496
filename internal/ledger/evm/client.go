package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/zjrosen/provenance/internal/domain"
	"github.com/zjrosen/provenance/internal/ledger"
	"github.com/zjrosen/provenance/internal/log"
)

// Backend is what the bound contracts and receipt polling need from a node.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Signer authorizes writes. wallet.KeyRing implements it.
type Signer interface {
	Address(ctx context.Context) (common.Address, error)
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

// Config selects the node and the deployed contracts.
type Config struct {
	RPCURL   string
	Registry common.Address
	Token    common.Address
	// Market is optional.
	Market common.Address
}

// Dial connects to the node at rpcURL.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return c, nil
}

// Open dials cfg.RPCURL and returns the contract clients as a ledger bundle.
func Open(ctx context.Context, cfg Config, signer Signer) (*ledger.Ledger, error) {
	client, err := Dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	l := New(client, cfg, signer)
	l.Close = func() error {
		client.Close()
		return nil
	}
	log.Info(log.CatLedger, "connected to node", "rpc", cfg.RPCURL, "registry", cfg.Registry.Hex())
	return l, nil
}

// New builds the clients over an existing backend.
func New(backend Backend, cfg Config, signer Signer) *ledger.Ledger {
	l := &ledger.Ledger{
		Registry: NewRegistry(backend, cfg.Registry, signer),
		Token:    NewToken(backend, cfg.Token, signer),
		TokenAt: func(addr common.Address) (ledger.Token, error) {
			return NewToken(backend, addr, signer), nil
		},
	}
	if cfg.Market != (common.Address{}) {
		l.Market = NewMarket(backend, cfg.Market, signer)
	}
	return l
}

// contract is a bound contract with the signer used for its writes.
type contract struct {
	address common.Address
	bound   *bind.BoundContract
	backend Backend
	signer  Signer
}

func newContract(backend Backend, address common.Address, parsed abi.ABI, signer Signer) contract {
	return contract{
		address: address,
		bound:   bind.NewBoundContract(address, parsed, backend, backend, backend),
		backend: backend,
		signer:  signer,
	}
}

func (c contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c contract) transact(ctx context.Context, method string, args ...any) (ledger.Pending, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("%s: no signer", method)
	}
	opts, err := c.signer.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := c.bound.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	log.Debug(log.CatLedger, "tx submitted", "method", method, "tx", tx.Hash().Hex(), "from", opts.From.Hex())
	return &pendingTx{backend: c.backend, tx: tx, method: method}, nil
}

// pendingTx waits for a submitted transaction to be mined.
type pendingTx struct {
	backend bind.DeployBackend
	tx      *types.Transaction
	method  string
}

func (p *pendingTx) Hash() common.Hash { return p.tx.Hash() }

func (p *pendingTx) Wait(ctx context.Context) (*ledger.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, p.backend, p.tx)
	if err != nil {
		return nil, fmt.Errorf("wait %s: %w", p.method, err)
	}
	r := &ledger.Receipt{TxHash: receipt.TxHash, GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		r.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return r, fmt.Errorf("%w: %s in block %d", ledger.ErrReverted, p.method, r.BlockNumber)
	}
	log.Debug(log.CatLedger, "tx mined", "method", p.method, "tx", r.TxHash.Hex(), "block", r.BlockNumber)
	return r, nil
}

// Registry is the CollectibleRegistry client.
type Registry struct{ contract }

var _ ledger.Registry = (*Registry)(nil)

func NewRegistry(backend Backend, address common.Address, signer Signer) *Registry {
	return &Registry{newContract(backend, address, registryABI, signer)}
}

// GetRecord reads getCollectible. A revert or a zero owner means the rfid
// has no live record.
func (r *Registry) GetRecord(ctx context.Context, rfid string) (*domain.Record, error) {
	out, err := r.call(ctx, "getCollectible", rfid)
	if err != nil {
		if isRevert(err) {
			return nil, &domain.RecordNotFoundError{RFID: rfid}
		}
		return nil, fmt.Errorf("getCollectible: %w", err)
	}
	rec, err := decodeRecord(out)
	if err != nil {
		return nil, err
	}
	if rec.Owner == (common.Address{}) {
		return nil, &domain.RecordNotFoundError{RFID: rfid}
	}
	if rec.RFID == "" {
		rec.RFID = rfid
	}
	return rec, nil
}

func decodeRecord(out []any) (*domain.Record, error) {
	if len(out) != 3 {
		return nil, fmt.Errorf("getCollectible: expected 3 values, got %d", len(out))
	}
	rfid, ok1 := out[0].(string)
	hash, ok2 := out[1].([32]byte)
	owner, ok3 := out[2].(common.Address)
	if !ok1 || !ok2 || !ok3 {
		return nil, errors.New("getCollectible: unexpected return types")
	}
	return &domain.Record{
		RFID:             rfid,
		AuthenticityHash: common.Hash(hash).Hex(),
		Owner:            owner,
	}, nil
}

func (r *Registry) RegisterRecord(ctx context.Context, rec domain.Record) (ledger.Pending, error) {
	return r.transact(ctx, "registerCollectible", rec.RFID, [32]byte(AuthenticityHash(rec.AuthenticityHash)), rec.Owner, rec.TokenURI)
}

func (r *Registry) TransferOwnership(ctx context.Context, rfid string, newOwner common.Address) (ledger.Pending, error) {
	return r.transact(ctx, "transferCollectibleOwnership", rfid, newOwner)
}

func (r *Registry) RedeemRecord(ctx context.Context, rfid string) (ledger.Pending, error) {
	return r.transact(ctx, "redeemCollectible", rfid)
}

// AdminAddress reads the registry owner.
func (r *Registry) AdminAddress(ctx context.Context) (common.Address, error) {
	out, err := r.call(ctx, "owner")
	if err != nil {
		return common.Address{}, fmt.Errorf("owner: %w", err)
	}
	return singleAddress("owner", out)
}

func (r *Registry) Operator() common.Address { return r.address }

// Token is the CollectibleNFT client.
type Token struct{ contract }

var _ ledger.Token = (*Token)(nil)

func NewToken(backend Backend, address common.Address, signer Signer) *Token {
	return &Token{newContract(backend, address, nftABI, signer)}
}

func (t *Token) Address() common.Address { return t.address }

func (t *Token) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	out, err := t.call(ctx, "isApprovedForAll", owner, operator)
	if err != nil {
		return false, fmt.Errorf("isApprovedForAll: %w", err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("isApprovedForAll: expected 1 value, got %d", len(out))
	}
	approved, ok := out[0].(bool)
	if !ok {
		return false, errors.New("isApprovedForAll: unexpected return type")
	}
	return approved, nil
}

func (t *Token) SetApprovalForAll(ctx context.Context, operator common.Address, approved bool) (ledger.Pending, error) {
	return t.transact(ctx, "setApprovalForAll", operator, approved)
}

func (t *Token) GetApproved(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	out, err := t.call(ctx, "getApproved", tokenID)
	if err != nil {
		return common.Address{}, fmt.Errorf("getApproved: %w", err)
	}
	return singleAddress("getApproved", out)
}

func (t *Token) Approve(ctx context.Context, to common.Address, tokenID *big.Int) (ledger.Pending, error) {
	return t.transact(ctx, "approve", to, tokenID)
}

// Market is the CollectibleMarket client.
type Market struct{ contract }

var _ ledger.Market = (*Market)(nil)

func NewMarket(backend Backend, address common.Address, signer Signer) *Market {
	return &Market{newContract(backend, address, marketABI, signer)}
}

func (m *Market) Address() common.Address { return m.address }

func (m *Market) ListCollectible(ctx context.Context, nft common.Address, tokenID, price *big.Int) (ledger.Pending, error) {
	return m.transact(ctx, "listCollectible", nft, tokenID, price)
}

func singleAddress(method string, out []any) (common.Address, error) {
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("%s: expected 1 value, got %d", method, len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected return type", method)
	}
	return addr, nil
}
