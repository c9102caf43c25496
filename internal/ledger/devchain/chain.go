// Package devchain is a local ledger backed by SQLite. It applies writes
// synchronously and enforces the registry, token and market rules a deployed
// contract set would: only the admin registers, rfids are unique forever,
// transfers need the owner's operator grant and listings need the market's
// token approval. Rejected writes are mined as reverted transactions.
package devchain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zjrosen/provenance/internal/domain"
	"github.com/zjrosen/provenance/internal/infrastructure/sqlite"
	"github.com/zjrosen/provenance/internal/ledger"
	"github.com/zjrosen/provenance/internal/log"
)

// Contract addresses used when none are configured.
var (
	DefaultRegistry = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	DefaultToken    = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	DefaultMarket   = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
)

const metaAdmin = "admin"

// Gas charged per simulated write.
const gasPerWrite = 52_000

// Revert reasons.
var (
	errNotAdmin            = errors.New("caller is not the registry admin")
	errAlreadyRegistered   = errors.New("collectible already registered")
	errUnknownCollectible  = errors.New("collectible does not exist")
	errNotOwner            = errors.New("caller is not the collectible owner")
	errOperatorNotApproved = errors.New("registry is not approved for owner")
	errMarketNotApproved   = errors.New("market is not approved for token")
	errUnknownCollection   = errors.New("nft contract is not listed on this market")
	errNotAuthorized       = errors.New("caller is not owner nor approved operator")
)

// Config selects the simulated contract addresses and the admin.
type Config struct {
	Registry common.Address
	Token    common.Address
	Market   common.Address
	// Admin is stored on first open. When zero, the identity active at
	// first open becomes admin.
	Admin common.Address
}

func (c Config) withDefaults() Config {
	if c.Registry == (common.Address{}) {
		c.Registry = DefaultRegistry
	}
	if c.Token == (common.Address{}) {
		c.Token = DefaultToken
	}
	if c.Market == (common.Address{}) {
		c.Market = DefaultMarket
	}
	return c
}

// Chain implements ledger.Registry, ledger.Token and ledger.Market.
type Chain struct {
	repo     *sqlite.ChainRepository
	identity ledger.Identity
	cfg      Config

	// Serializes writes so block numbers are assigned in order.
	mu sync.Mutex
}

var (
	_ ledger.Registry = registry{}
	_ ledger.Token    = token{}
	_ ledger.Market   = market{}
)

// New wraps an already migrated repository.
func New(ctx context.Context, repo *sqlite.ChainRepository, identity ledger.Identity, cfg Config) (*Chain, error) {
	c := &Chain{repo: repo, identity: identity, cfg: cfg.withDefaults()}
	if err := c.ensureAdmin(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Open opens the database at path and returns the chain as a ledger bundle.
func Open(ctx context.Context, path string, identity ledger.Identity, cfg Config) (*ledger.Ledger, error) {
	db, err := sqlite.NewDB(path)
	if err != nil {
		return nil, err
	}
	c, err := New(ctx, db.ChainRepository(), identity, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	l := c.Ledger()
	l.Close = db.Close
	return l, nil
}

// Ledger returns client views over the chain.
func (c *Chain) Ledger() *ledger.Ledger {
	tok := token{c}
	return &ledger.Ledger{
		Registry: registry{c},
		Token:    tok,
		Market:   market{c},
		TokenAt: func(addr common.Address) (ledger.Token, error) {
			if addr != c.cfg.Token {
				return nil, fmt.Errorf("%w: no token contract at %s", ledger.ErrUnsupported, addr.Hex())
			}
			return tok, nil
		},
	}
}

func (c *Chain) ensureAdmin(ctx context.Context) error {
	return c.repo.Update(ctx, func(tx *sqlite.ChainTx) error {
		if _, err := tx.Meta(metaAdmin); err == nil {
			return nil
		} else if !errors.Is(err, sqlite.ErrNotFound) {
			return err
		}
		admin := c.cfg.Admin
		if admin == (common.Address{}) {
			if c.identity == nil {
				return fmt.Errorf("devchain: no admin configured and no identity to deploy with")
			}
			addr, err := c.identity.Address(ctx)
			if err != nil {
				return fmt.Errorf("devchain: resolve deployer: %w", err)
			}
			admin = addr
		}
		log.Info(log.CatLedger, "devchain admin set", "admin", admin.Hex())
		return tx.SetMeta(metaAdmin, admin.Hex())
	})
}

func (c *Chain) sender(ctx context.Context) (common.Address, error) {
	if c.identity == nil {
		return common.Address{}, fmt.Errorf("devchain: no signer")
	}
	return c.identity.Address(ctx)
}

// revertError marks a guard failure so submit can mine a reverted tx.
type revertError struct{ reason error }

func (e *revertError) Error() string { return e.reason.Error() }

// submit mines one transaction. apply runs the contract guards and state
// changes for sender in a single database transaction; a guard failure is
// returned through revert and mined as a reverted transaction.
func (c *Chain) submit(ctx context.Context, method string, args []byte, apply func(tx *sqlite.ChainTx, sender common.Address) error) (ledger.Pending, error) {
	sender, err := c.sender(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		hash  common.Hash
		block uint64
	)
	err = c.repo.Update(ctx, func(tx *sqlite.ChainTx) error {
		n, err := tx.NextBlock()
		if err != nil {
			return err
		}
		block = n
		hash = txHash(method, sender, n, args)
		if err := apply(tx, sender); err != nil {
			return err
		}
		return tx.InsertTransaction(&sqlite.TransactionModel{
			Hash: hash.Hex(), BlockNumber: n, Method: method, Sender: sender.Hex(), Succeeded: true,
		})
	})

	var rev *revertError
	switch {
	case errors.As(err, &rev):
		reason := rev.reason.Error()
		mineErr := c.repo.Update(ctx, func(tx *sqlite.ChainTx) error {
			return tx.InsertTransaction(&sqlite.TransactionModel{
				Hash: hash.Hex(), BlockNumber: block, Method: method, Sender: sender.Hex(), Error: &reason,
			})
		})
		if mineErr != nil {
			return nil, mineErr
		}
		log.Debug(log.CatLedger, "devchain tx reverted", "method", method, "tx", hash.Hex(), "reason", reason)
		return ledger.Failed{TxHash: hash, Err: fmt.Errorf("%w: %s", ledger.ErrReverted, reason)}, nil
	case err != nil:
		return nil, err
	}

	log.Debug(log.CatLedger, "devchain tx mined", "method", method, "tx", hash.Hex(), "block", block)
	return ledger.Confirmed{Receipt: ledger.Receipt{TxHash: hash, BlockNumber: block, GasUsed: gasPerWrite}}, nil
}

func revert(reason error) error { return &revertError{reason: reason} }

func txHash(method string, sender common.Address, block uint64, args []byte) common.Hash {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, block)
	return crypto.Keccak256Hash([]byte(method), sender.Bytes(), buf, args)
}

// liveRecord loads rfid, reverting when it is missing or redeemed.
func liveRecord(tx *sqlite.ChainTx, rfid string) (*sqlite.RecordModel, error) {
	m, err := tx.Record(rfid)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, revert(errUnknownCollectible)
	}
	if err != nil {
		return nil, err
	}
	if m.Redeemed() {
		return nil, revert(errUnknownCollectible)
	}
	return m, nil
}

func toDomain(m *sqlite.RecordModel) *domain.Record {
	return &domain.Record{
		RFID:             m.RFID,
		AuthenticityHash: m.AuthenticityHash,
		Owner:            common.HexToAddress(m.Owner),
		TokenURI:         m.TokenURI,
	}
}

type registry struct{ c *Chain }

func (r registry) GetRecord(ctx context.Context, rfid string) (*domain.Record, error) {
	var rec *domain.Record
	err := r.c.repo.View(ctx, func(tx *sqlite.ChainTx) error {
		m, err := tx.Record(rfid)
		if errors.Is(err, sqlite.ErrNotFound) || (err == nil && m.Redeemed()) {
			return &domain.RecordNotFoundError{RFID: rfid}
		}
		if err != nil {
			return err
		}
		rec = toDomain(m)
		return nil
	})
	return rec, err
}

func (r registry) RegisterRecord(ctx context.Context, rec domain.Record) (ledger.Pending, error) {
	args := []byte(rec.RFID + rec.AuthenticityHash + rec.Owner.Hex() + rec.TokenURI)
	return r.c.submit(ctx, "registerCollectible", args, func(tx *sqlite.ChainTx, sender common.Address) error {
		admin, err := tx.Meta(metaAdmin)
		if err != nil {
			return err
		}
		if common.HexToAddress(admin) != sender {
			return revert(errNotAdmin)
		}
		if _, err := tx.Record(rec.RFID); err == nil {
			return revert(errAlreadyRegistered)
		} else if !errors.Is(err, sqlite.ErrNotFound) {
			return err
		}
		return tx.InsertRecord(&sqlite.RecordModel{
			RFID:             rec.RFID,
			AuthenticityHash: rec.AuthenticityHash,
			Owner:            rec.Owner.Hex(),
			TokenURI:         rec.TokenURI,
		})
	})
}

func (r registry) TransferOwnership(ctx context.Context, rfid string, newOwner common.Address) (ledger.Pending, error) {
	return r.c.submit(ctx, "transferCollectibleOwnership", []byte(rfid+newOwner.Hex()), func(tx *sqlite.ChainTx, sender common.Address) error {
		m, err := liveRecord(tx, rfid)
		if err != nil {
			return err
		}
		owner := common.HexToAddress(m.Owner)
		if owner != sender {
			return revert(errNotOwner)
		}
		approved, err := tx.OperatorApproved(owner.Hex(), r.c.cfg.Registry.Hex())
		if err != nil {
			return err
		}
		if !approved {
			return revert(errOperatorNotApproved)
		}
		if err := tx.ClearTokenApproval(m.TokenID); err != nil {
			return err
		}
		return tx.SetOwner(rfid, newOwner.Hex())
	})
}

func (r registry) RedeemRecord(ctx context.Context, rfid string) (ledger.Pending, error) {
	return r.c.submit(ctx, "redeemCollectible", []byte(rfid), func(tx *sqlite.ChainTx, sender common.Address) error {
		m, err := liveRecord(tx, rfid)
		if err != nil {
			return err
		}
		if common.HexToAddress(m.Owner) != sender {
			return revert(errNotOwner)
		}
		return tx.MarkRedeemed(rfid)
	})
}

func (r registry) AdminAddress(ctx context.Context) (common.Address, error) {
	var admin common.Address
	err := r.c.repo.View(ctx, func(tx *sqlite.ChainTx) error {
		v, err := tx.Meta(metaAdmin)
		if err != nil {
			return err
		}
		admin = common.HexToAddress(v)
		return nil
	})
	return admin, err
}

func (r registry) Operator() common.Address { return r.c.cfg.Registry }

// TokenID returns the token minted for a live rfid.
func (c *Chain) TokenID(ctx context.Context, rfid string) (*big.Int, error) {
	var id *big.Int
	err := c.repo.View(ctx, func(tx *sqlite.ChainTx) error {
		m, err := tx.Record(rfid)
		if errors.Is(err, sqlite.ErrNotFound) || (err == nil && m.Redeemed()) {
			return &domain.RecordNotFoundError{RFID: rfid}
		}
		if err != nil {
			return err
		}
		id = big.NewInt(m.TokenID)
		return nil
	})
	return id, err
}

type token struct{ c *Chain }

func (t token) Address() common.Address { return t.c.cfg.Token }

func (t token) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	var approved bool
	err := t.c.repo.View(ctx, func(tx *sqlite.ChainTx) error {
		var err error
		approved, err = tx.OperatorApproved(owner.Hex(), operator.Hex())
		return err
	})
	return approved, err
}

func (t token) SetApprovalForAll(ctx context.Context, operator common.Address, approved bool) (ledger.Pending, error) {
	args := append(operator.Bytes(), boolByte(approved))
	return t.c.submit(ctx, "setApprovalForAll", args, func(tx *sqlite.ChainTx, sender common.Address) error {
		return tx.SetOperatorApproval(sender.Hex(), operator.Hex(), approved)
	})
}

func (t token) GetApproved(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	var approved common.Address
	err := t.c.repo.View(ctx, func(tx *sqlite.ChainTx) error {
		m, err := recordByTokenID(tx, tokenID)
		if errors.Is(err, sqlite.ErrNotFound) || (err == nil && m.Redeemed()) {
			return fmt.Errorf("%w: token %s", errUnknownCollectible, tokenID)
		}
		if err != nil {
			return err
		}
		v, err := tx.TokenApproval(m.TokenID)
		if err != nil {
			return err
		}
		if v != "" {
			approved = common.HexToAddress(v)
		}
		return nil
	})
	return approved, err
}

func (t token) Approve(ctx context.Context, to common.Address, tokenID *big.Int) (ledger.Pending, error) {
	return t.c.submit(ctx, "approve", append(to.Bytes(), tokenID.Bytes()...), func(tx *sqlite.ChainTx, sender common.Address) error {
		m, err := recordByTokenID(tx, tokenID)
		if errors.Is(err, sqlite.ErrNotFound) || (err == nil && m.Redeemed()) {
			return revert(errUnknownCollectible)
		}
		if err != nil {
			return err
		}
		owner := common.HexToAddress(m.Owner)
		if owner != sender {
			operator, err := tx.OperatorApproved(owner.Hex(), sender.Hex())
			if err != nil {
				return err
			}
			if !operator {
				return revert(errNotAuthorized)
			}
		}
		return tx.SetTokenApproval(m.TokenID, to.Hex())
	})
}

type market struct{ c *Chain }

func (m market) Address() common.Address { return m.c.cfg.Market }

func (m market) ListCollectible(ctx context.Context, nft common.Address, tokenID, price *big.Int) (ledger.Pending, error) {
	args := append(append(nft.Bytes(), tokenID.Bytes()...), price.Bytes()...)
	return m.c.submit(ctx, "listCollectible", args, func(tx *sqlite.ChainTx, sender common.Address) error {
		if nft != m.c.cfg.Token {
			return revert(errUnknownCollection)
		}
		rec, err := recordByTokenID(tx, tokenID)
		if errors.Is(err, sqlite.ErrNotFound) || (err == nil && rec.Redeemed()) {
			return revert(errUnknownCollectible)
		}
		if err != nil {
			return err
		}
		if common.HexToAddress(rec.Owner) != sender {
			return revert(errNotOwner)
		}
		approved, err := tx.TokenApproval(rec.TokenID)
		if err != nil {
			return err
		}
		if approved == "" || common.HexToAddress(approved) != m.c.cfg.Market {
			return revert(errMarketNotApproved)
		}
		return tx.InsertListing(&sqlite.ListingModel{
			NFT:     nft.Hex(),
			TokenID: rec.TokenID,
			Price:   price.String(),
			Seller:  sender.Hex(),
		})
	})
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// recordByTokenID looks up a minted token. Ids outside int64 were never
// minted here and report ErrNotFound rather than aliasing a smaller id.
func recordByTokenID(tx *sqlite.ChainTx, tokenID *big.Int) (*sqlite.RecordModel, error) {
	if tokenID == nil || !tokenID.IsInt64() {
		return nil, sqlite.ErrNotFound
	}
	return tx.RecordByTokenID(tokenID.Int64())
}
