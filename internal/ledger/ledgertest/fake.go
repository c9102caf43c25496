// Package ledgertest provides an in-memory ledger that records every call,
// for orchestrator tests.
package ledgertest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zjrosen/provenance/internal/domain"
	"github.com/zjrosen/provenance/internal/ledger"
)

// Method names as recorded in Calls.
const (
	GetRecord         = "getRecord"
	RegisterRecord    = "registerRecord"
	TransferOwnership = "transferOwnership"
	RedeemRecord      = "redeemRecord"
	AdminAddress      = "adminAddress"
	IsApprovedForAll  = "isApprovedForAll"
	SetApprovalForAll = "setApprovalForAll"
	GetApproved       = "getApproved"
	Approve           = "approve"
	ListCollectible   = "listCollectible"
)

// Default contract addresses of a new Fake.
var (
	DefaultRegistry = common.HexToAddress("0x1f043010CDD89Fc2d003A997B8385d05A1ef9D0f")
	DefaultToken    = common.HexToAddress("0xd15b59E0A0DBBD47dcEE4577e8AEf73aEd78f046")
	DefaultMarket   = common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f")
)

// Call is one recorded client call.
type Call struct {
	Method string
	Args   []any
}

type hold struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Fake is a ledger with contract-side guards similar to the real registry:
// duplicate registrations, transfers by non-owners or without delegation, and
// redemptions of missing records all revert.
type Fake struct {
	mu       sync.Mutex
	identity ledger.Identity
	admin    common.Address
	registry common.Address
	token    common.Address
	market   common.Address

	records        map[string]domain.Record
	tokenIDs       map[string]*big.Int
	approvals      map[[2]common.Address]bool
	tokenApprovals map[string]common.Address
	listings       []Listing

	calls   []Call
	fail    map[string]error
	revert  map[string]error
	holds   map[string]*hold
	nonce   uint64
	nextTok int64
}

// Listing is a recorded marketplace listing.
type Listing struct {
	NFT     common.Address
	TokenID *big.Int
	Price   *big.Int
	Seller  common.Address
}

// New returns an empty Fake whose writes are authorized by identity.
func New(identity ledger.Identity, admin common.Address) *Fake {
	return &Fake{
		identity:       identity,
		admin:          admin,
		registry:       DefaultRegistry,
		token:          DefaultToken,
		market:         DefaultMarket,
		records:        make(map[string]domain.Record),
		tokenIDs:       make(map[string]*big.Int),
		approvals:      make(map[[2]common.Address]bool),
		tokenApprovals: make(map[string]common.Address),
		fail:           make(map[string]error),
		revert:         make(map[string]error),
		holds:          make(map[string]*hold),
	}
}

// Seed stores a live record without recording a call.
func (f *Fake) Seed(rec domain.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.RFID] = rec
	f.nextTok++
	f.tokenIDs[rec.RFID] = big.NewInt(f.nextTok)
}

// Grant sets a delegation grant without recording a call.
func (f *Fake) Grant(owner, operator common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals[[2]common.Address{owner, operator}] = true
}

// ApproveToken sets a single-token approval without recording a call.
func (f *Fake) ApproveToken(tokenID *big.Int, to common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenApprovals[tokenID.String()] = to
}

// FailOn makes submissions of method return err before anything is sent.
func (f *Fake) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = err
}

// RevertOn makes confirmations of method report err (wrapped ErrReverted when nil).
func (f *Fake) RevertOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = ledger.ErrReverted
	}
	f.revert[method] = err
}

// Hold blocks the next calls to method until release is called. entered
// is closed once a call is parked.
func (f *Fake) Hold(method string) (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	f.holds[method] = h
	var once sync.Once
	return h.entered, func() { once.Do(func() { close(h.release) }) }
}

// Calls returns a copy of every recorded call in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Methods returns the recorded method names in order.
func (f *Fake) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Method
	}
	return out
}

// Count returns how many times method was called.
func (f *Fake) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Record returns the stored record for rfid.
func (f *Fake) Record(rfid string) (domain.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[rfid]
	return rec, ok
}

// TokenID returns the token minted for rfid, or nil.
func (f *Fake) TokenID(rfid string) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id := f.tokenIDs[rfid]; id != nil {
		return new(big.Int).Set(id)
	}
	return nil
}

// Approved reports the stored delegation grant.
func (f *Fake) Approved(owner, operator common.Address) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.approvals[[2]common.Address{owner, operator}]
}

// Listings returns recorded marketplace listings.
func (f *Fake) Listings() []Listing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.listings)
}

// Ledger exposes the fake through the ledger client interfaces.
func (f *Fake) Ledger() *ledger.Ledger {
	return &ledger.Ledger{
		Registry: registryView{f},
		Token:    tokenView{f},
		Market:   marketView{f},
		TokenAt: func(addr common.Address) (ledger.Token, error) {
			if addr != f.token {
				return nil, fmt.Errorf("unknown token contract %s", addr.Hex())
			}
			return tokenView{f}, nil
		},
	}
}

// enter records a call and returns an injected submission error, then parks
// the caller if method is held. Must be called without mu held.
func (f *Fake) enter(method string, args ...any) error {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: method, Args: args})
	err := f.fail[method]
	h := f.holds[method]
	f.mu.Unlock()

	if h != nil {
		h.once.Do(func() { close(h.entered) })
		<-h.release
	}
	return err
}

func (f *Fake) caller(ctx context.Context) (common.Address, error) {
	if f.identity == nil {
		return common.Address{}, fmt.Errorf("no identity configured")
	}
	return f.identity.Address(ctx)
}

// finish must be called with mu held. apply runs only when the write succeeds.
func (f *Fake) finish(method string, guard error, apply func()) ledger.Pending {
	f.nonce++
	hash := txHash(method, f.nonce)
	if err, ok := f.revert[method]; ok {
		return ledger.Failed{TxHash: hash, Err: err}
	}
	if guard != nil {
		return ledger.Failed{TxHash: hash, Err: fmt.Errorf("%w: %v", ledger.ErrReverted, guard)}
	}
	apply()
	return ledger.Confirmed{Receipt: ledger.Receipt{TxHash: hash, BlockNumber: f.nonce, GasUsed: 21000}}
}

func txHash(method string, nonce uint64) common.Hash {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	return common.Hash(sha256.Sum256(append([]byte(method), buf...)))
}

type registryView struct{ f *Fake }

func (r registryView) GetRecord(ctx context.Context, rfid string) (*domain.Record, error) {
	if err := r.f.enter(GetRecord, rfid); err != nil {
		return nil, err
	}
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	rec, ok := r.f.records[rfid]
	if !ok {
		return nil, &domain.RecordNotFoundError{RFID: rfid}
	}
	return &rec, nil
}

func (r registryView) RegisterRecord(ctx context.Context, rec domain.Record) (ledger.Pending, error) {
	if err := r.f.enter(RegisterRecord, rec.RFID, rec.AuthenticityHash, rec.Owner, rec.TokenURI); err != nil {
		return nil, err
	}
	caller, err := r.f.caller(ctx)
	if err != nil {
		return nil, err
	}
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var guard error
	switch {
	case caller != r.f.admin:
		guard = fmt.Errorf("caller is not the admin")
	case r.f.records[rec.RFID].RFID != "":
		guard = fmt.Errorf("rfid already registered")
	}
	return r.f.finish(RegisterRecord, guard, func() {
		r.f.records[rec.RFID] = rec
		r.f.nextTok++
		r.f.tokenIDs[rec.RFID] = big.NewInt(r.f.nextTok)
	}), nil
}

func (r registryView) TransferOwnership(ctx context.Context, rfid string, newOwner common.Address) (ledger.Pending, error) {
	if err := r.f.enter(TransferOwnership, rfid, newOwner); err != nil {
		return nil, err
	}
	caller, err := r.f.caller(ctx)
	if err != nil {
		return nil, err
	}
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	rec, ok := r.f.records[rfid]
	var guard error
	switch {
	case !ok:
		guard = fmt.Errorf("record not found")
	case rec.Owner != caller:
		guard = fmt.Errorf("caller is not the owner")
	case !r.f.approvals[[2]common.Address{caller, r.f.registry}]:
		guard = fmt.Errorf("registry is not approved")
	}
	return r.f.finish(TransferOwnership, guard, func() {
		rec.Owner = newOwner
		r.f.records[rfid] = rec
	}), nil
}

func (r registryView) RedeemRecord(ctx context.Context, rfid string) (ledger.Pending, error) {
	if err := r.f.enter(RedeemRecord, rfid); err != nil {
		return nil, err
	}
	caller, err := r.f.caller(ctx)
	if err != nil {
		return nil, err
	}
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	rec, ok := r.f.records[rfid]
	var guard error
	switch {
	case !ok:
		guard = fmt.Errorf("record not found")
	case rec.Owner != caller:
		guard = fmt.Errorf("caller is not the owner")
	}
	return r.f.finish(RedeemRecord, guard, func() {
		delete(r.f.records, rfid)
	}), nil
}

func (r registryView) AdminAddress(ctx context.Context) (common.Address, error) {
	if err := r.f.enter(AdminAddress); err != nil {
		return common.Address{}, err
	}
	return r.f.admin, nil
}

func (r registryView) Operator() common.Address { return r.f.registry }

type tokenView struct{ f *Fake }

func (t tokenView) Address() common.Address { return t.f.token }

func (t tokenView) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	if err := t.f.enter(IsApprovedForAll, owner, operator); err != nil {
		return false, err
	}
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	return t.f.approvals[[2]common.Address{owner, operator}], nil
}

func (t tokenView) SetApprovalForAll(ctx context.Context, operator common.Address, approved bool) (ledger.Pending, error) {
	if err := t.f.enter(SetApprovalForAll, operator, approved); err != nil {
		return nil, err
	}
	caller, err := t.f.caller(ctx)
	if err != nil {
		return nil, err
	}
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	return t.f.finish(SetApprovalForAll, nil, func() {
		t.f.approvals[[2]common.Address{caller, operator}] = approved
	}), nil
}

func (t tokenView) GetApproved(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	if err := t.f.enter(GetApproved, tokenID); err != nil {
		return common.Address{}, err
	}
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	return t.f.tokenApprovals[tokenID.String()], nil
}

func (t tokenView) Approve(ctx context.Context, to common.Address, tokenID *big.Int) (ledger.Pending, error) {
	if err := t.f.enter(Approve, to, tokenID); err != nil {
		return nil, err
	}
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	return t.f.finish(Approve, nil, func() {
		t.f.tokenApprovals[tokenID.String()] = to
	}), nil
}

type marketView struct{ f *Fake }

func (m marketView) Address() common.Address { return m.f.market }

func (m marketView) ListCollectible(ctx context.Context, nft common.Address, tokenID, price *big.Int) (ledger.Pending, error) {
	if err := m.f.enter(ListCollectible, nft, tokenID, price); err != nil {
		return nil, err
	}
	caller, err := m.f.caller(ctx)
	if err != nil {
		return nil, err
	}
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	var guard error
	if m.f.tokenApprovals[tokenID.String()] != m.f.market {
		guard = fmt.Errorf("market is not approved for token %s", tokenID)
	}
	return m.f.finish(ListCollectible, guard, func() {
		m.f.listings = append(m.f.listings, Listing{NFT: nft, TokenID: tokenID, Price: price, Seller: caller})
	}), nil
}

// StaticIdentity is an Identity with a fixed, switchable address.
type StaticIdentity struct {
	mu   sync.Mutex
	addr common.Address
	err  error
}

// NewIdentity returns an identity resolving to addr.
func NewIdentity(addr common.Address) *StaticIdentity {
	return &StaticIdentity{addr: addr}
}

// Set switches the resolved address.
func (s *StaticIdentity) Set(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr = addr
}

// FailWith makes Address return err.
func (s *StaticIdentity) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticIdentity) Address(context.Context) (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr, s.err
}
