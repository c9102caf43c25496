package handler

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pgregory.net/rapid"

	"github.com/zjrosen/provenance/internal/audit"
	"github.com/zjrosen/provenance/internal/domain"
	"github.com/zjrosen/provenance/internal/ledger"
	"github.com/zjrosen/provenance/internal/ledger/ledgertest"
	"github.com/zjrosen/provenance/internal/orchestration/command"
	"github.com/zjrosen/provenance/internal/orchestration/tracing"
	"github.com/zjrosen/provenance/internal/orchestration/types"
)

// ===========================================================================
// Test Helpers
// ===========================================================================

const (
	testRFID     = "1a2b3c4d5e6f789"
	testURI      = "ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	testHash     = "sha256:9f86d081884c7d659a2feaa0c55ad015"
	testPrice    = "12.5"
	testPriceRaw = 12_500_000
)

var (
	adminAddr = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	aliceAddr = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bobAddr   = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

type env struct {
	fake     *ledgertest.Fake
	identity *ledgertest.StaticIdentity
	ledger   *ledger.Ledger
	audit    *recordingLogger
}

func newEnv(t *testing.T, signer common.Address) *env {
	t.Helper()
	id := ledgertest.NewIdentity(signer)
	fake := ledgertest.New(id, adminAddr)
	return &env{fake: fake, identity: id, ledger: fake.Ledger(), audit: &recordingLogger{}}
}

// seed stores a record for testRFID owned by owner and returns its token id.
func (e *env) seed(owner common.Address) *big.Int {
	e.fake.Seed(domain.Record{RFID: testRFID, AuthenticityHash: testHash, Owner: owner, TokenURI: testURI})
	return e.fake.TokenID(testRFID)
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (r *recordingLogger) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return r.err
}

func (r *recordingLogger) Entries() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

func registerCmd(owner string) *command.RegisterCommand {
	return command.NewRegisterCommand(command.SourceCLI, domain.RegistrationRequest{
		RFID:             testRFID,
		AuthenticityHash: testHash,
		Owner:            owner,
		TokenURI:         testURI,
	})
}

func transferCmd(newOwner string) *command.TransferCommand {
	return command.NewTransferCommand(command.SourceCLI, domain.TransferRequest{RFID: testRFID, NewOwner: newOwner})
}

func redeemCmd(rfid string) *command.RedeemCommand {
	return command.NewRedeemCommand(command.SourceCLI, domain.RedemptionRequest{RFID: rfid})
}

func listCmd(tokenID *big.Int) *command.ListCommand {
	return command.NewListCommand(command.SourceCLI, domain.ListingRequest{
		NFT:     ledgertest.DefaultToken.Hex(),
		TokenID: tokenID.String(),
		Price:   testPrice,
	})
}

func setupTestTracer(t *testing.T) (Option, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return WithTracer(provider.Tracer("test")), recorder
}

func endedSpan(t *testing.T, recorder *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range recorder.Ended() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("span %q not recorded", name)
	return nil
}

func eventNames(span sdktrace.ReadOnlySpan) []string {
	var names []string
	for _, ev := range span.Events() {
		names = append(names, ev.Name)
	}
	return names
}

// ===========================================================================
// Construction
// ===========================================================================

func TestNewBase_PanicsWithoutIdentity(t *testing.T) {
	require.Panics(t, func() {
		NewRedeemHandler(ledgertest.New(nil, adminAddr).Ledger().Registry, nil)
	})
}

// ===========================================================================
// Register
// ===========================================================================

func TestRegister_Success(t *testing.T) {
	e := newEnv(t, adminAddr)
	h := NewRegisterHandler(e.ledger.Registry, e.identity, WithAuditLogger(e.audit))

	result, err := h.Handle(context.Background(), registerCmd(aliceAddr.Hex()))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, []string{StepValidate, StepResolveSigner, StepCheckDuplicate, StepRegister, StepAudit}, result.Steps)

	data := result.Data.(*RegisterResult)
	require.Equal(t, testRFID, data.RFID)
	require.Equal(t, adminAddr.Hex(), data.Signer)
	require.NotEqual(t, common.Hash{}, data.TxHash)
	require.NotZero(t, data.BlockNumber)

	require.Equal(t, []string{ledgertest.GetRecord, ledgertest.RegisterRecord}, e.fake.Methods())
	rec, ok := e.fake.Record(testRFID)
	require.True(t, ok)
	require.Equal(t, aliceAddr, rec.Owner)

	entries := e.audit.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, audit.ActionRegister, entries[0].Action)
	require.Equal(t, testRFID, entries[0].RFID)
	require.Equal(t, adminAddr.Hex(), entries[0].User)
	require.Equal(t, map[string]any{
		"newOwner":         aliceAddr.Hex(),
		"tokenURI":         testURI,
		"authenticityHash": testHash,
	}, entries[0].Fields)
}

func TestRegister_InvalidInputMakesNoLedgerCalls(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*domain.RegistrationRequest)
		field string
	}{
		{"short rfid", func(r *domain.RegistrationRequest) { r.RFID = "1a2b3c" }, "rfid"},
		{"non-hex rfid", func(r *domain.RegistrationRequest) { r.RFID = "1a2b3c4d5e6f78z" }, "rfid"},
		{"owner without prefix", func(r *domain.RegistrationRequest) { r.Owner = aliceAddr.Hex()[2:] }, "owner"},
		{"short token uri", func(r *domain.RegistrationRequest) { r.TokenURI = "ipfs://Qm123" }, "tokenURI"},
		{"http token uri", func(r *domain.RegistrationRequest) { r.TokenURI = "https://example.com/meta.json" }, "tokenURI"},
		{"empty hash", func(r *domain.RegistrationRequest) { r.AuthenticityHash = "" }, "authenticityHash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, adminAddr)
			h := NewRegisterHandler(e.ledger.Registry, e.identity, WithAuditLogger(e.audit))

			cmd := registerCmd(aliceAddr.Hex())
			tt.mut(&cmd.Request)

			_, err := h.Handle(context.Background(), cmd)
			require.ErrorIs(t, err, types.ErrValidation)
			var verr *types.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tt.field, verr.Field)
			require.Empty(t, e.fake.Calls())
			require.Empty(t, e.audit.Entries())
		})
	}
}

func TestRegister_AlreadyRegistered(t *testing.T) {
	e := newEnv(t, adminAddr)
	e.seed(bobAddr)
	h := NewRegisterHandler(e.ledger.Registry, e.identity, WithAuditLogger(e.audit))

	_, err := h.Handle(context.Background(), registerCmd(aliceAddr.Hex()))
	require.ErrorIs(t, err, types.ErrAlreadyRegistered)
	require.ErrorIs(t, err, types.ErrPrecondition)
	require.Equal(t, types.ClassPrecondition, types.Classify(err))
	require.Zero(t, e.fake.Count(ledgertest.RegisterRecord))
	require.Empty(t, e.audit.Entries())

	rec, _ := e.fake.Record(testRFID)
	require.Equal(t, bobAddr, rec.Owner)
}

func TestRegister_UnreadableRecord(t *testing.T) {
	e := newEnv(t, adminAddr)
	rpcErr := errors.New("dial tcp 127.0.0.1:8545: connection refused")
	e.fake.FailOn(ledgertest.GetRecord, rpcErr)
	h := NewRegisterHandler(e.ledger.Registry, e.identity)

	_, err := h.Handle(context.Background(), registerCmd(aliceAddr.Hex()))
	require.ErrorIs(t, err, types.ErrRecordUnreadable)
	require.ErrorIs(t, err, rpcErr)
	require.Zero(t, e.fake.Count(ledgertest.RegisterRecord))
}

func TestRegister_RevertBecomesSubmissionError(t *testing.T) {
	// Only the admin may register; the fake reverts anyone else.
	e := newEnv(t, aliceAddr)
	h := NewRegisterHandler(e.ledger.Registry, e.identity, WithAuditLogger(e.audit))

	_, err := h.Handle(context.Background(), registerCmd(aliceAddr.Hex()))
	require.ErrorIs(t, err, types.ErrLedgerSubmission)
	require.ErrorIs(t, err, ledger.ErrReverted)
	var serr *types.SubmissionError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, StepRegister, serr.Step)
	require.Empty(t, e.audit.Entries())

	_, ok := e.fake.Record(testRFID)
	require.False(t, ok)
}

func TestRegister_RefusedSubmission(t *testing.T) {
	e := newEnv(t, adminAddr)
	e.fake.FailOn(ledgertest.RegisterRecord, errors.New("insufficient funds for gas"))
	h := NewRegisterHandler(e.ledger.Registry, e.identity)

	_, err := h.Handle(context.Background(), registerCmd(aliceAddr.Hex()))
	var serr *types.SubmissionError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, StepRegister, serr.Step)
	require.EqualError(t, types.Cause(err), "insufficient funds for gas")
}

func TestRegister_NoSigner(t *testing.T) {
	t.Run("identity error", func(t *testing.T) {
		e := newEnv(t, adminAddr)
		e.identity.FailWith(errors.New("wallet locked"))
		h := NewRegisterHandler(e.ledger.Registry, e.identity)

		_, err := h.Handle(context.Background(), registerCmd(aliceAddr.Hex()))
		require.ErrorIs(t, err, types.ErrNoSigner)
		require.Empty(t, e.fake.Calls())
	})

	t.Run("zero address", func(t *testing.T) {
		e := newEnv(t, common.Address{})
		h := NewRegisterHandler(e.ledger.Registry, e.identity)

		_, err := h.Handle(context.Background(), registerCmd(aliceAddr.Hex()))
		require.ErrorIs(t, err, types.ErrNoSigner)
		require.Empty(t, e.fake.Calls())
	})
}

func TestRegister_SignerResolvedPerInvocation(t *testing.T) {
	e := newEnv(t, aliceAddr)
	h := NewRegisterHandler(e.ledger.Registry, e.identity)

	_, err := h.Handle(context.Background(), registerCmd(aliceAddr.Hex()))
	require.ErrorIs(t, err, types.ErrLedgerSubmission)

	e.identity.Set(adminAddr)
	result, err := h.Handle(context.Background(), registerCmd(aliceAddr.Hex()))
	require.NoError(t, err)
	require.Equal(t, adminAddr.Hex(), result.Data.(*RegisterResult).Signer)
}

// ===========================================================================
// Transfer
// ===========================================================================

func TestTransfer_GrantsApprovalThenTransfers(t *testing.T) {
	e := newEnv(t, aliceAddr)
	e.seed(aliceAddr)
	h := NewTransferHandler(e.ledger.Registry, e.ledger.Token, e.identity, WithAuditLogger(e.audit))

	result, err := h.Handle(context.Background(), transferCmd(bobAddr.Hex()))
	require.NoError(t, err)
	require.Equal(t, []string{
		ledgertest.GetRecord,
		ledgertest.IsApprovedForAll,
		ledgertest.SetApprovalForAll,
		ledgertest.TransferOwnership,
	}, e.fake.Methods())
	require.Equal(t, []string{
		StepValidate, StepResolveSigner, StepVerifyOwner, StepCheckApproval,
		StepGrantApproval, StepTransfer, StepAudit,
	}, result.Steps)

	data := result.Data.(*TransferResult)
	require.True(t, data.ApprovalGranted)
	require.NotNil(t, data.ApprovalTxHash)
	require.NotEqual(t, *data.ApprovalTxHash, data.TxHash)
	require.Equal(t, aliceAddr.Hex(), data.From)
	require.Equal(t, bobAddr.Hex(), data.To)

	require.True(t, e.fake.Approved(aliceAddr, ledgertest.DefaultRegistry))
	rec, _ := e.fake.Record(testRFID)
	require.Equal(t, bobAddr, rec.Owner)

	entries := e.audit.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, audit.ActionTransfer, entries[0].Action)
	require.Equal(t, map[string]any{"newOwner": bobAddr.Hex()}, entries[0].Fields)
}

func TestTransfer_SkipsGrantWhenAlreadyApproved(t *testing.T) {
	e := newEnv(t, aliceAddr)
	e.seed(aliceAddr)
	e.fake.Grant(aliceAddr, ledgertest.DefaultRegistry)
	tracer, recorder := setupTestTracer(t)
	h := NewTransferHandler(e.ledger.Registry, e.ledger.Token, e.identity, tracer)

	result, err := h.Handle(context.Background(), transferCmd(bobAddr.Hex()))
	require.NoError(t, err)
	require.Zero(t, e.fake.Count(ledgertest.SetApprovalForAll))
	require.NotContains(t, result.Steps, StepGrantApproval)

	data := result.Data.(*TransferResult)
	require.False(t, data.ApprovalGranted)
	require.Nil(t, data.ApprovalTxHash)

	span := endedSpan(t, recorder, tracing.SpanPrefixSaga+"transfer")
	require.Contains(t, eventNames(span), tracing.EventStepSkipped)
}

func TestTransfer_NotOwner(t *testing.T) {
	e := newEnv(t, aliceAddr)
	e.seed(bobAddr)
	h := NewTransferHandler(e.ledger.Registry, e.ledger.Token, e.identity, WithAuditLogger(e.audit))

	_, err := h.Handle(context.Background(), transferCmd(adminAddr.Hex()))
	require.ErrorIs(t, err, types.ErrNotOwner)

	var perr *types.PreconditionError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, aliceAddr.Hex(), perr.Expected)
	require.Equal(t, bobAddr.Hex(), perr.Actual)

	require.Equal(t, []string{ledgertest.GetRecord}, e.fake.Methods())
	require.Empty(t, e.audit.Entries())
}

func TestTransfer_MissingRecordIsUnreadable(t *testing.T) {
	e := newEnv(t, aliceAddr)
	h := NewTransferHandler(e.ledger.Registry, e.ledger.Token, e.identity)

	_, err := h.Handle(context.Background(), transferCmd(bobAddr.Hex()))
	require.ErrorIs(t, err, types.ErrRecordUnreadable)
	require.ErrorIs(t, err, domain.ErrRecordNotFound)
	require.Equal(t, []string{ledgertest.GetRecord}, e.fake.Methods())
}

func TestTransfer_ValidationOrder(t *testing.T) {
	tests := []struct {
		name     string
		rfid     string
		newOwner string
		field    string
	}{
		{"both empty reports rfid", "", "", "rfid"},
		{"empty owner before bad rfid", "zz", "", "newOwner"},
		{"bad rfid", "zz", bobAddr.Hex(), "rfid"},
		{"bad owner", testRFID, "0x1234", "newOwner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, aliceAddr)
			h := NewTransferHandler(e.ledger.Registry, e.ledger.Token, e.identity)

			cmd := command.NewTransferCommand(command.SourceCLI, domain.TransferRequest{RFID: tt.rfid, NewOwner: tt.newOwner})
			_, err := h.Handle(context.Background(), cmd)
			var verr *types.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tt.field, verr.Field)
			require.Empty(t, e.fake.Calls())
		})
	}
}

func TestTransfer_ApprovalReadError(t *testing.T) {
	e := newEnv(t, aliceAddr)
	e.seed(aliceAddr)
	e.fake.FailOn(ledgertest.IsApprovedForAll, errors.New("execution reverted"))
	h := NewTransferHandler(e.ledger.Registry, e.ledger.Token, e.identity)

	_, err := h.Handle(context.Background(), transferCmd(bobAddr.Hex()))
	var serr *types.SubmissionError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, StepCheckApproval, serr.Step)
	require.Zero(t, e.fake.Count(ledgertest.SetApprovalForAll))
	require.Zero(t, e.fake.Count(ledgertest.TransferOwnership))
}

func TestTransfer_GrantFailureStopsBeforeTransfer(t *testing.T) {
	e := newEnv(t, aliceAddr)
	e.seed(aliceAddr)
	e.fake.RevertOn(ledgertest.SetApprovalForAll, nil)
	h := NewTransferHandler(e.ledger.Registry, e.ledger.Token, e.identity)

	_, err := h.Handle(context.Background(), transferCmd(bobAddr.Hex()))
	var serr *types.SubmissionError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, StepGrantApproval, serr.Step)
	require.Zero(t, e.fake.Count(ledgertest.TransferOwnership))
}

func TestTransfer_GrantSurvivesFailedTransfer(t *testing.T) {
	e := newEnv(t, aliceAddr)
	e.seed(aliceAddr)
	e.fake.RevertOn(ledgertest.TransferOwnership, nil)
	h := NewTransferHandler(e.ledger.Registry, e.ledger.Token, e.identity, WithAuditLogger(e.audit))

	_, err := h.Handle(context.Background(), transferCmd(bobAddr.Hex()))
	var serr *types.SubmissionError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, StepTransfer, serr.Step)

	require.True(t, e.fake.Approved(aliceAddr, ledgertest.DefaultRegistry))
	rec, _ := e.fake.Record(testRFID)
	require.Equal(t, aliceAddr, rec.Owner)
	require.Empty(t, e.audit.Entries())

	// A retry finds the grant in place and does not submit it again.
	_, _ = h.Handle(context.Background(), transferCmd(bobAddr.Hex()))
	require.Equal(t, 1, e.fake.Count(ledgertest.SetApprovalForAll))
}

func TestTransfer_ApprovalProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		approved := rapid.Bool().Draw(rt, "approved")
		ownerMatches := rapid.Bool().Draw(rt, "ownerMatches")

		id := ledgertest.NewIdentity(aliceAddr)
		fake := ledgertest.New(id, adminAddr)
		owner := bobAddr
		if ownerMatches {
			owner = aliceAddr
		}
		fake.Seed(domain.Record{RFID: testRFID, AuthenticityHash: testHash, Owner: owner, TokenURI: testURI})
		if approved {
			fake.Grant(aliceAddr, ledgertest.DefaultRegistry)
		}
		l := fake.Ledger()
		h := NewTransferHandler(l.Registry, l.Token, id)

		_, err := h.Handle(context.Background(), transferCmd(adminAddr.Hex()))

		if !ownerMatches {
			require.ErrorIs(rt, err, types.ErrNotOwner)
			require.Zero(rt, fake.Count(ledgertest.TransferOwnership))
			require.Zero(rt, fake.Count(ledgertest.IsApprovedForAll))
			return
		}
		require.NoError(rt, err)
		wantGrants := 0
		if !approved {
			wantGrants = 1
		}
		require.Equal(rt, wantGrants, fake.Count(ledgertest.SetApprovalForAll))
		require.Equal(rt, 1, fake.Count(ledgertest.TransferOwnership))
	})
}

// ===========================================================================
// Redeem
// ===========================================================================

func TestRedeem_Success(t *testing.T) {
	e := newEnv(t, aliceAddr)
	e.seed(aliceAddr)
	h := NewRedeemHandler(e.ledger.Registry, e.identity, WithAuditLogger(e.audit))

	result, err := h.Handle(context.Background(), redeemCmd(testRFID))
	require.NoError(t, err)
	require.Equal(t, []string{ledgertest.RedeemRecord}, e.fake.Methods())
	require.Equal(t, aliceAddr.Hex(), result.Data.(*RedeemResult).Signer)

	_, ok := e.fake.Record(testRFID)
	require.False(t, ok)

	entries := e.audit.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, audit.ActionRedeem, entries[0].Action)
	require.Empty(t, entries[0].Fields)
}

func TestRedeem_LedgerEnforcesOwnership(t *testing.T) {
	e := newEnv(t, aliceAddr)
	e.seed(bobAddr)
	h := NewRedeemHandler(e.ledger.Registry, e.identity, WithAuditLogger(e.audit))

	_, err := h.Handle(context.Background(), redeemCmd(testRFID))
	var serr *types.SubmissionError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, StepRedeem, serr.Step)
	require.ErrorIs(t, err, ledger.ErrReverted)

	// No client-side read precedes the write.
	require.Equal(t, []string{ledgertest.RedeemRecord}, e.fake.Methods())
	require.Empty(t, e.audit.Entries())
}

func TestRedeem_OnlyRejectsEmptyRFID(t *testing.T) {
	e := newEnv(t, aliceAddr)
	h := NewRedeemHandler(e.ledger.Registry, e.identity)

	_, err := h.Handle(context.Background(), redeemCmd(""))
	require.ErrorIs(t, err, types.ErrValidation)
	require.Empty(t, e.fake.Calls())

	// A malformed rfid reaches the ledger, which rejects it.
	_, err = h.Handle(context.Background(), redeemCmd("not-an-rfid"))
	require.ErrorIs(t, err, types.ErrLedgerSubmission)
	require.Equal(t, 1, e.fake.Count(ledgertest.RedeemRecord))
}

func TestRedeem_AlreadyRedeemedFailsAndKeepsLocalState(t *testing.T) {
	e := newEnv(t, aliceAddr)
	e.seed(aliceAddr)
	ctx := context.Background()
	snapshots := ledger.NewSnapshotCache(e.ledger.Registry, time.Minute)
	h := NewRedeemHandler(e.ledger.Registry, e.identity, WithAuditLogger(e.audit), WithSnapshots(snapshots))

	result, err := h.Handle(ctx, redeemCmd(testRFID))
	require.NoError(t, err)
	require.Equal(t, StepClearSnapshot, result.Steps[len(result.Steps)-1])

	_, err = h.Handle(ctx, redeemCmd(testRFID))
	require.ErrorIs(t, err, types.ErrLedgerSubmission)
	var serr *types.SubmissionError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, StepRedeem, serr.Step)
	require.Equal(t, 2, e.fake.Count(ledgertest.RedeemRecord))
	require.Len(t, e.audit.Entries(), 1, "failed redeem is not audited")
}

func TestRedeem_FailureKeepsSnapshot(t *testing.T) {
	e := newEnv(t, aliceAddr)
	e.seed(aliceAddr)
	ctx := context.Background()
	snapshots := ledger.NewSnapshotCache(e.ledger.Registry, time.Minute)

	_, err := snapshots.Get(ctx, testRFID)
	require.NoError(t, err)
	require.Equal(t, 1, snapshots.Stats().Entries)

	// Redeemed by another client; the local snapshot is now stale.
	p, err := e.ledger.Registry.RedeemRecord(ctx, testRFID)
	require.NoError(t, err)
	_, err = p.Wait(ctx)
	require.NoError(t, err)

	h := NewRedeemHandler(e.ledger.Registry, e.identity, WithAuditLogger(e.audit), WithSnapshots(snapshots))
	_, err = h.Handle(ctx, redeemCmd(testRFID))
	require.ErrorIs(t, err, types.ErrLedgerSubmission)
	require.Empty(t, e.audit.Entries())

	require.Equal(t, 1, snapshots.Stats().Entries)
	cached, err := snapshots.Get(ctx, testRFID)
	require.NoError(t, err)
	require.Equal(t, aliceAddr, cached.Owner)
}

// ===========================================================================
// List
// ===========================================================================

func TestList_ApprovesMarketThenLists(t *testing.T) {
	e := newEnv(t, aliceAddr)
	tokenID := e.seed(aliceAddr)
	h := NewListHandler(e.ledger.Market, e.ledger.TokenAt, e.identity, WithAuditLogger(e.audit))

	result, err := h.Handle(context.Background(), listCmd(tokenID))
	require.NoError(t, err)
	require.Equal(t, []string{ledgertest.GetApproved, ledgertest.Approve, ledgertest.ListCollectible}, e.fake.Methods())

	data := result.Data.(*ListResult)
	require.True(t, data.ApprovalGranted)
	require.Equal(t, big.NewInt(testPriceRaw).String(), data.Price)
	require.Equal(t, tokenID.String(), data.TokenID)

	listings := e.fake.Listings()
	require.Len(t, listings, 1)
	require.Equal(t, 0, listings[0].Price.Cmp(big.NewInt(testPriceRaw)))
	require.Equal(t, aliceAddr, listings[0].Seller)

	entries := e.audit.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, audit.ActionList, entries[0].Action)
	require.Empty(t, entries[0].RFID)
	require.Equal(t, map[string]any{
		"nft":     ledgertest.DefaultToken.Hex(),
		"tokenId": tokenID.String(),
		"price":   testPrice,
	}, entries[0].Fields)
}

func TestList_SkipsApprovalWhenMarketApproved(t *testing.T) {
	e := newEnv(t, aliceAddr)
	tokenID := e.seed(aliceAddr)
	e.fake.ApproveToken(tokenID, ledgertest.DefaultMarket)
	h := NewListHandler(e.ledger.Market, e.ledger.TokenAt, e.identity)

	result, err := h.Handle(context.Background(), listCmd(tokenID))
	require.NoError(t, err)
	require.Zero(t, e.fake.Count(ledgertest.Approve))
	require.False(t, result.Data.(*ListResult).ApprovalGranted)
}

func TestList_NoMarketConfigured(t *testing.T) {
	e := newEnv(t, aliceAddr)
	tokenID := e.seed(aliceAddr)
	h := NewListHandler(nil, e.ledger.TokenAt, e.identity)

	_, err := h.Handle(context.Background(), listCmd(tokenID))
	require.ErrorIs(t, err, types.ErrMarketUnavailable)
	require.Empty(t, e.fake.Calls())
}

func TestList_InvalidPrice(t *testing.T) {
	for _, price := range []string{"0", "-1", "1.1234567", "abc", ""} {
		t.Run(price, func(t *testing.T) {
			e := newEnv(t, aliceAddr)
			h := NewListHandler(e.ledger.Market, e.ledger.TokenAt, e.identity)
			cmd := listCmd(big.NewInt(1))
			cmd.Request.Price = price

			_, err := h.Handle(context.Background(), cmd)
			var verr *types.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, "price", verr.Field)
			require.Empty(t, e.fake.Calls())
		})
	}
}

func TestList_UnknownTokenContract(t *testing.T) {
	e := newEnv(t, aliceAddr)
	h := NewListHandler(e.ledger.Market, e.ledger.TokenAt, e.identity)
	cmd := listCmd(big.NewInt(1))
	cmd.Request.NFT = bobAddr.Hex()

	_, err := h.Handle(context.Background(), cmd)
	var serr *types.SubmissionError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, StepResolveToken, serr.Step)
	require.Empty(t, e.fake.Calls())
}

// ===========================================================================
// Audit, snapshots and tracing
// ===========================================================================

func TestAuditFailureIsSwallowed(t *testing.T) {
	e := newEnv(t, aliceAddr)
	e.seed(aliceAddr)
	e.audit.err = &audit.Error{Action: audit.ActionRedeem, Sink: "http", Err: errors.New("connection refused")}
	tracer, recorder := setupTestTracer(t)
	h := NewRedeemHandler(e.ledger.Registry, e.identity, WithAuditLogger(e.audit), tracer)

	result, err := h.Handle(context.Background(), redeemCmd(testRFID))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, e.audit.Entries(), 1)

	span := endedSpan(t, recorder, tracing.SpanPrefixSaga+"redeem")
	require.Contains(t, eventNames(span), tracing.EventAuditFailed)
}

func TestTransfer_ClearsSnapshot(t *testing.T) {
	e := newEnv(t, aliceAddr)
	e.seed(aliceAddr)
	snapshots := ledger.NewSnapshotCache(e.ledger.Registry, time.Minute)
	ctx := context.Background()

	before, err := snapshots.Get(ctx, testRFID)
	require.NoError(t, err)
	require.Equal(t, aliceAddr, before.Owner)

	h := NewTransferHandler(e.ledger.Registry, e.ledger.Token, e.identity, WithSnapshots(snapshots))
	result, err := h.Handle(ctx, transferCmd(bobAddr.Hex()))
	require.NoError(t, err)
	require.Equal(t, StepClearSnapshot, result.Steps[len(result.Steps)-1])

	after, err := snapshots.Get(ctx, testRFID)
	require.NoError(t, err)
	require.Equal(t, bobAddr, after.Owner)
}

func TestSagaSpan_RecordsStepsAndTransactions(t *testing.T) {
	e := newEnv(t, aliceAddr)
	e.seed(aliceAddr)
	tracer, recorder := setupTestTracer(t)
	h := NewTransferHandler(e.ledger.Registry, e.ledger.Token, e.identity, tracer)

	_, err := h.Handle(context.Background(), transferCmd(bobAddr.Hex()))
	require.NoError(t, err)

	span := endedSpan(t, recorder, tracing.SpanPrefixSaga+"transfer")
	names := eventNames(span)
	submitted, confirmed := 0, 0
	for _, n := range names {
		switch n {
		case tracing.EventTxSubmitted:
			submitted++
		case tracing.EventTxConfirmed:
			confirmed++
		}
	}
	require.Equal(t, 2, submitted)
	require.Equal(t, 2, confirmed)

	var signer string
	for _, kv := range span.Attributes() {
		if string(kv.Key) == tracing.AttrSigner {
			signer = kv.Value.AsString()
		}
	}
	require.Equal(t, aliceAddr.Hex(), signer)
}

func TestSagaSpan_RecordsErrorClass(t *testing.T) {
	e := newEnv(t, aliceAddr)
	e.seed(bobAddr)
	tracer, recorder := setupTestTracer(t)
	h := NewTransferHandler(e.ledger.Registry, e.ledger.Token, e.identity, tracer)

	_, err := h.Handle(context.Background(), transferCmd(adminAddr.Hex()))
	require.Error(t, err)

	span := endedSpan(t, recorder, tracing.SpanPrefixSaga+"transfer")
	var class string
	for _, kv := range span.Attributes() {
		if string(kv.Key) == tracing.AttrErrorClass {
			class = kv.Value.AsString()
		}
	}
	require.Equal(t, string(types.ClassPrecondition), class)
}
