package testutil_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/provenance/internal/domain"
	"github.com/zjrosen/provenance/internal/ledger"
	"github.com/zjrosen/provenance/internal/ledger/devchain"
	"github.com/zjrosen/provenance/internal/ledger/ledgertest"
	"github.com/zjrosen/provenance/internal/testutil"
)


func chainFor(t *testing.T, signer common.Address) (*testutil.Builder, *ledger.Ledger) {
	t.Helper()
	db := testutil.NewTestDB(t)
	chain, err := devchain.New(context.Background(), db.ChainRepository(), ledgertest.NewIdentity(signer), devchain.Config{Admin: testutil.Admin})
	require.NoError(t, err)
	return testutil.NewBuilder(t, db), chain.Ledger()
}

func TestBuilder_WithRecordDefaults(t *testing.T) {
	b, l := chainFor(t, testutil.Alice)
	b.WithRecord(testutil.RFID).Build()

	rec, err := l.Registry.GetRecord(context.Background(), testutil.RFID)
	require.NoError(t, err)
	require.Equal(t, domain.Record{
		RFID:             testutil.RFID,
		AuthenticityHash: testutil.Hash,
		Owner:            testutil.Alice,
		TokenURI:         testutil.URI,
	}, *rec)
}

func TestBuilder_Options(t *testing.T) {
	b, l := chainFor(t, testutil.Bob)
	b.WithRecord(testutil.RFID, testutil.Owner(testutil.Bob), testutil.AuthenticityHash("h2"), testutil.TokenURI("ipfs://other"), testutil.ApprovedTo(testutil.Market)).
		WithRecord(testutil.OtherRFID, testutil.Redeemed()).
		Build()

	ctx := context.Background()
	rec, err := l.Registry.GetRecord(ctx, testutil.RFID)
	require.NoError(t, err)
	require.Equal(t, testutil.Bob, rec.Owner)
	require.Equal(t, "h2", rec.AuthenticityHash)
	require.Equal(t, "ipfs://other", rec.TokenURI)

	approved, err := l.Token.GetApproved(ctx, big.NewInt(b.TokenID(testutil.RFID)))
	require.NoError(t, err)
	require.Equal(t, testutil.Market, approved)

	_, err = l.Registry.GetRecord(ctx, testutil.OtherRFID)
	require.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestBuilder_StandardTestData(t *testing.T) {
	b, l := chainFor(t, testutil.Alice)
	b.WithStandardTestData().Build()
	ctx := context.Background()

	rec, err := l.Registry.GetRecord(ctx, testutil.AliceRFID)
	require.NoError(t, err)
	require.True(t, rec.OwnedBy(testutil.Alice.Hex()))

	rec, err = l.Registry.GetRecord(ctx, testutil.BobRFID)
	require.NoError(t, err)
	require.True(t, rec.OwnedBy(testutil.Bob.Hex()))

	_, err = l.Registry.GetRecord(ctx, testutil.RedeemedRFID)
	require.ErrorIs(t, err, domain.ErrRecordNotFound)

	ok, err := l.Token.IsApprovedForAll(ctx, testutil.Alice, testutil.Registry)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Token.IsApprovedForAll(ctx, testutil.Bob, testutil.Registry)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBuilder_SeededGrantAllowsTransfer(t *testing.T) {
	b, l := chainFor(t, testutil.Alice)
	b.WithStandardTestData().Build()
	ctx := context.Background()

	p, err := l.Registry.TransferOwnership(ctx, testutil.AliceRFID, testutil.Carol)
	require.NoError(t, err)
	_, err = p.Wait(ctx)
	require.NoError(t, err)

	rec, err := l.Registry.GetRecord(ctx, testutil.AliceRFID)
	require.NoError(t, err)
	require.Equal(t, testutil.Carol, rec.Owner)
}

func TestDevChainDefaultsMatchFixtures(t *testing.T) {
	require.Equal(t, devchain.DefaultRegistry, testutil.Registry)
	require.Equal(t, devchain.DefaultToken, testutil.Token)
	require.Equal(t, devchain.DefaultMarket, testutil.Market)
}
