package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupChain(t *testing.T) *ChainRepository {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "chain.db"))
	require.NoError(t, err, "Failed to create test database")
	t.Cleanup(func() { db.Close() })
	return db.ChainRepository()
}

const (
	ownerA = "0x00000000000000000000000000000000000000Aa"
	ownerB = "0x00000000000000000000000000000000000000bB"
)

func TestChainRepository_RecordLifecycle(t *testing.T) {
	repo := setupChain(t)
	ctx := context.Background()

	var tokenID int64
	err := repo.Update(ctx, func(tx *ChainTx) error {
		m := &RecordModel{RFID: "1a2b3c4d5e6f789", AuthenticityHash: "0xhash", Owner: ownerA, TokenURI: "ipfs://x"}
		if err := tx.InsertRecord(m); err != nil {
			return err
		}
		tokenID = m.TokenID
		return nil
	})
	require.NoError(t, err)
	require.Greater(t, tokenID, int64(0))

	err = repo.View(ctx, func(tx *ChainTx) error {
		m, err := tx.Record("1a2b3c4d5e6f789")
		require.NoError(t, err)
		require.Equal(t, ownerA, m.Owner)
		require.False(t, m.Redeemed())

		byID, err := tx.RecordByTokenID(tokenID)
		require.NoError(t, err)
		require.Equal(t, m.RFID, byID.RFID)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, repo.Update(ctx, func(tx *ChainTx) error { return tx.SetOwner("1a2b3c4d5e6f789", ownerB) }))
	require.NoError(t, repo.Update(ctx, func(tx *ChainTx) error { return tx.MarkRedeemed("1a2b3c4d5e6f789") }))

	err = repo.Update(ctx, func(tx *ChainTx) error { return tx.SetOwner("1a2b3c4d5e6f789", ownerA) })
	require.ErrorIs(t, err, ErrNotFound, "redeemed records cannot move")

	err = repo.View(ctx, func(tx *ChainTx) error {
		m, err := tx.Record("1a2b3c4d5e6f789")
		require.NoError(t, err)
		require.True(t, m.Redeemed())
		require.Equal(t, ownerB, m.Owner)
		return nil
	})
	require.NoError(t, err)
}

func TestChainRepository_DuplicateRFID(t *testing.T) {
	repo := setupChain(t)
	ctx := context.Background()

	insert := func(tx *ChainTx) error {
		return tx.InsertRecord(&RecordModel{RFID: "1a2b3c4d5e6f789", AuthenticityHash: "h", Owner: ownerA, TokenURI: "u"})
	}
	require.NoError(t, repo.Update(ctx, insert))
	require.Error(t, repo.Update(ctx, insert))
}

func TestChainRepository_RollbackOnError(t *testing.T) {
	repo := setupChain(t)
	ctx := context.Background()
	boom := errors.New("guard failed")

	err := repo.Update(ctx, func(tx *ChainTx) error {
		require.NoError(t, tx.SetOperatorApproval(ownerA, ownerB, true))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = repo.View(ctx, func(tx *ChainTx) error {
		approved, err := tx.OperatorApproved(ownerA, ownerB)
		require.NoError(t, err)
		require.False(t, approved)
		return nil
	})
	require.NoError(t, err)
}

func TestChainRepository_Approvals(t *testing.T) {
	repo := setupChain(t)
	ctx := context.Background()

	err := repo.Update(ctx, func(tx *ChainTx) error {
		m := &RecordModel{RFID: "1a2b3c4d5e6f789", AuthenticityHash: "h", Owner: ownerA, TokenURI: "u"}
		require.NoError(t, tx.InsertRecord(m))
		require.NoError(t, tx.SetOperatorApproval(ownerA, ownerB, true))
		require.NoError(t, tx.SetOperatorApproval(ownerA, ownerB, true))
		require.NoError(t, tx.SetTokenApproval(m.TokenID, ownerB))

		approved, err := tx.OperatorApproved(ownerA, ownerB)
		require.NoError(t, err)
		require.True(t, approved)

		to, err := tx.TokenApproval(m.TokenID)
		require.NoError(t, err)
		require.Equal(t, ownerB, to)

		none, err := tx.TokenApproval(m.TokenID + 1)
		require.NoError(t, err)
		require.Empty(t, none)
		return nil
	})
	require.NoError(t, err)
}

func TestChainRepository_BlocksAndTransactions(t *testing.T) {
	repo := setupChain(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := repo.Update(ctx, func(tx *ChainTx) error {
			n, err := tx.NextBlock()
			require.NoError(t, err)
			require.Equal(t, uint64(i+1), n)
			return tx.InsertTransaction(&TransactionModel{
				Hash: "0x" + string(rune('a'+i)), BlockNumber: n, Method: "registerCollectible", Sender: ownerA, Succeeded: i != 2,
			})
		})
		require.NoError(t, err)
	}

	got, err := repo.Transaction(ctx, "0xc")
	require.NoError(t, err)
	require.Equal(t, uint64(3), got.BlockNumber)
	require.False(t, got.Succeeded)

	_, err = repo.Transaction(ctx, "0xmissing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestChainRepository_MetaAndListings(t *testing.T) {
	repo := setupChain(t)
	ctx := context.Background()

	err := repo.Update(ctx, func(tx *ChainTx) error {
		_, err := tx.Meta("admin")
		require.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, tx.SetMeta("admin", ownerA))
		require.NoError(t, tx.SetMeta("admin", ownerB))
		v, err := tx.Meta("admin")
		require.NoError(t, err)
		require.Equal(t, ownerB, v)

		l := &ListingModel{NFT: ownerA, TokenID: 1, Price: "2500000", Seller: ownerB}
		require.NoError(t, tx.InsertListing(l))
		require.Greater(t, l.ID, int64(0))
		return nil
	})
	require.NoError(t, err)

	listings, err := repo.Listings(ctx)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, "2500000", listings[0].Price)
}
