package testutil

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/provenance/internal/infrastructure/sqlite"
)

type grantData struct {
	owner    common.Address
	operator common.Address
}

// Builder accumulates ledger state and inserts it in one transaction.
type Builder struct {
	t       *testing.T
	repo    *sqlite.ChainRepository
	records []recordData
	grants  []grantData
	tokens  map[string]int64
}

// NewBuilder creates a builder for the given test database.
func NewBuilder(t *testing.T, db *sqlite.DB) *Builder {
	t.Helper()
	return &Builder{t: t, repo: db.ChainRepository(), tokens: make(map[string]int64)}
}

// WithRecord adds a record with optional configuration.
func (b *Builder) WithRecord(rfid string, opts ...RecordOption) *Builder {
	rec := defaultRecord(rfid)
	for _, opt := range opts {
		opt(&rec)
	}
	b.records = append(b.records, rec)
	return b
}

// WithOperatorApproval grants operator control over all of owner's tokens.
func (b *Builder) WithOperatorApproval(owner, operator common.Address) *Builder {
	b.grants = append(b.grants, grantData{owner: owner, operator: operator})
	return b
}

// Build inserts all accumulated data into the database.
func (b *Builder) Build() {
	b.t.Helper()
	err := b.repo.Update(context.Background(), func(tx *sqlite.ChainTx) error {
		for _, rec := range b.records {
			m := &sqlite.RecordModel{
				RFID:             rec.rfid,
				AuthenticityHash: rec.hash,
				Owner:            rec.owner.Hex(),
				TokenURI:         rec.uri,
			}
			if err := tx.InsertRecord(m); err != nil {
				return err
			}
			b.tokens[rec.rfid] = m.TokenID
			if rec.approved != nil {
				if err := tx.SetTokenApproval(m.TokenID, rec.approved.Hex()); err != nil {
					return err
				}
			}
			if rec.redeemed {
				if err := tx.MarkRedeemed(rec.rfid); err != nil {
					return err
				}
			}
		}
		for _, g := range b.grants {
			if err := tx.SetOperatorApproval(g.owner.Hex(), g.operator.Hex(), true); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(b.t, err)
}

// TokenID returns the token id assigned to rfid by Build.
func (b *Builder) TokenID(rfid string) int64 {
	b.t.Helper()
	id, ok := b.tokens[rfid]
	require.True(b.t, ok, "record %s was not built", rfid)
	return id
}
