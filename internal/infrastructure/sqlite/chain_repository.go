package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const recordColumns = `token_id, rfid, authenticity_hash, owner, token_uri, created_at, updated_at, redeemed_at`

// ChainRepository stores the state of the local ledger simulation.
type ChainRepository struct {
	db *sql.DB
}

// ChainTx is a unit of work against the simulation state. Guards and the
// writes they protect run inside one ChainTx so they commit together.
type ChainTx struct {
	ctx context.Context
	tx  *sql.Tx
}

// Update runs fn in a transaction, committing when fn returns nil.
func (r *ChainRepository) Update(ctx context.Context, fn func(tx *ChainTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chain tx: %w", err)
	}
	if err := fn(&ChainTx{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chain tx: %w", err)
	}
	return nil
}

// View runs fn in a transaction that is always rolled back.
func (r *ChainRepository) View(ctx context.Context, fn func(tx *ChainTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chain view: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&ChainTx{ctx: ctx, tx: tx})
}

func scanRecord(scanner interface{ Scan(...any) error }) (*RecordModel, error) {
	var m RecordModel
	err := scanner.Scan(&m.TokenID, &m.RFID, &m.AuthenticityHash, &m.Owner, &m.TokenURI,
		&m.CreatedAt, &m.UpdatedAt, &m.RedeemedAt)
	return &m, err
}

// Meta returns a chain_meta value, or ErrNotFound.
func (t *ChainTx) Meta(key string) (string, error) {
	var v string
	err := t.tx.QueryRowContext(t.ctx, `SELECT value FROM chain_meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return v, nil
}

// SetMeta upserts a chain_meta value.
func (t *ChainTx) SetMeta(key, value string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO chain_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}

// Record returns the row for rfid, redeemed or not, or ErrNotFound.
func (t *ChainTx) Record(rfid string) (*RecordModel, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT `+recordColumns+` FROM records WHERE rfid = ?`, rfid)
	m, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find record: %w", err)
	}
	return m, nil
}

// RecordByTokenID returns the row minted as tokenID, or ErrNotFound.
func (t *ChainTx) RecordByTokenID(tokenID int64) (*RecordModel, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT `+recordColumns+` FROM records WHERE token_id = ?`, tokenID)
	m, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find record by token id: %w", err)
	}
	return m, nil
}

// InsertRecord stores a new record and sets m.TokenID.
func (t *ChainTx) InsertRecord(m *RecordModel) error {
	now := nowUnix()
	m.CreatedAt, m.UpdatedAt = now, now
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO records (rfid, authenticity_hash, owner, token_uri, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.RFID, m.AuthenticityHash, m.Owner, m.TokenURI, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	m.TokenID = id
	return nil
}

// SetOwner moves a live record to owner. Returns ErrNotFound when no live
// record matches.
func (t *ChainTx) SetOwner(rfid, owner string) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE records SET owner = ?, updated_at = ? WHERE rfid = ? AND redeemed_at IS NULL`,
		owner, nowUnix(), rfid)
	if err != nil {
		return fmt.Errorf("failed to update owner: %w", err)
	}
	return requireAffected(res)
}

// MarkRedeemed retires a live record. The row is kept so the rfid stays
// reserved.
func (t *ChainTx) MarkRedeemed(rfid string) error {
	now := nowUnix()
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE records SET redeemed_at = ?, updated_at = ? WHERE rfid = ? AND redeemed_at IS NULL`,
		now, now, rfid)
	if err != nil {
		return fmt.Errorf("failed to redeem record: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx,
		`DELETE FROM token_approvals WHERE token_id = (SELECT token_id FROM records WHERE rfid = ?)`, rfid)
	if err != nil {
		return fmt.Errorf("failed to clear token approval: %w", err)
	}
	return nil
}

// OperatorApproved reports the operator grant for (owner, operator).
func (t *ChainTx) OperatorApproved(owner, operator string) (bool, error) {
	var approved bool
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT approved FROM operator_approvals WHERE owner = ? AND operator = ?`,
		owner, operator).Scan(&approved)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read operator approval: %w", err)
	}
	return approved, nil
}

// SetOperatorApproval upserts the operator grant for (owner, operator).
func (t *ChainTx) SetOperatorApproval(owner, operator string, approved bool) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO operator_approvals (owner, operator, approved, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner, operator) DO UPDATE SET approved = excluded.approved, updated_at = excluded.updated_at`,
		owner, operator, approved, nowUnix())
	if err != nil {
		return fmt.Errorf("failed to write operator approval: %w", err)
	}
	return nil
}

// TokenApproval returns the approved address for tokenID, or "" when none.
func (t *ChainTx) TokenApproval(tokenID int64) (string, error) {
	var approved string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT approved FROM token_approvals WHERE token_id = ?`, tokenID).Scan(&approved)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token approval: %w", err)
	}
	return approved, nil
}

// SetTokenApproval upserts the single-token approval for tokenID.
func (t *ChainTx) SetTokenApproval(tokenID int64, approved string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO token_approvals (token_id, approved, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(token_id) DO UPDATE SET approved = excluded.approved, updated_at = excluded.updated_at`,
		tokenID, approved, nowUnix())
	if err != nil {
		return fmt.Errorf("failed to write token approval: %w", err)
	}
	return nil
}

// ClearTokenApproval drops the single-token approval for tokenID.
func (t *ChainTx) ClearTokenApproval(tokenID int64) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM token_approvals WHERE token_id = ?`, tokenID); err != nil {
		return fmt.Errorf("failed to clear token approval: %w", err)
	}
	return nil
}

// InsertListing stores a marketplace listing and sets l.ID.
func (t *ChainTx) InsertListing(l *ListingModel) error {
	l.CreatedAt = nowUnix()
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO listings (nft, token_id, price, seller, created_at) VALUES (?, ?, ?, ?, ?)`,
		l.NFT, l.TokenID, l.Price, l.Seller, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert listing: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	l.ID = id
	return nil
}

// NextBlock returns the block number the next transaction will be mined in.
func (t *ChainTx) NextBlock() (uint64, error) {
	var last sql.NullInt64
	if err := t.tx.QueryRowContext(t.ctx, `SELECT MAX(block_number) FROM transactions`).Scan(&last); err != nil {
		return 0, fmt.Errorf("failed to read block height: %w", err)
	}
	return uint64(last.Int64) + 1, nil
}

// InsertTransaction stores a mined transaction.
func (t *ChainTx) InsertTransaction(m *TransactionModel) error {
	m.CreatedAt = nowUnix()
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO transactions (hash, block_number, method, sender, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.Hash, m.BlockNumber, m.Method, m.Sender, m.Succeeded, m.Error, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// Transaction returns the mined transaction with hash, or ErrNotFound.
func (r *ChainRepository) Transaction(ctx context.Context, hash string) (*TransactionModel, error) {
	var m TransactionModel
	err := r.db.QueryRowContext(ctx,
		`SELECT hash, block_number, method, sender, status, error, created_at FROM transactions WHERE hash = ?`, hash).
		Scan(&m.Hash, &m.BlockNumber, &m.Method, &m.Sender, &m.Succeeded, &m.Error, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return &m, nil
}

// Listings returns all listings, newest first.
func (r *ChainRepository) Listings(ctx context.Context) ([]ListingModel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, nft, token_id, price, seller, created_at FROM listings ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ListingModel
	for rows.Next() {
		var l ListingModel
		if err := rows.Scan(&l.ID, &l.NFT, &l.TokenID, &l.Price, &l.Seller, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan listing row: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating listing rows: %w", err)
	}
	return out, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
