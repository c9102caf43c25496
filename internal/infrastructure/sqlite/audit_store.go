package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zjrosen/provenance/internal/audit"
)

// AuditStore persists audit sink entries in the audit_entries table.
type AuditStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ audit.Store = (*AuditStore)(nil)

func newAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db, now: time.Now}
}

func (s *AuditStore) Append(ctx context.Context, body map[string]any) (audit.StoredEntry, error) {
	stored := audit.NewStoredEntry(body, s.now())
	raw, err := json.Marshal(stored.Body)
	if err != nil {
		return audit.StoredEntry{}, fmt.Errorf("failed to encode audit body: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, action, rfid, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		stored.ID, string(stored.Action), stored.RFID, string(raw), stored.Timestamp.UnixNano())
	if err != nil {
		return audit.StoredEntry{}, fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return stored, nil
}

func (s *AuditStore) List(ctx context.Context, q audit.Query) ([]audit.StoredEntry, error) {
	q = q.Normalize()
	query := `SELECT id, action, rfid, body, created_at FROM audit_entries`
	var args []any
	if q.Action != "" {
		query += ` WHERE action = ?`
		args = append(args, q.Action)
	}
	query += ` ORDER BY seq DESC LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []audit.StoredEntry{}
	for rows.Next() {
		var (
			e       audit.StoredEntry
			action  string
			raw     string
			created int64
		)
		if err := rows.Scan(&e.ID, &action, &e.RFID, &raw, &created); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &e.Body); err != nil {
			return nil, fmt.Errorf("failed to decode audit body %s: %w", e.ID, err)
		}
		e.Action = audit.Action(action)
		e.Timestamp = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}
	return out, nil
}

// Close is a no-op; the connection belongs to DB.
func (s *AuditStore) Close() error { return nil }
