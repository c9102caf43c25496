package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// StoredEntry is an entry as persisted by a sink, with the server-assigned
// id and receive time.
type StoredEntry struct {
	ID        string
	Action    Action
	RFID      string
	Body      map[string]any
	Timestamp time.Time
}

// MarshalJSON emits the original body plus id and an RFC 3339 timestamp.
func (s StoredEntry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Body)+2)
	for k, v := range s.Body {
		out[k] = v
	}
	out["id"] = s.ID
	out["timestamp"] = s.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// Query selects stored entries, newest first.
type Query struct {
	Limit  int
	Offset int
	Action string
}

// Normalize applies the default and maximum limit and clamps the offset.
func (q Query) Normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Store persists entries received by a sink.
type Store interface {
	Append(ctx context.Context, body map[string]any) (StoredEntry, error)
	List(ctx context.Context, q Query) ([]StoredEntry, error)
	Close() error
}

// NewStoredEntry stamps body with a fresh id and the current time.
func NewStoredEntry(body map[string]any, now time.Time) StoredEntry {
	if body == nil {
		body = map[string]any{}
	}
	delete(body, "id")
	delete(body, "timestamp")
	e := EntryFromMap(body)
	return StoredEntry{
		ID:        uuid.NewString(),
		Action:    e.Action,
		RFID:      e.RFID,
		Body:      body,
		Timestamp: now.UTC(),
	}
}

// JSONLStore appends one JSON object per line to a file.
type JSONLStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

var _ Store = (*JSONLStore)(nil)

// NewJSONLStore creates the parent directory of path if needed.
func NewJSONLStore(path string) (*JSONLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &JSONLStore{path: path, now: time.Now}, nil
}

func (s *JSONLStore) Append(_ context.Context, body map[string]any) (StoredEntry, error) {
	stored := NewStoredEntry(body, s.now())
	line, err := json.Marshal(stored)
	if err != nil {
		return StoredEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return StoredEntry{}, err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return StoredEntry{}, err
	}
	return stored, nil
}

func (s *JSONLStore) List(ctx context.Context, q Query) ([]StoredEntry, error) {
	q = q.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []StoredEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []StoredEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stored, ok := parseStoredLine(scanner.Bytes())
		if !ok {
			continue
		}
		if q.Action != "" && string(stored.Action) != q.Action {
			continue
		}
		all = append(all, stored)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out := make([]StoredEntry, 0, q.Limit)
	for i := len(all) - 1 - q.Offset; i >= 0 && len(out) < q.Limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *JSONLStore) Close() error { return nil }

func parseStoredLine(line []byte) (StoredEntry, bool) {
	var body map[string]any
	if err := json.Unmarshal(line, &body); err != nil {
		return StoredEntry{}, false
	}
	id, _ := body["id"].(string)
	var ts time.Time
	if raw, ok := body["timestamp"].(string); ok {
		ts, _ = time.Parse(time.RFC3339Nano, raw)
	}
	delete(body, "id")
	delete(body, "timestamp")
	e := EntryFromMap(body)
	return StoredEntry{ID: id, Action: e.Action, RFID: e.RFID, Body: body, Timestamp: ts}, true
}
