package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zjrosen/provenance/internal/log"
)

// DefaultTimeout bounds one HTTP delivery.
const DefaultTimeout = 5 * time.Second

// HTTPLogger posts entries as JSON to <base>/log. The response body is
// drained but not interpreted; only transport failures and 5xx replies are
// reported.
type HTTPLogger struct {
	endpoint string
	client   *http.Client
}

// NewHTTPLogger creates a logger for the sink at baseURL.
func NewHTTPLogger(baseURL string, timeout time.Duration) *HTTPLogger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPLogger{
		endpoint: strings.TrimRight(baseURL, "/") + "/log",
		client:   &http.Client{Timeout: timeout},
	}
}

// Endpoint is the URL entries are posted to.
func (l *HTTPLogger) Endpoint() string { return l.endpoint }

func (l *HTTPLogger) Record(ctx context.Context, entry Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return &Error{Action: entry.Action, Sink: "http", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return &Error{Action: entry.Action, Sink: "http", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return &Error{Action: entry.Action, Sink: "http", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return &Error{Action: entry.Action, Sink: "http", Err: fmt.Errorf("sink returned %s", resp.Status)}
	}
	return nil
}

// Multi fans an entry out to every logger and joins their failures.
type Multi []Logger

func (m Multi) Record(ctx context.Context, entry Entry) error {
	var errs []error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop discards entries.
type Noop struct{}

func (Noop) Record(context.Context, Entry) error { return nil }

// BestEffort records entry and swallows any failure after logging it.
// A nil logger is treated as Noop.
func BestEffort(ctx context.Context, logger Logger, entry Entry) {
	if logger == nil {
		return
	}
	if err := logger.Record(ctx, entry); err != nil {
		log.Warn(log.CatAudit, "audit entry not recorded",
			"action", string(entry.Action), "rfid", entry.RFID, "error", err)
		return
	}
	log.Debug(log.CatAudit, "audit entry recorded", "action", string(entry.Action), "rfid", entry.RFID)
}
