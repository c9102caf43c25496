// Package presentation renders command results as JSON or styled text.
package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	"github.com/zjrosen/provenance/internal/audit"
	"github.com/zjrosen/provenance/internal/orchestration"
	"github.com/zjrosen/provenance/internal/orchestration/handler"
	"github.com/zjrosen/provenance/internal/validate"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text" (or empty) and "json".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
	format Format
	width  int
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithWidth truncates text values and wraps audit fields to width columns.
// Zero disables both.
func WithWidth(width int) Option {
	return func(f *Formatter) { f.width = width }
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer, format Format, opts ...Option) *Formatter {
	f := &Formatter{writer: writer, format: format}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// JSON reports whether the formatter emits JSON.
func (f *Formatter) JSON() bool { return f.format == FormatJSON }

func (f *Formatter) encode(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatRegister renders a registration result.
func (f *Formatter) FormatRegister(r *handler.RegisterResult) error {
	if f.JSON() {
		return f.encode(r)
	}
	return f.block("Registered "+r.RFID, []row{
		{"Owner", r.Owner},
		{"Signer", r.Signer},
		{"Tx", r.TxHash.Hex()},
		{"Block", strconv.FormatUint(r.BlockNumber, 10)},
	})
}

// FormatTransfer renders a transfer result.
func (f *Formatter) FormatTransfer(r *handler.TransferResult) error {
	if f.JSON() {
		return f.encode(r)
	}
	rows := []row{
		{"From", r.From},
		{"To", r.To},
		{"Approval", approvalText(r.ApprovalGranted, r.ApprovalTxHash)},
		{"Tx", r.TxHash.Hex()},
		{"Block", strconv.FormatUint(r.BlockNumber, 10)},
	}
	return f.block("Transferred "+r.RFID, rows)
}

// FormatRedeem renders a redemption result.
func (f *Formatter) FormatRedeem(r *handler.RedeemResult) error {
	if f.JSON() {
		return f.encode(r)
	}
	return f.block("Redeemed "+r.RFID, []row{
		{"Signer", r.Signer},
		{"Tx", r.TxHash.Hex()},
		{"Block", strconv.FormatUint(r.BlockNumber, 10)},
	})
}

// FormatListing renders a marketplace listing result.
func (f *Formatter) FormatListing(r *handler.ListResult) error {
	if f.JSON() {
		return f.encode(r)
	}
	return f.block("Listed token "+r.TokenID, []row{
		{"Contract", r.NFT},
		{"Price", r.Price + " base units"},
		{"Seller", r.Seller},
		{"Approval", approvalText(r.ApprovalGranted, r.ApprovalTxHash)},
		{"Tx", r.TxHash.Hex()},
		{"Block", strconv.FormatUint(r.BlockNumber, 10)},
	})
}

func approvalText(granted bool, tx *common.Hash) string {
	if !granted || tx == nil {
		return "already approved"
	}
	return "granted in " + tx.Hex()
}

// FormatRecord renders a record lookup.
func (f *Formatter) FormatRecord(v *orchestration.RecordView) error {
	if f.JSON() {
		return f.encode(v)
	}
	rows := []row{
		{"RFID", v.RFID},
		{"Hash", v.AuthenticityHash},
		{"Owner", v.Owner.Hex()},
	}
	if v.TokenURI != "" {
		rows = append(rows, row{"Token URI", v.TokenURI})
	}
	if err := f.rows(rows); err != nil {
		return err
	}
	if v.OwnedBySigner {
		_, err := fmt.Fprintln(f.writer, successStyle.Render("✓ You own this collectible."))
		return err
	}
	return nil
}

// FormatAdmin renders the admin lookup.
func (f *Formatter) FormatAdmin(a AdminDTO) error {
	if f.JSON() {
		return f.encode(a)
	}
	rows := []row{{"Admin", a.Admin}}
	if a.Signer != "" {
		rows = append(rows, row{"Signer", a.Signer})
	}
	if err := f.rows(rows); err != nil {
		return err
	}
	msg := mutedStyle.Render("The active signer is not the admin.")
	if a.IsAdmin {
		msg = successStyle.Render("✓ The active signer is the admin.")
	}
	_, err := fmt.Fprintln(f.writer, msg)
	return err
}

// FormatAccounts renders the wallet accounts, marking the active one.
func (f *Formatter) FormatAccounts(accounts []AccountDTO) error {
	if f.JSON() {
		if accounts == nil {
			accounts = []AccountDTO{}
		}
		return f.encode(accounts)
	}
	if len(accounts) == 0 {
		_, err := fmt.Fprintln(f.writer, mutedStyle.Render("No accounts configured."))
		return err
	}
	for _, a := range accounts {
		marker := "  "
		addr := valueStyle.Render(a.Address)
		if a.Active {
			marker = accentStyle.Render("* ")
			addr = accentStyle.Render(a.Address)
		}
		if _, err := fmt.Fprintln(f.writer, marker+addr); err != nil {
			return err
		}
	}
	return nil
}

// FormatActiveAccount renders an account switch.
func (f *Formatter) FormatActiveAccount(addr common.Address) error {
	if f.JSON() {
		return f.encode(AccountDTO{Address: addr.Hex(), Active: true})
	}
	_, err := fmt.Fprintln(f.writer, successStyle.Render("✓ Active account "+addr.Hex()))
	return err
}

// FormatCID renders the decoded content identifier of a token URI.
func (f *Formatter) FormatCID(info validate.CIDInfo) error {
	if f.JSON() {
		return f.encode(info)
	}
	return f.rows([]row{
		{"CID", info.String},
		{"Version", strconv.FormatUint(info.Version, 10)},
		{"Codec", info.Codec},
		{"Multihash", info.Multihash},
	})
}

// FormatServe renders the startup banner of `serve`.
func (f *Formatter) FormatServe(s ServeDTO) error {
	if f.JSON() {
		return f.encode(s)
	}
	return f.block("Audit sink listening on "+s.Addr, []row{
		{"Store", s.Store},
		{"Relay", strconv.FormatBool(s.Relay)},
		{"AMQP", strconv.FormatBool(s.AMQP)},
	})
}

// FormatAuditEntries renders stored audit entries, newest first.
func (f *Formatter) FormatAuditEntries(entries []audit.StoredEntry) error {
	if f.JSON() {
		if entries == nil {
			entries = []audit.StoredEntry{}
		}
		return f.encode(entries)
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(f.writer, mutedStyle.Render("No log entries."))
		return err
	}
	for _, e := range entries {
		header := fmt.Sprintf("%s  %s",
			labelStyle.Render(e.Timestamp.Local().Format(time.DateTime)),
			accentStyle.Render(string(e.Action)))
		if e.RFID != "" {
			header += "  " + valueStyle.Render(e.RFID)
		}
		if _, err := fmt.Fprintln(f.writer, header); err != nil {
			return err
		}
		if details := entryDetails(e.Body); details != "" {
			if f.width > 4 {
				details = wordwrap.String(details, f.width-4)
			}
			if _, err := fmt.Fprintln(f.writer, indent.String(details, 4)); err != nil {
				return err
			}
		}
	}
	return nil
}

// entryDetails lists the body fields other than action and rfid as key=value.
func entryDetails(body map[string]any) string {
	keys := make([]string, 0, len(body))
	for k := range body {
		if k == "action" || k == "rfid" || k == "id" || k == "timestamp" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, body[k])
	}
	return strings.Join(parts, " ")
}

// Error renders err the way the CLI reports failures.
func Error(w io.Writer, err error) {
	_, _ = fmt.Fprintln(w, errorStyle.Render("❌ "+err.Error()))
}

type row struct {
	label string
	value string
}

func (f *Formatter) block(title string, rows []row) error {
	if _, err := fmt.Fprintln(f.writer, successStyle.Render("✓ "+title)); err != nil {
		return err
	}
	return f.rows(rows)
}

// rows prints aligned label/value pairs.
func (f *Formatter) rows(rows []row) error {
	labelWidth := 0
	for _, r := range rows {
		labelWidth = max(labelWidth, ansi.StringWidth(r.label))
	}
	for _, r := range rows {
		label := r.label + ":" + strings.Repeat(" ", labelWidth-ansi.StringWidth(r.label)+1)
		value := r.value
		if f.width > 0 {
			if avail := f.width - labelWidth - 2; avail > 0 && ansi.StringWidth(value) > avail {
				value = ansi.Truncate(value, avail, "…")
			}
		}
		if _, err := fmt.Fprintln(f.writer, labelStyle.Render(label)+valueStyle.Render(value)); err != nil {
			return err
		}
	}
	return nil
}
