// Package domain defines the values that flow between the orchestrators and
// the ledger clients.
package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrRecordNotFound is returned by ledger reads when no live record exists.
var ErrRecordNotFound = errors.New("record not found")

// RecordNotFoundError carries the rfid that could not be resolved.
type RecordNotFoundError struct {
	RFID string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("record not found: %s", e.RFID)
}

// Is lets errors.Is match ErrRecordNotFound.
func (e *RecordNotFoundError) Is(target error) bool {
	return target == ErrRecordNotFound
}

// Record is a registered physical-goods entry as the ledger reports it.
// At most one live Record exists per RFID; a redeemed Record is gone for good.
type Record struct {
	RFID             string         `json:"rfid"`
	AuthenticityHash string         `json:"authenticityHash"`
	Owner            common.Address `json:"owner"`
	TokenURI         string         `json:"tokenURI,omitempty"`
}

// IsZero reports whether r carries no owner, which ledgers use to signal an
// empty slot. Callers never see a zero Record: reads return ErrRecordNotFound.
func (r Record) IsZero() bool {
	return r.Owner == (common.Address{})
}

// OwnedBy reports whether addr owns the record, compared case-insensitively.
func (r Record) OwnedBy(addr string) bool {
	return SameAccount(r.Owner.Hex(), addr)
}

// ApprovalGrant is the standing permission for Operator to move Owner's tokens.
type ApprovalGrant struct {
	Owner    common.Address `json:"owner"`
	Operator common.Address `json:"operator"`
	Granted  bool           `json:"granted"`
}

// SameAccount compares two hex addresses case-insensitively.
// Empty strings never match.
func SameAccount(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}
