package testutil

import "github.com/ethereum/go-ethereum/common"

// recordData holds all data for a record to be inserted.
type recordData struct {
	rfid     string
	hash     string
	owner    common.Address
	uri      string
	redeemed bool
	approved *common.Address
}

func defaultRecord(rfid string) recordData {
	return recordData{
		rfid:  rfid,
		hash:  Hash,
		owner: Alice,
		uri:   URI,
	}
}

// RecordOption configures a record.
type RecordOption func(*recordData)

// Owner sets the record owner. Default Alice.
func Owner(addr common.Address) RecordOption {
	return func(r *recordData) { r.owner = addr }
}

// AuthenticityHash sets the stored hash.
func AuthenticityHash(hash string) RecordOption {
	return func(r *recordData) { r.hash = hash }
}

// TokenURI sets the token URI.
func TokenURI(uri string) RecordOption {
	return func(r *recordData) { r.uri = uri }
}

// Redeemed retires the record after insertion.
func Redeemed() RecordOption {
	return func(r *recordData) { r.redeemed = true }
}

// ApprovedTo sets the single-token approval of the record's token.
func ApprovedTo(addr common.Address) RecordOption {
	return func(r *recordData) { r.approved = &addr }
}
