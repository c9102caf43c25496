package sqlite

import "time"

// RecordModel is a row of the records table. TokenID doubles as the NFT
// token id of the record.
type RecordModel struct {
	TokenID          int64
	RFID             string
	AuthenticityHash string
	Owner            string
	TokenURI         string
	CreatedAt        int64  // Unix timestamp
	UpdatedAt        int64  // Unix timestamp
	RedeemedAt       *int64 // Unix timestamp, nullable
}

// Redeemed reports whether the record has been retired.
func (m *RecordModel) Redeemed() bool { return m.RedeemedAt != nil }

// ListingModel is a row of the listings table. Price is a decimal string of
// base units.
type ListingModel struct {
	ID        int64
	NFT       string
	TokenID   int64
	Price     string
	Seller    string
	CreatedAt int64
}

// TransactionModel is a row of the transactions table.
type TransactionModel struct {
	Hash        string
	BlockNumber uint64
	Method      string
	Sender      string
	Succeeded   bool
	Error       *string
	CreatedAt   int64
}

func nowUnix() int64 { return time.Now().Unix() }
