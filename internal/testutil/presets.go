package testutil

// Standard dataset rfids.
const (
	AliceRFID    = "aa11bb22cc33dd44"
	BobRFID      = "bb22cc33dd44ee55"
	RedeemedRFID = "cc33dd44ee55ff66"
)

// WithStandardTestData adds the standard dataset: one record owned by Alice
// with the registry approved as her operator, one owned by Bob without any
// grant, and one retired record.
func (b *Builder) WithStandardTestData() *Builder {
	return b.
		WithRecord(AliceRFID, Owner(Alice)).
		WithRecord(BobRFID, Owner(Bob), AuthenticityHash("9c1185a5c5e9fc54612808977ee8f548b2258d31")).
		WithRecord(RedeemedRFID, Owner(Carol), Redeemed()).
		WithOperatorApproval(Alice, Registry)
}
