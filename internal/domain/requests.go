package domain

// RegistrationRequest asks for a new record to be written.
type RegistrationRequest struct {
	RFID             string `json:"rfid"`
	AuthenticityHash string `json:"authenticityHash"`
	Owner            string `json:"owner"`
	TokenURI         string `json:"tokenURI"`
}

// TransferRequest moves a record from the session signer to NewOwner.
type TransferRequest struct {
	RFID     string `json:"rfid"`
	NewOwner string `json:"newOwner"`
}

// RedemptionRequest retires a record permanently.
type RedemptionRequest struct {
	RFID string `json:"rfid"`
}

// ListingRequest offers an NFT for sale on the marketplace.
// Price is a decimal amount in the market's 6-decimal payment token.
type ListingRequest struct {
	NFT     string `json:"nft"`
	TokenID string `json:"tokenId"`
	Price   string `json:"price"`
}
