package command

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/zjrosen/provenance/internal/domain"
	"github.com/zjrosen/provenance/internal/orchestration/types"
	"github.com/zjrosen/provenance/internal/validate"
)

// ===========================================================================
// RegisterCommand
// ===========================================================================

// RegisterCommand asks the registry to record a new item.
type RegisterCommand struct {
	BaseCommand
	Request domain.RegistrationRequest
}

// NewRegisterCommand creates a RegisterCommand.
func NewRegisterCommand(source CommandSource, req domain.RegistrationRequest) *RegisterCommand {
	return &RegisterCommand{
		BaseCommand: NewBaseCommand(CmdRegisterRecord, source),
		Request:     req,
	}
}

// Validate checks rfid, owner and token URI formats and a non-empty hash.
func (c *RegisterCommand) Validate() error {
	r := c.Request
	if !validate.IsValidRfid(r.RFID) {
		return types.Invalid("rfid", r.RFID, "must be exactly 15 hexadecimal characters")
	}
	if !validate.IsValidAddress(r.Owner) {
		return types.Invalid("owner", r.Owner, "must be 0x followed by 40 hexadecimal characters")
	}
	if !validate.IsValidContentURI(r.TokenURI) {
		return types.Invalid("tokenURI", r.TokenURI, "must be ipfs:// followed by at least 46 alphanumeric characters")
	}
	if r.AuthenticityHash == "" {
		return types.Invalid("authenticityHash", "", "is required")
	}
	return nil
}

// Record converts the request into the ledger record to write.
func (c *RegisterCommand) Record() domain.Record {
	return domain.Record{
		RFID:             c.Request.RFID,
		AuthenticityHash: c.Request.AuthenticityHash,
		Owner:            common.HexToAddress(c.Request.Owner),
		TokenURI:         c.Request.TokenURI,
	}
}

// ===========================================================================
// TransferCommand
// ===========================================================================

// TransferCommand moves a record from the session signer to NewOwner.
type TransferCommand struct {
	BaseCommand
	Request domain.TransferRequest
}

// NewTransferCommand creates a TransferCommand.
func NewTransferCommand(source CommandSource, req domain.TransferRequest) *TransferCommand {
	return &TransferCommand{
		BaseCommand: NewBaseCommand(CmdTransferRecord, source),
		Request:     req,
	}
}

// Validate rejects empty fields first, then malformed ones.
func (c *TransferCommand) Validate() error {
	r := c.Request
	if r.RFID == "" {
		return types.Invalid("rfid", "", "is required")
	}
	if r.NewOwner == "" {
		return types.Invalid("newOwner", "", "is required")
	}
	if !validate.IsValidRfid(r.RFID) {
		return types.Invalid("rfid", r.RFID, "must be exactly 15 hexadecimal characters")
	}
	if !validate.IsValidAddress(r.NewOwner) {
		return types.Invalid("newOwner", r.NewOwner, "must be 0x followed by 40 hexadecimal characters")
	}
	return nil
}

// NewOwnerAddress returns the destination account.
func (c *TransferCommand) NewOwnerAddress() common.Address {
	return common.HexToAddress(c.Request.NewOwner)
}

// ===========================================================================
// RedeemCommand
// ===========================================================================

// RedeemCommand retires a record. Ownership is enforced by the ledger alone.
type RedeemCommand struct {
	BaseCommand
	Request domain.RedemptionRequest
}

// NewRedeemCommand creates a RedeemCommand.
func NewRedeemCommand(source CommandSource, req domain.RedemptionRequest) *RedeemCommand {
	return &RedeemCommand{
		BaseCommand: NewBaseCommand(CmdRedeemRecord, source),
		Request:     req,
	}
}

// Validate only rejects an empty rfid.
func (c *RedeemCommand) Validate() error {
	if c.Request.RFID == "" {
		return types.Invalid("rfid", "", "is required")
	}
	return nil
}

// ===========================================================================
// ListCommand
// ===========================================================================

// ListCommand offers a token on the marketplace at a decimal price.
type ListCommand struct {
	BaseCommand
	Request domain.ListingRequest
}

// NewListCommand creates a ListCommand.
func NewListCommand(source CommandSource, req domain.ListingRequest) *ListCommand {
	return &ListCommand{
		BaseCommand: NewBaseCommand(CmdListCollectible, source),
		Request:     req,
	}
}

// Validate checks the contract address, token id and price.
func (c *ListCommand) Validate() error {
	_, _, _, err := c.Parse()
	return err
}

// Parse returns the listing arguments in ledger units. The price is scaled
// by domain.PaymentDecimals.
func (c *ListCommand) Parse() (nft common.Address, tokenID, price *big.Int, err error) {
	r := c.Request
	if !validate.IsValidAddress(r.NFT) {
		return common.Address{}, nil, nil, types.Invalid("nft", r.NFT, "must be 0x followed by 40 hexadecimal characters")
	}
	tokenID, err = domain.ParseTokenID(r.TokenID)
	if err != nil {
		return common.Address{}, nil, nil, types.Invalid("tokenId", r.TokenID, "must be a non-negative integer that fits in uint256")
	}
	price, err = domain.ParseUnits(r.Price, domain.PaymentDecimals)
	if err != nil || price.Sign() <= 0 || price.Cmp(math.MaxBig256) > 0 {
		return common.Address{}, nil, nil, types.Invalid("price", r.Price, "must be a positive decimal amount")
	}
	return common.HexToAddress(r.NFT), tokenID, price, nil
}

// RFID returns the record the command targets.
func (c *RegisterCommand) RFID() string { return c.Request.RFID }

// RFID returns the record the command targets.
func (c *TransferCommand) RFID() string { return c.Request.RFID }

// RFID returns the record the command targets.
func (c *RedeemCommand) RFID() string { return c.Request.RFID }
