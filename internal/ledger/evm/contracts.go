// Package evm implements the ledger clients against deployed contracts over
// JSON-RPC.
package evm

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

//go:embed abi/*.json
var abiFS embed.FS

var (
	registryABI = mustParseABI("abi/CollectibleRegistry.json")
	nftABI      = mustParseABI("abi/CollectibleNFT.json")
	marketABI   = mustParseABI("abi/CollectibleMarket.json")
)

func mustParseABI(name string) abi.ABI {
	data, err := abiFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("evm: read %s: %v", name, err))
	}
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		panic(fmt.Sprintf("evm: parse %s: %v", name, err))
	}
	return parsed
}

var hash32Pattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// AuthenticityHash converts the textual hash to the registry's bytes32. A
// 0x-prefixed 64 digit hex string is used as is; any other text is hashed
// with keccak256.
func AuthenticityHash(s string) common.Hash {
	if hash32Pattern.MatchString(s) {
		return common.HexToHash(s)
	}
	return crypto.Keccak256Hash([]byte(s))
}

// isRevert reports whether err is an execution revert rather than a
// transport failure.
func isRevert(err error) bool {
	if err == nil {
		return false
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}
