// Package validate holds the pure input predicates that gate every ledger call.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ipfs/go-cid"
)

// ContentScheme is the only accepted token URI scheme.
const ContentScheme = "ipfs://"

var (
	rfidPattern       = regexp.MustCompile(`^[0-9a-fA-F]{15}$`)
	addressPattern    = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	contentURIPattern = regexp.MustCompile(`^ipfs://[a-zA-Z0-9]{46,}$`)
)

// IsValidRfid reports whether s is exactly 15 hexadecimal characters.
func IsValidRfid(s string) bool {
	return rfidPattern.MatchString(s)
}

// IsValidAddress reports whether s is 0x followed by exactly 40 hexadecimal characters.
// The prefix is case-sensitive; the digits are not.
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// IsValidContentURI reports whether s is ipfs:// followed by at least 46
// alphanumeric characters.
func IsValidContentURI(s string) bool {
	return contentURIPattern.MatchString(s)
}

// ContentCID decodes the content identifier carried by an ipfs:// URI.
// It is an inspection helper: a URI can satisfy IsValidContentURI and still
// fail to decode, and that does not make it invalid for registration.
func ContentCID(uri string) (cid.Cid, error) {
	if !strings.HasPrefix(uri, ContentScheme) {
		return cid.Undef, fmt.Errorf("not an %s uri: %q", ContentScheme, uri)
	}
	c, err := cid.Decode(strings.TrimPrefix(uri, ContentScheme))
	if err != nil {
		return cid.Undef, fmt.Errorf("decode cid: %w", err)
	}
	return c, nil
}

// CIDInfo summarizes a decoded content identifier for display.
type CIDInfo struct {
	Version   uint64 `json:"version"`
	Codec     string `json:"codec"`
	Multihash string `json:"multihash"`
	String    string `json:"cid"`
}

// DescribeCID returns display details for the CID inside uri.
func DescribeCID(uri string) (CIDInfo, error) {
	c, err := ContentCID(uri)
	if err != nil {
		return CIDInfo{}, err
	}
	prefix := c.Prefix()
	return CIDInfo{
		Version:   prefix.Version,
		Codec:     codecName(prefix.Codec),
		Multihash: c.Hash().B58String(),
		String:    c.String(),
	}, nil
}

func codecName(code uint64) string {
	switch code {
	case cid.DagProtobuf:
		return "dag-pb"
	case cid.Raw:
		return "raw"
	case cid.DagCBOR:
		return "dag-cbor"
	case cid.DagJSON:
		return "dag-json"
	default:
		return fmt.Sprintf("0x%x", code)
	}
}
