package domain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
)

// PaymentDecimals is the precision of the marketplace payment token.
const PaymentDecimals = 6

var errBadAmount = errors.New("not a decimal amount")

// ParseUnits converts a decimal string such as "12.5" into an integer amount
// scaled by 10^decimals. More fractional digits than decimals is an error.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || decimals < 0 {
		return nil, errBadAmount
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if hasDot && frac == "" {
		return nil, errBadAmount
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("%w: more than %d fractional digits", errBadAmount, decimals)
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, errBadAmount
		}
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, errBadAmount
	}
	return v, nil
}

// ParseTokenID parses a base-10 token id. Ids must fit in a uint256.
func ParseTokenID(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, fmt.Errorf("token id %q is not a non-negative integer", s)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("token id %q is not a non-negative integer", s)
	}
	if v.Cmp(math.MaxBig256) > 0 {
		return nil, fmt.Errorf("token id %q exceeds uint256", s)
	}
	return v, nil
}
