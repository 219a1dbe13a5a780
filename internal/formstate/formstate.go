// Package formstate validates user-entered amounts before any contract write
// is attempted. Amounts are entered as decimal token strings and converted to
// base units; a value that fails validation never reaches the gateway.
package formstate

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/openescrow/escrow-console/internal/escrow"
)

var ErrInvalidInput = errors.New("formstate: invalid input")

var tenPow6 = big.NewInt(1_000_000)

// ParseAmount converts a decimal token amount such as "12.5" into base units.
// The token carries six decimal places; more precision than that is rejected
// rather than truncated.
func ParseAmount(input string) (*big.Int, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil, fmt.Errorf("%w: amount is required", ErrInvalidInput)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
		if strings.IndexByte(frac, '.') >= 0 {
			return nil, fmt.Errorf("%w: malformed amount %q", ErrInvalidInput, input)
		}
	}
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("%w: malformed amount %q", ErrInvalidInput, input)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > escrow.AmountDecimals {
		return nil, fmt.Errorf("%w: at most %d decimal places", ErrInvalidInput, escrow.AmountDecimals)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return nil, fmt.Errorf("%w: malformed amount %q", ErrInvalidInput, input)
	}

	wholeUnits, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed amount %q", ErrInvalidInput, input)
	}
	wholeUnits.Mul(wholeUnits, tenPow6)

	if frac != "" {
		frac += strings.Repeat("0", escrow.AmountDecimals-len(frac))
		fracUnits, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, fmt.Errorf("%w: malformed amount %q", ErrInvalidInput, input)
		}
		wholeUnits.Add(wholeUnits, fracUnits)
	}

	if wholeUnits.Sign() == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return wholeUnits, nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ValidateDeposit checks a deposit amount against the contract. The deposit
// must match the agreed total exactly.
func ValidateDeposit(input string, snap escrow.ContractSnapshot) (*big.Int, error) {
	amount, err := ParseAmount(input)
	if err != nil {
		return nil, err
	}
	if snap.TotalAmount == nil || amount.Cmp(snap.TotalAmount) != 0 {
		return nil, fmt.Errorf("%w: deposit must equal the agreed total %s", ErrInvalidInput, escrow.FormatAmount(snap.TotalAmount))
	}
	return amount, nil
}

// ValidateSettlement checks a settlement offer against the remaining balance.
// An offer above what the contract still holds cannot be paid out.
func ValidateSettlement(input string, snap escrow.ContractSnapshot) (*big.Int, error) {
	amount, err := ParseAmount(input)
	if err != nil {
		return nil, err
	}
	if snap.Balance == nil || amount.Cmp(snap.Balance) > 0 {
		return nil, fmt.Errorf("%w: settlement exceeds remaining balance %s", ErrInvalidInput, escrow.FormatAmount(snap.Balance))
	}
	return amount, nil
}
