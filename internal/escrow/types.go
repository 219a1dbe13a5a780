// Package escrow models the observable state of a milestone escrow contract
// and derives everything the client renders from it: the lifecycle state, the
// actions available to the connected account, and the informational panels.
package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidSnapshot = errors.New("escrow: invalid snapshot")
)

// AmountDecimals is the fixed-point precision of all escrow amounts,
// matching the underlying stablecoin (USDC).
const AmountDecimals = 6

// Milestone is one percentage slice of the total escrow value. Count and
// percentages are fixed at contract creation; Released is monotonic.
type Milestone struct {
	Percentage uint8
	Amount     *big.Int
	Released   bool
}

// ContractSnapshot is one poll's view of the on-chain contract. It is built
// fresh every tick and never cached beyond it.
type ContractSnapshot struct {
	Payer common.Address
	Payee common.Address

	TotalAmount *big.Int
	Deadline    time.Time

	PlatformFeePaid bool
	ConfirmedPayer  bool
	ConfirmedPayee  bool
	Deposited       bool

	Balance *big.Int

	Milestones []Milestone

	SettlementAmount   *big.Int
	SettlementApproved bool

	// The contract may reset these on its own cancel-window timeout; the
	// client treats them as freely toggling, not monotonic.
	CancelApprovedPayer bool
	CancelApprovedPayee bool
}

// Validate checks the structural invariants a well-formed contract instance
// guarantees. Resolve degrades to the fallback state rather than failing,
// so Validate is only called at the gateway boundary.
func (s ContractSnapshot) Validate() error {
	if (s.Payer == common.Address{}) || (s.Payee == common.Address{}) {
		return fmt.Errorf("%w: zero participant address", ErrInvalidSnapshot)
	}
	if s.TotalAmount == nil || s.TotalAmount.Sign() <= 0 {
		return fmt.Errorf("%w: TotalAmount must be > 0", ErrInvalidSnapshot)
	}
	if s.Balance == nil || s.Balance.Sign() < 0 {
		return fmt.Errorf("%w: Balance must be >= 0", ErrInvalidSnapshot)
	}
	if s.SettlementAmount == nil || s.SettlementAmount.Sign() < 0 {
		return fmt.Errorf("%w: SettlementAmount must be >= 0", ErrInvalidSnapshot)
	}
	if len(s.Milestones) == 0 {
		return fmt.Errorf("%w: no milestones", ErrInvalidSnapshot)
	}
	sum := 0
	for i, m := range s.Milestones {
		if m.Percentage == 0 || m.Percentage > 100 {
			return fmt.Errorf("%w: milestone[%d] percentage %d out of range", ErrInvalidSnapshot, i, m.Percentage)
		}
		if m.Amount == nil || m.Amount.Sign() < 0 {
			return fmt.Errorf("%w: milestone[%d] amount must be >= 0", ErrInvalidSnapshot, i)
		}
		sum += int(m.Percentage)
	}
	if sum != 100 {
		return fmt.Errorf("%w: milestone percentages sum to %d, want 100", ErrInvalidSnapshot, sum)
	}
	return nil
}

// ReleasedCount returns how many milestones have been released.
func (s ContractSnapshot) ReleasedCount() int {
	n := 0
	for _, m := range s.Milestones {
		if m.Released {
			n++
		}
	}
	return n
}

// NextMilestone returns the index of the first unreleased milestone, or -1
// when all are released.
func (s ContractSnapshot) NextMilestone() int {
	for i, m := range s.Milestones {
		if !m.Released {
			return i
		}
	}
	return -1
}

// AllMilestonesReleased reports whether every milestone is released. An empty
// milestone list is never "all released"; it marks a malformed snapshot.
func (s ContractSnapshot) AllMilestonesReleased() bool {
	if len(s.Milestones) == 0 {
		return false
	}
	return s.NextMilestone() == -1
}

// FormatAmount renders a base-unit amount with the stablecoin's 6 decimals.
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	q, r := new(big.Int).QuoRem(v, big.NewInt(1_000_000), new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	return fmt.Sprintf("%s.%06d", q.String(), r.Int64())
}
