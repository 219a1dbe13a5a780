// Package registry tracks the escrow contracts a user is involved in and
// the terminal outcome recorded when one of them closes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openescrow/escrow-console/internal/escrow"
)

var (
	ErrNotFound        = errors.New("registry: not found")
	ErrInvalidContract = errors.New("registry: invalid contract")
	ErrInvalidClosure  = errors.New("registry: invalid closure")
)

// Contract is one tracked escrow binding for one account.
type Contract struct {
	Address common.Address
	Account common.Address
	Role    escrow.Role

	Payer common.Address
	Payee common.Address

	AddedAt time.Time

	// ClosureReason is the terminal state name recorded when a closing
	// write succeeded ("" while the contract is open). The chain cannot
	// answer this after the fact, so it is write-once here.
	ClosureReason string
	ClosedAt      time.Time
}

func (c Contract) Validate() error {
	if (c.Address == common.Address{}) {
		return fmt.Errorf("%w: zero contract address", ErrInvalidContract)
	}
	if (c.Account == common.Address{}) {
		return fmt.Errorf("%w: zero account", ErrInvalidContract)
	}
	if (c.Payer == common.Address{}) || (c.Payee == common.Address{}) {
		return fmt.Errorf("%w: zero participant", ErrInvalidContract)
	}
	if c.Role != escrow.RolePayer && c.Role != escrow.RolePayee {
		return fmt.Errorf("%w: account must be payer or payee", ErrInvalidContract)
	}
	return nil
}

// Store persists tracked contracts. Closure records are keyed by contract
// address alone: a contract closes once, for everyone.
type Store interface {
	// Track upserts a contract binding. Re-tracking an already known
	// binding is not an error.
	Track(ctx context.Context, c Contract) error
	// List returns the account's tracked contracts, oldest first.
	List(ctx context.Context, account common.Address) ([]Contract, error)
	// Get returns one tracked binding or ErrNotFound.
	Get(ctx context.Context, account, address common.Address) (Contract, error)
	// RecordClosure stores the terminal state for a contract. Recording a
	// different reason for an already closed contract fails with
	// ErrInvalidClosure; recording the same reason again is a no-op.
	RecordClosure(ctx context.Context, address common.Address, reason string, at time.Time) error
	// Closure returns the recorded terminal state name, if any.
	Closure(ctx context.Context, address common.Address) (string, bool, error)
}

// ValidateClosureReason rejects closure reasons that are not names of
// terminal states. Every Store implementation applies it in RecordClosure.
func ValidateClosureReason(reason string) error {
	id, ok := escrow.StateByName(reason)
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidClosure, reason)
	}
	if !escrow.IsFinalState(id) {
		return fmt.Errorf("%w: %q is not a terminal state", ErrInvalidClosure, reason)
	}
	return nil
}
