package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openescrow/escrow-console/internal/escrow"
)

const RecordVersion = "escrow.closure.v1"

// Record is the archived view of a contract at the moment it closed.
type Record struct {
	Version            string   `json:"version"`
	Contract           string   `json:"contract"`
	Reason             string   `json:"reason"`
	ClosedAt           string   `json:"closedAt"`
	Payer              string   `json:"payer"`
	Payee              string   `json:"payee"`
	TotalAmount        string   `json:"totalAmount"`
	Balance            string   `json:"balance"`
	MilestonesReleased int      `json:"milestonesReleased"`
	MilestoneAmounts   []string `json:"milestoneAmounts"`
	SettlementAmount   string   `json:"settlementAmount,omitempty"`
}

// Archiver writes one closure record per contract. A second write for the
// same contract is a no-op: the first recorded closure wins, matching the
// write-once rule the tracking registry enforces.
type Archiver struct {
	store Store
}

func NewArchiver(store Store) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	return &Archiver{store: store}, nil
}

// RecordKey is the store key for a contract's closure record.
func RecordKey(contract common.Address) string {
	return "closures/" + strings.ToLower(contract.Hex()) + ".json"
}

func (a *Archiver) ArchiveClosure(ctx context.Context, contract common.Address, reason string, closedAt time.Time, snap escrow.ContractSnapshot) error {
	if contract == (common.Address{}) {
		return fmt.Errorf("%w: contract address is zero", ErrInvalidConfig)
	}
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: closure reason is required", ErrInvalidConfig)
	}

	key := RecordKey(contract)
	exists, err := a.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	amounts := make([]string, 0, len(snap.Milestones))
	released := 0
	for _, m := range snap.Milestones {
		amounts = append(amounts, escrow.FormatAmount(m.Amount))
		if m.Released {
			released++
		}
	}

	rec := Record{
		Version:            RecordVersion,
		Contract:           contract.Hex(),
		Reason:             reason,
		ClosedAt:           closedAt.UTC().Format(time.RFC3339),
		Payer:              snap.Payer.Hex(),
		Payee:              snap.Payee.Hex(),
		TotalAmount:        escrow.FormatAmount(snap.TotalAmount),
		Balance:            escrow.FormatAmount(snap.Balance),
		MilestonesReleased: released,
		MilestoneAmounts:   amounts,
	}
	if snap.SettlementAmount != nil && snap.SettlementAmount.Sign() > 0 {
		rec.SettlementAmount = escrow.FormatAmount(snap.SettlementAmount)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: marshal record for %s: %w", contract.Hex(), err)
	}
	return a.store.Put(ctx, key, payload)
}

// Closure loads the archived record for a contract. ErrNotFound when the
// contract has not closed or was never archived.
func (a *Archiver) Closure(ctx context.Context, contract common.Address) (Record, error) {
	data, err := a.store.Get(ctx, RecordKey(contract))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("archive: decode record for %s: %w", contract.Hex(), err)
	}
	return rec, nil
}
