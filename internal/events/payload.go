// Package events builds and publishes escrow.state.v1 records. One record is
// emitted per observed state transition, keyed by contract address so a
// contract's history stays ordered on the queue.
package events

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/openescrow/escrow-console/internal/escrow"
)

const PayloadVersion = "escrow.state.v1"

var ErrInvalidPayload = errors.New("events: invalid payload")

type Payload struct {
	Version            string `json:"version"`
	EventID            string `json:"eventId"`
	Contract           string `json:"contract"`
	Observer           string `json:"observer"`
	Role               string `json:"role"`
	State              string `json:"state"`
	Phase              string `json:"phase"`
	IsFinal            bool   `json:"isFinal"`
	MilestonesReleased int    `json:"milestonesReleased"`
	Balance            string `json:"balance"`
	Fingerprint        string `json:"fingerprint"`
	ObservedAt         string `json:"observedAt"`
}

// BuildPayload assembles the record for one transition. The event id is
// derived from the contract, the snapshot fingerprint, and the state name, so
// a consumer that sees the same transition twice can deduplicate.
func BuildPayload(contract, observer common.Address, u escrow.UIState, s escrow.ContractSnapshot, fp escrow.Fingerprint, observedAt time.Time) (Payload, error) {
	if contract == (common.Address{}) {
		return Payload{}, fmt.Errorf("%w: contract address is zero", ErrInvalidPayload)
	}
	if observedAt.IsZero() {
		return Payload{}, fmt.Errorf("%w: observation time is zero", ErrInvalidPayload)
	}

	return Payload{
		Version:            PayloadVersion,
		EventID:            eventID(contract, fp, u.Name()),
		Contract:           contract.Hex(),
		Observer:           observer.Hex(),
		Role:               roleName(u.Role),
		State:              u.Name(),
		Phase:              phaseName(u.Phase),
		IsFinal:            u.IsFinal,
		MilestonesReleased: u.MilestonesReleased,
		Balance:            escrow.FormatAmount(s.Balance),
		Fingerprint:        "0x" + hex.EncodeToString(fp[:]),
		ObservedAt:         observedAt.UTC().Format(time.RFC3339),
	}, nil
}

func eventID(contract common.Address, fp escrow.Fingerprint, state string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("escrow-event-v1"))
	h.Write(contract[:])
	h.Write(fp[:])
	h.Write([]byte(state))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func roleName(r escrow.Role) string {
	switch r {
	case escrow.RolePayer:
		return "payer"
	case escrow.RolePayee:
		return "payee"
	default:
		return "observer"
	}
}

func phaseName(p escrow.Phase) string {
	switch p {
	case escrow.PhasePreDeposit:
		return "pre-deposit"
	case escrow.PhaseActive:
		return "active"
	case escrow.PhaseSpecialProcess:
		return "special-process"
	case escrow.PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}
