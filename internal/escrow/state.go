package escrow

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Role is the connected account's relationship to the contract.
type Role uint8

const (
	RoleObserver Role = iota
	RolePayer
	RolePayee
)

func (r Role) String() string {
	switch r {
	case RolePayer:
		return "PAYER"
	case RolePayee:
		return "PAYEE"
	default:
		return "OBSERVER"
	}
}

// Phase groups states into the four lifecycle stages.
type Phase uint8

const (
	PhasePreDeposit Phase = iota
	PhaseActive
	PhaseSpecialProcess
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "ACTIVE"
	case PhaseSpecialProcess:
		return "SPECIAL_PROCESS"
	case PhaseClosed:
		return "CLOSED"
	default:
		return "PRE_DEPOSIT"
	}
}

// StateID discriminates the finite set of lifecycle states. The active
// milestone state is parameterized by the released count carried on UIState.
type StateID uint8

const (
	StateInvalidConstructor StateID = iota
	StateWaitingPlatformFee
	StateWaitingBothConfirmations
	StateWaitingPayerConfirmation
	StateWaitingPayeeConfirmation
	StateReadyForDeposit
	StateDepositFailed
	StateActiveNoMilestonesReleased
	StateActiveMilestoneReleased
	StateActiveDeadlinePassed
	StateCancelPartialPayer
	StateCancelPartialPayee
	StateSettlementProposed
	StateSettlementApprovedWaitingCancel
	StateCompletedAllMilestones
	StateCompletedCancelled
	StateCompletedSettlement
	StateCompletedRefunded
	StateCompletedClaimedAfterDeadline
)

type stateTraits struct {
	name        string
	phase       Phase
	canInteract bool
	isFinal     bool
	isFatal     bool
}

var stateTable = map[StateID]stateTraits{
	StateInvalidConstructor:              {"INVALID_CONSTRUCTOR", PhasePreDeposit, false, false, true},
	StateWaitingPlatformFee:              {"WAITING_PLATFORM_FEE", PhasePreDeposit, true, false, false},
	StateWaitingBothConfirmations:        {"WAITING_BOTH_CONFIRMATIONS", PhasePreDeposit, true, false, false},
	StateWaitingPayerConfirmation:        {"WAITING_PAYER_CONFIRMATION", PhasePreDeposit, true, false, false},
	StateWaitingPayeeConfirmation:        {"WAITING_PAYEE_CONFIRMATION", PhasePreDeposit, true, false, false},
	StateReadyForDeposit:                 {"READY_FOR_DEPOSIT", PhasePreDeposit, true, false, false},
	StateDepositFailed:                   {"DEPOSIT_FAILED", PhasePreDeposit, true, false, true},
	StateActiveNoMilestonesReleased:      {"ACTIVE_NO_MILESTONES_RELEASED", PhaseActive, true, false, false},
	StateActiveMilestoneReleased:         {"ACTIVE_MILESTONE_RELEASED", PhaseActive, true, false, false},
	StateActiveDeadlinePassed:            {"ACTIVE_DEADLINE_PASSED", PhaseActive, true, false, false},
	StateCancelPartialPayer:              {"CANCEL_PARTIAL_PAYER", PhaseSpecialProcess, true, false, false},
	StateCancelPartialPayee:              {"CANCEL_PARTIAL_PAYEE", PhaseSpecialProcess, true, false, false},
	StateSettlementProposed:              {"SETTLEMENT_PROPOSED", PhaseSpecialProcess, true, false, false},
	StateSettlementApprovedWaitingCancel: {"SETTLEMENT_APPROVED_WAITING_CANCEL", PhaseSpecialProcess, true, false, false},
	StateCompletedAllMilestones:          {"COMPLETED_ALL_MILESTONES", PhaseClosed, false, true, false},
	StateCompletedCancelled:              {"COMPLETED_CANCELLED", PhaseClosed, false, true, false},
	StateCompletedSettlement:             {"COMPLETED_SETTLEMENT", PhaseClosed, false, true, false},
	StateCompletedRefunded:               {"COMPLETED_REFUNDED", PhaseClosed, false, true, false},
	StateCompletedClaimedAfterDeadline:   {"COMPLETED_CLAIMED_AFTER_DEADLINE", PhaseClosed, false, true, false},
}

// UIState is the resolved view of one snapshot for one observer. It is
// recomputed every poll and never persisted.
type UIState struct {
	ID    StateID
	Phase Phase
	Role  Role

	CanInteract bool
	IsFinal     bool
	IsFatal     bool

	// MilestonesReleased parameterizes StateActiveMilestoneReleased; for
	// other states it still carries the snapshot's released count.
	MilestonesReleased int
	// NextMilestone is the 0-based index of the next releasable milestone,
	// -1 when none remain.
	NextMilestone int

	Actions []Action
}

// Name returns the state discriminator string, expanding the dynamic
// milestone state with its released count.
func (u UIState) Name() string {
	if u.ID == StateActiveMilestoneReleased {
		return fmt.Sprintf("ACTIVE_MILESTONE_%d_RELEASED", u.MilestonesReleased)
	}
	return stateTable[u.ID].name
}

// DeriveRole compares the observer against the contract participants
// case-insensitively. common.Address comparison is already canonical, so a
// checksummed or lowercased source address resolves identically.
func DeriveRole(s ContractSnapshot, observer common.Address) Role {
	switch observer {
	case s.Payer:
		return RolePayer
	case s.Payee:
		return RolePayee
	default:
		return RoleObserver
	}
}

// ParseAddress accepts a 0x-prefixed 40-hex-digit address in any casing.
func ParseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("escrow: %q is not a hex address", raw)
	}
	return common.HexToAddress(raw), nil
}

// Resolve maps a snapshot and observer to the current UI state. It is pure
// and total: malformed snapshots degrade to the pre-activation fallback
// instead of failing.
//
// Guard priority is load-bearing: a contract that somehow reports
// deposited=true while the platform fee is unpaid must still resolve to
// WAITING_PLATFORM_FEE.
func Resolve(s ContractSnapshot, observer common.Address, now time.Time) UIState {
	role := DeriveRole(s, observer)

	if !s.PlatformFeePaid {
		return build(StateWaitingPlatformFee, role, s)
	}
	if !s.ConfirmedPayer && !s.ConfirmedPayee {
		return build(StateWaitingBothConfirmations, role, s)
	}
	if !s.ConfirmedPayer {
		return build(StateWaitingPayerConfirmation, role, s)
	}
	if !s.ConfirmedPayee {
		return build(StateWaitingPayeeConfirmation, role, s)
	}
	if !s.Deposited {
		return build(StateReadyForDeposit, role, s)
	}

	if s.AllMilestonesReleased() {
		return build(StateCompletedAllMilestones, role, s)
	}
	if !s.Deadline.IsZero() && now.After(s.Deadline) {
		return build(StateActiveDeadlinePassed, role, s)
	}
	if s.CancelApprovedPayer && !s.CancelApprovedPayee {
		return build(StateCancelPartialPayer, role, s)
	}
	if s.CancelApprovedPayee && !s.CancelApprovedPayer {
		return build(StateCancelPartialPayee, role, s)
	}
	if s.SettlementAmount != nil && s.SettlementAmount.Sign() > 0 {
		if !s.SettlementApproved {
			return build(StateSettlementProposed, role, s)
		}
		return build(StateSettlementApprovedWaitingCancel, role, s)
	}

	if s.ReleasedCount() == 0 {
		return build(StateActiveNoMilestonesReleased, role, s)
	}
	return build(StateActiveMilestoneReleased, role, s)
}

// StateName returns the static discriminator string for an id. The dynamic
// milestone state keeps its unparameterized base name here; UIState.Name
// expands it.
func StateName(id StateID) string {
	return stateTable[id].name
}

// IsFinalState reports whether the id names one of the CLOSED states.
func IsFinalState(id StateID) bool {
	return stateTable[id].isFinal
}

// Override replaces a resolved state's identity with a recorded terminal
// state while keeping the observer-specific fields. Used when a closing
// transaction's outcome was recorded durably, since the chain state alone
// cannot distinguish the CLOSED variants afterwards.
func Override(u UIState, id StateID) UIState {
	traits, ok := stateTable[id]
	if !ok || !traits.isFinal {
		return u
	}
	u.ID = id
	u.Phase = traits.phase
	u.CanInteract = traits.canInteract
	u.IsFinal = traits.isFinal
	u.IsFatal = traits.isFatal
	u.Actions = nil
	return u
}

func build(id StateID, role Role, s ContractSnapshot) UIState {
	traits := stateTable[id]
	u := UIState{
		ID:                 id,
		Phase:              traits.phase,
		Role:               role,
		CanInteract:        traits.canInteract,
		IsFinal:            traits.isFinal,
		IsFatal:            traits.isFatal,
		MilestonesReleased: s.ReleasedCount(),
		NextMilestone:      s.NextMilestone(),
	}
	u.Actions = ActionsFor(u)
	return u
}
