package escrow

import "fmt"

// ActionKind is the closed set of operations a user can trigger. Dispatch on
// it is a single exhaustive switch at the gateway boundary, so a new kind is
// a compile-visible change everywhere it matters.
type ActionKind uint8

const (
	ActionPayPlatformFee ActionKind = iota
	ActionConfirmPayer
	ActionConfirmPayee
	ActionDeposit
	ActionReleaseMilestone
	ActionRefund
	ActionApproveCancel
	ActionProposeSettlement
	ActionApproveSettlement
	ActionClaimAfterDeadline
	ActionViewDetails
)

func (k ActionKind) String() string {
	switch k {
	case ActionPayPlatformFee:
		return "payPlatformFee"
	case ActionConfirmPayer:
		return "confirmPayer"
	case ActionConfirmPayee:
		return "confirmPayee"
	case ActionDeposit:
		return "deposit"
	case ActionReleaseMilestone:
		return "releaseMilestone"
	case ActionRefund:
		return "refund"
	case ActionApproveCancel:
		return "approveCancel"
	case ActionProposeSettlement:
		return "proposeSettlement"
	case ActionApproveSettlement:
		return "approveSettlement"
	case ActionClaimAfterDeadline:
		return "claimAfterDeadline"
	case ActionViewDetails:
		return "viewDetails"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseActionKind maps a wire/CLI name back to its kind.
func ParseActionKind(name string) (ActionKind, bool) {
	for k := ActionPayPlatformFee; k <= ActionViewDetails; k++ {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// Severity drives how a frontend styles the action.
type Severity uint8

const (
	SeverityPrimary Severity = iota
	SeverityWarning
	SeverityDanger
	SeverityInfo
	SeveritySecondary
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityDanger:
		return "danger"
	case SeverityInfo:
		return "info"
	case SeveritySecondary:
		return "secondary"
	default:
		return "primary"
	}
}

// Action is one permitted operation with its presentation metadata.
// Milestone is the 0-based target index for ActionReleaseMilestone and -1
// otherwise.
type Action struct {
	Kind      ActionKind
	Label     string
	Severity  Severity
	Milestone int
}

func action(k ActionKind) Action {
	a := Action{Kind: k, Milestone: -1}
	switch k {
	case ActionPayPlatformFee:
		a.Label, a.Severity = "Pay platform fee (1 USDC)", SeverityPrimary
	case ActionConfirmPayer:
		a.Label, a.Severity = "Confirm payer identity", SeverityPrimary
	case ActionConfirmPayee:
		a.Label, a.Severity = "Confirm payee identity", SeverityPrimary
	case ActionDeposit:
		a.Label, a.Severity = "Deposit USDC", SeverityPrimary
	case ActionReleaseMilestone:
		a.Label, a.Severity = "Release milestone", SeverityPrimary
	case ActionRefund:
		a.Label, a.Severity = "Refund (100%)", SeverityDanger
	case ActionApproveCancel:
		a.Label, a.Severity = "Approve cancellation", SeverityWarning
	case ActionProposeSettlement:
		a.Label, a.Severity = "Propose settlement", SeverityInfo
	case ActionApproveSettlement:
		a.Label, a.Severity = "Approve settlement", SeverityInfo
	case ActionClaimAfterDeadline:
		a.Label, a.Severity = "Claim after deadline", SeverityDanger
	case ActionViewDetails:
		a.Label, a.Severity = "View details", SeveritySecondary
	}
	return a
}

func releaseAction(index int) Action {
	a := action(ActionReleaseMilestone)
	a.Milestone = index
	a.Label = fmt.Sprintf("Release milestone %d", index+1)
	return a
}

func actions(kinds ...ActionKind) []Action {
	out := make([]Action, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, action(k))
	}
	return out
}

// ActionsFor returns the ordered action list for a resolved state and role.
// Observers always get an empty list.
func ActionsFor(u UIState) []Action {
	if u.Role == RoleObserver {
		return nil
	}
	if u.IsFinal {
		return nil
	}
	if u.IsFatal {
		// Passive inspection only.
		return actions(ActionViewDetails)
	}

	payer := u.Role == RolePayer

	switch u.ID {
	case StateWaitingPlatformFee:
		return actions(ActionPayPlatformFee, ActionViewDetails)

	case StateWaitingBothConfirmations:
		if payer {
			return actions(ActionConfirmPayer, ActionViewDetails)
		}
		return actions(ActionConfirmPayee, ActionViewDetails)

	case StateWaitingPayerConfirmation:
		if payer {
			return actions(ActionConfirmPayer, ActionViewDetails)
		}
		return actions(ActionViewDetails)

	case StateWaitingPayeeConfirmation:
		if payer {
			return actions(ActionViewDetails)
		}
		return actions(ActionConfirmPayee, ActionViewDetails)

	case StateReadyForDeposit:
		if payer {
			return actions(ActionDeposit, ActionViewDetails)
		}
		return actions(ActionViewDetails)

	case StateActiveNoMilestonesReleased, StateActiveMilestoneReleased:
		return milestoneActions(u)

	case StateActiveDeadlinePassed:
		if payer {
			return actions(ActionClaimAfterDeadline, ActionApproveCancel, ActionViewDetails)
		}
		return actions(ActionApproveCancel, ActionViewDetails)

	case StateCancelPartialPayer:
		if payer {
			return actions(ActionViewDetails)
		}
		return actions(ActionApproveCancel, ActionViewDetails)

	case StateCancelPartialPayee:
		if payer {
			return actions(ActionApproveCancel, ActionViewDetails)
		}
		return actions(ActionViewDetails)

	case StateSettlementProposed:
		if payer {
			return actions(ActionApproveCancel, ActionViewDetails)
		}
		return actions(ActionApproveSettlement, ActionApproveCancel, ActionViewDetails)

	case StateSettlementApprovedWaitingCancel:
		return actions(ActionApproveCancel, ActionViewDetails)

	default:
		return nil
	}
}

// milestoneActions computes the active-phase list procedurally: the payer
// always leads with the next release, may refund only while nothing has been
// released, and both sides keep their cancel/settlement options.
func milestoneActions(u UIState) []Action {
	if u.Role == RolePayer {
		out := []Action{releaseAction(u.NextMilestone)}
		if u.MilestonesReleased == 0 {
			out = append(out, action(ActionRefund))
		}
		out = append(out,
			action(ActionApproveCancel),
			action(ActionProposeSettlement),
			action(ActionViewDetails),
		)
		return out
	}
	return actions(ActionApproveCancel, ActionApproveSettlement, ActionViewDetails)
}
