package escrow

// ClosureAfter reports the terminal state a contract enters when the given
// action succeeds against the pre-action snapshot. The contract exposes no
// closure-reason getter, so cancelled/settled/refunded/claimed outcomes are
// only knowable at the moment the closing write lands; callers record the
// result durably and later polls read it back instead of re-deriving it.
func ClosureAfter(kind ActionKind, before ContractSnapshot) (StateID, bool) {
	switch kind {
	case ActionRefund:
		return StateCompletedRefunded, true
	case ActionClaimAfterDeadline:
		return StateCompletedClaimedAfterDeadline, true
	case ActionApproveCancel:
		// The second approval executes the cancellation; which terminal
		// state that is depends on whether an approved settlement rides it.
		if before.CancelApprovedPayer || before.CancelApprovedPayee {
			if before.SettlementAmount != nil && before.SettlementAmount.Sign() > 0 && before.SettlementApproved {
				return StateCompletedSettlement, true
			}
			return StateCompletedCancelled, true
		}
		return 0, false
	case ActionReleaseMilestone:
		if before.ReleasedCount() == len(before.Milestones)-1 {
			return StateCompletedAllMilestones, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// StateByName maps a stored discriminator back to its StateID. Dynamic
// milestone names are not restorable this way and return false.
func StateByName(name string) (StateID, bool) {
	for id, traits := range stateTable {
		if traits.name == name {
			return id, true
		}
	}
	return 0, false
}
