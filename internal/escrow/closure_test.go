package escrow

import "testing"

func TestClosureAfter_RefundAndClaim(t *testing.T) {
	s := activeSnapshot()
	if id, ok := ClosureAfter(ActionRefund, s); !ok || id != StateCompletedRefunded {
		t.Fatalf("refund: got %v ok=%v", id, ok)
	}
	if id, ok := ClosureAfter(ActionClaimAfterDeadline, s); !ok || id != StateCompletedClaimedAfterDeadline {
		t.Fatalf("claim: got %v ok=%v", id, ok)
	}
}

func TestClosureAfter_ApproveCancel(t *testing.T) {
	s := activeSnapshot()
	if _, ok := ClosureAfter(ActionApproveCancel, s); ok {
		t.Fatalf("first approval does not close the contract")
	}

	s.CancelApprovedPayee = true
	if id, ok := ClosureAfter(ActionApproveCancel, s); !ok || id != StateCompletedCancelled {
		t.Fatalf("second approval: got %v ok=%v", id, ok)
	}

	s.SettlementAmount = usdc(400)
	s.SettlementApproved = true
	if id, ok := ClosureAfter(ActionApproveCancel, s); !ok || id != StateCompletedSettlement {
		t.Fatalf("settlement rides the cancellation: got %v ok=%v", id, ok)
	}

	// A proposed but unapproved settlement cancels plain.
	s.SettlementApproved = false
	if id, ok := ClosureAfter(ActionApproveCancel, s); !ok || id != StateCompletedCancelled {
		t.Fatalf("unapproved settlement: got %v ok=%v", id, ok)
	}
}

func TestClosureAfter_ReleaseMilestone(t *testing.T) {
	s := activeSnapshot()
	if _, ok := ClosureAfter(ActionReleaseMilestone, s); ok {
		t.Fatalf("first release does not close")
	}

	s.Milestones[0].Released = true
	s.Milestones[1].Released = true
	if id, ok := ClosureAfter(ActionReleaseMilestone, s); !ok || id != StateCompletedAllMilestones {
		t.Fatalf("last release: got %v ok=%v", id, ok)
	}
}

func TestClosureAfter_NonClosingActions(t *testing.T) {
	s := activeSnapshot()
	for _, kind := range []ActionKind{
		ActionPayPlatformFee, ActionConfirmPayer, ActionConfirmPayee,
		ActionDeposit, ActionProposeSettlement, ActionApproveSettlement,
		ActionViewDetails,
	} {
		if _, ok := ClosureAfter(kind, s); ok {
			t.Fatalf("%v must never close the contract", kind)
		}
	}
}

func TestStateByName(t *testing.T) {
	id, ok := StateByName("COMPLETED_REFUNDED")
	if !ok || id != StateCompletedRefunded {
		t.Fatalf("got %v ok=%v", id, ok)
	}
	if _, ok := StateByName("ACTIVE_MILESTONE_2_RELEASED"); ok {
		t.Fatalf("dynamic names are not restorable")
	}
}
