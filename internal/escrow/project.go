package escrow

import "math/big"

// ViewModel is what a frontend renders: the resolved state plus the optional
// informational panels. It carries no markup; deciding *what* to show is this
// package's job, drawing it is the host's.
type ViewModel struct {
	State    string
	Phase    string
	Role     string
	Actions  []Action
	IsFinal  bool
	IsFatal  bool
	CanInter bool

	Milestones   *MilestonePanel
	Settlement   *SettlementPanel
	Cancellation *CancellationPanel
}

// MilestonePanel reports release progress while the contract is active.
type MilestonePanel struct {
	ReleasedCount int
	Total         int
	AllReleased   bool

	// Next* are meaningful only when AllReleased is false.
	NextIndex      int
	NextAmount     *big.Int
	NextPercentage uint8
}

// SettlementPanel reports the two-step settlement approval progress.
type SettlementPanel struct {
	OfferedAmount *big.Int
	Approved      bool
	// Progress reads "1/2" while proposed and "2/2" once approved.
	Progress string
}

// CancellationPanel reports the two-party cancel approval progress.
type CancellationPanel struct {
	PayerApproved bool
	PayeeApproved bool
	Progress      string
	// Executing flips once both parties approved and the contract is about
	// to settle the cancellation on its own.
	Executing bool
}

// Project folds a resolved state and its snapshot into the view-model.
func Project(u UIState, s ContractSnapshot) ViewModel {
	vm := ViewModel{
		State:    u.Name(),
		Phase:    u.Phase.String(),
		Role:     u.Role.String(),
		Actions:  u.Actions,
		IsFinal:  u.IsFinal,
		IsFatal:  u.IsFatal,
		CanInter: u.CanInteract,
	}

	if u.Phase == PhaseActive {
		vm.Milestones = milestonePanel(s)
	}
	if s.SettlementAmount != nil && s.SettlementAmount.Sign() > 0 {
		vm.Settlement = settlementPanel(s)
	}
	if s.CancelApprovedPayer || s.CancelApprovedPayee {
		vm.Cancellation = cancellationPanel(s)
	}
	return vm
}

func milestonePanel(s ContractSnapshot) *MilestonePanel {
	p := &MilestonePanel{
		ReleasedCount: s.ReleasedCount(),
		Total:         len(s.Milestones),
		NextIndex:     -1,
	}
	next := s.NextMilestone()
	if next < 0 {
		p.AllReleased = true
		return p
	}
	m := s.Milestones[next]
	p.NextIndex = next
	p.NextAmount = m.Amount
	p.NextPercentage = m.Percentage
	return p
}

func settlementPanel(s ContractSnapshot) *SettlementPanel {
	p := &SettlementPanel{
		OfferedAmount: s.SettlementAmount,
		Approved:      s.SettlementApproved,
		Progress:      "1/2",
	}
	if s.SettlementApproved {
		p.Progress = "2/2"
	}
	return p
}

func cancellationPanel(s ContractSnapshot) *CancellationPanel {
	n := 0
	if s.CancelApprovedPayer {
		n++
	}
	if s.CancelApprovedPayee {
		n++
	}
	return &CancellationPanel{
		PayerApproved: s.CancelApprovedPayer,
		PayeeApproved: s.CancelApprovedPayee,
		Progress:      progressOf(n),
		Executing:     n == 2,
	}
}

func progressOf(n int) string {
	switch n {
	case 2:
		return "2/2"
	case 1:
		return "1/2"
	default:
		return "0/2"
	}
}
