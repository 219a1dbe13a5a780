package escrow

import (
	"errors"
	"math/big"
	"testing"
)

func validSnapshot() ContractSnapshot {
	s := activeSnapshot()
	s.SettlementAmount = big.NewInt(0)
	return s
}

func TestValidate_AcceptsWellFormed(t *testing.T) {
	if err := validSnapshot().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_RejectsMalformed(t *testing.T) {
	cases := map[string]func(*ContractSnapshot){
		"zero payer":          func(s *ContractSnapshot) { s.Payer = [20]byte{} },
		"nil total":           func(s *ContractSnapshot) { s.TotalAmount = nil },
		"zero total":          func(s *ContractSnapshot) { s.TotalAmount = big.NewInt(0) },
		"nil balance":         func(s *ContractSnapshot) { s.Balance = nil },
		"negative settlement": func(s *ContractSnapshot) { s.SettlementAmount = big.NewInt(-1) },
		"no milestones":       func(s *ContractSnapshot) { s.Milestones = nil },
		"zero percentage":     func(s *ContractSnapshot) { s.Milestones[0].Percentage = 0 },
		"bad percentage sum":  func(s *ContractSnapshot) { s.Milestones[0].Percentage = 25 },
	}
	for name, mutate := range cases {
		s := validSnapshot()
		mutate(&s)
		if err := s.Validate(); !errors.Is(err, ErrInvalidSnapshot) {
			t.Fatalf("%s: expected ErrInvalidSnapshot, got %v", name, err)
		}
	}
}

func TestNextMilestone(t *testing.T) {
	s := activeSnapshot()
	if got := s.NextMilestone(); got != 0 {
		t.Fatalf("fresh contract: got %d", got)
	}
	s.Milestones[0].Released = true
	if got := s.NextMilestone(); got != 1 {
		t.Fatalf("after first release: got %d", got)
	}
	for i := range s.Milestones {
		s.Milestones[i].Released = true
	}
	if got := s.NextMilestone(); got != -1 {
		t.Fatalf("all released: got %d", got)
	}
	if !s.AllMilestonesReleased() {
		t.Fatalf("all released must report true")
	}
}

func TestAllMilestonesReleased_EmptyListIsNever(t *testing.T) {
	var s ContractSnapshot
	if s.AllMilestonesReleased() {
		t.Fatalf("empty milestone list must not count as all released")
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		in   *big.Int
		want string
	}{
		{nil, "0"},
		{big.NewInt(0), "0"},
		{big.NewInt(1_000_000), "1"},
		{big.NewInt(1_500_000), "1.500000"},
		{big.NewInt(123), "0.000123"},
		{usdc(1000), "1000"},
	}
	for _, c := range cases {
		if got := FormatAmount(c.in); got != c.want {
			t.Fatalf("FormatAmount(%v): got %q want %q", c.in, got, c.want)
		}
	}
}
