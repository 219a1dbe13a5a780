package formstate

import (
	"errors"
	"math/big"
	"testing"

	"github.com/openescrow/escrow-console/internal/escrow"
)

func TestParseAmount_Valid(t *testing.T) {
	cases := []struct {
		input string
		want  int64
	}{
		{"1", 1_000_000},
		{"12.5", 12_500_000},
		{"0.000001", 1},
		{"1000.250000", 1_000_250_000},
		{" 3 ", 3_000_000},
		{".5", 500_000},
	}
	for _, c := range cases {
		got, err := ParseAmount(c.input)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", c.input, err)
		}
		if got.Int64() != c.want {
			t.Fatalf("ParseAmount(%q) = %v, want %d", c.input, got, c.want)
		}
	}
}

func TestParseAmount_Rejects(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"-1",
		"0",
		"0.000000",
		"1.2345678",
		"1.2.3",
		"abc",
		"1,5",
		".",
	}
	for _, input := range cases {
		if _, err := ParseAmount(input); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("ParseAmount(%q): expected ErrInvalidInput, got %v", input, err)
		}
	}
}

func formSnapshot() escrow.ContractSnapshot {
	return escrow.ContractSnapshot{
		TotalAmount: big.NewInt(1_000_000_000),
		Balance:     big.NewInt(400_000_000),
	}
}

func TestValidateDeposit(t *testing.T) {
	snap := formSnapshot()

	amount, err := ValidateDeposit("1000", snap)
	if err != nil {
		t.Fatalf("exact deposit: %v", err)
	}
	if amount.Cmp(snap.TotalAmount) != 0 {
		t.Fatalf("deposit amount: %v", amount)
	}

	if _, err := ValidateDeposit("999.999999", snap); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short deposit: %v", err)
	}
	if _, err := ValidateDeposit("1000.000001", snap); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("excess deposit: %v", err)
	}
	if _, err := ValidateDeposit("bogus", snap); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("malformed deposit: %v", err)
	}
	if _, err := ValidateDeposit("1000", escrow.ContractSnapshot{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing total: %v", err)
	}
}

func TestValidateSettlement(t *testing.T) {
	snap := formSnapshot()

	amount, err := ValidateSettlement("400", snap)
	if err != nil {
		t.Fatalf("full-balance settlement: %v", err)
	}
	if amount.Cmp(snap.Balance) != 0 {
		t.Fatalf("settlement amount: %v", amount)
	}

	if _, err := ValidateSettlement("150.75", snap); err != nil {
		t.Fatalf("partial settlement: %v", err)
	}
	if _, err := ValidateSettlement("400.000001", snap); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("settlement above balance: %v", err)
	}
	if _, err := ValidateSettlement("0", snap); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero settlement: %v", err)
	}
}
