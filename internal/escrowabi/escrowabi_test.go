package escrowabi

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func TestPackRead_GetterSelectors(t *testing.T) {
	cases := map[string]string{
		MethodPayer:              "payer()",
		MethodPayee:              "payee()",
		MethodAmount:             "amount()",
		MethodDeadline:           "deadline()",
		MethodPlatformFeePaid:    "platformFeePaid()",
		MethodRemaining:          "remaining()",
		MethodTotalMilestones:    "totalMilestones()",
		MethodSettlementAmount:   "settlementAmount()",
		MethodSettlementApproved: "settlementApproved()",
	}
	for method, sig := range cases {
		data, err := PackRead(method)
		if err != nil {
			t.Fatalf("PackRead(%s): %v", method, err)
		}
		if !bytes.Equal(data[:4], selector(sig)) {
			t.Fatalf("%s: selector mismatch", method)
		}
		if len(data) != 4 {
			t.Fatalf("%s: unexpected calldata length %d", method, len(data))
		}
	}
}

func TestPackRead_IndexedGetters(t *testing.T) {
	data, err := PackRead(MethodMilestoneAmount, big.NewInt(2))
	if err != nil {
		t.Fatalf("PackRead: %v", err)
	}
	if !bytes.Equal(data[:4], selector("milestoneAmounts(uint256)")) {
		t.Fatalf("selector mismatch")
	}
	if len(data) != 36 {
		t.Fatalf("calldata length: %d", len(data))
	}
	if got := new(big.Int).SetBytes(data[4:]); got.Int64() != 2 {
		t.Fatalf("index argument: %v", got)
	}
}

func TestPackRead_UnknownMethod(t *testing.T) {
	if _, err := PackRead("selfdestructAll"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUnpackRead_RoundTripsTypes(t *testing.T) {
	addressType, _ := abi.NewType("address", "", nil)
	want := common.HexToAddress("0x1111111111111111111111111111111111111111")
	raw, err := abi.Arguments{{Type: addressType}}.Pack(want)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	out, err := UnpackRead(MethodPayer, raw)
	if err != nil {
		t.Fatalf("UnpackRead: %v", err)
	}
	if got, ok := out[0].(common.Address); !ok || got != want {
		t.Fatalf("got %v", out[0])
	}
}

func TestPackWrites_Selectors(t *testing.T) {
	cases := []struct {
		name string
		sig  string
		pack func() ([]byte, error)
	}{
		{"payPlatformFee", "payPlatformFee()", PackPayPlatformFee},
		{"confirmPayer", "confirmPayer()", PackConfirmPayer},
		{"confirmPayee", "confirmPayee()", PackConfirmPayee},
		{"refund", "refund()", PackRefund},
		{"approveCancel", "approveCancel()", PackApproveCancel},
		{"approveSettlement", "approveSettlement()", PackApproveSettlement},
		{"claimAfterDeadline", "claimAfterDeadline()", PackClaimAfterDeadline},
	}
	for _, c := range cases {
		data, err := c.pack()
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if !bytes.Equal(data[:4], selector(c.sig)) {
			t.Fatalf("%s: selector mismatch", c.name)
		}
	}
}

func TestPackDeposit(t *testing.T) {
	data, err := PackDeposit(big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("PackDeposit: %v", err)
	}
	if !bytes.Equal(data[:4], selector("deposit(uint256)")) {
		t.Fatalf("selector mismatch")
	}

	if _, err := PackDeposit(nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil amount: %v", err)
	}
	if _, err := PackDeposit(big.NewInt(0)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero amount: %v", err)
	}
}

func TestPackReleaseMilestone(t *testing.T) {
	data, err := PackReleaseMilestone(1)
	if err != nil {
		t.Fatalf("PackReleaseMilestone: %v", err)
	}
	if !bytes.Equal(data[:4], selector("releaseMilestone(uint256)")) {
		t.Fatalf("selector mismatch")
	}
	if _, err := PackReleaseMilestone(-1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative index: %v", err)
	}
}

func TestPackProposeSettlement(t *testing.T) {
	if _, err := PackProposeSettlement(big.NewInt(-5)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative amount: %v", err)
	}
	data, err := PackProposeSettlement(big.NewInt(42))
	if err != nil {
		t.Fatalf("PackProposeSettlement: %v", err)
	}
	if !bytes.Equal(data[:4], selector("proposeSettlement(uint256)")) {
		t.Fatalf("selector mismatch")
	}
}

func TestAllowanceRoundTrip(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	spender := common.HexToAddress("0x2222222222222222222222222222222222222222")

	data, err := PackAllowance(owner, spender)
	if err != nil {
		t.Fatalf("PackAllowance: %v", err)
	}
	if !bytes.Equal(data[:4], selector("allowance(address,address)")) {
		t.Fatalf("selector mismatch")
	}

	uint256Type, _ := abi.NewType("uint256", "", nil)
	raw, err := abi.Arguments{{Type: uint256Type}}.Pack(big.NewInt(777))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	got, err := UnpackAllowance(raw)
	if err != nil {
		t.Fatalf("UnpackAllowance: %v", err)
	}
	if got.Int64() != 777 {
		t.Fatalf("allowance: %v", got)
	}
}

func TestPackApprove_Validation(t *testing.T) {
	spender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	if _, err := PackApprove(common.Address{}, big.NewInt(1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero spender: %v", err)
	}
	if _, err := PackApprove(spender, big.NewInt(-1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative value: %v", err)
	}
	data, err := PackApprove(spender, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("PackApprove: %v", err)
	}
	if !bytes.Equal(data[:4], selector("approve(address,uint256)")) {
		t.Fatalf("selector mismatch")
	}
}
