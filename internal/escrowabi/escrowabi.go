// Package escrowabi owns the ABI surface of the milestone escrow contract
// and the ERC-20 methods the deposit flow needs.
package escrowabi

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidInput = errors.New("escrowabi: invalid input")

// Read-only getter method names. The set doubles as the probe used to decide
// whether an address exposes the escrow interface at all.
const (
	MethodPayer               = "payer"
	MethodPayee               = "payee"
	MethodAmount              = "amount"
	MethodDeadline            = "deadline"
	MethodPlatformFeePaid     = "platformFeePaid"
	MethodConfirmedPayer      = "confirmedPayer"
	MethodConfirmedPayee      = "confirmedPayee"
	MethodDeposited           = "deposited"
	MethodRemaining           = "remaining"
	MethodTotalMilestones     = "totalMilestones"
	MethodMilestonePercentage = "milestonePercentages"
	MethodMilestoneAmount     = "milestoneAmounts"
	MethodMilestoneExecuted   = "milestoneExecuted"
	MethodSettlementAmount    = "settlementAmount"
	MethodSettlementApproved  = "settlementApproved"
	MethodCancelApprovedPayer = "cancelApprovedPayer"
	MethodCancelApprovedPayee = "cancelApprovedPayee"
)

const escrowABIJSON = `[
  {"type":"function","name":"payer","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
  {"type":"function","name":"payee","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
  {"type":"function","name":"amount","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"deadline","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"platformFeePaid","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"confirmedPayer","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"confirmedPayee","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"deposited","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"remaining","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"totalMilestones","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"milestonePercentages","stateMutability":"view","inputs":[{"type":"uint256"}],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"milestoneAmounts","stateMutability":"view","inputs":[{"type":"uint256"}],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"milestoneExecuted","stateMutability":"view","inputs":[{"type":"uint256"}],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"settlementAmount","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"settlementApproved","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"cancelApprovedPayer","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"cancelApprovedPayee","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"payPlatformFee","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"confirmPayer","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"confirmPayee","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"type":"uint256"}],"outputs":[]},
  {"type":"function","name":"releaseMilestone","stateMutability":"nonpayable","inputs":[{"type":"uint256"}],"outputs":[]},
  {"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"approveCancel","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"proposeSettlement","stateMutability":"nonpayable","inputs":[{"type":"uint256"}],"outputs":[]},
  {"type":"function","name":"approveSettlement","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"claimAfterDeadline","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"type":"uint256"}]}
]`

var (
	initOnce sync.Once
	initErr  error

	escrowABI abi.ABI
	erc20ABI  abi.ABI
)

func initABI() error {
	initOnce.Do(func() {
		var err error
		escrowABI, err = abi.JSON(strings.NewReader(escrowABIJSON))
		if err != nil {
			initErr = fmt.Errorf("escrowabi: parse escrow ABI: %w", err)
			return
		}
		erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
		if err != nil {
			initErr = fmt.Errorf("escrowabi: parse erc20 ABI: %w", err)
		}
	})
	return initErr
}

// PackRead packs calldata for a read-only escrow getter.
func PackRead(method string, args ...any) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	b, err := escrowABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", ErrInvalidInput, method, err)
	}
	return b, nil
}

// UnpackRead decodes the raw return data of a read-only escrow getter.
func UnpackRead(method string, data []byte) ([]any, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	out, err := escrowABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", ErrInvalidInput, method, err)
	}
	return out, nil
}

func PackPayPlatformFee() ([]byte, error) { return packWrite("payPlatformFee") }
func PackConfirmPayer() ([]byte, error)   { return packWrite("confirmPayer") }
func PackConfirmPayee() ([]byte, error)   { return packWrite("confirmPayee") }
func PackRefund() ([]byte, error)         { return packWrite("refund") }
func PackApproveCancel() ([]byte, error)  { return packWrite("approveCancel") }
func PackApproveSettlement() ([]byte, error) {
	return packWrite("approveSettlement")
}
func PackClaimAfterDeadline() ([]byte, error) {
	return packWrite("claimAfterDeadline")
}

func PackDeposit(amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be > 0", ErrInvalidInput)
	}
	return packWrite("deposit", amount)
}

func PackReleaseMilestone(index int) ([]byte, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: milestone index must be >= 0", ErrInvalidInput)
	}
	return packWrite("releaseMilestone", big.NewInt(int64(index)))
}

func PackProposeSettlement(amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: settlement amount must be > 0", ErrInvalidInput)
	}
	return packWrite("proposeSettlement", amount)
}

func packWrite(method string, args ...any) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	b, err := escrowABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", ErrInvalidInput, method, err)
	}
	return b, nil
}

// PackApprove packs the ERC-20 approve(spender, value) call.
func PackApprove(spender common.Address, value *big.Int) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if (spender == common.Address{}) {
		return nil, fmt.Errorf("%w: zero spender", ErrInvalidInput)
	}
	if value == nil || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: approve value must be >= 0", ErrInvalidInput)
	}
	b, err := erc20ABI.Pack("approve", spender, value)
	if err != nil {
		return nil, fmt.Errorf("%w: pack approve: %v", ErrInvalidInput, err)
	}
	return b, nil
}

// PackAllowance packs the ERC-20 allowance(owner, spender) call.
func PackAllowance(owner, spender common.Address) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	b, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("%w: pack allowance: %v", ErrInvalidInput, err)
	}
	return b, nil
}

// UnpackAllowance decodes the return data of allowance().
func UnpackAllowance(data []byte) (*big.Int, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	out, err := erc20ABI.Unpack("allowance", data)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack allowance: %v", ErrInvalidInput, err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: allowance returned %T", ErrInvalidInput, out[0])
	}
	return v, nil
}
