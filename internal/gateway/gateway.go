// Package gateway is the read/write boundary between the client core and a
// deployed escrow contract instance.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/openescrow/escrow-console/internal/escrow"
	"github.com/openescrow/escrow-console/internal/escrowabi"
)

var (
	ErrInvalidConfig = errors.New("gateway: invalid config")
	// ErrConnectivity marks RPC/transport failures; the poller's retry
	// policy owns recovery.
	ErrConnectivity = errors.New("gateway: provider unreachable")
	// ErrNotEscrowContract marks an address that has no code or does not
	// answer the escrow getters.
	ErrNotEscrowContract = errors.New("gateway: not an escrow contract")
	// ErrNotInvolved marks a contract whose participants do not include the
	// observer.
	ErrNotInvolved = errors.New("gateway: account not involved in contract")
	// ErrTxRejected is returned by wallet-backed senders when the user
	// declines to sign.
	ErrTxRejected = errors.New("gateway: transaction rejected by signer")
)

// RevertedError carries the revert reason when the chain reports one.
type RevertedError struct {
	Reason string
}

func (e *RevertedError) Error() string {
	if e.Reason == "" {
		return "gateway: transaction reverted"
	}
	return "gateway: transaction reverted: " + e.Reason
}

// PlatformFee is the fixed activation fee in token base units (1 USDC).
var PlatformFee = big.NewInt(1_000_000)

// CallBackend is the read side of an RPC provider.
type CallBackend interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Sender submits prepared calldata and waits until it is mined. Wallet and
// signing mechanics live behind this seam.
type Sender interface {
	Send(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error)
}

type Config struct {
	Contract common.Address
	Token    common.Address
	// Caller is the connected account; used for role checks and as the
	// allowance owner.
	Caller common.Address
}

type Gateway struct {
	cfg     Config
	backend CallBackend
	sender  Sender
	log     *slog.Logger
}

// New builds a gateway. sender may be nil for read-only use; every write
// then fails with ErrInvalidConfig.
func New(cfg Config, backend CallBackend, sender Sender, log *slog.Logger) (*Gateway, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidConfig)
	}
	if (cfg.Contract == common.Address{}) {
		return nil, fmt.Errorf("%w: zero contract address", ErrInvalidConfig)
	}
	if (cfg.Token == common.Address{}) {
		return nil, fmt.Errorf("%w: zero token address", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Gateway{cfg: cfg, backend: backend, sender: sender, log: log}, nil
}

// Contract returns the bound contract address.
func (g *Gateway) Contract() common.Address { return g.cfg.Contract }

// Verify checks that the bound address is a deployed escrow contract and
// that the caller is one of its participants. Used when binding a new
// address; a failure here must keep the contract out of polling.
func (g *Gateway) Verify(ctx context.Context) (escrow.Role, error) {
	code, err := g.backend.CodeAt(ctx, g.cfg.Contract, nil)
	if err != nil {
		return escrow.RoleObserver, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	if len(code) == 0 {
		return escrow.RoleObserver, fmt.Errorf("%w: no code at %s", ErrNotEscrowContract, g.cfg.Contract)
	}

	payer, err := g.readAddress(ctx, escrowabi.MethodPayer)
	if err != nil {
		return escrow.RoleObserver, err
	}
	payee, err := g.readAddress(ctx, escrowabi.MethodPayee)
	if err != nil {
		return escrow.RoleObserver, err
	}

	switch g.cfg.Caller {
	case payer:
		return escrow.RolePayer, nil
	case payee:
		return escrow.RolePayee, nil
	default:
		return escrow.RoleObserver, fmt.Errorf("%w: %s", ErrNotInvolved, g.cfg.Caller)
	}
}

// Snapshot reads the full observable contract state at the latest block.
func (g *Gateway) Snapshot(ctx context.Context) (escrow.ContractSnapshot, error) {
	var s escrow.ContractSnapshot
	var err error

	if s.Payer, err = g.readAddress(ctx, escrowabi.MethodPayer); err != nil {
		return escrow.ContractSnapshot{}, err
	}
	if s.Payee, err = g.readAddress(ctx, escrowabi.MethodPayee); err != nil {
		return escrow.ContractSnapshot{}, err
	}
	if s.TotalAmount, err = g.readBig(ctx, escrowabi.MethodAmount); err != nil {
		return escrow.ContractSnapshot{}, err
	}

	deadline, err := g.readBig(ctx, escrowabi.MethodDeadline)
	if err != nil {
		return escrow.ContractSnapshot{}, err
	}
	if deadline.Sign() > 0 && deadline.IsInt64() {
		s.Deadline = time.Unix(deadline.Int64(), 0).UTC()
	}

	if s.PlatformFeePaid, err = g.readBool(ctx, escrowabi.MethodPlatformFeePaid); err != nil {
		return escrow.ContractSnapshot{}, err
	}
	if s.ConfirmedPayer, err = g.readBool(ctx, escrowabi.MethodConfirmedPayer); err != nil {
		return escrow.ContractSnapshot{}, err
	}
	if s.ConfirmedPayee, err = g.readBool(ctx, escrowabi.MethodConfirmedPayee); err != nil {
		return escrow.ContractSnapshot{}, err
	}
	if s.Deposited, err = g.readBool(ctx, escrowabi.MethodDeposited); err != nil {
		return escrow.ContractSnapshot{}, err
	}
	if s.Balance, err = g.readBig(ctx, escrowabi.MethodRemaining); err != nil {
		return escrow.ContractSnapshot{}, err
	}
	if s.SettlementAmount, err = g.readBig(ctx, escrowabi.MethodSettlementAmount); err != nil {
		return escrow.ContractSnapshot{}, err
	}
	if s.SettlementApproved, err = g.readBool(ctx, escrowabi.MethodSettlementApproved); err != nil {
		return escrow.ContractSnapshot{}, err
	}
	if s.CancelApprovedPayer, err = g.readBool(ctx, escrowabi.MethodCancelApprovedPayer); err != nil {
		return escrow.ContractSnapshot{}, err
	}
	if s.CancelApprovedPayee, err = g.readBool(ctx, escrowabi.MethodCancelApprovedPayee); err != nil {
		return escrow.ContractSnapshot{}, err
	}

	total, err := g.readBig(ctx, escrowabi.MethodTotalMilestones)
	if err != nil {
		return escrow.ContractSnapshot{}, err
	}
	if !total.IsInt64() || total.Int64() < 0 || total.Int64() > 100 {
		return escrow.ContractSnapshot{}, fmt.Errorf("%w: totalMilestones %s out of range", ErrNotEscrowContract, total)
	}
	n := int(total.Int64())
	s.Milestones = make([]escrow.Milestone, 0, n)
	for i := 0; i < n; i++ {
		idx := big.NewInt(int64(i))
		pct, err := g.readBig(ctx, escrowabi.MethodMilestonePercentage, idx)
		if err != nil {
			return escrow.ContractSnapshot{}, err
		}
		amt, err := g.readBig(ctx, escrowabi.MethodMilestoneAmount, idx)
		if err != nil {
			return escrow.ContractSnapshot{}, err
		}
		released, err := g.readBool(ctx, escrowabi.MethodMilestoneExecuted, idx)
		if err != nil {
			return escrow.ContractSnapshot{}, err
		}
		if !pct.IsInt64() || pct.Int64() < 1 || pct.Int64() > 100 {
			return escrow.ContractSnapshot{}, fmt.Errorf("%w: milestone %d percentage %s", ErrNotEscrowContract, i, pct)
		}
		s.Milestones = append(s.Milestones, escrow.Milestone{
			Percentage: uint8(pct.Int64()),
			Amount:     amt,
			Released:   released,
		})
	}

	if err := s.Validate(); err != nil {
		return escrow.ContractSnapshot{}, fmt.Errorf("%w: %v", ErrNotEscrowContract, err)
	}
	return s, nil
}

// ActionParams carries the per-invocation inputs an action kind may need.
type ActionParams struct {
	// Amount in token base units; required for deposit and
	// proposeSettlement.
	Amount *big.Int
	// Milestone is the 0-based index for releaseMilestone.
	Milestone int
}

// Execute performs one write operation. This is the single dispatch site
// over the action enum; viewDetails is a deliberate no-op since it never
// writes.
func (g *Gateway) Execute(ctx context.Context, kind escrow.ActionKind, p ActionParams) error {
	if g.sender == nil {
		return fmt.Errorf("%w: gateway is read-only", ErrInvalidConfig)
	}

	var (
		data []byte
		err  error
	)
	switch kind {
	case escrow.ActionPayPlatformFee:
		if err := g.ensureAllowance(ctx, PlatformFee); err != nil {
			return err
		}
		data, err = escrowabi.PackPayPlatformFee()
	case escrow.ActionConfirmPayer:
		data, err = escrowabi.PackConfirmPayer()
	case escrow.ActionConfirmPayee:
		data, err = escrowabi.PackConfirmPayee()
	case escrow.ActionDeposit:
		if err := g.ensureAllowance(ctx, p.Amount); err != nil {
			return err
		}
		data, err = escrowabi.PackDeposit(p.Amount)
	case escrow.ActionReleaseMilestone:
		data, err = escrowabi.PackReleaseMilestone(p.Milestone)
	case escrow.ActionRefund:
		data, err = escrowabi.PackRefund()
	case escrow.ActionApproveCancel:
		data, err = escrowabi.PackApproveCancel()
	case escrow.ActionProposeSettlement:
		data, err = escrowabi.PackProposeSettlement(p.Amount)
	case escrow.ActionApproveSettlement:
		data, err = escrowabi.PackApproveSettlement()
	case escrow.ActionClaimAfterDeadline:
		data, err = escrowabi.PackClaimAfterDeadline()
	case escrow.ActionViewDetails:
		return nil
	default:
		return fmt.Errorf("%w: unknown action %s", ErrInvalidConfig, kind)
	}
	if err != nil {
		return err
	}

	return g.send(ctx, g.cfg.Contract, data)
}

// ensureAllowance re-checks the live ERC-20 allowance immediately before the
// protected operation and approves only when the current authorization falls
// short. Allowance can be modified externally between calls, so a previous
// approval is never assumed to persist.
func (g *Gateway) ensureAllowance(ctx context.Context, needed *big.Int) error {
	if needed == nil || needed.Sign() <= 0 {
		return fmt.Errorf("%w: allowance target must be > 0", escrowabi.ErrInvalidInput)
	}

	data, err := escrowabi.PackAllowance(g.cfg.Caller, g.cfg.Contract)
	if err != nil {
		return err
	}
	raw, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &g.cfg.Token, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	current, err := escrowabi.UnpackAllowance(raw)
	if err != nil {
		return err
	}
	if current.Cmp(needed) >= 0 {
		return nil
	}

	g.log.Info("raising token allowance",
		"current", current.String(),
		"needed", needed.String(),
	)
	approve, err := escrowabi.PackApprove(g.cfg.Contract, needed)
	if err != nil {
		return err
	}
	return g.send(ctx, g.cfg.Token, approve)
}

func (g *Gateway) send(ctx context.Context, to common.Address, data []byte) error {
	receipt, err := g.sender.Send(ctx, to, data)
	if err != nil {
		if errors.Is(err, ErrTxRejected) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	if receipt == nil {
		return fmt.Errorf("%w: sender returned no receipt", ErrConnectivity)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return &RevertedError{}
	}
	return nil
}

func (g *Gateway) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := escrowabi.PackRead(method, args...)
	if err != nil {
		return nil, err
	}
	raw, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &g.cfg.Contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectivity, method, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s returned no data", ErrNotEscrowContract, method)
	}
	out, err := escrowabi.UnpackRead(method, raw)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("%w: %s: unexpected return data", ErrNotEscrowContract, method)
	}
	return out, nil
}

func (g *Gateway) readAddress(ctx context.Context, method string) (common.Address, error) {
	out, err := g.call(ctx, method)
	if err != nil {
		return common.Address{}, err
	}
	v, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s returned %T", ErrNotEscrowContract, method, out[0])
	}
	return v, nil
}

func (g *Gateway) readBig(ctx context.Context, method string, args ...any) (*big.Int, error) {
	out, err := g.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", ErrNotEscrowContract, method, out[0])
	}
	return v, nil
}

func (g *Gateway) readBool(ctx context.Context, method string, args ...any) (bool, error) {
	out, err := g.call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s returned %T", ErrNotEscrowContract, method, out[0])
	}
	return v, nil
}
