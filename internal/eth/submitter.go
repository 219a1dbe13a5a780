package eth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrInvalidSubmitterConfig = errors.New("eth: invalid submitter config")

// Backend is the provider slice a submitter needs. *ethclient.Client
// satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type SubmitterConfig struct {
	ChainID *big.Int

	// GasLimitMultiplier pads the estimate; values <= 1 use it as-is.
	GasLimitMultiplier float64
	MinTipCap          *big.Int

	ReceiptPollInterval time.Duration

	Sleep func(ctx context.Context, d time.Duration) error
}

// Submitter signs and sends one transaction at a time and waits for it to be
// mined. Escrow actions are user-paced and strictly sequential, so there is
// no nonce cache or replacement machinery here.
type Submitter struct {
	backend Backend
	signer  Signer
	cfg     SubmitterConfig
}

func NewSubmitter(backend Backend, signer Signer, cfg SubmitterConfig) (*Submitter, error) {
	if backend == nil || signer == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidSubmitterConfig)
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: ChainID must be > 0", ErrInvalidSubmitterConfig)
	}
	if (signer.Address() == common.Address{}) {
		return nil, fmt.Errorf("%w: signer has no address", ErrInvalidSubmitterConfig)
	}
	if cfg.GasLimitMultiplier <= 0 {
		cfg.GasLimitMultiplier = 1.2
	}
	if cfg.MinTipCap == nil {
		cfg.MinTipCap = big.NewInt(0)
	}
	if cfg.MinTipCap.Sign() < 0 {
		return nil, fmt.Errorf("%w: MinTipCap must be >= 0", ErrInvalidSubmitterConfig)
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = 2 * time.Second
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Submitter{backend: backend, signer: signer, cfg: cfg}, nil
}

// From returns the sending account.
func (s *Submitter) From() common.Address { return s.signer.Address() }

// Send builds, signs, and broadcasts a call to `to`, then polls until the
// receipt is available. A mined-but-reverted transaction returns its receipt
// and a nil error; interpreting the status is the caller's concern.
func (s *Submitter) Send(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	from := s.signer.Address()

	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("eth: estimate gas: %w", err)
	}
	gas = padGas(gas, s.cfg.GasLimitMultiplier)

	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth: suggest tip: %w", err)
	}
	header, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("eth: latest header: %w", err)
	}
	if header.BaseFee == nil || header.BaseFee.Sign() < 0 {
		return nil, errors.New("eth: latest header missing baseFee")
	}
	if tip.Cmp(s.cfg.MinTipCap) < 0 {
		tip = new(big.Int).Set(s.cfg.MinTipCap)
	}
	// feeCap = 2*baseFee + tip rides out one full base-fee doubling.
	feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("eth: pending nonce: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	})
	signed, err := s.signer.SignTx(tx, s.cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("eth: sign: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("eth: send: %w", err)
	}

	hash := signed.Hash()
	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("eth: receipt: %w", err)
		}
		if err := s.cfg.Sleep(ctx, s.cfg.ReceiptPollInterval); err != nil {
			return nil, err
		}
	}
}

func padGas(est uint64, mult float64) uint64 {
	if mult <= 1 {
		return est
	}
	out := uint64(math.Ceil(float64(est) * mult))
	if out < est {
		return est
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
