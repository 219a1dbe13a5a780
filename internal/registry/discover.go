package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openescrow/escrow-console/internal/escrow"
)

var ErrInvalidLookback = errors.New("registry: invalid lookback")

// depositedTopic is the Deposited(address,uint256,uint256) event emitted by
// escrow contracts on deposit; its presence is how candidate contracts are
// found without an index.
var depositedTopic = crypto.Keccak256Hash([]byte("Deposited(address,uint256,uint256)"))

// LogBackend is the log-scanning slice of an RPC provider.
type LogBackend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// VerifyFunc checks whether the candidate address is an escrow contract the
// account participates in, returning the account's role there.
type VerifyFunc func(ctx context.Context, candidate common.Address) (escrow.Role, common.Address, common.Address, error)

// Discover scans recent Deposited events for contracts involving the
// account: first those where it deposited as payer, then every emitter is
// probed for payee membership. Candidates that fail verification are
// skipped, not errors.
func Discover(ctx context.Context, backend LogBackend, account common.Address, lookbackBlocks uint64, verify VerifyFunc) ([]Contract, error) {
	if backend == nil || verify == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidLookback)
	}
	if lookbackBlocks == 0 {
		return nil, fmt.Errorf("%w: lookback must be > 0", ErrInvalidLookback)
	}

	head, err := backend.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	from := uint64(0)
	if head > lookbackBlocks {
		from = head - lookbackBlocks
	}

	candidates := make(map[common.Address]struct{})

	// Contracts the account funded directly.
	payerLogs, err := backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
		Topics: [][]common.Hash{
			{depositedTopic},
			{common.BytesToHash(account.Bytes())},
		},
	})
	if err != nil {
		return nil, err
	}
	for _, l := range payerLogs {
		candidates[l.Address] = struct{}{}
	}

	// Every deposit emitter is a payee candidate; membership is settled by
	// the verifier, not the log.
	allLogs, err := backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
		Topics:    [][]common.Hash{{depositedTopic}},
	})
	if err != nil {
		return nil, err
	}
	for _, l := range allLogs {
		candidates[l.Address] = struct{}{}
	}

	addrs := make([]common.Address, 0, len(candidates))
	for a := range candidates {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Hex() < addrs[j].Hex() })

	var out []Contract
	for _, addr := range addrs {
		role, payer, payee, err := verify(ctx, addr)
		if err != nil || role == escrow.RoleObserver {
			continue
		}
		out = append(out, Contract{
			Address: addr,
			Account: account,
			Role:    role,
			Payer:   payer,
			Payee:   payee,
		})
	}
	return out, nil
}
