package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openescrow/escrow-console/internal/archive"
	"github.com/openescrow/escrow-console/internal/escrow"
)

var (
	watchContract = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	watchPayer    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	watchPayee    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func watchUSDC(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000))
}

func watchSnapshot() escrow.ContractSnapshot {
	total := watchUSDC(1000)
	return escrow.ContractSnapshot{
		Payer:           watchPayer,
		Payee:           watchPayee,
		TotalAmount:     total,
		PlatformFeePaid: true,
		ConfirmedPayer:  true,
		ConfirmedPayee:  true,
		Deposited:       true,
		Balance:         new(big.Int).Set(total),
		Milestones: []escrow.Milestone{
			{Percentage: 50, Amount: watchUSDC(500)},
			{Percentage: 50, Amount: watchUSDC(500)},
		},
	}
}

type snapshotFunc func(ctx context.Context) (escrow.ContractSnapshot, error)

func (f snapshotFunc) Snapshot(ctx context.Context) (escrow.ContractSnapshot, error) {
	return f(ctx)
}

func watchTime() time.Time {
	return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
}

func watchLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryArchiver(t *testing.T) *archive.Archiver {
	t.Helper()
	store, err := archive.New(archive.Config{Driver: archive.DriverMemory})
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}
	arch, err := archive.NewArchiver(store)
	if err != nil {
		t.Fatalf("archive.NewArchiver: %v", err)
	}
	return arch
}

func TestArchiveIfClosed_AlreadyClosedContract(t *testing.T) {
	snap := watchSnapshot()
	snap.Milestones[0].Released = true
	snap.Milestones[1].Released = true
	snap.Balance = watchUSDC(0)
	src := snapshotFunc(func(context.Context) (escrow.ContractSnapshot, error) {
		return snap, nil
	})
	arch := memoryArchiver(t)

	ctx := context.Background()
	archiveIfClosed(ctx, src, arch, nil, watchContract, watchPayer, watchTime, watchLogger())

	rec, err := arch.Closure(ctx, watchContract)
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}
	if rec.Reason != "COMPLETED_ALL_MILESTONES" {
		t.Fatalf("reason: %q", rec.Reason)
	}
}

func TestArchiveIfClosed_RecordedClosureOverrides(t *testing.T) {
	src := snapshotFunc(func(context.Context) (escrow.ContractSnapshot, error) {
		return watchSnapshot(), nil
	})
	closure := func(context.Context) (escrow.StateID, bool) {
		return escrow.StateCompletedRefunded, true
	}
	arch := memoryArchiver(t)

	ctx := context.Background()
	archiveIfClosed(ctx, src, arch, closure, watchContract, watchPayer, watchTime, watchLogger())

	rec, err := arch.Closure(ctx, watchContract)
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}
	if rec.Reason != "COMPLETED_REFUNDED" {
		t.Fatalf("reason: %q", rec.Reason)
	}
}

func TestArchiveIfClosed_OpenContractNotArchived(t *testing.T) {
	src := snapshotFunc(func(context.Context) (escrow.ContractSnapshot, error) {
		return watchSnapshot(), nil
	})
	arch := memoryArchiver(t)

	ctx := context.Background()
	archiveIfClosed(ctx, src, arch, nil, watchContract, watchPayer, watchTime, watchLogger())

	if _, err := arch.Closure(ctx, watchContract); !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("open contract archived: %v", err)
	}
}

func TestArchiveIfClosed_ToleratesMissingArchiverAndReadFailure(t *testing.T) {
	ctx := context.Background()
	failing := snapshotFunc(func(context.Context) (escrow.ContractSnapshot, error) {
		return escrow.ContractSnapshot{}, errors.New("rpc: connection refused")
	})

	archiveIfClosed(ctx, failing, nil, nil, watchContract, watchPayer, watchTime, watchLogger())

	arch := memoryArchiver(t)
	archiveIfClosed(ctx, failing, arch, nil, watchContract, watchPayer, watchTime, watchLogger())
	if _, err := arch.Closure(ctx, watchContract); !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("failed read archived: %v", err)
	}
}
