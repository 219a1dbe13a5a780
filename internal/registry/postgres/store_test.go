package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openescrow/escrow-console/internal/registry"
)

// The pool connects lazily, so an unreachable DSN still yields a usable
// *pgxpool.Pool. Reason validation must reject before any query runs.
func lazyPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(context.Background(), "postgres://127.0.0.1:1/escrow?sslmode=disable")
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestRecordClosure_RejectsNonTerminalReason(t *testing.T) {
	s, err := New(lazyPool(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	contract := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	if err := s.RecordClosure(ctx, contract, "READY_FOR_DEPOSIT", time.Now()); !errors.Is(err, registry.ErrInvalidClosure) {
		t.Fatalf("non-terminal reason: expected ErrInvalidClosure, got %v", err)
	}
	if err := s.RecordClosure(ctx, contract, "TOTALLY_MADE_UP", time.Now()); !errors.Is(err, registry.ErrInvalidClosure) {
		t.Fatalf("unknown reason: expected ErrInvalidClosure, got %v", err)
	}
}

func TestNew_RequiresPool(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
