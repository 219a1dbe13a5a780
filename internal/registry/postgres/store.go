package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openescrow/escrow-console/internal/escrow"
	"github.com/openescrow/escrow-console/internal/registry"
)

var ErrInvalidConfig = errors.New("registry/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("registry/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Track(ctx context.Context, c registry.Contract) error {
	if err := c.Validate(); err != nil {
		return err
	}
	addedAt := c.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracked_contracts (account, contract, role, payer, payee, added_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account, contract) DO UPDATE
		SET role = EXCLUDED.role, payer = EXCLUDED.payer, payee = EXCLUDED.payee
	`, c.Account.Bytes(), c.Address.Bytes(), int16(c.Role), c.Payer.Bytes(), c.Payee.Bytes(), addedAt)
	if err != nil {
		return fmt.Errorf("registry/postgres: track: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, account common.Address) ([]registry.Contract, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.contract, t.role, t.payer, t.payee, t.added_at, c.reason, c.closed_at
		FROM tracked_contracts t
		LEFT JOIN contract_closures c ON c.contract = t.contract
		WHERE t.account = $1
		ORDER BY t.added_at, t.contract
	`, account.Bytes())
	if err != nil {
		return nil, fmt.Errorf("registry/postgres: list: %w", err)
	}
	defer rows.Close()

	var out []registry.Contract
	for rows.Next() {
		c, err := scanContract(rows, account)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry/postgres: list: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, account, address common.Address) (registry.Contract, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT t.contract, t.role, t.payer, t.payee, t.added_at, c.reason, c.closed_at
		FROM tracked_contracts t
		LEFT JOIN contract_closures c ON c.contract = t.contract
		WHERE t.account = $1 AND t.contract = $2
	`, account.Bytes(), address.Bytes())

	c, err := scanContract(row, account)
	if errors.Is(err, pgx.ErrNoRows) {
		return registry.Contract{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Contract{}, err
	}
	return c, nil
}

func (s *Store) RecordClosure(ctx context.Context, address common.Address, reason string, at time.Time) error {
	if err := registry.ValidateClosureReason(reason); err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO contract_closures (contract, reason, closed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (contract) DO NOTHING
	`, address.Bytes(), reason, at)
	if err != nil {
		return fmt.Errorf("registry/postgres: record closure: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Conflict path: the stored reason must match.
	var existing string
	if err := s.pool.QueryRow(ctx,
		`SELECT reason FROM contract_closures WHERE contract = $1`,
		address.Bytes(),
	).Scan(&existing); err != nil {
		return fmt.Errorf("registry/postgres: record closure: %w", err)
	}
	if existing != reason {
		return fmt.Errorf("%w: contract already closed as %q", registry.ErrInvalidClosure, existing)
	}
	return nil
}

func (s *Store) Closure(ctx context.Context, address common.Address) (string, bool, error) {
	var reason string
	err := s.pool.QueryRow(ctx,
		`SELECT reason FROM contract_closures WHERE contract = $1`,
		address.Bytes(),
	).Scan(&reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("registry/postgres: closure: %w", err)
	}
	return reason, true, nil
}

func scanContract(row pgx.Row, account common.Address) (registry.Contract, error) {
	var (
		contract, payer, payee []byte
		role                   int16
		addedAt                time.Time
		reason                 *string
		closedAt               *time.Time
	)
	if err := row.Scan(&contract, &role, &payer, &payee, &addedAt, &reason, &closedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registry.Contract{}, err
		}
		return registry.Contract{}, fmt.Errorf("registry/postgres: scan: %w", err)
	}
	c := registry.Contract{
		Address: common.BytesToAddress(contract),
		Account: account,
		Role:    escrow.Role(role),
		Payer:   common.BytesToAddress(payer),
		Payee:   common.BytesToAddress(payee),
		AddedAt: addedAt,
	}
	if reason != nil {
		c.ClosureReason = *reason
	}
	if closedAt != nil {
		c.ClosedAt = *closedAt
	}
	return c, nil
}
