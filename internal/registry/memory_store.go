package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type memKey struct {
	account common.Address
	address common.Address
}

type closureRec struct {
	reason string
	at     time.Time
}

// MemoryStore is the in-process Store used by tests and single-session runs.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	contracts map[memKey]Contract
	closures  map[common.Address]closureRec
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:       now,
		contracts: make(map[memKey]Contract),
		closures:  make(map[common.Address]closureRec),
	}
}

func (s *MemoryStore) Track(_ context.Context, c Contract) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey{account: c.Account, address: c.Address}
	if existing, ok := s.contracts[key]; ok {
		c.AddedAt = existing.AddedAt
	} else if c.AddedAt.IsZero() {
		c.AddedAt = s.now()
	}
	s.contracts[key] = c
	return nil
}

func (s *MemoryStore) List(_ context.Context, account common.Address) ([]Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Contract
	for key, c := range s.contracts {
		if key.account != account {
			continue
		}
		out = append(out, s.withClosureLocked(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].Address.Hex() < out[j].Address.Hex()
	})
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, account, address common.Address) (Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[memKey{account: account, address: address}]
	if !ok {
		return Contract{}, ErrNotFound
	}
	return s.withClosureLocked(c), nil
}

func (s *MemoryStore) RecordClosure(_ context.Context, address common.Address, reason string, at time.Time) error {
	if err := ValidateClosureReason(reason); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.closures[address]; ok {
		if existing.reason == reason {
			return nil
		}
		return ErrInvalidClosure
	}
	if at.IsZero() {
		at = s.now()
	}
	s.closures[address] = closureRec{reason: reason, at: at}
	return nil
}

func (s *MemoryStore) Closure(_ context.Context, address common.Address) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.closures[address]
	if !ok {
		return "", false, nil
	}
	return rec.reason, true, nil
}

func (s *MemoryStore) withClosureLocked(c Contract) Contract {
	if rec, ok := s.closures[c.Address]; ok {
		c.ClosureReason = rec.reason
		c.ClosedAt = rec.at
	}
	return c
}
