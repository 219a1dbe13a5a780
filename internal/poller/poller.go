// Package poller keeps the rendered interface synchronized with chain state
// by re-reading the contract on a fixed cadence and re-running the
// resolve/project/render pipeline only when the relevant fields changed.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openescrow/escrow-console/internal/escrow"
)

var ErrInvalidConfig = errors.New("poller: invalid config")

// Source produces a fresh contract snapshot per check.
type Source interface {
	Snapshot(ctx context.Context) (escrow.ContractSnapshot, error)
}

// Renderer receives the re-projected view whenever a relevant change landed.
type Renderer interface {
	Render(ctx context.Context, u escrow.UIState, s escrow.ContractSnapshot, vm escrow.ViewModel)
}

// Notifier surfaces the transient "updated" signal and the terminal
// auto-stop after repeated read failures.
type Notifier interface {
	Updated(ctx context.Context, u escrow.UIState, s escrow.ContractSnapshot)
	Stopped(ctx context.Context, cause error)
}

// Gate reports whether a check tick may proceed: a contract is bound, the
// host is on the management view, and a wallet is connected. A false gate
// makes the tick a silent no-op, not an error.
type Gate func() bool

// ClosureLookup returns a durably recorded terminal state for the bound
// contract, when one exists. It lets the pipeline render the correct CLOSED
// variant on polls after the closing transaction.
type ClosureLookup func(ctx context.Context) (escrow.StateID, bool)

type Config struct {
	Observer common.Address

	Interval  time.Duration // default 5s
	MaxErrors int           // consecutive failures before auto-stop; default 3

	Gate    Gate
	Closure ClosureLookup

	Now func() time.Time
}

type State uint8

const (
	Stopped State = iota
	Polling
)

func (s State) String() string {
	if s == Polling {
		return "POLLING"
	}
	return "STOPPED"
}

type Reconciler struct {
	cfg      Config
	source   Source
	renderer Renderer
	notifier Notifier
	log      *slog.Logger

	mu         sync.Mutex
	state      State
	checking   bool
	generation uint64
	lastFP     escrow.Fingerprint
	hasFP      bool
	errCount   int
	cancel     context.CancelFunc
	done       chan struct{}
}

func New(cfg Config, source Source, renderer Renderer, notifier Notifier, log *slog.Logger) (*Reconciler, error) {
	if source == nil || renderer == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 3
	}
	if cfg.Gate == nil {
		cfg.Gate = func() bool { return true }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Reconciler{
		cfg:      cfg,
		source:   source,
		renderer: renderer,
		notifier: notifier,
		log:      log,
	}, nil
}

// State reports whether the reconciler is currently polling.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start transitions to POLLING, runs one immediate check, and schedules
// recurring checks. Starting while already polling is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.state == Polling {
		r.mu.Unlock()
		r.log.Debug("polling already active")
		return
	}
	r.state = Polling
	r.errCount = 0
	r.generation++
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	r.log.Info("polling started", "interval", r.cfg.Interval)
	r.Check(loopCtx)

	go r.run(loopCtx, done)
}

func (r *Reconciler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Check(ctx)
		}
	}
}

// Stop cancels the recurring schedule. An in-flight check is allowed to
// finish but its result is discarded via the generation counter.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.state == Stopped {
		r.mu.Unlock()
		return
	}
	r.stopLocked()
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}
	r.log.Info("polling stopped")
}

// stopLocked must be called with r.mu held.
func (r *Reconciler) stopLocked() {
	r.state = Stopped
	r.generation++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// ResetState clears the stored fingerprint and error counter without
// touching the schedule. Called when the bound contract changes so the next
// check becomes a fresh baseline instead of a spurious diff against the old
// contract.
func (r *Reconciler) ResetState() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFP = escrow.Fingerprint{}
	r.hasFP = false
	r.errCount = 0
	// A fetch already in flight belongs to the previous binding; bump the
	// generation so its result cannot become the post-reset baseline.
	r.generation++
	r.log.Debug("poll state reset")
}

// Check performs one reconciliation pass: fetch, fingerprint-compare, and on
// change re-render. Overlapping calls are skipped so at most one check is
// ever in flight; fetch always precedes compare precedes render within a
// pass.
func (r *Reconciler) Check(ctx context.Context) {
	r.mu.Lock()
	if r.checking {
		r.mu.Unlock()
		return
	}
	r.checking = true
	gen := r.generation
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.checking = false
		r.mu.Unlock()
	}()

	if !r.cfg.Gate() {
		return
	}

	snap, err := r.source.Snapshot(ctx)

	r.mu.Lock()
	if gen != r.generation {
		// Stopped or rebound while the read was in flight.
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.errCount++
		count := r.errCount
		r.log.Warn("poll check failed", "err", err, "consecutive", count, "max", r.cfg.MaxErrors)
		if count >= r.cfg.MaxErrors {
			r.stopLocked()
			r.mu.Unlock()
			r.log.Error("too many consecutive poll failures, stopping", "err", err)
			if r.notifier != nil {
				r.notifier.Stopped(ctx, err)
			}
			return
		}
		r.mu.Unlock()
		return
	}

	fp := escrow.FingerprintOf(snap)
	changed := r.hasFP && fp != r.lastFP
	r.lastFP = fp
	r.hasFP = true
	r.errCount = 0
	r.mu.Unlock()

	if !changed {
		return
	}

	u := r.resolve(ctx, snap)
	vm := escrow.Project(u, snap)
	r.renderer.Render(ctx, u, snap, vm)
	if r.notifier != nil {
		r.notifier.Updated(ctx, u, snap)
	}
	r.log.Info("contract state changed", "state", u.Name())
}

// Resolve runs the pipeline's state resolution for one snapshot, applying
// any recorded closure override.
func (r *Reconciler) resolve(ctx context.Context, snap escrow.ContractSnapshot) escrow.UIState {
	u := escrow.Resolve(snap, r.cfg.Observer, r.cfg.Now())
	if r.cfg.Closure == nil || u.IsFinal {
		return u
	}
	if id, ok := r.cfg.Closure(ctx); ok {
		u = escrow.Override(u, id)
	}
	return u
}
