package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openescrow/escrow-console/internal/escrow"
	"github.com/openescrow/escrow-console/internal/eth"
	"github.com/openescrow/escrow-console/internal/formstate"
	"github.com/openescrow/escrow-console/internal/gateway"
	registrypg "github.com/openescrow/escrow-console/internal/registry/postgres"
)

// settleRenderer prints the post-action re-check as one JSON line.
type settleRenderer struct {
	log *slog.Logger
}

func (r *settleRenderer) Render(_ context.Context, _ escrow.UIState, _ escrow.ContractSnapshot, vm escrow.ViewModel) {
	raw, err := json.Marshal(vm)
	if err != nil {
		r.log.Error("encode view", "err", err)
		return
	}
	fmt.Fprintln(os.Stdout, string(raw))
}

func main() {
	var (
		rpcURL       = flag.String("rpc-url", "", "EVM JSON-RPC endpoint (required)")
		contractAddr = flag.String("contract", "", "escrow contract address (required)")
		tokenAddr    = flag.String("token", "", "USDC token address (required)")
		chainID      = flag.Uint64("chain-id", 0, "EVM chain id (required)")

		actionName    = flag.String("action", "", "action to execute (required): payPlatformFee|confirmPayer|confirmPayee|deposit|releaseMilestone|refund|approveCancel|proposeSettlement|approveSettlement|claimAfterDeadline")
		amountStr     = flag.String("amount", "", "decimal token amount for deposit/proposeSettlement")
		milestoneFlag = flag.Int("milestone", -1, "0-based milestone index for releaseMilestone")

		keyEnv      = flag.String("private-key-env", "ESCROW_PRIVATE_KEY", "env var holding the caller's private key hex")
		postgresDSN = flag.String("postgres-dsn", "", "optional Postgres DSN for closure-reason recording")

		settleDelay = flag.Duration("settle-delay", 2*time.Second, "wait after a successful write before the forced re-check")
		execTimeout = flag.Duration("exec-timeout", 3*time.Minute, "overall action timeout")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *rpcURL == "" || *contractAddr == "" || *tokenAddr == "" || *chainID == 0 || *actionName == "" {
		fmt.Fprintln(os.Stderr, "error: --rpc-url, --contract, --token, --chain-id, and --action are required")
		os.Exit(2)
	}
	contract, err := escrow.ParseAddress(*contractAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse --contract: %v\n", err)
		os.Exit(2)
	}
	token, err := escrow.ParseAddress(*tokenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse --token: %v\n", err)
		os.Exit(2)
	}
	kind, ok := escrow.ParseActionKind(*actionName)
	if !ok || kind == escrow.ActionViewDetails {
		fmt.Fprintf(os.Stderr, "error: unknown action %q\n", *actionName)
		os.Exit(2)
	}

	key, err := eth.ParsePrivateKeyHex(os.Getenv(*keyEnv))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: read private key from env %s: %v\n", *keyEnv, err)
		os.Exit(2)
	}
	signer := eth.NewLocalSigner(key)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *execTimeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, *rpcURL)
	if err != nil {
		log.Error("dial rpc", "err", err)
		os.Exit(2)
	}
	defer client.Close()

	submitter, err := eth.NewSubmitter(client, signer, eth.SubmitterConfig{
		ChainID: new(big.Int).SetUint64(*chainID),
	})
	if err != nil {
		log.Error("init submitter", "err", err)
		os.Exit(2)
	}

	gw, err := gateway.New(gateway.Config{
		Contract: contract,
		Token:    token,
		Caller:   signer.Address(),
	}, client, submitter, log)
	if err != nil {
		log.Error("init gateway", "err", err)
		os.Exit(2)
	}

	role, err := gw.Verify(ctx)
	if err != nil {
		log.Error("verify contract", "contract", contract, "err", err)
		os.Exit(1)
	}

	before, err := gw.Snapshot(ctx)
	if err != nil {
		log.Error("read snapshot", "contract", contract, "err", err)
		os.Exit(1)
	}

	// The action must be permitted for this caller in the current state.
	u := escrow.Resolve(before, signer.Address(), time.Now())
	if !permitted(u, kind, *milestoneFlag) {
		log.Error("action not permitted in current state",
			"action", kind.String(),
			"state", u.Name(),
			"role", role.String(),
		)
		os.Exit(1)
	}

	params, err := buildParams(kind, before, *amountStr, *milestoneFlag)
	if err != nil {
		log.Error("validate input", "action", kind.String(), "err", err)
		os.Exit(1)
	}

	if err := gw.Execute(ctx, kind, params); err != nil {
		var reverted *gateway.RevertedError
		switch {
		case errors.As(err, &reverted):
			log.Error("transaction reverted", "action", kind.String(), "reason", reverted.Reason)
		case errors.Is(err, gateway.ErrTxRejected):
			log.Error("transaction rejected", "action", kind.String(), "err", err)
		default:
			log.Error("execute action", "action", kind.String(), "err", err)
		}
		os.Exit(1)
	}
	log.Info("action executed", "action", kind.String(), "contract", contract)

	// Record the terminal state this write provably caused, before any
	// later poll could misread the closed contract.
	if reason, closed := escrow.ClosureAfter(kind, before); closed && *postgresDSN != "" {
		pool, err := pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		regStore, err := registrypg.New(pool)
		if err != nil {
			log.Error("init registry store", "err", err)
			os.Exit(1)
		}
		if err := regStore.EnsureSchema(ctx); err != nil {
			log.Error("ensure registry schema", "err", err)
			os.Exit(1)
		}
		name := escrow.StateName(reason)
		if err := regStore.RecordClosure(ctx, contract, name, time.Now().UTC()); err != nil {
			log.Error("record closure", "contract", contract, "reason", name, "err", err)
			os.Exit(1)
		}
		log.Info("closure recorded", "contract", contract, "reason", name)
	}

	// Give the chain a moment to settle, then re-read so the caller sees
	// the post-action state.
	select {
	case <-time.After(*settleDelay):
	case <-ctx.Done():
		return
	}

	after, err := gw.Snapshot(ctx)
	if err != nil {
		log.Error("post-action snapshot", "contract", contract, "err", err)
		os.Exit(1)
	}
	u = escrow.Resolve(after, signer.Address(), time.Now())
	if reason, closed := escrow.ClosureAfter(kind, before); closed {
		u = escrow.Override(u, reason)
	}
	(&settleRenderer{log: log}).Render(ctx, u, after, escrow.Project(u, after))
}

// permitted reports whether the resolved state offers this action. For
// releaseMilestone the offered index must match too.
func permitted(u escrow.UIState, kind escrow.ActionKind, milestone int) bool {
	for _, a := range u.Actions {
		if a.Kind != kind {
			continue
		}
		if kind == escrow.ActionReleaseMilestone && milestone >= 0 && a.Milestone != milestone {
			continue
		}
		return true
	}
	return false
}

func buildParams(kind escrow.ActionKind, snap escrow.ContractSnapshot, amountStr string, milestone int) (gateway.ActionParams, error) {
	p := gateway.ActionParams{Milestone: -1}
	switch kind {
	case escrow.ActionDeposit:
		amount, err := formstate.ValidateDeposit(amountStr, snap)
		if err != nil {
			return p, err
		}
		p.Amount = amount
	case escrow.ActionProposeSettlement:
		amount, err := formstate.ValidateSettlement(amountStr, snap)
		if err != nil {
			return p, err
		}
		p.Amount = amount
	case escrow.ActionReleaseMilestone:
		next := snap.NextMilestone()
		if milestone < 0 {
			milestone = next
		}
		if milestone != next {
			return p, fmt.Errorf("%w: milestone %d is not the next releasable one", formstate.ErrInvalidInput, milestone)
		}
		p.Milestone = milestone
	}
	return p, nil
}
