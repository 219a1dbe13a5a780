package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/openescrow/escrow-console/internal/escrow"
	"github.com/openescrow/escrow-console/internal/gateway"
)

type stateOutput struct {
	Contract string           `json:"contract"`
	Observer string           `json:"observer"`
	Role     string           `json:"role"`
	State    string           `json:"state"`
	Phase    string           `json:"phase"`
	IsFinal  bool             `json:"isFinal"`
	Actions  []actionOutput   `json:"actions"`
	View     escrow.ViewModel `json:"view"`
}

type actionOutput struct {
	Kind      string `json:"kind"`
	Label     string `json:"label"`
	Severity  string `json:"severity"`
	Milestone int    `json:"milestone"`
}

func main() {
	var (
		rpcURL       = flag.String("rpc-url", "", "EVM JSON-RPC endpoint (required)")
		contractAddr = flag.String("contract", "", "escrow contract address (required)")
		tokenAddr    = flag.String("token", "", "USDC token address (required)")
		observerAddr = flag.String("observer", "", "observer account address (required)")
		readTimeout  = flag.Duration("read-timeout", 30*time.Second, "snapshot read timeout")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *rpcURL == "" || *contractAddr == "" || *tokenAddr == "" || *observerAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --rpc-url, --contract, --token, and --observer are required")
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
	observer, err := escrow.ParseAddress(*observerAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse --observer: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *readTimeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, *rpcURL)
	if err != nil {
		log.Error("dial rpc", "err", err)
		os.Exit(2)
	}
	defer client.Close()

	gw, err := gateway.New(gateway.Config{
		Contract: contract,
		Token:    token,
		Caller:   observer,
	}, client, nil, log)
	if err != nil {
		log.Error("init gateway", "err", err)
		os.Exit(2)
	}

	snap, err := gw.Snapshot(ctx)
	if err != nil {
		log.Error("read snapshot", "contract", contract, "err", err)
		os.Exit(1)
	}

	u := escrow.Resolve(snap, observer, time.Now())
	vm := escrow.Project(u, snap)

	out := stateOutput{
		Contract: contract.Hex(),
		Observer: observer.Hex(),
		Role:     u.Role.String(),
		State:    u.Name(),
		Phase:    u.Phase.String(),
		IsFinal:  u.IsFinal,
		Actions:  make([]actionOutput, 0, len(u.Actions)),
		View:     vm,
	}
	for _, a := range u.Actions {
		out.Actions = append(out.Actions, actionOutput{
			Kind:      a.Kind.String(),
			Label:     a.Label,
			Severity:  a.Severity.String(),
			Milestone: a.Milestone,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Error("encode output", "err", err)
		os.Exit(1)
	}
}
