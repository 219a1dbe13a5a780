package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openescrow/escrow-console/internal/archive"
	"github.com/openescrow/escrow-console/internal/escrow"
	"github.com/openescrow/escrow-console/internal/events"
	"github.com/openescrow/escrow-console/internal/gateway"
	"github.com/openescrow/escrow-console/internal/poller"
	"github.com/openescrow/escrow-console/internal/queue"
	"github.com/openescrow/escrow-console/internal/registry"
	registrypg "github.com/openescrow/escrow-console/internal/registry/postgres"
)

// consoleRenderer prints each re-projected view as one JSON line and, on the
// first CLOSED resolution, archives the final snapshot.
type consoleRenderer struct {
	contract common.Address
	archiver *archive.Archiver
	log      *slog.Logger
}

func (r *consoleRenderer) Render(ctx context.Context, u escrow.UIState, s escrow.ContractSnapshot, vm escrow.ViewModel) {
	raw, err := json.Marshal(vm)
	if err != nil {
		r.log.Error("encode view", "err", err)
		return
	}
	fmt.Fprintln(os.Stdout, string(raw))

	if u.IsFinal && r.archiver != nil {
		if err := r.archiver.ArchiveClosure(ctx, r.contract, u.Name(), time.Now(), s); err != nil {
			r.log.Error("archive closure", "contract", r.contract, "err", err)
		}
	}
}

func main() {
	var (
		rpcURL       = flag.String("rpc-url", "", "EVM JSON-RPC endpoint (required)")
		contractAddr = flag.String("contract", "", "escrow contract address (required)")
		tokenAddr    = flag.String("token", "", "USDC token address (required)")
		observerAddr = flag.String("observer", "", "observer account address (required)")

		interval  = flag.Duration("interval", 5*time.Second, "poll interval")
		maxErrors = flag.Int("max-errors", 3, "consecutive read failures before auto-stop")

		postgresDSN = flag.String("postgres-dsn", "", "optional Postgres DSN for the contract registry and closure lookup")

		queueDriver  = flag.String("queue-driver", queue.DriverStdio, "queue driver: kafka|stdio")
		queueBrokers = flag.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")
		queueTopic   = flag.String("queue-topic", events.DefaultTopic, "topic for state-change events")

		archiveDriver = flag.String("archive-driver", "", "terminal snapshot archive driver: s3|memory (empty disables archiving)")
		archiveBucket = flag.String("archive-bucket", "", "s3 bucket for the archive driver")
		archivePrefix = flag.String("archive-prefix", "escrow", "key prefix inside the archive store")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *rpcURL == "" || *contractAddr == "" || *tokenAddr == "" || *observerAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --rpc-url, --contract, --token, and --observer are required")
		os.Exit(2)
	}
	if *interval <= 0 || *maxErrors <= 0 {
		fmt.Fprintln(os.Stderr, "error: --interval and --max-errors must be > 0")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// Watching is allowed for uninvolved observers; they just never get
	// actions. Anything else from Verify is fatal.
	role, err := gw.Verify(ctx)
	if err != nil && !errors.Is(err, gateway.ErrNotInvolved) {
		log.Error("verify contract", "contract", contract, "err", err)
		os.Exit(1)
	}

	producer, err := queue.NewProducer(queue.ProducerConfig{
		Driver:  *queueDriver,
		Brokers: queue.SplitCommaList(*queueBrokers),
	})
	if err != nil {
		log.Error("init queue producer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = producer.Close() }()

	publisher, err := events.NewPublisher(events.PublisherConfig{
		Topic:    *queueTopic,
		Contract: contract,
		Observer: observer,
	}, producer, log)
	if err != nil {
		log.Error("init event publisher", "err", err)
		os.Exit(2)
	}

	var archiver *archive.Archiver
	if *archiveDriver != "" {
		cfg := archive.Config{
			Driver: *archiveDriver,
			Prefix: *archivePrefix,
			Bucket: *archiveBucket,
		}
		if *archiveDriver == archive.DriverS3 {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				log.Error("load aws config", "err", err)
				os.Exit(2)
			}
			cfg.S3Client = s3.NewFromConfig(awsCfg)
		}
		store, err := archive.New(cfg)
		if err != nil {
			log.Error("init archive store", "err", err)
			os.Exit(2)
		}
		archiver, err = archive.NewArchiver(store)
		if err != nil {
			log.Error("init archiver", "err", err)
			os.Exit(2)
		}
	}

	var closure poller.ClosureLookup
	if *postgresDSN != "" {
		pool, err := pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		regStore, err := registrypg.New(pool)
		if err != nil {
			log.Error("init registry store", "err", err)
			os.Exit(2)
		}
		if err := regStore.EnsureSchema(ctx); err != nil {
			log.Error("ensure registry schema", "err", err)
			os.Exit(2)
		}

		snap, err := gw.Snapshot(ctx)
		if err != nil {
			log.Error("read initial snapshot", "contract", contract, "err", err)
			os.Exit(1)
		}
		// Only participants get a registry binding; observers watch
		// without tracking.
		if role != escrow.RoleObserver {
			if err := regStore.Track(ctx, registry.Contract{
				Address: contract,
				Account: observer,
				Role:    role,
				Payer:   snap.Payer,
				Payee:   snap.Payee,
				AddedAt: time.Now().UTC(),
			}); err != nil {
				log.Error("track contract", "contract", contract, "err", err)
				os.Exit(1)
			}
		}

		closure = func(cctx context.Context) (escrow.StateID, bool) {
			reason, ok, err := regStore.Closure(cctx, contract)
			if err != nil || !ok {
				return 0, false
			}
			id, known := escrow.StateByName(reason)
			return id, known
		}
	}

	renderer := &consoleRenderer{contract: contract, archiver: archiver, log: log}

	// A contract that is already closed never produces a fingerprint
	// change, so the watcher checks for a terminal state once at startup
	// instead of waiting on a diff that will never come.
	archiveIfClosed(ctx, gw, archiver, closure, contract, observer, time.Now, log)

	rec, err := poller.New(poller.Config{
		Observer:  observer,
		Interval:  *interval,
		MaxErrors: *maxErrors,
		Closure:   closure,
	}, gw, renderer, publisher, log)
	if err != nil {
		log.Error("init reconciler", "err", err)
		os.Exit(2)
	}

	log.Info("escrow watch started",
		"contract", contract,
		"observer", observer,
		"role", role.String(),
		"interval", interval.String(),
		"queueDriver", *queueDriver,
	)

	rec.Start(ctx)
	<-ctx.Done()
	rec.Stop()
	log.Info("shutdown", "reason", ctx.Err())
}

// archiveIfClosed archives the current snapshot when it already resolves to a
// terminal state, applying the recorded closure reason when one exists. The
// store is write-once, so overlapping with the renderer's archive is safe.
func archiveIfClosed(ctx context.Context, src poller.Source, archiver *archive.Archiver, closure poller.ClosureLookup, contract, observer common.Address, now func() time.Time, log *slog.Logger) {
	if archiver == nil {
		return
	}
	snap, err := src.Snapshot(ctx)
	if err != nil {
		log.Warn("startup closure check failed", "contract", contract, "err", err)
		return
	}
	u := escrow.Resolve(snap, observer, now())
	if !u.IsFinal && closure != nil {
		if id, ok := closure(ctx); ok {
			u = escrow.Override(u, id)
		}
	}
	if !u.IsFinal {
		return
	}
	if err := archiver.ArchiveClosure(ctx, contract, u.Name(), now(), snap); err != nil {
		log.Error("archive closure", "contract", contract, "err", err)
	}
}
