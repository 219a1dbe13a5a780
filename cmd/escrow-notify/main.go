package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openescrow/escrow-console/internal/events"
	"github.com/openescrow/escrow-console/internal/queue"
)

func main() {
	var (
		queueDriver  = flag.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
		queueBrokers = flag.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")
		queueGroup   = flag.String("queue-group", "escrow-notify", "queue consumer group (required for kafka)")
		queueTopics  = flag.String("queue-topics", events.DefaultTopic, "comma-separated queue topics")
		maxLineBytes = flag.Int("max-line-bytes", 1<<20, "maximum stdin line size for stdio driver (bytes)")
		ackTimeout   = flag.Duration("queue-ack-timeout", 5*time.Second, "timeout for queue message acknowledgements")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *maxLineBytes <= 0 || *ackTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: --max-line-bytes and --queue-ack-timeout must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer, err := queue.NewConsumer(ctx, queue.ConsumerConfig{
		Driver:       *queueDriver,
		Brokers:      queue.SplitCommaList(*queueBrokers),
		Group:        *queueGroup,
		Topics:       queue.SplitCommaList(*queueTopics),
		MaxLineBytes: *maxLineBytes,
	})
	if err != nil {
		log.Error("init queue consumer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = consumer.Close() }()

	log.Info("escrow notify started", "queueDriver", *queueDriver, "topics", *queueTopics)

	msgCh := consumer.Messages()
	errCh := consumer.Errors()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown", "reason", ctx.Err())
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				log.Error("queue consume error", "err", err)
			}
		case qmsg, ok := <-msgCh:
			if !ok {
				return
			}
			line := bytes.TrimSpace(qmsg.Value)
			if len(line) == 0 {
				ackMessage(qmsg, *ackTimeout, log)
				continue
			}

			var ev events.Payload
			if err := json.Unmarshal(line, &ev); err != nil {
				log.Error("parse event json", "err", err)
				ackMessage(qmsg, *ackTimeout, log)
				continue
			}
			if ev.Version != events.PayloadVersion {
				ackMessage(qmsg, *ackTimeout, log)
				continue
			}

			fmt.Fprintln(os.Stdout, formatUpdate(ev))
			ackMessage(qmsg, *ackTimeout, log)
		}
	}
}

func formatUpdate(ev events.Payload) string {
	line := fmt.Sprintf("[%s] contract %s is now %s (balance %s USDC, %d milestones released)",
		ev.ObservedAt, ev.Contract, ev.State, ev.Balance, ev.MilestonesReleased)
	if ev.IsFinal {
		line += " [closed]"
	}
	return line
}

func ackMessage(msg queue.Message, timeout time.Duration, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := msg.Ack(ctx); err != nil {
		log.Error("ack queue message", "topic", msg.Topic, "err", err)
	}
}
