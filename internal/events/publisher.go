package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openescrow/escrow-console/internal/escrow"
	"github.com/openescrow/escrow-console/internal/queue"
)

const DefaultTopic = "escrow.state.v1"

// Publisher emits one queue record per state transition. It satisfies the
// reconciler's Notifier interface so it can be handed to a watcher directly.
type Publisher struct {
	producer queue.Producer
	topic    string
	contract common.Address
	observer common.Address
	log      *slog.Logger
	now      func() time.Time
}

type PublisherConfig struct {
	Topic    string
	Contract common.Address
	Observer common.Address
	Now      func() time.Time
}

func NewPublisher(cfg PublisherConfig, producer queue.Producer, log *slog.Logger) (*Publisher, error) {
	if producer == nil {
		return nil, fmt.Errorf("%w: producer is required", ErrInvalidPayload)
	}
	if cfg.Contract == (common.Address{}) {
		return nil, fmt.Errorf("%w: contract address is zero", ErrInvalidPayload)
	}
	if log == nil {
		log = slog.Default()
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		contract: cfg.Contract,
		observer: cfg.Observer,
		log:      log,
		now:      now,
	}, nil
}

func (p *Publisher) Updated(ctx context.Context, u escrow.UIState, s escrow.ContractSnapshot) {
	payload, err := BuildPayload(p.contract, p.observer, u, s, escrow.FingerprintOf(s), p.now())
	if err != nil {
		p.log.Error("event payload build failed", "contract", p.contract.Hex(), "err", err)
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("event payload marshal failed", "contract", p.contract.Hex(), "err", err)
		return
	}
	if err := p.producer.Publish(ctx, p.topic, p.contract.Bytes(), raw); err != nil {
		p.log.Error("event publish failed", "contract", p.contract.Hex(), "state", u.Name(), "err", err)
		return
	}
	p.log.Info("state event published", "contract", p.contract.Hex(), "state", u.Name(), "eventId", payload.EventID)
}

func (p *Publisher) Stopped(ctx context.Context, cause error) {
	if cause == nil {
		p.log.Info("watch stopped", "contract", p.contract.Hex())
		return
	}
	p.log.Warn("watch stopped after repeated errors", "contract", p.contract.Hex(), "err", cause)
}
