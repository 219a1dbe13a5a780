package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openescrow/escrow-console/internal/escrow"
)

var (
	evContract = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	evPayer    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	evPayee    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func eventSnapshot() escrow.ContractSnapshot {
	return escrow.ContractSnapshot{
		Payer:           evPayer,
		Payee:           evPayee,
		TotalAmount:     big.NewInt(1_000_000_000),
		Deadline:        time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		PlatformFeePaid: true,
		ConfirmedPayer:  true,
		ConfirmedPayee:  true,
		Deposited:       true,
		Balance:         big.NewInt(1_000_000_000),
		Milestones: []escrow.Milestone{
			{Percentage: 40, Amount: big.NewInt(400_000_000)},
			{Percentage: 60, Amount: big.NewInt(600_000_000)},
		},
		SettlementAmount: big.NewInt(0),
	}
}

func eventTime() time.Time {
	return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestBuildPayload_Fields(t *testing.T) {
	snap := eventSnapshot()
	u := escrow.Resolve(snap, evPayer, eventTime())
	fp := escrow.FingerprintOf(snap)

	p, err := BuildPayload(evContract, evPayer, u, snap, fp, eventTime())
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}

	if p.Version != PayloadVersion {
		t.Fatalf("version: %q", p.Version)
	}
	if p.Contract != evContract.Hex() || p.Observer != evPayer.Hex() {
		t.Fatalf("addresses: %q %q", p.Contract, p.Observer)
	}
	if p.Role != "payer" {
		t.Fatalf("role: %q", p.Role)
	}
	if p.State != "ACTIVE_NO_MILESTONES_RELEASED" {
		t.Fatalf("state: %q", p.State)
	}
	if p.Phase != "active" {
		t.Fatalf("phase: %q", p.Phase)
	}
	if p.IsFinal {
		t.Fatalf("active contract marked final")
	}
	if p.Balance != "1000" {
		t.Fatalf("balance: %q", p.Balance)
	}
	if !strings.HasPrefix(p.EventID, "0x") || len(p.EventID) != 66 {
		t.Fatalf("event id: %q", p.EventID)
	}
	if !strings.HasPrefix(p.Fingerprint, "0x") || len(p.Fingerprint) != 66 {
		t.Fatalf("fingerprint: %q", p.Fingerprint)
	}
	if p.ObservedAt != "2026-06-01T12:00:00Z" {
		t.Fatalf("observedAt: %q", p.ObservedAt)
	}
}

func TestBuildPayload_EventIDIsStable(t *testing.T) {
	snap := eventSnapshot()
	u := escrow.Resolve(snap, evPayer, eventTime())
	fp := escrow.FingerprintOf(snap)

	a, err := BuildPayload(evContract, evPayer, u, snap, fp, eventTime())
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	b, err := BuildPayload(evContract, evPayer, u, snap, fp, eventTime().Add(time.Hour))
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	if a.EventID != b.EventID {
		t.Fatalf("same transition produced different ids: %q vs %q", a.EventID, b.EventID)
	}

	changed := snap
	changed.Balance = big.NewInt(600_000_000)
	c, err := BuildPayload(evContract, evPayer, u, changed, escrow.FingerprintOf(changed), eventTime())
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	if a.EventID == c.EventID {
		t.Fatalf("different snapshots produced the same id")
	}
}

func TestBuildPayload_Rejects(t *testing.T) {
	snap := eventSnapshot()
	u := escrow.Resolve(snap, evPayer, eventTime())
	fp := escrow.FingerprintOf(snap)

	if _, err := BuildPayload(common.Address{}, evPayer, u, snap, fp, eventTime()); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("zero contract: %v", err)
	}
	if _, err := BuildPayload(evContract, evPayer, u, snap, fp, time.Time{}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("zero time: %v", err)
	}
}

type fakeProducer struct {
	topics []string
	keys   [][]byte
	values [][]byte
	err    error
}

func (p *fakeProducer) Publish(_ context.Context, topic string, key, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.values = append(p.values, payload)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisher_UpdatedPublishesRecord(t *testing.T) {
	producer := &fakeProducer{}
	pub, err := NewPublisher(PublisherConfig{Contract: evContract, Observer: evPayer, Now: eventTime}, producer, testLogger())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}

	snap := eventSnapshot()
	u := escrow.Resolve(snap, evPayer, eventTime())
	pub.Updated(context.Background(), u, snap)

	if len(producer.values) != 1 {
		t.Fatalf("published %d records", len(producer.values))
	}
	if producer.topics[0] != DefaultTopic {
		t.Fatalf("topic: %q", producer.topics[0])
	}
	if string(producer.keys[0]) != string(evContract.Bytes()) {
		t.Fatalf("record not keyed by contract")
	}

	var p Payload
	if err := json.Unmarshal(producer.values[0], &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Version != PayloadVersion || p.State != u.Name() {
		t.Fatalf("payload: %+v", p)
	}
}

func TestPublisher_PublishFailureDoesNotPanic(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker down")}
	pub, err := NewPublisher(PublisherConfig{Contract: evContract, Now: eventTime}, producer, testLogger())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}

	snap := eventSnapshot()
	pub.Updated(context.Background(), escrow.Resolve(snap, evPayer, eventTime()), snap)
	if len(producer.values) != 0 {
		t.Fatalf("record recorded despite error")
	}
}

func TestNewPublisher_Validation(t *testing.T) {
	if _, err := NewPublisher(PublisherConfig{Contract: evContract}, nil, testLogger()); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("nil producer: %v", err)
	}
	if _, err := NewPublisher(PublisherConfig{}, &fakeProducer{}, testLogger()); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("zero contract: %v", err)
	}
}
