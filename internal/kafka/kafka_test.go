package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/NotIan11/TechELO/internal/domain"
	"go.uber.org/zap"
)

func sampleEvent(t *testing.T) domain.MatchEvent {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := domain.NewChallenge("m1", "alice", "bob", domain.GamePool, 1500, 1500, now)
	if err != nil {
		t.Fatalf("NewChallenge: %v", err)
	}
	return domain.NewMatchEvent(domain.EventChallengeCreated, m, "alice", now)
}

func TestProducerPublishesEvent(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewProducerFromSync(sp, "match-events", zap.NewNop())
	event := sampleEvent(t)

	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got domain.MatchEvent
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.Type != domain.EventChallengeCreated || got.MatchID != "m1" || got.Recipients[0] != "bob" {
			return fmt.Errorf("unexpected event %+v", got)
		}
		return nil
	})

	if err := p.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestProducerReportsFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewProducerFromSync(sp, "match-events", zap.NewNop())
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := p.Notify(context.Background(), sampleEvent(t))
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}
	p.Close()
}

func TestProducerHonoursCancelledContext(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewProducerFromSync(sp, "match-events", zap.NewNop())
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Notify(ctx, sampleEvent(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type captureHandler struct {
	events []domain.MatchEvent
	err    error
}

func (h *captureHandler) DeliverEvent(_ context.Context, e domain.MatchEvent) error {
	h.events = append(h.events, e)
	return h.err
}

func TestHandleMessage(t *testing.T) {
	h := &captureHandler{}
	c := &Consumer{handler: h, logger: zap.NewNop()}
	ctx := context.Background()

	data, _ := json.Marshal(sampleEvent(t))
	c.handleMessage(ctx, &sarama.ConsumerMessage{Value: data})
	if len(h.events) != 1 || h.events[0].MatchID != "m1" || h.events[0].Match == nil {
		t.Fatalf("expected decoded event, got %+v", h.events)
	}

	c.handleMessage(ctx, &sarama.ConsumerMessage{Value: []byte("{not json")})
	c.handleMessage(ctx, &sarama.ConsumerMessage{Value: []byte(`{"type":"match_started"}`)})
	if len(h.events) != 1 {
		t.Fatalf("malformed records must be skipped, got %d deliveries", len(h.events))
	}

	h.err = errors.New("hub closed")
	c.handleMessage(ctx, &sarama.ConsumerMessage{Value: data})
	if len(h.events) != 2 {
		t.Fatalf("expected delivery attempt, got %d", len(h.events))
	}
}
