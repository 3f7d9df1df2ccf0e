package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"PotLedger/internal/round"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes round-lifecycle events to NATS for downstream
// consumers (frontends, analytics, the payout reconciler).
// Subjects follow the pattern: pot.rounds.events.{event_type}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan round.Output
}

// PublishableEvent is the wire envelope for an outbound event.
type PublishableEvent struct {
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	RoundID   int64       `json:"round_id"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan round.Output) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				log.Printf("WARN: outbound publish failed event=%s: %v", out.Event.EventID(), err)
				// Non-fatal: subscribers can catch up from the durable log
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out round.Output) error {
	evt := PublishableEvent{
		EventID:   out.Event.EventID().String(),
		EventType: out.Event.EventType().String(),
		RoundID:   out.Event.RoundID(),
		Payload:   out.Event,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("pot.rounds.events.%s", evt.EventType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "POT_ROUND_EVENTS",
		Subjects:  []string{"pot.rounds.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream POT_ROUND_EVENTS")
	return nil
}
