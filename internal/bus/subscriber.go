package bus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ConfirmationSubscriber subscribes to transfer confirmations published by
// the chain watcher and feeds them into the confirmation channel for the
// round controller to apply.
type ConfirmationSubscriber struct {
	js        jetstream.JetStream
	inputChan chan<- RawConfirmation
	consumers []jetstream.ConsumeContext
}

// RawConfirmation is the parsed-but-untyped confirmation from NATS, ready
// for the shell to validate and apply. Ack after the deposit is recorded
// (or definitively rejected); Nak to have the message redelivered.
type RawConfirmation struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func()
	NakFunc   func()
}

func NewConfirmationSubscriber(js jetstream.JetStream, inputChan chan<- RawConfirmation) *ConfirmationSubscriber {
	return &ConfirmationSubscriber{
		js:        js,
		inputChan: inputChan,
	}
}

// Subscribe creates the JetStream consumer for confirmation messages.
// Explicit ACK, max_deliver=5, ack_wait=30s.
func (cs *ConfirmationSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := cs.js.CreateOrUpdateConsumer(ctx, "POT_CONFIRMATIONS", jetstream.ConsumerConfig{
		Durable:       "pot-confirmations",
		FilterSubject: "pot.confirmations.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer pot-confirmations: %w", err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawConfirmation{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc:   func() { msg.Ack() },
			NakFunc:   func() { msg.Nak() },
		}

		select {
		case cs.inputChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume pot-confirmations: %w", err)
	}

	cs.consumers = append(cs.consumers, consumerContext)
	log.Println("INFO: subscribed to pot.confirmations.> (consumer=pot-confirmations)")
	return nil
}

// EnsureConfirmationStream creates the confirmation stream if it doesn't exist.
func EnsureConfirmationStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "POT_CONFIRMATIONS",
		Subjects:  []string{"pot.confirmations.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create confirmation stream: %w", err)
	}
	log.Println("INFO: ensured stream POT_CONFIRMATIONS")
	return nil
}

// Stop gracefully stops all consumers.
func (cs *ConfirmationSubscriber) Stop() {
	for _, cc := range cs.consumers {
		cc.Stop()
	}
	log.Println("INFO: confirmation subscriber stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
