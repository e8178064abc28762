package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"EscrowSettle/internal/engine"
)

// OutboundPublisher publishes ledger outputs to NATS for downstream
// consumers. Subjects follow the pattern:
//
//	escrow.settlement.events.{leg}        for settlements
//	escrow.settlement.events.{entry_type} for deposits and withdrawals
//
// Publishing is best-effort. The engine's publish channel drops when
// full, and a failed publish is logged and skipped; the settlement log
// in Postgres remains the source of truth.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan engine.Output
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan engine.Output) *OutboundPublisher {
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
				log.Printf("WARN: outbound publish failed seq=%d: %v", out.Sequence, err)
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out engine.Output) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	subject := "escrow.settlement.events."
	if out.Settlement != nil {
		subject += out.Settlement.Leg
	} else if len(out.Entries) > 0 {
		subject += out.Entries[0].EntryType
	} else {
		subject += "unknown"
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "ESCROW_SETTLEMENT_EVENTS",
		Subjects:  []string{"escrow.settlement.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream ESCROW_SETTLEMENT_EVENTS")
	return nil
}
