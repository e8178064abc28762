package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"EscrowSettle/internal/escrow"
)

const creditSubject = "escrow.settlement.credits"

// JetStreamMover hands credit instructions to the external transfer
// executor over JetStream. The whole batch goes out as one message, so
// either every credit of a settlement reaches the executor or none do.
type JetStreamMover struct {
	js      jetstream.JetStream
	timeout time.Duration
}

func NewJetStreamMover(js jetstream.JetStream) *JetStreamMover {
	return &JetStreamMover{js: js, timeout: 5 * time.Second}
}

type creditBatch struct {
	Credits []escrow.Credit `json:"credits"`
	SentAt  time.Time       `json:"sent_at"`
}

// Execute publishes the credit batch and waits for the stream ack.
func (m *JetStreamMover) Execute(ctx context.Context, credits []escrow.Credit) error {
	if len(credits) == 0 {
		return nil
	}

	data, err := json.Marshal(creditBatch{Credits: credits, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal credit batch: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if _, err := m.js.Publish(pubCtx, creditSubject, data); err != nil {
		return fmt.Errorf("publish credit batch: %w", err)
	}
	return nil
}

// EnsureCreditStream creates the work queue the transfer executor
// consumes credit batches from.
func EnsureCreditStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "ESCROW_SETTLEMENT_CREDITS",
		Subjects:  []string{creditSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create credit stream: %w", err)
	}
	log.Println("INFO: ensured credit stream ESCROW_SETTLEMENT_CREDITS")
	return nil
}
