package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"EscrowSettle/internal/observability"
)

// Output mirrors engine.Output in persistence row form to avoid an
// import cycle. The orchestrator (cmd/escrowsettle) bridges between the
// engine's output type and this.
type Output struct {
	Settlement *SettlementRow
	Transfers  []TransferRow
	Entries    []EntryRow
}

// Worker drains the persist channel and batch-writes to Postgres.
// The persist channel uses BLOCKING sends from the engine, so if this
// worker falls behind, the engine stalls and no applied operation is
// ever lost.
type Worker struct {
	writer       *LedgerWriter
	db           *sql.DB
	inputChan    <-chan Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewLedgerWriter(db),
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

type batch struct {
	settlements []SettlementRow
	transfers   []TransferRow
	entries     []EntryRow
	outputs     int
	lastSeq     int64
}

func (b *batch) add(out Output) {
	if out.Settlement != nil {
		b.settlements = append(b.settlements, *out.Settlement)
		if out.Settlement.Sequence > b.lastSeq {
			b.lastSeq = out.Settlement.Sequence
		}
	}
	b.transfers = append(b.transfers, out.Transfers...)
	b.entries = append(b.entries, out.Entries...)
	for _, e := range out.Entries {
		if e.Sequence > b.lastSeq {
			b.lastSeq = e.Sequence
		}
	}
	b.outputs++
}

func (b *batch) reset() {
	b.settlements = b.settlements[:0]
	b.transfers = b.transfers[:0]
	b.entries = b.entries[:0]
	b.outputs = 0
}

func (b *batch) rows() int {
	return len(b.settlements) + len(b.transfers) + len(b.entries)
}

// Run starts the worker loop. It batches incoming outputs and flushes
// either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled or the input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	var b batch

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if b.outputs > 0 {
				if err := w.flush(context.Background(), &b); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if b.outputs > 0 {
					if err := w.flush(context.Background(), &b); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			b.add(out)

			if b.outputs >= w.batchSize {
				if err := w.flushWithRetry(ctx, &b); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				b.reset()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if b.outputs > 0 {
				if err := w.flushWithRetry(ctx, &b); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				b.reset()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never
// drops a batch: it retries until the write succeeds or the context is
// cancelled, then makes one final attempt with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, b *batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, outputs=%d)",
				attempt, backoff, b.outputs)
			select {
			case <-ctx.Done():
				finalErr := w.flush(context.Background(), b)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, b)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistRetry.Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, b *batch) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteSettlementBatch(ctx, tx, b.settlements); err != nil {
		w.countError("write_settlements")
		return err
	}
	if err := w.writer.WriteTransferBatch(ctx, tx, b.transfers); err != nil {
		w.countError("write_transfers")
		return err
	}
	if err := w.writer.WriteEntryBatch(ctx, tx, b.entries); err != nil {
		w.countError("write_entries")
		return err
	}

	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(b.outputs))
		w.metrics.PersistRowsWritten.Add(float64(b.rows()))
		if b.lastSeq > 0 {
			w.metrics.PersistLastSeq.Set(float64(b.lastSeq))
		}
	}

	return nil
}

func (w *Worker) countError(errorType string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(errorType).Inc()
	}
}
