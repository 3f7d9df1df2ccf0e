package persistence

import (
	"context"
	"database/sql"
	"log"
	"time"

	"PotLedger/internal/event"
	"PotLedger/internal/ledger"
	"PotLedger/internal/observability"
	"PotLedger/internal/round"
)

// Worker drains the persist channel and batch-writes round state to
// Postgres. The channel uses BLOCKING sends from the round controller, so
// if this worker falls behind the controller stalls. No transition is lost.
type Worker struct {
	writer       *RoundWriter
	inputChan    <-chan round.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

// batch accumulates rows between flushes. Round rows are keyed by id so a
// single flush carries only the latest state per round.
type batch struct {
	rounds      map[int64]RoundRow
	deposits    []DepositRow
	transitions []TransitionRow
	settlements []SettlementRow
	count       int
}

func newBatch() *batch {
	return &batch{rounds: make(map[int64]RoundRow)}
}

func (b *batch) add(out round.Output) {
	if out.Round != nil {
		b.rounds[out.Round.ID] = roundRow(out.Round)
	}
	for _, d := range out.Deposits {
		b.deposits = append(b.deposits, depositRow(d))
	}
	b.transitions = append(b.transitions, TransitionRow{
		EventID:   out.Event.EventID().String(),
		RoundID:   out.Event.RoundID(),
		EventType: out.Event.EventType().String(),
		Payload:   MarshalPayload(out.Event),
		EmittedAt: time.Now(),
	})
	if settled, ok := out.Event.(*event.RoundSettled); ok && out.Plan != nil {
		row := SettlementRow{
			PlanID:    out.Plan.PlanID.String(),
			RoundID:   out.Event.RoundID(),
			Winner:    settled.Winner,
			Plan:      MarshalPayload(out.Plan),
			CreatedAt: time.Now(),
		}
		if out.TxRef != "" {
			ref := string(out.TxRef)
			row.TxRef = &ref
		}
		b.settlements = append(b.settlements, row)
	}
	b.count++
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan round.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewRoundWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the worker loop. It batches incoming outputs and flushes when
// the batch is full or the flush timeout expires. Blocks until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	b := newBatch()

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if b.count > 0 {
				if err := w.flush(context.Background(), b); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if b.count > 0 {
					if err := w.flush(context.Background(), b); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			b.add(out)

			if b.count >= w.batchSize {
				if err := w.flushWithRetry(ctx, b); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				b = newBatch()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if b.count > 0 {
				if err := w.flushWithRetry(ctx, b); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				b = newBatch()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// never drops a batch: it retries until the write succeeds or the context
// is cancelled, in which case one final attempt runs with a background
// context so shutdown does not lose the batch.
func (w *Worker) flushWithRetry(ctx context.Context, b *batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, records=%d)",
				attempt, backoff, b.count)
			select {
			case <-ctx.Done():
				return w.flush(context.Background(), b)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
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
			w.metrics.PersistErrors.WithLabelValues("flush").Inc()
		}
	}
}

// flush writes the whole batch in a single transaction.
func (w *Worker) flush(ctx context.Context, b *batch) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	rounds := make([]RoundRow, 0, len(b.rounds))
	for _, r := range b.rounds {
		rounds = append(rounds, r)
	}

	if err := w.writer.WriteRoundBatch(ctx, tx, rounds); err != nil {
		return err
	}
	if err := w.writer.WriteDepositBatch(ctx, tx, b.deposits); err != nil {
		return err
	}
	if err := w.writer.WriteTransitionBatch(ctx, tx, b.transitions); err != nil {
		return err
	}
	if err := w.writer.WriteSettlementBatch(ctx, tx, b.settlements); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(b.count))
		w.metrics.PersistRecordsWritten.WithLabelValues("rounds").Add(float64(len(rounds)))
		w.metrics.PersistRecordsWritten.WithLabelValues("deposits").Add(float64(len(b.deposits)))
		w.metrics.PersistRecordsWritten.WithLabelValues("transitions").Add(float64(len(b.transitions)))
		w.metrics.PersistRecordsWritten.WithLabelValues("settlements").Add(float64(len(b.settlements)))
	}

	return nil
}

func roundRow(r *ledger.Round) RoundRow {
	row := RoundRow{
		RoundID:      r.ID,
		Phase:        r.Phase.String(),
		OpenedAt:     r.OpenedAt,
		ClosesAt:     r.ClosesAt,
		PotTotal:     r.PotTotal,
		PayoutAmount: r.PayoutAmount,
		Commitment:   r.Commitment,
		Seed:         r.Seed,
	}
	if !r.ClosedAt.IsZero() {
		t := r.ClosedAt
		row.ClosedAt = &t
	}
	if r.Winner != "" {
		s := r.Winner
		row.Winner = &s
	}
	if !r.SettledAt.IsZero() {
		t := r.SettledAt
		row.SettledAt = &t
	}
	if r.FailReason != "" {
		s := r.FailReason
		row.FailReason = &s
	}
	return row
}

func depositRow(d ledger.Deposit) DepositRow {
	return DepositRow{
		DepositID:   d.ID.String(),
		RoundID:     d.RoundID,
		Sequence:    d.Sequence,
		Participant: d.Participant,
		AssetID:     uint16(d.AssetID),
		Symbol:      d.Symbol,
		RawAmount:   d.RawAmount,
		Value:       d.Value,
		AcceptedAt:  d.AcceptedAt,
	}
}
