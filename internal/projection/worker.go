package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"PotLedger/internal/event"
	"PotLedger/internal/round"
)

// Worker updates read-model tables from round lifecycle events. The
// projection channel is non-blocking with drop: if this worker falls
// behind, the leaderboard can be rebuilt from the durable round log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan round.Output
}

func NewWorker(db *sql.DB, inputChan <-chan round.Output) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			if err := w.apply(ctx, out); err != nil {
				log.Printf("WARN: projection update failed event=%s: %v", out.Event.EventID(), err)
				// Continue: projections are eventually consistent and
				// rebuildable from pot.rounds and pot.deposits
			}
		}
	}
}

func (w *Worker) apply(ctx context.Context, out round.Output) error {
	switch e := out.Event.(type) {
	case *event.DepositAccepted:
		return w.applyDeposit(ctx, e)
	case *event.RoundSettled:
		if e.Winner == "" {
			return nil // zero-deposit round, nothing to credit
		}
		return w.applyWin(ctx, e)
	default:
		return nil
	}
}

// applyDeposit bumps the participant's leaderboard row. rounds_entered
// only increments when the deposit lands in a round the participant has
// not touched yet, tracked via last_round_id.
func (w *Worker) applyDeposit(ctx context.Context, e *event.DepositAccepted) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO projections.leaderboard
			(participant, deposits_count, total_deposited, rounds_entered, rounds_won, total_won, last_round_id, updated_at)
		VALUES ($1, 1, $2, 1, 0, 0, $3, NOW())
		ON CONFLICT (participant) DO UPDATE SET
			deposits_count  = projections.leaderboard.deposits_count + 1,
			total_deposited = projections.leaderboard.total_deposited + $2,
			rounds_entered  = projections.leaderboard.rounds_entered +
				CASE WHEN projections.leaderboard.last_round_id = $3 THEN 0 ELSE 1 END,
			last_round_id   = $3,
			updated_at      = NOW()
	`, e.Participant, e.Value, e.Round)
	if err != nil {
		return fmt.Errorf("leaderboard deposit update: %w", err)
	}
	return nil
}

func (w *Worker) applyWin(ctx context.Context, e *event.RoundSettled) error {
	_, err := w.db.ExecContext(ctx, `
		UPDATE projections.leaderboard SET
			rounds_won = rounds_won + 1,
			total_won  = total_won + $2,
			updated_at = NOW()
		WHERE participant = $1
	`, e.Winner, e.PayoutAmount)
	if err != nil {
		return fmt.Errorf("leaderboard win update: %w", err)
	}
	return nil
}
