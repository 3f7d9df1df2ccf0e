package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// Rebuild recomputes the leaderboard from the durable round and deposit
// tables. Safe to run at any time; the projection is derived state.
func Rebuild(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.leaderboard`); err != nil {
		return fmt.Errorf("truncate leaderboard: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.leaderboard
			(participant, deposits_count, total_deposited, rounds_entered, rounds_won, total_won, last_round_id, updated_at)
		SELECT
			participant,
			COUNT(*),
			SUM(value),
			COUNT(DISTINCT round_id),
			0,
			0,
			MAX(round_id),
			NOW()
		FROM pot.deposits
		GROUP BY participant
	`); err != nil {
		return fmt.Errorf("rebuild deposits: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.leaderboard lb SET
			rounds_won = wins.n,
			total_won  = wins.amount
		FROM (
			SELECT winner, COUNT(*) AS n, SUM(payout_amount) AS amount
			FROM pot.rounds
			WHERE winner IS NOT NULL AND phase = 'ended'
			GROUP BY winner
		) wins
		WHERE lb.participant = wins.winner
	`); err != nil {
		return fmt.Errorf("rebuild wins: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Println("INFO: leaderboard rebuild complete")
	return nil
}
