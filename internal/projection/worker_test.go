package projection

import (
	"PotLedger/internal/event"
	"PotLedger/internal/persistence"
	"PotLedger/internal/round"
	"PotLedger/internal/testutil"
	"context"
	"testing"
	"time"
)

func setupProjectionDB(t *testing.T) (*Worker, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	if err := persistence.NewMigrator(db, "../../migrations").Up(context.Background()); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}
	return NewWorker(db, nil), cleanup
}

func depositEvent(roundID int64, participant string, value int64) round.Output {
	return round.Output{
		Event: &event.DepositAccepted{
			Meta:        event.NewMeta(roundID, time.Now()),
			Participant: participant,
			Symbol:      "SOL",
			RawAmount:   value,
			Value:       value,
		},
	}
}

func TestLeaderboardProjection(t *testing.T) {
	w, cleanup := setupProjectionDB(t)
	defer cleanup()

	ctx := context.Background()

	// Two deposits from alice in round 1, one in round 2, one from bob.
	for _, out := range []round.Output{
		depositEvent(1, "alice", 100),
		depositEvent(1, "alice", 50),
		depositEvent(2, "alice", 25),
		depositEvent(2, "bob", 200),
	} {
		if err := w.apply(ctx, out); err != nil {
			t.Fatalf("apply deposit: %v", err)
		}
	}

	win := round.Output{
		Event: &event.RoundSettled{
			Meta:         event.NewMeta(2, time.Now()),
			Winner:       "bob",
			PayoutAmount: 375,
		},
	}
	if err := w.apply(ctx, win); err != nil {
		t.Fatalf("apply win: %v", err)
	}

	var (
		depositsCount  int64
		totalDeposited int64
		roundsEntered  int64
	)
	err := w.db.QueryRowContext(ctx, `
		SELECT deposits_count, total_deposited, rounds_entered
		FROM projections.leaderboard WHERE participant = 'alice'`).
		Scan(&depositsCount, &totalDeposited, &roundsEntered)
	if err != nil {
		t.Fatalf("read alice: %v", err)
	}
	if depositsCount != 3 || totalDeposited != 175 || roundsEntered != 2 {
		t.Errorf("alice row: deposits=%d total=%d rounds=%d, want 3/175/2",
			depositsCount, totalDeposited, roundsEntered)
	}

	var roundsWon, totalWon int64
	err = w.db.QueryRowContext(ctx, `
		SELECT rounds_won, total_won
		FROM projections.leaderboard WHERE participant = 'bob'`).
		Scan(&roundsWon, &totalWon)
	if err != nil {
		t.Fatalf("read bob: %v", err)
	}
	if roundsWon != 1 || totalWon != 375 {
		t.Errorf("bob row: won=%d total_won=%d, want 1/375", roundsWon, totalWon)
	}
}

func TestRebuildFromDurableTables(t *testing.T) {
	w, cleanup := setupProjectionDB(t)
	defer cleanup()

	ctx := context.Background()

	// Seed the durable tables directly, then rebuild the projection from scratch.
	now := time.Now()
	for _, r := range []struct {
		id     int64
		phase  string
		winner string
		payout int64
	}{
		{1, "ended", "alice", 150},
		{2, "ended", "bob", 225},
	} {
		var winner interface{}
		if r.winner != "" {
			winner = r.winner
		}
		_, err := w.db.ExecContext(ctx, `
			INSERT INTO pot.rounds (round_id, phase, opened_at, closes_at, pot_total, winner, payout_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $5)`,
			r.id, r.phase, now, now.Add(time.Minute), r.payout, winner)
		if err != nil {
			t.Fatalf("insert round %d: %v", r.id, err)
		}
	}
	for i, d := range []struct {
		roundID     int64
		participant string
		value       int64
	}{
		{1, "alice", 100},
		{1, "bob", 50},
		{2, "bob", 225},
	} {
		_, err := w.db.ExecContext(ctx, `
			INSERT INTO pot.deposits (deposit_id, round_id, sequence, participant, asset_id, symbol, raw_amount, value, accepted_at)
			VALUES (gen_random_uuid(), $1, $2, $3, 0, 'SOL', $4, $4, $5)`,
			d.roundID, int64(i+1), d.participant, d.value, now)
		if err != nil {
			t.Fatalf("insert deposit: %v", err)
		}
	}

	// Stale incremental state that the rebuild must discard.
	if err := w.apply(ctx, depositEvent(1, "mallory", 999)); err != nil {
		t.Fatalf("apply stale deposit: %v", err)
	}

	if err := Rebuild(ctx, w.db); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	var n int
	if err := w.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projections.leaderboard`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("leaderboard rows after rebuild: got %d, want 2", n)
	}

	var depositsCount, totalDeposited, roundsEntered, roundsWon, totalWon int64
	err := w.db.QueryRowContext(ctx, `
		SELECT deposits_count, total_deposited, rounds_entered, rounds_won, total_won
		FROM projections.leaderboard WHERE participant = 'bob'`).
		Scan(&depositsCount, &totalDeposited, &roundsEntered, &roundsWon, &totalWon)
	if err != nil {
		t.Fatalf("read bob: %v", err)
	}
	if depositsCount != 2 || totalDeposited != 275 || roundsEntered != 2 {
		t.Errorf("bob deposits: count=%d total=%d rounds=%d, want 2/275/2",
			depositsCount, totalDeposited, roundsEntered)
	}
	if roundsWon != 1 || totalWon != 225 {
		t.Errorf("bob wins: won=%d total_won=%d, want 1/225", roundsWon, totalWon)
	}
}

func TestSkippedRoundDoesNotProject(t *testing.T) {
	w, cleanup := setupProjectionDB(t)
	defer cleanup()

	ctx := context.Background()
	skip := round.Output{
		Event: &event.RoundSettled{Meta: event.NewMeta(1, time.Now())},
	}
	if err := w.apply(ctx, skip); err != nil {
		t.Fatalf("apply skip: %v", err)
	}

	var n int
	if err := w.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projections.leaderboard`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("leaderboard rows after skipped round: got %d, want 0", n)
	}
}
