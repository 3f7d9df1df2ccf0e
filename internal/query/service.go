package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Service provides read-only access to the durable round log and the
// projection tables. The live round is served from memory by the HTTP
// layer; history is served from here.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetRound returns one round by id, with its deposit count.
func (s *Service) GetRound(ctx context.Context, roundID int64) (*RoundResponse, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.round_id, r.phase, r.opened_at, r.closes_at, r.closed_at,
		       r.pot_total, r.winner, r.payout_amount, r.commitment, r.seed,
		       r.settled_at, r.fail_reason,
		       (SELECT COUNT(*) FROM pot.deposits d WHERE d.round_id = r.round_id)
		FROM pot.rounds r
		WHERE r.round_id = $1`, roundID)

	resp, err := scanRound(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: round %d", ErrNotFound, roundID)
	}
	return resp, err
}

// ListRounds returns rounds newest-first with cursor pagination. Pass
// beforeID = 0 for the first page.
func (s *Service) ListRounds(ctx context.Context, limit int, beforeID int64) ([]RoundResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	q := `
		SELECT r.round_id, r.phase, r.opened_at, r.closes_at, r.closed_at,
		       r.pot_total, r.winner, r.payout_amount, r.commitment, r.seed,
		       r.settled_at, r.fail_reason,
		       (SELECT COUNT(*) FROM pot.deposits d WHERE d.round_id = r.round_id)
		FROM pot.rounds r`
	args := []interface{}{}
	if beforeID > 0 {
		q += ` WHERE r.round_id < $1`
		args = append(args, beforeID)
	}
	q += fmt.Sprintf(` ORDER BY r.round_id DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoundResponse
	for rows.Next() {
		resp, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *resp)
	}
	return out, rows.Err()
}

// GetRoundDeposits returns the deposits of a round in arrival order.
func (s *Service) GetRoundDeposits(ctx context.Context, roundID int64) ([]DepositResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT deposit_id, round_id, sequence, participant, symbol, raw_amount, value, accepted_at
		FROM pot.deposits
		WHERE round_id = $1
		ORDER BY sequence ASC`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DepositResponse
	for rows.Next() {
		var d DepositResponse
		if err := rows.Scan(&d.DepositID, &d.RoundID, &d.Sequence, &d.Participant,
			&d.Symbol, &d.RawAmount, &d.Value, &d.AcceptedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetLeaderboard returns the top participants by total value won.
func (s *Service) GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT participant, deposits_count, total_deposited, rounds_entered, rounds_won, total_won
		FROM projections.leaderboard
		ORDER BY total_won DESC, total_deposited DESC
		LIMIT %d`, limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Participant, &e.DepositsCount, &e.TotalDeposited,
			&e.RoundsEntered, &e.RoundsWon, &e.TotalWon); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetSettlement returns the recorded payout plan for a round.
func (s *Service) GetSettlement(ctx context.Context, roundID int64) (*SettlementResponse, error) {
	var (
		resp  SettlementResponse
		txRef sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT plan_id, round_id, winner, tx_ref, plan, created_at
		FROM pot.settlements
		WHERE round_id = $1`, roundID).
		Scan(&resp.PlanID, &resp.RoundID, &resp.Winner, &txRef, &resp.Plan, &resp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: settlement for round %d", ErrNotFound, roundID)
	}
	if err != nil {
		return nil, err
	}
	if txRef.Valid {
		resp.TxRef = txRef.String
	}
	return &resp, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRound(row rowScanner) (*RoundResponse, error) {
	var (
		resp       RoundResponse
		closedAt   sql.NullTime
		settledAt  sql.NullTime
		winner     sql.NullString
		failReason sql.NullString
		commitment []byte
		seed       []byte
	)
	err := row.Scan(
		&resp.RoundID, &resp.Phase, &resp.OpenedAt, &resp.ClosesAt, &closedAt,
		&resp.PotTotal, &winner, &resp.PayoutAmount, &commitment, &seed,
		&settledAt, &failReason, &resp.Deposits,
	)
	if err != nil {
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		resp.ClosedAt = &t
	}
	if settledAt.Valid {
		t := settledAt.Time
		resp.SettledAt = &t
	}
	if winner.Valid {
		resp.Winner = winner.String
	}
	if failReason.Valid {
		resp.FailReason = failReason.String
	}
	resp.Commitment = hex.EncodeToString(commitment)
	// The seed stays hidden until the round is terminal; before that the
	// commitment is the only public artifact of the draw.
	if resp.Phase == "ended" || resp.Phase == "failed" {
		resp.Seed = hex.EncodeToString(seed)
	}
	return &resp, nil
}
