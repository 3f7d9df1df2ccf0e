package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"PotLedger/internal/asset"
	"PotLedger/internal/ledger"

	"github.com/google/uuid"
)

// LoadLatestRound reads the most recent round and its deposits from
// Postgres. Returns (nil, nil) when no round has ever been persisted. The
// caller hands the result to the controller, which decides whether the
// round resumes the id sequence or is marked failed.
func LoadLatestRound(ctx context.Context, db *sql.DB) (*ledger.Round, error) {
	row := db.QueryRowContext(ctx, `
		SELECT round_id, phase, opened_at, closes_at, closed_at, pot_total,
		       winner, payout_amount, commitment, seed, settled_at, fail_reason
		FROM pot.rounds
		ORDER BY round_id DESC
		LIMIT 1`)

	var (
		rr       RoundRow
		closedAt sql.NullTime
		winner   sql.NullString
		settled  sql.NullTime
		failRsn  sql.NullString
	)
	err := row.Scan(
		&rr.RoundID, &rr.Phase, &rr.OpenedAt, &rr.ClosesAt, &closedAt, &rr.PotTotal,
		&winner, &rr.PayoutAmount, &rr.Commitment, &rr.Seed, &settled, &failRsn,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest round: %w", err)
	}

	phase, err := parsePhase(rr.Phase)
	if err != nil {
		return nil, err
	}

	r := &ledger.Round{
		ID:           rr.RoundID,
		Phase:        phase,
		OpenedAt:     rr.OpenedAt,
		ClosesAt:     rr.ClosesAt,
		PotTotal:     rr.PotTotal,
		PayoutAmount: rr.PayoutAmount,
		Commitment:   rr.Commitment,
		Seed:         rr.Seed,
		AssetTotals:  make(map[asset.AssetID]int64),
	}
	if closedAt.Valid {
		r.ClosedAt = closedAt.Time
	}
	if winner.Valid {
		r.Winner = winner.String
	}
	if settled.Valid {
		r.SettledAt = settled.Time
	}
	if failRsn.Valid {
		r.FailReason = failRsn.String
	}

	if err := loadDeposits(ctx, db, r); err != nil {
		return nil, err
	}

	return r, nil
}

func loadDeposits(ctx context.Context, db *sql.DB, r *ledger.Round) error {
	rows, err := db.QueryContext(ctx, `
		SELECT deposit_id, sequence, participant, asset_id, symbol, raw_amount, value, accepted_at
		FROM pot.deposits
		WHERE round_id = $1
		ORDER BY sequence ASC`, r.ID)
	if err != nil {
		return fmt.Errorf("load deposits for round %d: %w", r.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d  ledger.Deposit
			id string
			a  uint16
		)
		if err := rows.Scan(&id, &d.Sequence, &d.Participant, &a, &d.Symbol, &d.RawAmount, &d.Value, &d.AcceptedAt); err != nil {
			return fmt.Errorf("scan deposit: %w", err)
		}
		depositID, err := uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("parse deposit_id %q: %w", id, err)
		}
		d.ID = depositID
		d.RoundID = r.ID
		d.AssetID = asset.AssetID(a)

		r.Deposits = append(r.Deposits, d)
		r.AssetTotals[d.AssetID] += d.RawAmount
	}
	return rows.Err()
}

func parsePhase(s string) (ledger.Phase, error) {
	switch s {
	case "starting":
		return ledger.PhaseStarting, nil
	case "active":
		return ledger.PhaseActive, nil
	case "ending":
		return ledger.PhaseEnding, nil
	case "ended":
		return ledger.PhaseEnded, nil
	case "failed":
		return ledger.PhaseFailed, nil
	default:
		return 0, fmt.Errorf("unknown phase %q", s)
	}
}
