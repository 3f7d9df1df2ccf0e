package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// RoundWriter writes round state, deposits, and the transition log to
// Postgres using multi-row INSERT batches. The round row is upserted so
// the stored state always reflects the latest transition.
type RoundWriter struct {
	db *sql.DB
}

// RoundRow represents a row in pot.rounds.
type RoundRow struct {
	RoundID      int64
	Phase        string
	OpenedAt     time.Time
	ClosesAt     time.Time
	ClosedAt     *time.Time
	PotTotal     int64
	Winner       *string
	PayoutAmount int64
	Commitment   []byte
	Seed         []byte
	SettledAt    *time.Time
	FailReason   *string
}

// DepositRow represents a row in pot.deposits.
type DepositRow struct {
	DepositID   string
	RoundID     int64
	Sequence    int64
	Participant string
	AssetID     uint16
	Symbol      string
	RawAmount   int64
	Value       int64
	AcceptedAt  time.Time
}

// TransitionRow represents a row in pot.transitions, the append-only
// lifecycle event log.
type TransitionRow struct {
	EventID   string
	RoundID   int64
	EventType string
	Payload   []byte // JSON-encoded event payload
	EmittedAt time.Time
}

// SettlementRow represents a row in pot.settlements: the payout transfer
// plan recorded for a settled round, with its broadcast reference if any.
type SettlementRow struct {
	PlanID    string
	RoundID   int64
	Winner    string
	TxRef     *string
	Plan      []byte // JSON-encoded transfer plan
	CreatedAt time.Time
}

func NewRoundWriter(db *sql.DB) *RoundWriter {
	return &RoundWriter{db: db}
}

// WriteRoundBatch upserts round rows. Later states overwrite earlier ones,
// so replaying a batch is harmless.
func (w *RoundWriter) WriteRoundBatch(ctx context.Context, tx *sql.Tx, rounds []RoundRow) error {
	if len(rounds) == 0 {
		return nil
	}

	query := `INSERT INTO pot.rounds
		(round_id, phase, opened_at, closes_at, closed_at, pot_total, winner, payout_amount, commitment, seed, settled_at, fail_reason)
		VALUES `

	values := make([]string, 0, len(rounds))
	args := make([]interface{}, 0, len(rounds)*12)

	for i, r := range rounds {
		base := i * 12
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11, base+12,
		))
		args = append(args,
			r.RoundID, r.Phase, r.OpenedAt, r.ClosesAt, r.ClosedAt, r.PotTotal,
			r.Winner, r.PayoutAmount, r.Commitment, r.Seed, r.SettledAt, r.FailReason,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (round_id) DO UPDATE SET
		phase = EXCLUDED.phase,
		closed_at = EXCLUDED.closed_at,
		pot_total = EXCLUDED.pot_total,
		winner = EXCLUDED.winner,
		payout_amount = EXCLUDED.payout_amount,
		commitment = EXCLUDED.commitment,
		seed = EXCLUDED.seed,
		settled_at = EXCLUDED.settled_at,
		fail_reason = EXCLUDED.fail_reason`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteDepositBatch writes deposit rows. Idempotent on deposit_id.
func (w *RoundWriter) WriteDepositBatch(ctx context.Context, tx *sql.Tx, deposits []DepositRow) error {
	if len(deposits) == 0 {
		return nil
	}

	query := `INSERT INTO pot.deposits
		(deposit_id, round_id, sequence, participant, asset_id, symbol, raw_amount, value, accepted_at)
		VALUES `

	values := make([]string, 0, len(deposits))
	args := make([]interface{}, 0, len(deposits)*9)

	for i, d := range deposits {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			d.DepositID, d.RoundID, d.Sequence, d.Participant,
			d.AssetID, d.Symbol, d.RawAmount, d.Value, d.AcceptedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (deposit_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteTransitionBatch appends lifecycle events. Idempotent on event_id.
func (w *RoundWriter) WriteTransitionBatch(ctx context.Context, tx *sql.Tx, transitions []TransitionRow) error {
	if len(transitions) == 0 {
		return nil
	}

	query := `INSERT INTO pot.transitions
		(event_id, round_id, event_type, payload, emitted_at)
		VALUES `

	values := make([]string, 0, len(transitions))
	args := make([]interface{}, 0, len(transitions)*5)

	for i, t := range transitions {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, t.EventID, t.RoundID, t.EventType, t.Payload, t.EmittedAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (event_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteSettlementBatch writes payout plans. Idempotent on plan_id.
func (w *RoundWriter) WriteSettlementBatch(ctx context.Context, tx *sql.Tx, settlements []SettlementRow) error {
	if len(settlements) == 0 {
		return nil
	}

	query := `INSERT INTO pot.settlements
		(plan_id, round_id, winner, tx_ref, plan, created_at)
		VALUES `

	values := make([]string, 0, len(settlements))
	args := make([]interface{}, 0, len(settlements)*6)

	for i, s := range settlements {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, s.PlanID, s.RoundID, s.Winner, s.TxRef, s.Plan, s.CreatedAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (plan_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// MarshalPayload is a convenience wrapper for JSON-encoding event payloads.
func MarshalPayload(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("WARN: failed to marshal payload: %v", err)
		return []byte("{}")
	}
	return data
}
