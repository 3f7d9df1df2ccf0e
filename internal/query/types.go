package query

import (
	"encoding/json"
	"time"
)

// RoundResponse is the API view of a round.
type RoundResponse struct {
	RoundID      int64      `json:"round_id"`
	Phase        string     `json:"phase"`
	OpenedAt     time.Time  `json:"opened_at"`
	ClosesAt     time.Time  `json:"closes_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	PotTotal     int64      `json:"pot_total"`
	PotSoftCap   int64      `json:"pot_soft_cap,omitempty"` // display hint, not enforced
	Deposits     int        `json:"deposits"`

	// Live-round only: the public deposit list and the time left in the
	// deposit window. Historical rounds serve deposits from their own
	// endpoint.
	DepositList     []DepositResponse `json:"deposit_list,omitempty"`
	TimeRemainingMS int64             `json:"time_remaining_ms,omitempty"`
	Winner       string     `json:"winner,omitempty"`
	PayoutAmount int64      `json:"payout_amount,omitempty"`
	Commitment   string     `json:"commitment,omitempty"` // hex
	Seed         string     `json:"seed,omitempty"`       // hex, revealed after settlement
	SettledAt    *time.Time `json:"settled_at,omitempty"`
	FailReason   string     `json:"fail_reason,omitempty"`
}

// DepositResponse is the API view of one accepted deposit.
type DepositResponse struct {
	DepositID   string    `json:"deposit_id"`
	RoundID     int64     `json:"round_id"`
	Sequence    int64     `json:"sequence"`
	Participant string    `json:"participant"`
	Symbol      string    `json:"symbol"`
	RawAmount   int64     `json:"raw_amount"`
	Value       int64     `json:"value"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

// LeaderboardEntry is one row of the participant leaderboard.
type LeaderboardEntry struct {
	Participant    string `json:"participant"`
	DepositsCount  int64  `json:"deposits_count"`
	TotalDeposited int64  `json:"total_deposited"`
	RoundsEntered  int64  `json:"rounds_entered"`
	RoundsWon      int64  `json:"rounds_won"`
	TotalWon       int64  `json:"total_won"`
}

// SettlementResponse is the recorded payout plan for a settled round.
type SettlementResponse struct {
	PlanID    string          `json:"plan_id"`
	RoundID   int64           `json:"round_id"`
	Winner    string          `json:"winner"`
	TxRef     string          `json:"tx_ref,omitempty"`
	Plan      json.RawMessage `json:"plan"`
	CreatedAt time.Time       `json:"created_at"`
}
