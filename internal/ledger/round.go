package ledger

import (
	"time"

	"PotLedger/internal/asset"

	"github.com/google/uuid"
)

// Phase is the round lifecycle phase. Exactly one round is ever in
// {active, ending}; the controller is the only writer of phase.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseActive
	PhaseEnding
	PhaseEnded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseActive:
		return "active"
	case PhaseEnding:
		return "ending"
	case PhaseEnded:
		return "ended"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase admits no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseEnded || p == PhaseFailed
}

// Deposit is one accepted stake. Immutable once recorded; ordering within
// a round is by Sequence (arrival order), never wall-clock.
type Deposit struct {
	ID          uuid.UUID
	RoundID     int64
	Sequence    int64
	Participant string
	AssetID     asset.AssetID
	Symbol      string
	RawAmount   int64 // smallest indivisible units of the asset
	Value       int64 // canonical value units (stake weight)
	AcceptedAt  time.Time
}

// Round is one timed cycle of deposit collection, draw, and settlement.
// Mutated only via Ledger methods; immutable once the phase is terminal.
type Round struct {
	ID       int64
	Phase    Phase
	OpenedAt time.Time
	ClosesAt time.Time
	ClosedAt time.Time // cutoff instant, zero until ending

	PotTotal    int64
	Deposits    []Deposit
	AssetTotals map[asset.AssetID]int64 // raw units per asset, feeds the payout plan

	Winner       string // participant id, set at most once
	PayoutAmount int64
	Commitment   []byte // pre-draw commitment, published at closing
	Seed         []byte // revealed draw seed, set at settlement
	SettledAt    time.Time
	FailReason   string
}

// clone returns a deep copy safe to hand out while writes continue.
func (r *Round) clone() *Round {
	cp := *r
	cp.Deposits = make([]Deposit, len(r.Deposits))
	copy(cp.Deposits, r.Deposits)
	cp.AssetTotals = make(map[asset.AssetID]int64, len(r.AssetTotals))
	for k, v := range r.AssetTotals {
		cp.AssetTotals[k] = v
	}
	cp.Commitment = append([]byte(nil), r.Commitment...)
	cp.Seed = append([]byte(nil), r.Seed...)
	return &cp
}
