package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for round-lifecycle event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeRoundOpened
	EventTypeDepositAccepted
	EventTypeRoundClosing
	EventTypeRoundSettled
	EventTypeRoundReset
	EventTypeRoundFailed
)

func (et EventType) String() string {
	switch et {
	case EventTypeRoundOpened:
		return "RoundOpened"
	case EventTypeDepositAccepted:
		return "DepositAccepted"
	case EventTypeRoundClosing:
		return "RoundClosing"
	case EventTypeRoundSettled:
		return "RoundSettled"
	case EventTypeRoundReset:
		return "RoundReset"
	case EventTypeRoundFailed:
		return "RoundFailed"
	default:
		return "Unknown"
	}
}

// Event is the interface all round-lifecycle events implement.
// Delivery is at-least-once; consumers deduplicate by EventID.
type Event interface {
	// EventID returns the unique id assigned at emission time.
	EventID() uuid.UUID

	// EventType returns the discriminator.
	EventType() EventType

	// RoundID returns the round this event belongs to.
	RoundID() int64
}

// Meta carries the fields common to every event.
type Meta struct {
	ID      uuid.UUID `json:"event_id"`
	Round   int64     `json:"round_id"`
	Emitted time.Time `json:"emitted_at"`
}

func NewMeta(roundID int64, now time.Time) Meta {
	return Meta{ID: uuid.New(), Round: roundID, Emitted: now}
}

func (m Meta) EventID() uuid.UUID { return m.ID }
func (m Meta) RoundID() int64     { return m.Round }

// RoundOpened announces a fresh round accepting deposits.
type RoundOpened struct {
	Meta
	OpenedAt time.Time `json:"opened_at"`
	ClosesAt time.Time `json:"closes_at"`
}

func (e *RoundOpened) EventType() EventType { return EventTypeRoundOpened }

// DepositAccepted announces a deposit recorded against the active round.
type DepositAccepted struct {
	Meta
	DepositID   uuid.UUID `json:"deposit_id"`
	Sequence    int64     `json:"sequence"`
	Participant string    `json:"participant"`
	Symbol      string    `json:"symbol"`
	RawAmount   int64     `json:"raw_amount"`
	Value       int64     `json:"value"`
	PotTotal    int64     `json:"pot_total"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

func (e *DepositAccepted) EventType() EventType { return EventTypeDepositAccepted }

// RoundClosing announces the deposit cutoff. Commitment is the draw
// engine's pre-draw commitment: SHA-256(depositsDigest || seed), published
// before the winner is computed so the draw is auditable after the reveal.
type RoundClosing struct {
	Meta
	ClosedAt   time.Time `json:"closed_at"`
	PotTotal   int64     `json:"pot_total"`
	Deposits   int       `json:"deposits"`
	Commitment []byte    `json:"commitment,omitempty"`
}

func (e *RoundClosing) EventType() EventType { return EventTypeRoundClosing }

// RoundSettled announces the draw outcome. Seed is the revealed draw seed;
// together with the public deposit list it reproduces the winner.
// Winner is empty for a zero-deposit round.
type RoundSettled struct {
	Meta
	Winner       string    `json:"winner,omitempty"`
	PayoutAmount int64     `json:"payout_amount"`
	Seed         []byte    `json:"seed,omitempty"`
	SettledAt    time.Time `json:"settled_at"`
}

func (e *RoundSettled) EventType() EventType { return EventTypeRoundSettled }

// RoundReset announces that the ended round has been archived and the
// intermission before the next round has begun.
type RoundReset struct {
	Meta
	NextOpensAt time.Time `json:"next_opens_at"`
}

func (e *RoundReset) EventType() EventType { return EventTypeRoundReset }

// RoundFailed announces a round that could not settle after bounded draw
// retries. The pot remains attributable in the ledger; operator
// intervention is required.
type RoundFailed struct {
	Meta
	Reason   string `json:"reason"`
	PotTotal int64  `json:"pot_total"`
}

func (e *RoundFailed) EventType() EventType { return EventTypeRoundFailed }
