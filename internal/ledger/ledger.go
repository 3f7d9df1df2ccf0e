package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"PotLedger/internal/asset"

	"github.com/google/uuid"
)

var (
	// ErrRoundNotActive is returned when a deposit references a round whose
	// phase is not active at acceptance time.
	ErrRoundNotActive = errors.New("round not active")

	// ErrNoRound is returned when no round matches the requested id.
	ErrNoRound = errors.New("no such round")

	// ErrPhase is returned on an illegal phase transition.
	ErrPhase = errors.New("illegal phase transition")

	// ErrAlreadySettled guards double settlement. Callers holding this
	// error read the recorded outcome instead of redrawing.
	ErrAlreadySettled = errors.New("round already settled")
)

// Stake is one (asset, raw amount) leg of a deposit submission.
type Stake struct {
	Asset     *asset.Asset
	RawAmount int64
}

// Ledger is the append-only deposit record and the owner of the current
// Round object. The append-and-total-update step is a single critical
// section, so pot_total is never observed torn and sequence numbers never
// collide. Reads return deep copies (consistent prefixes).
type Ledger struct {
	mu      sync.RWMutex
	assets  *asset.Registry
	current *Round
	nextSeq int64
}

func New(assets *asset.Registry) *Ledger {
	return &Ledger{assets: assets}
}

// Open installs a fresh round as the current one. The previous round must
// be terminal (exactly-one-current invariant).
func (l *Ledger) Open(id int64, openedAt, closesAt time.Time) (*Round, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil && !l.current.Phase.Terminal() {
		return nil, fmt.Errorf("%w: round %d still %s", ErrPhase, l.current.ID, l.current.Phase)
	}
	if l.current != nil && id <= l.current.ID {
		return nil, fmt.Errorf("%w: round id %d not after %d", ErrPhase, id, l.current.ID)
	}

	l.current = &Round{
		ID:          id,
		Phase:       PhaseActive,
		OpenedAt:    openedAt,
		ClosesAt:    closesAt,
		AssetTotals: make(map[asset.AssetID]int64),
	}
	l.nextSeq = 0
	return l.current.clone(), nil
}

// Record appends the stakes of one submission to the active round.
// All legs are validated first; either every leg is recorded or none.
func (l *Ledger) Record(roundID int64, participant string, stakes []Stake, acceptedAt time.Time) ([]Deposit, error) {
	if participant == "" {
		return nil, fmt.Errorf("%w: empty participant", asset.ErrInvalidAmount)
	}
	if len(stakes) == 0 {
		return nil, fmt.Errorf("%w: no stakes", asset.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.current
	if r == nil || r.ID != roundID {
		return nil, fmt.Errorf("%w: round %d", ErrNoRound, roundID)
	}
	if r.Phase != PhaseActive {
		return nil, fmt.Errorf("%w: round %d is %s", ErrRoundNotActive, roundID, r.Phase)
	}

	// Validate every leg before mutating anything.
	for _, s := range stakes {
		if s.Asset == nil {
			return nil, asset.ErrUnknownAsset
		}
		if _, known := l.assets.ByID(s.Asset.ID); !known {
			return nil, fmt.Errorf("%w: %s", asset.ErrUnknownAsset, s.Asset.Symbol)
		}
		if s.RawAmount <= 0 {
			return nil, fmt.Errorf("%w: %d raw units of %s", asset.ErrInvalidAmount, s.RawAmount, s.Asset.Symbol)
		}
		if asset.Value(s.Asset, s.RawAmount) <= 0 {
			return nil, fmt.Errorf("%w: stake of %s has zero value weight", asset.ErrInvalidAmount, s.Asset.Symbol)
		}
	}

	recorded := make([]Deposit, 0, len(stakes))
	for _, s := range stakes {
		d := Deposit{
			ID:          uuid.New(),
			RoundID:     r.ID,
			Sequence:    l.nextSeq,
			Participant: participant,
			AssetID:     s.Asset.ID,
			Symbol:      s.Asset.Symbol,
			RawAmount:   s.RawAmount,
			Value:       asset.Value(s.Asset, s.RawAmount),
			AcceptedAt:  acceptedAt,
		}
		l.nextSeq++

		r.Deposits = append(r.Deposits, d)
		r.PotTotal += d.Value
		r.AssetTotals[d.AssetID] += d.RawAmount
		recorded = append(recorded, d)
	}

	return recorded, nil
}

// BeginClosing flips the active round to ending at the given cutoff,
// freezing the deposit list. Deposits racing this transition lose:
// acceptance completes strictly before the cutoff or not at all, because
// both paths take the same lock. The returned snapshot is the frozen list
// every later decision (skip, commitment, draw) must be made from.
func (l *Ledger) BeginClosing(roundID int64, closedAt time.Time) (*Round, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.mustCurrent(roundID)
	if err != nil {
		return nil, err
	}
	if r.Phase != PhaseActive {
		return nil, fmt.Errorf("%w: %s -> ending", ErrPhase, r.Phase)
	}

	r.Phase = PhaseEnding
	r.ClosedAt = closedAt
	return r.clone(), nil
}

// SetCommitment records the draw commitment on a round past its cutoff.
// Split from BeginClosing so the commitment is computed over the frozen
// deposit list, never over a pre-cutoff snapshot a late deposit could
// slip behind.
func (l *Ledger) SetCommitment(roundID int64, commitment []byte) (*Round, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.mustCurrent(roundID)
	if err != nil {
		return nil, err
	}
	if r.Phase != PhaseEnding {
		return nil, fmt.Errorf("%w: commitment on %s round", ErrPhase, r.Phase)
	}

	r.Commitment = append([]byte(nil), commitment...)
	return r.clone(), nil
}

// MarkSettled records the draw outcome and ends the round. Invoked twice
// for the same round it returns ErrAlreadySettled with the recorded round,
// never a second outcome.
func (l *Ledger) MarkSettled(roundID int64, winner string, payout int64, seed []byte, settledAt time.Time) (*Round, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.mustCurrent(roundID)
	if err != nil {
		return nil, err
	}
	if r.Phase == PhaseEnded {
		return r.clone(), ErrAlreadySettled
	}
	if r.Phase != PhaseEnding {
		return nil, fmt.Errorf("%w: %s -> ended", ErrPhase, r.Phase)
	}

	r.Phase = PhaseEnded
	r.Winner = winner
	r.PayoutAmount = payout
	r.Seed = append([]byte(nil), seed...)
	r.SettledAt = settledAt
	return r.clone(), nil
}

// Skip ends a round whose deposit window closed empty. The round must
// already be past its cutoff; with the list frozen there is nothing to
// draw from, so it goes straight to ended with no winner.
func (l *Ledger) Skip(roundID int64) (*Round, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.mustCurrent(roundID)
	if err != nil {
		return nil, err
	}
	if r.Phase != PhaseEnding {
		return nil, fmt.Errorf("%w: %s -> ended (skip)", ErrPhase, r.Phase)
	}
	if len(r.Deposits) > 0 {
		return nil, fmt.Errorf("%w: round %d has deposits, cannot skip", ErrPhase, roundID)
	}

	r.Phase = PhaseEnded
	return r.clone(), nil
}

// MarkFailed flags the round as failed-to-settle. Terminal, but the pot
// stays attributable: deposits and totals remain readable for recovery.
func (l *Ledger) MarkFailed(roundID int64, reason string) (*Round, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.mustCurrent(roundID)
	if err != nil {
		return nil, err
	}
	if r.Phase.Terminal() {
		return nil, fmt.Errorf("%w: %s -> failed", ErrPhase, r.Phase)
	}

	r.Phase = PhaseFailed
	r.FailReason = reason
	return r.clone(), nil
}

// Restore installs a previously persisted round as current, used during
// recovery. The caller guarantees the round came from the durable log.
func (l *Ledger) Restore(r *Round) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.current = r.clone()
	var maxSeq int64 = -1
	for _, d := range r.Deposits {
		if d.Sequence > maxSeq {
			maxSeq = d.Sequence
		}
	}
	l.nextSeq = maxSeq + 1
}

// Current returns a consistent snapshot of the current round, or nil if
// no round has been opened yet.
func (l *Ledger) Current() *Round {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.current == nil {
		return nil
	}
	return l.current.clone()
}

// Snapshot returns a consistent snapshot of the round with the given id.
func (l *Ledger) Snapshot(roundID int64) (*Round, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.current == nil || l.current.ID != roundID {
		return nil, fmt.Errorf("%w: round %d", ErrNoRound, roundID)
	}
	return l.current.clone(), nil
}

// PotTotal returns the running pot total for the round.
func (l *Ledger) PotTotal(roundID int64) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.current == nil || l.current.ID != roundID {
		return 0, fmt.Errorf("%w: round %d", ErrNoRound, roundID)
	}
	return l.current.PotTotal, nil
}

func (l *Ledger) mustCurrent(roundID int64) (*Round, error) {
	if l.current == nil || l.current.ID != roundID {
		return nil, fmt.Errorf("%w: round %d", ErrNoRound, roundID)
	}
	return l.current, nil
}
