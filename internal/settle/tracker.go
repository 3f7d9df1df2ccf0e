package settle

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"PotLedger/internal/ledger"

	"github.com/google/uuid"
)

var (
	// ErrTransferUnconfirmed is returned for confirmations that arrive
	// after the submission timed out (or never existed). The stake was
	// never credited; the caller may resubmit.
	ErrTransferUnconfirmed = errors.New("transfer unconfirmed")

	// ErrDuplicateConfirmation is returned when a tx ref is confirmed a
	// second time. The first confirmation already settled the submission.
	ErrDuplicateConfirmation = errors.New("duplicate confirmation")
)

// Submission is a deposit intent awaiting external confirmation. The
// ledger records nothing until the confirmation arrives; a submission
// that expires is dropped wholesale, never partially credited.
type Submission struct {
	ID          uuid.UUID
	RoundID     int64
	Participant string
	Stakes      []ledger.Stake
	Plan        *TransferPlan
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Tracker holds pending submissions and deduplicates confirmations by tx
// ref. Confirmations are at-least-once from the chain watcher, so the ref
// LRU keeps replays from double-crediting.
type Tracker struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*Submission
	ttl     time.Duration
	seen    *refLRU
}

func NewTracker(ttl time.Duration, dedupCapacity int) *Tracker {
	if dedupCapacity <= 0 {
		dedupCapacity = 10_000
	}
	return &Tracker{
		pending: make(map[uuid.UUID]*Submission),
		ttl:     ttl,
		seen:    newRefLRU(dedupCapacity),
	}
}

// Register adds a submission and returns it stamped with its deadline.
func (t *Tracker) Register(roundID int64, participant string, stakes []ledger.Stake, plan *TransferPlan, now time.Time) *Submission {
	sub := &Submission{
		ID:          uuid.New(),
		RoundID:     roundID,
		Participant: participant,
		Stakes:      stakes,
		Plan:        plan,
		CreatedAt:   now,
		ExpiresAt:   now.Add(t.ttl),
	}

	t.mu.Lock()
	t.pending[sub.ID] = sub
	t.mu.Unlock()
	return sub
}

// Resolve consumes a confirmation. The submission must still be pending
// and unexpired, and the tx ref must be fresh. On success the submission
// is removed and returned for ledger recording.
func (t *Tracker) Resolve(submissionID uuid.UUID, ref TxRef, now time.Time) (*Submission, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty tx ref", ErrTransferUnconfirmed)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen.Contains(string(ref)) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateConfirmation, ref)
	}

	sub, ok := t.pending[submissionID]
	if !ok {
		return nil, fmt.Errorf("%w: submission %s unknown or expired", ErrTransferUnconfirmed, submissionID)
	}
	if now.After(sub.ExpiresAt) {
		delete(t.pending, submissionID)
		return nil, fmt.Errorf("%w: submission %s timed out", ErrTransferUnconfirmed, submissionID)
	}

	delete(t.pending, submissionID)
	t.seen.Add(string(ref))
	return sub, nil
}

// Sweep drops expired submissions and returns them for logging.
func (t *Tracker) Sweep(now time.Time) []*Submission {
	t.mu.Lock()
	defer t.mu.Unlock()

	var dropped []*Submission
	for id, sub := range t.pending {
		if now.After(sub.ExpiresAt) {
			dropped = append(dropped, sub)
			delete(t.pending, id)
		}
	}
	return dropped
}

// PendingCount returns the number of submissions awaiting confirmation.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// --- tx ref LRU ---

// refLRU is an LRU set of confirmed tx refs.
// Not thread-safe; only accessed under the Tracker mutex.
type refLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

type refEntry struct {
	ref string
}

func newRefLRU(capacity int) *refLRU {
	return &refLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

func (lru *refLRU) Contains(ref string) bool {
	elem, exists := lru.cache[ref]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

func (lru *refLRU) Add(ref string) {
	if elem, exists := lru.cache[ref]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&refEntry{ref: ref})
	lru.cache[ref] = elem

	if lru.lruList.Len() > lru.capacity {
		oldest := lru.lruList.Back()
		if oldest != nil {
			lru.lruList.Remove(oldest)
			delete(lru.cache, oldest.Value.(*refEntry).ref)
		}
	}
}
