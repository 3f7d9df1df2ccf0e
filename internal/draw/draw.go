package draw

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"PotLedger/internal/ledger"
)

var (
	// ErrDrawFailure covers randomness-source failures. The controller
	// retries a bounded number of times before failing the round.
	ErrDrawFailure = errors.New("draw failure")

	// ErrEmptyDeposits is returned for a draw over no deposits. Zero-deposit
	// rounds skip the draw entirely; reaching the engine with an empty list
	// is a caller bug.
	ErrEmptyDeposits = errors.New("draw over empty deposit list")
)

// Result is the outcome of one draw.
type Result struct {
	Winner      string // participant of the selected deposit
	Sequence    int64  // arrival sequence of the selected deposit
	Point       int64  // the uniform draw point r in [0, TotalWeight)
	TotalWeight int64
}

// Draw selects exactly one winner with probability proportional to stake
// weight. Deterministic given (deposits, seed): it walks the deposits in
// arrival order accumulating partial sums and selects the first deposit
// whose cumulative sum exceeds a uniform point r in [0, W). A participant
// with several deposits owns several disjoint intervals, so their win
// probability is the sum of their stakes over the pot.
func Draw(deposits []ledger.Deposit, seed Seed) (Result, error) {
	if len(deposits) == 0 {
		return Result{}, ErrEmptyDeposits
	}

	var total int64
	for _, d := range deposits {
		if d.Value <= 0 {
			return Result{}, fmt.Errorf("%w: deposit seq %d has non-positive value %d", ErrDrawFailure, d.Sequence, d.Value)
		}
		if total > math.MaxInt64-d.Value {
			return Result{}, fmt.Errorf("%w: pot weight overflow", ErrDrawFailure)
		}
		total += d.Value
	}

	r := uniformPoint(seed, uint64(total))

	var cum int64
	for _, d := range deposits {
		cum += d.Value
		if int64(r) < cum {
			return Result{
				Winner:      d.Participant,
				Sequence:    d.Sequence,
				Point:       int64(r),
				TotalWeight: total,
			}, nil
		}
	}

	// Unreachable: r < total by construction.
	return Result{}, fmt.Errorf("%w: cumulative walk exhausted", ErrDrawFailure)
}

// uniformPoint derives a uniform value in [0, w) from the seed via
// rejection sampling over 8-byte blocks of a SHA-256 counter expansion.
// Rejection (rather than a bare modulo) keeps the draw exactly uniform.
func uniformPoint(seed Seed, w uint64) uint64 {
	// Largest multiple of w that fits in 64 bits; values at or above it
	// are rejected to avoid modulo bias.
	rem := (math.MaxUint64%w + 1) % w
	bound := uint64(math.MaxUint64) - rem

	var counter uint64
	for {
		var block [8]byte
		binary.BigEndian.PutUint64(block[:], counter)

		h := sha256.New()
		h.Write(seed[:])
		h.Write(block[:])
		v := binary.BigEndian.Uint64(h.Sum(nil)[:8])

		if v <= bound {
			return v % w
		}
		counter++
	}
}
