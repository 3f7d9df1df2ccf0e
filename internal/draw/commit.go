package draw

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"PotLedger/internal/ledger"
)

// Seed is the secret draw seed, committed before the draw and revealed
// after settlement.
type Seed [32]byte

// SeedSource yields draw seeds. The production source reads crypto/rand;
// tests substitute fixed seeds for reproducible draws.
type SeedSource interface {
	NewSeed() (Seed, error)
}

// CryptoSeedSource reads seeds from the operating system CSPRNG. The seed
// is generated server-side after the deposit list is frozen, so no
// participant-controllable input reaches it.
type CryptoSeedSource struct{}

func (CryptoSeedSource) NewSeed() (Seed, error) {
	var s Seed
	if _, err := rand.Read(s[:]); err != nil {
		return Seed{}, fmt.Errorf("%w: entropy read: %v", ErrDrawFailure, err)
	}
	return s, nil
}

// DepositsDigest computes the canonical digest of a frozen deposit list:
// SHA-256 over (sequence, participant, value) triples in arrival order.
// The digest pins the exact list the commitment was made against.
func DepositsDigest(deposits []ledger.Deposit) [32]byte {
	h := sha256.New()

	var buf [8]byte
	for _, d := range deposits {
		binary.BigEndian.PutUint64(buf[:], uint64(d.Sequence))
		h.Write(buf[:])

		h.Write([]byte{byte(len(d.Participant))})
		h.Write([]byte(d.Participant))

		binary.BigEndian.PutUint64(buf[:], uint64(d.Value))
		h.Write(buf[:])
	}

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// Commitment computes the published pre-draw commitment
// SHA-256(depositsDigest || seed). Revealing the seed after settlement
// lets anyone recompute the draw; publishing the commitment before it
// proves the seed was fixed while the outcome was still unknown.
func Commitment(depositsDigest [32]byte, seed Seed) [32]byte {
	h := sha256.New()
	h.Write(depositsDigest[:])
	h.Write(seed[:])

	var c [32]byte
	copy(c[:], h.Sum(nil))
	return c
}

// VerifyCommitment checks a revealed seed against a published commitment
// for the given deposit list.
func VerifyCommitment(deposits []ledger.Deposit, seed Seed, commitment []byte) bool {
	want := Commitment(DepositsDigest(deposits), seed)
	if len(commitment) != len(want) {
		return false
	}
	for i := range want {
		if commitment[i] != want[i] {
			return false
		}
	}
	return true
}
