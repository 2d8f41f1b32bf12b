package core

import (
	"fmt"

	"powchain/crypto"

	"github.com/holiman/uint256"
)

// MaxDifficulty is the largest difficulty: every bit of the hash is zero.
const MaxDifficulty = 256

// Target is the compiled form of a difficulty. A hash meets a difficulty of
// D bits iff, read as a big-endian 256-bit unsigned integer, it is below
// 2^(256-D). Equivalently the hash has at least D leading zero bits. Miner
// and chain validation both go through Met, so they agree bit for bit.
type Target struct {
	bits      uint
	threshold uint256.Int
}

// NewTarget compiles difficulty bits into a Target.
func NewTarget(bits uint) (Target, error) {
	if bits > MaxDifficulty {
		return Target{}, fmt.Errorf("%w: %d exceeds %d", ErrInvalidDifficulty, bits, MaxDifficulty)
	}
	t := Target{bits: bits}
	if bits > 0 {
		t.threshold.Lsh(uint256.NewInt(1), MaxDifficulty-bits)
	}
	return t, nil
}

// Bits returns the difficulty as a count of leading zero bits.
func (t Target) Bits() uint {
	return t.bits
}

// Met reports whether h satisfies the target.
func (t Target) Met(h crypto.Hash) bool {
	if t.bits == 0 {
		return true
	}
	var v uint256.Int
	v.SetBytes32(h[:])
	return v.Lt(&t.threshold)
}

// HashMeetsDifficulty reports whether h has at least difficulty leading
// zero bits. Difficulties above MaxDifficulty are never met.
func HashMeetsDifficulty(h crypto.Hash, difficulty uint) bool {
	t, err := NewTarget(difficulty)
	if err != nil {
		return false
	}
	return t.Met(h)
}

// LeadingZeroBits counts the leading zero bits of h.
func LeadingZeroBits(h crypto.Hash) uint {
	var v uint256.Int
	v.SetBytes32(h[:])
	return uint(MaxDifficulty - v.BitLen())
}
