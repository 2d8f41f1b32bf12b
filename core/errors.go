package core

import (
	"errors"
	"fmt"
)

var (
	// ErrLinkage: the block's previous hash is not the tip's hash.
	ErrLinkage = errors.New("previous hash does not match chain tip")
	// ErrSequence: the block's index is not tip index + 1.
	ErrSequence = errors.New("block index out of sequence")
	// ErrHashMismatch: the stored hash differs from a fresh recomputation.
	ErrHashMismatch = errors.New("stored hash does not match block contents")
	// ErrDifficulty: the hash does not meet the chain difficulty.
	ErrDifficulty = errors.New("hash does not meet difficulty target")
	// ErrTimestamp: the block is older than its parent.
	ErrTimestamp = errors.New("block timestamp precedes parent")
	// ErrEmptyChain: the chain has no genesis block.
	ErrEmptyChain = errors.New("chain has no genesis block")
	// ErrInvalidGenesis: block 0 is not a well-formed genesis.
	ErrInvalidGenesis = errors.New("invalid genesis block")
	// ErrInvalidDifficulty: difficulty outside [0, MaxDifficulty].
	ErrInvalidDifficulty = errors.New("invalid difficulty")
	// ErrNilBlock: a nil block was passed in.
	ErrNilBlock = errors.New("block is nil")
	// ErrNonceSpaceExhausted: no nonce in the whole uint64 range meets the target.
	ErrNonceSpaceExhausted = errors.New("nonce space exhausted")
	// ErrAlreadySealed: Seal was called on a sealed block.
	ErrAlreadySealed = errors.New("block already sealed")
	// ErrBlockNotFound: lookup by index or hash found nothing.
	ErrBlockNotFound = errors.New("block not found")
)

// ValidationError locates the first invalid block found by Validate.
type ValidationError struct {
	Index uint64
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid block %d: %v", e.Index, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Reason is the sentinel message without block details.
func (e *ValidationError) Reason() string {
	for _, sentinel := range []error{
		ErrLinkage, ErrSequence, ErrHashMismatch, ErrDifficulty,
		ErrTimestamp, ErrInvalidGenesis, ErrNilBlock,
	} {
		if errors.Is(e.Err, sentinel) {
			return sentinel.Error()
		}
	}
	return e.Err.Error()
}

func newHashMismatch(b *Block) error {
	return fmt.Errorf("%w: block %d stored %s, computed %s", ErrHashMismatch, b.Index, b.Hash.Hex(), b.CalculateHash().Hex())
}

func newDifficultyErr(b *Block, difficulty uint) error {
	return fmt.Errorf("%w: block %d hash %s has %d leading zero bits, need %d",
		ErrDifficulty, b.Index, b.Hash.Hex(), LeadingZeroBits(b.Hash), difficulty)
}
