package core

import (
	"errors"
	"fmt"
	"sync"

	"powchain/crypto"
	"powchain/logger"
	"powchain/metrics"
)

// Blockchain is an append-only sequence of sealed blocks, all mined at one
// difficulty. Readers may run concurrently with the single writer.
type Blockchain struct {
	mu         sync.RWMutex
	blocks     []*Block
	byHash     map[crypto.Hash]uint64
	difficulty uint
	target     Target
	metrics    metrics.Chain
}

// Genesis builds the initial block for difficulty: index 0, zero previous
// hash, empty data, fixed timestamp, nonce found by a serial search. The
// same difficulty always yields the same genesis.
func Genesis(difficulty uint) (*Block, error) {
	b := newBlockAt(0, GenesisTimestamp, nil, crypto.ZeroHash)
	if err := MineSerial(b, difficulty); err != nil {
		return nil, fmt.Errorf("failed to mine genesis block: %w", err)
	}
	return b, nil
}

func newBlockchain(difficulty uint) (*Blockchain, error) {
	target, err := NewTarget(difficulty)
	if err != nil {
		return nil, err
	}
	return &Blockchain{
		byHash:     make(map[crypto.Hash]uint64),
		difficulty: difficulty,
		target:     target,
	}, nil
}

// NewBlockchain creates a chain holding only its genesis block.
func NewBlockchain(difficulty uint) (*Blockchain, error) {
	bc, err := newBlockchain(difficulty)
	if err != nil {
		return nil, err
	}
	genesis, err := Genesis(difficulty)
	if err != nil {
		return nil, err
	}
	bc.install(genesis)
	logger.Infof("Blockchain initialized at difficulty %d. Genesis: %s (nonce %d)", difficulty, genesis.Hash.Hex(), genesis.Nonce)
	return bc, nil
}

// LoadBlockchain rebuilds a chain from an externally supplied sequence,
// e.g. one read back from disk. The full sequence is validated before the
// chain is returned; nothing is accepted on failure.
func LoadBlockchain(blocks []*Block, difficulty uint) (*Blockchain, error) {
	bc, err := newBlockchain(difficulty)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, ErrEmptyChain
	}
	if err := validateSequence(blocks, bc.target); err != nil {
		return nil, err
	}
	for _, b := range blocks {
		bc.install(b.Clone())
	}
	logger.Infof("Loaded blockchain with %d blocks at difficulty %d. Tip: %d (%s)",
		len(blocks), difficulty, bc.tipLocked().Index, bc.tipLocked().Hash.Hex())
	return bc, nil
}

func (bc *Blockchain) install(b *Block) {
	b.sealed = true
	bc.byHash[b.Hash] = b.Index
	bc.blocks = append(bc.blocks, b)
	bc.metrics.SetHeight(b.Index)
}

func (bc *Blockchain) tipLocked() *Block {
	if len(bc.blocks) == 0 {
		return nil
	}
	return bc.blocks[len(bc.blocks)-1]
}

// Difficulty returns the chain's difficulty in leading zero bits.
func (bc *Blockchain) Difficulty() uint {
	return bc.difficulty
}

// Tip returns a copy of the last block.
func (bc *Blockchain) Tip() (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	tip := bc.tipLocked()
	if tip == nil {
		return nil, ErrEmptyChain
	}
	return tip.Clone(), nil
}

// Len returns the number of blocks, genesis included.
func (bc *Blockchain) Len() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return len(bc.blocks)
}

// Append adds block as the new tip. Checks run in this order: index
// sequence, linkage to the tip, timestamp order, hash integrity,
// difficulty. On any failure the chain is left unchanged.
func (bc *Blockchain) Append(block *Block) error {
	if block == nil {
		return ErrNilBlock
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()

	logger.Debugf("Attempting to append block %d, hash: %s", block.Index, block.Hash.Hex())

	tip := bc.tipLocked()
	if tip == nil {
		return ErrEmptyChain
	}
	if err := checkSuccessor(tip, block, bc.target); err != nil {
		bc.metrics.ObserveAppend(block.Index, err, RejectReason(err))
		logger.Warningf("Rejected block %d: %v", block.Index, err)
		return err
	}

	stored := block.Clone()
	bc.install(stored)

	bc.metrics.ObserveAppend(stored.Index, nil, "")
	logger.LogBlockEvent(stored.Index, stored.Hash.Hex(), len(stored.Data), stored.Nonce)
	return nil
}

func checkSuccessor(parent, block *Block, target Target) error {
	if block.Index != parent.Index+1 {
		return fmt.Errorf("%w: expected %d, got %d", ErrSequence, parent.Index+1, block.Index)
	}
	if block.PrevHash != parent.Hash {
		return fmt.Errorf("%w: block %d links to %s, tip %d is %s",
			ErrLinkage, block.Index, block.PrevHash.Hex(), parent.Index, parent.Hash.Hex())
	}
	if block.Timestamp < parent.Timestamp {
		return fmt.Errorf("%w: block %d at %d, parent at %d", ErrTimestamp, block.Index, block.Timestamp, parent.Timestamp)
	}
	return checkSeal(block, target)
}

func checkSeal(block *Block, target Target) error {
	if block.CalculateHash() != block.Hash {
		return newHashMismatch(block)
	}
	if !target.Met(block.Hash) {
		return newDifficultyErr(block, target.Bits())
	}
	return nil
}

func checkGenesis(b *Block, target Target) error {
	if b.Index != 0 {
		return fmt.Errorf("%w: index %d", ErrInvalidGenesis, b.Index)
	}
	if b.PrevHash != crypto.ZeroHash {
		return fmt.Errorf("%w: previous hash %s is not the zero sentinel", ErrInvalidGenesis, b.PrevHash.Hex())
	}
	return checkSeal(b, target)
}

func validateSequence(blocks []*Block, target Target) error {
	for i, b := range blocks {
		if b == nil {
			return &ValidationError{Index: uint64(i), Err: ErrNilBlock}
		}
		var err error
		if i == 0 {
			err = checkGenesis(b, target)
		} else {
			err = checkSuccessor(blocks[i-1], b, target)
		}
		if err != nil {
			return &ValidationError{Index: uint64(i), Err: err}
		}
	}
	return nil
}

// Validate re-checks linkage and validity across the whole chain. It
// returns nil or a *ValidationError for the first bad block.
func (bc *Blockchain) Validate() error {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if len(bc.blocks) == 0 {
		return ErrEmptyChain
	}
	return validateSequence(bc.blocks, bc.target)
}

// BlockByIndex returns a copy of the block at index.
func (bc *Blockchain) BlockByIndex(index uint64) (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if index >= uint64(len(bc.blocks)) {
		return nil, fmt.Errorf("%w: index %d", ErrBlockNotFound, index)
	}
	return bc.blocks[index].Clone(), nil
}

// BlockByHash returns a copy of the block with the given hash.
func (bc *Blockchain) BlockByHash(hash crypto.Hash) (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	index, ok := bc.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("%w: hash %s", ErrBlockNotFound, hash.Hex())
	}
	return bc.blocks[index].Clone(), nil
}

// Blocks returns copies of all blocks in index order.
func (bc *Blockchain) Blocks() []*Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	out := make([]*Block, len(bc.blocks))
	for i, b := range bc.blocks {
		out[i] = b.Clone()
	}
	return out
}

// Each calls fn with a copy of every block in index order, stopping at the
// first error.
func (bc *Blockchain) Each(fn func(*Block) error) error {
	for _, b := range bc.Blocks() {
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

// RejectReason maps an append error to a short metrics label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrSequence):
		return "sequence"
	case errors.Is(err, ErrLinkage):
		return "linkage"
	case errors.Is(err, ErrTimestamp):
		return "timestamp"
	case errors.Is(err, ErrHashMismatch):
		return "hash_mismatch"
	case errors.Is(err, ErrDifficulty):
		return "difficulty"
	default:
		return "other"
	}
}

// IsValidityError reports whether err is one of the chain-validity
// rejections, as opposed to a mining outcome.
func IsValidityError(err error) bool {
	return RejectReason(err) != "other" || errors.Is(err, ErrInvalidGenesis) || errors.Is(err, ErrNilBlock)
}
