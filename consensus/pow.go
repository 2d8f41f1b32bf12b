package consensus

import (
	"errors"
	"fmt"
	"sync/atomic"

	"powchain/core"
	"powchain/metrics"
)

// DefaultCheckInterval is how many nonce trials a worker runs between two
// looks at its cancel flag.
const DefaultCheckInterval = 1024

var (
	ErrCancelled = errors.New("mining cancelled")
	ErrExhausted = errors.New("nonce space exhausted without a solution")
)

// ProofOfWork searches nonces for a block template until the hash meets
// the difficulty. Mencari nonce itu mahal; memeriksanya cukup satu
// kali hash.
type ProofOfWork struct {
	checkInterval uint64
	metrics       metrics.Mining
}

// NewProofOfWork creates an engine that checks for cancellation every
// checkInterval trials. Zero selects DefaultCheckInterval.
func NewProofOfWork(checkInterval uint64) *ProofOfWork {
	if checkInterval == 0 {
		checkInterval = DefaultCheckInterval
	}
	return &ProofOfWork{checkInterval: checkInterval}
}

// CheckInterval mengembalikan jumlah percobaan di antara cek pembatalan.
func (pow *ProofOfWork) CheckInterval() uint64 {
	return pow.checkInterval
}

// Search tries the nonces of part against template. The flag is read
// before the first trial and then every CheckInterval trials, so a worker
// notices cancellation within that many hashes. On success it returns a
// sealed copy of template that differs only in nonce and hash; template
// itself is never modified.
func (pow *ProofOfWork) Search(template *core.Block, difficulty uint, part Partition, cancel *atomic.Bool) (*core.Block, error) {
	if template == nil {
		return nil, core.ErrNilBlock
	}
	target, err := core.NewTarget(difficulty)
	if err != nil {
		return nil, err
	}
	if cancel == nil {
		cancel = new(atomic.Bool)
	}
	if cancel.Load() {
		return nil, ErrCancelled
	}

	nh := template.NewNonceHasher()
	var pending uint64
	defer func() { pow.metrics.AddHashes(pending) }()

	for nonce := range part.Nonces() {
		if pending == pow.checkInterval {
			pow.metrics.AddHashes(pending)
			pending = 0
			if cancel.Load() {
				return nil, ErrCancelled
			}
		}
		pending++
		if h := nh.Sum(nonce); target.Met(h) {
			sealed := template.Clone()
			if err := sealed.Seal(nonce, difficulty); err != nil {
				return nil, fmt.Errorf("sealing nonce %d: %w", nonce, err)
			}
			if sealed.Hash != h {
				return nil, fmt.Errorf("sealed hash %s differs from search hash %s", sealed.Hash.Hex(), h.Hex())
			}
			return sealed, nil
		}
	}
	return nil, ErrExhausted
}

// Verify checks that block's hash matches its fields and meets difficulty.
func (pow *ProofOfWork) Verify(block *core.Block, difficulty uint) error {
	if block == nil {
		return core.ErrNilBlock
	}
	return block.Verify(difficulty)
}
