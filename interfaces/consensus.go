package interfaces

import (
	"sync/atomic"

	"powchain/consensus"
	"powchain/core"
	"powchain/crypto"
)

// Engine is the proof-of-work search used by the work queue.
type Engine interface {
	Search(template *core.Block, difficulty uint, part consensus.Partition, cancel *atomic.Bool) (*core.Block, error)
	Verify(block *core.Block, difficulty uint) error
}

// BlockReader looks up individual blocks. Both the chain and the block
// store implement it.
type BlockReader interface {
	BlockByIndex(index uint64) (*core.Block, error)
	BlockByHash(hash crypto.Hash) (*core.Block, error)
}

// ChainReader is the read side of a chain.
type ChainReader interface {
	BlockReader
	Tip() (*core.Block, error)
	Len() int
	Difficulty() uint
	Validate() error
}

// ChainWriter adds the single mutation path.
type ChainWriter interface {
	ChainReader
	Append(block *core.Block) error
}

// BlockStore persists blocks accepted by the chain.
type BlockStore interface {
	Save(block *core.Block) error
}
