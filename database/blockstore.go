package database

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"powchain/cache"
	"powchain/core"
	"powchain/crypto"
	"powchain/logger"
)

var (
	blockPrefix   = []byte("b") // b + index(8) -> block JSON
	hashPrefix    = []byte("h") // h + hash -> index(8)
	headKey       = []byte("head")
	difficultyKey = []byte("difficulty")
)

// ErrOutOfOrder is returned when Save is not given the next index.
var ErrOutOfOrder = errors.New("block store: block is not the next in sequence")

// EncodeUint64 is the big-endian key encoding for indices, so that LevelDB
// urutan key sama dengan urutan chain.
func EncodeUint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func blockKey(index uint64) []byte {
	return append(append([]byte{}, blockPrefix...), EncodeUint64(index)...)
}

func hashKey(h crypto.Hash) []byte {
	return append(append([]byte{}, hashPrefix...), h[:]...)
}

// BlockStore keeps the chain in LevelDB: one record per block keyed by
// index, index hash, dan penanda head. Hanya mendukung append.
type BlockStore struct {
	db    Database
	cache *cache.Cache[crypto.Hash, *core.Block]
	ttl   time.Duration
}

// NewBlockStore wraps db. cacheSize bounds the hash lookup cache.
func NewBlockStore(db Database, cacheSize int, ttl time.Duration) *BlockStore {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &BlockStore{
		db:    db,
		cache: cache.New[crypto.Hash, *core.Block](cacheSize, 0),
		ttl:   ttl,
	}
}

// Head returns the index of the last stored block; ok is false for an
// empty store.
func (s *BlockStore) Head() (index uint64, ok bool, err error) {
	raw, err := s.db.Get(headKey)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read head marker: %w", err)
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("corrupt head marker: %d bytes", len(raw))
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// Save appends block. The first block must have index 0, every later one
// must follow the stored head.
func (s *BlockStore) Save(block *core.Block) error {
	if block == nil {
		return core.ErrNilBlock
	}
	head, ok, err := s.Head()
	if err != nil {
		return err
	}
	switch {
	case !ok && block.Index != 0:
		return fmt.Errorf("%w: empty store, got block %d", ErrOutOfOrder, block.Index)
	case ok && block.Index != head+1:
		return fmt.Errorf("%w: head is %d, got block %d", ErrOutOfOrder, head, block.Index)
	}

	data, err := block.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize block %d: %w", block.Index, err)
	}
	batch := s.db.NewBatch()
	batch.Put(blockKey(block.Index), data)
	batch.Put(hashKey(block.Hash), EncodeUint64(block.Index))
	batch.Put(headKey, EncodeUint64(block.Index))
	size := batch.ValueSize()
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to save block %d: %w", block.Index, err)
	}
	s.cache.Set(block.Hash, block.Clone(), s.ttl)
	logger.Debugf("Persisted block %d (%s, %d bytes)", block.Index, block.Hash.Hex(), size)
	return nil
}

// Load returns every stored block in index order. Tidak melakukan validasi;
// serahkan hasilnya ke core.LoadBlockchain untuk itu.
func (s *BlockStore) Load() ([]*core.Block, error) {
	var blocks []*core.Block
	err := s.db.Iterate(blockPrefix, func(key, value []byte) error {
		block, err := core.BlockFromJSON(value)
		if err != nil {
			return fmt.Errorf("failed to decode block at key %x: %w", key, err)
		}
		if want := uint64(len(blocks)); block.Index != want {
			return fmt.Errorf("%w: found block %d where %d was expected", ErrOutOfOrder, block.Index, want)
		}
		blocks = append(blocks, block)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

// BlockByIndex reads one block.
func (s *BlockStore) BlockByIndex(index uint64) (*core.Block, error) {
	raw, err := s.db.Get(blockKey(index))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: index %d", core.ErrBlockNotFound, index)
	}
	if err != nil {
		return nil, err
	}
	return core.BlockFromJSON(raw)
}

// BlockByHash membaca satu block melalui cache lookup.
func (s *BlockStore) BlockByHash(h crypto.Hash) (*core.Block, error) {
	if cached, ok := s.cache.Get(h); ok {
		return cached.Clone(), nil
	}
	raw, err := s.db.Get(hashKey(h))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: hash %s", core.ErrBlockNotFound, h.Hex())
	}
	if err != nil {
		return nil, err
	}
	if len(raw) != 8 {
		return nil, fmt.Errorf("corrupt hash index for %s", h.Hex())
	}
	block, err := s.BlockByIndex(binary.BigEndian.Uint64(raw))
	if err != nil {
		return nil, err
	}
	s.cache.Set(h, block.Clone(), s.ttl)
	return block, nil
}

// Difficulty returns the difficulty the stored chain was mined at.
func (s *BlockStore) Difficulty() (uint, bool, error) {
	raw, err := s.db.Get(difficultyKey)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	d, err := strconv.ParseUint(string(raw), 10, 16)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt difficulty record %q: %w", raw, err)
	}
	return uint(d), true, nil
}

// SetDifficulty records the chain difficulty.
func (s *BlockStore) SetDifficulty(d uint) error {
	return s.db.Put(difficultyKey, []byte(strconv.FormatUint(uint64(d), 10)))
}

// Close melepaskan cache dan database.
func (s *BlockStore) Close() error {
	s.cache.Close()
	return s.db.Close()
}
