package core

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash"
	"time"

	"powchain/crypto"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// GenesisTimestamp is the fixed creation time of every genesis block, so
// that genesis is reproducible for a given difficulty.
const GenesisTimestamp int64 = 0

// Block is one chain entry. The hash covers index, timestamp, data,
// previous hash and nonce; it is recomputed whenever the nonce changes and
// is never set independently of those fields.
type Block struct {
	Index     uint64        `json:"index"`
	Timestamp int64         `json:"timestamp"` // unix nanoseconds
	Data      hexutil.Bytes `json:"data"`
	PrevHash  crypto.Hash   `json:"prevHash"`
	Nonce     uint64        `json:"nonce"`
	Hash      crypto.Hash   `json:"hash"`

	sealed bool
}

// NewBlock builds an unsealed block stamped with the current time and nonce 0.
func NewBlock(index uint64, data []byte, prevHash crypto.Hash) *Block {
	return newBlockAt(index, time.Now().UnixNano(), data, prevHash)
}

func newBlockAt(index uint64, timestamp int64, data []byte, prevHash crypto.Hash) *Block {
	b := &Block{
		Index:     index,
		Timestamp: timestamp,
		Data:      append(hexutil.Bytes{}, data...),
		PrevHash:  prevHash,
	}
	b.RecomputeHash()
	return b
}

// NewBlockAfter builds the unsealed successor of parent. The timestamp is
// clamped to the parent's so timestamps never decrease along a chain, even
// if the wall clock steps backwards.
func NewBlockAfter(parent *Block, data []byte) *Block {
	ts := time.Now().UnixNano()
	if ts < parent.Timestamp {
		ts = parent.Timestamp
	}
	return newBlockAt(parent.Index+1, ts, data, parent.Hash)
}

// encodedLen is the size of the hash preimage for this block.
func (b *Block) encodedLen() int {
	return 8 + 8 + 8 + len(b.Data) + crypto.HashLength + 8
}

// encode writes the canonical preimage:
// index | timestamp | len(data) | data | prevHash | nonce, integers big-endian.
func (b *Block) encode(nonce uint64) []byte {
	buf := make([]byte, b.encodedLen())
	off := 0
	binary.BigEndian.PutUint64(buf[off:], b.Index)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(b.Timestamp))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(len(b.Data)))
	off += 8
	off += copy(buf[off:], b.Data)
	off += copy(buf[off:], b.PrevHash[:])
	binary.BigEndian.PutUint64(buf[off:], nonce)
	return buf
}

// HashForNonce returns the hash the block would have with the given nonce.
func (b *Block) HashForNonce(nonce uint64) crypto.Hash {
	return crypto.Sum256(b.encode(nonce))
}

// CalculateHash hashes the block's current fields without touching Hash.
func (b *Block) CalculateHash() crypto.Hash {
	return b.HashForNonce(b.Nonce)
}

// RecomputeHash refreshes the cached Hash from the block's fields.
func (b *Block) RecomputeHash() crypto.Hash {
	b.Hash = b.CalculateHash()
	return b.Hash
}

// MeetsTarget reports whether the stored hash satisfies difficulty.
func (b *Block) MeetsTarget(difficulty uint) bool {
	return HashMeetsDifficulty(b.Hash, difficulty)
}

// Seal fixes the nonce and marks the block immutable. It fails, leaving
// the block untouched, if the block is already sealed or the resulting
// hash misses difficulty.
func (b *Block) Seal(nonce uint64, difficulty uint) error {
	if b.sealed {
		return fmt.Errorf("%w: block %d", ErrAlreadySealed, b.Index)
	}
	target, err := NewTarget(difficulty)
	if err != nil {
		return err
	}
	h := b.HashForNonce(nonce)
	if !target.Met(h) {
		return fmt.Errorf("%w: block %d nonce %d hash %s has %d leading zero bits, need %d",
			ErrDifficulty, b.Index, nonce, h.Hex(), LeadingZeroBits(h), difficulty)
	}
	b.Nonce = nonce
	b.Hash = h
	b.sealed = true
	return nil
}

// Sealed reports whether Seal was called (or the block was accepted by a chain).
func (b *Block) Sealed() bool {
	return b.sealed
}

// Clone returns a deep copy, including the sealed flag.
func (b *Block) Clone() *Block {
	cp := *b
	cp.Data = append(hexutil.Bytes{}, b.Data...)
	return &cp
}

// Verify checks that the stored hash matches the fields and meets difficulty.
func (b *Block) Verify(difficulty uint) error {
	if b.CalculateHash() != b.Hash {
		return newHashMismatch(b)
	}
	if !b.MeetsTarget(difficulty) {
		return newDifficultyErr(b, difficulty)
	}
	return nil
}

// ToJSON serializes the block to JSON.
func (b *Block) ToJSON() ([]byte, error) {
	return json.Marshal(b)
}

// BlockFromJSON deserializes a block. The result is not sealed until a
// chain accepts it.
func BlockFromJSON(data []byte) (*Block, error) {
	var block Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// NonceHasher hashes one block template for many nonces without
// re-encoding the fixed fields. It is not safe for concurrent use; each
// mining worker owns one.
type NonceHasher struct {
	buf []byte
	h   hash.Hash
}

// NewNonceHasher snapshots the template's fields. Later changes to the
// template do not affect the hasher.
func (b *Block) NewNonceHasher() *NonceHasher {
	return &NonceHasher{buf: b.encode(0), h: crypto.NewHasher()}
}

// Sum returns the template hash with nonce substituted.
func (nh *NonceHasher) Sum(nonce uint64) crypto.Hash {
	binary.BigEndian.PutUint64(nh.buf[len(nh.buf)-8:], nonce)
	return crypto.SumInto(nh.h, nh.buf)
}

// MineSerial searches nonces 0, 1, 2, ... on a single goroutine and seals
// the block with the first one that meets difficulty. It is used for the
// one-time genesis search; regular mining goes through the work queue.
func MineSerial(b *Block, difficulty uint) error {
	target, err := NewTarget(difficulty)
	if err != nil {
		return err
	}
	nh := b.NewNonceHasher()
	for nonce := uint64(0); ; nonce++ {
		if target.Met(nh.Sum(nonce)) {
			return b.Seal(nonce, difficulty)
		}
		if nonce == ^uint64(0) {
			return ErrNonceSpaceExhausted
		}
	}
}
