package crypto

import (
	"crypto/sha256"
	"hash"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HashLength is the size of a block hash in bytes.
const HashLength = common.HashLength

// Hash is a 32-byte SHA-256 digest. It reuses go-ethereum's common.Hash so
// it prints and marshals as 0x-prefixed hex.
type Hash = common.Hash

// ZeroHash is the previous-hash sentinel carried by the genesis block.
var ZeroHash = Hash{}

// Sum256 returns the SHA-256 digest of data.
func Sum256(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// NewHasher returns a fresh SHA-256 state. Mining loops keep one per worker
// and Reset it between trials.
func NewHasher() hash.Hash {
	return sha256.New()
}

// SumInto hashes data with h, which is reset first, and returns the digest.
func SumInto(h hash.Hash, data []byte) Hash {
	var out Hash
	h.Reset()
	h.Write(data)
	h.Sum(out[:0])
	return out
}

// HexToHash parses a hex string, with or without 0x prefix.
func HexToHash(s string) Hash {
	return common.HexToHash(s)
}

// IsHexHash reports whether s is a 32-byte hex string.
func IsHexHash(s string) bool {
	if !has0xPrefix(s) {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == HashLength
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
