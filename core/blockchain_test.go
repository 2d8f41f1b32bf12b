package core

import (
	"errors"
	"sync"
	"testing"

	"powchain/crypto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDifficulty = 8

func mineAfter(t *testing.T, parent *Block, data string, difficulty uint) *Block {
	t.Helper()
	b := NewBlockAfter(parent, []byte(data))
	require.NoError(t, MineSerial(b, difficulty))
	return b
}

func newTestChain(t *testing.T, extra int) *Blockchain {
	t.Helper()
	bc, err := NewBlockchain(testDifficulty)
	require.NoError(t, err)
	for i := 0; i < extra; i++ {
		tip, err := bc.Tip()
		require.NoError(t, err)
		require.NoError(t, bc.Append(mineAfter(t, tip, "block", testDifficulty)))
	}
	return bc
}

func TestGenesisIsDeterministic(t *testing.T) {
	g1, err := Genesis(testDifficulty)
	require.NoError(t, err)
	g2, err := Genesis(testDifficulty)
	require.NoError(t, err)

	assert.Equal(t, g1.Hash, g2.Hash)
	assert.Equal(t, uint64(0), g1.Index)
	assert.Equal(t, crypto.ZeroHash, g1.PrevHash)
	assert.Empty(t, g1.Data)
	assert.Equal(t, GenesisTimestamp, g1.Timestamp)
	assert.True(t, HashMeetsDifficulty(g1.Hash, testDifficulty))
}

func TestNewBlockchainRejectsInvalidDifficulty(t *testing.T) {
	_, err := NewBlockchain(MaxDifficulty + 1)
	assert.ErrorIs(t, err, ErrInvalidDifficulty)
}

func TestEndToEndAppend(t *testing.T) {
	bc := newTestChain(t, 0)
	genesis, err := bc.Tip()
	require.NoError(t, err)
	require.Equal(t, uint64(0), genesis.Index)
	require.Equal(t, crypto.ZeroHash, genesis.PrevHash)

	block1 := mineAfter(t, genesis, "a", testDifficulty)
	require.NoError(t, bc.Append(block1))

	tip, err := bc.Tip()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tip.Index)

	duplicate := mineAfter(t, genesis, "b", testDifficulty)
	err = bc.Append(duplicate)
	assert.ErrorIs(t, err, ErrSequence)
	assert.Equal(t, 2, bc.Len())
	assert.NoError(t, bc.Validate())
}

func TestAppendRejections(t *testing.T) {
	bc := newTestChain(t, 1)
	tip, err := bc.Tip()
	require.NoError(t, err)

	tests := []struct {
		name  string
		block func() *Block
		want  error
	}{
		{
			name:  "nil block",
			block: func() *Block { return nil },
			want:  ErrNilBlock,
		},
		{
			name: "wrong previous hash",
			block: func() *Block {
				b := newBlockAt(tip.Index+1, tip.Timestamp, []byte("x"), crypto.Sum256([]byte("elsewhere")))
				require.NoError(t, MineSerial(b, testDifficulty))
				return b
			},
			want: ErrLinkage,
		},
		{
			name: "skipped index",
			block: func() *Block {
				b := newBlockAt(tip.Index+2, tip.Timestamp, []byte("x"), tip.Hash)
				require.NoError(t, MineSerial(b, testDifficulty))
				return b
			},
			want: ErrSequence,
		},
		{
			name: "timestamp before parent",
			block: func() *Block {
				b := newBlockAt(tip.Index+1, tip.Timestamp-1, []byte("x"), tip.Hash)
				require.NoError(t, MineSerial(b, testDifficulty))
				return b
			},
			want: ErrTimestamp,
		},
		{
			name: "tampered data",
			block: func() *Block {
				b := mineAfter(t, tip, "x", testDifficulty)
				b.Data = []byte("y")
				return b
			},
			want: ErrHashMismatch,
		},
		{
			name: "forged hash",
			block: func() *Block {
				b := mineAfter(t, tip, "x", testDifficulty)
				b.Hash = crypto.ZeroHash
				return b
			},
			want: ErrHashMismatch,
		},
		{
			name: "below difficulty",
			block: func() *Block {
				b := newBlockAt(tip.Index+1, tip.Timestamp+1, []byte("x"), tip.Hash)
				for HashMeetsDifficulty(b.HashForNonce(b.Nonce), testDifficulty) {
					b.Nonce++
				}
				b.RecomputeHash()
				return b
			},
			want: ErrDifficulty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := bc.Len()
			err := bc.Append(tt.block())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, bc.Len(), "chain must be unchanged")

			after, err := bc.Tip()
			require.NoError(t, err)
			assert.Equal(t, tip.Hash, after.Hash)
		})
	}
}

func TestValidateReportsFirstViolation(t *testing.T) {
	t.Run("valid chain", func(t *testing.T) {
		assert.NoError(t, newTestChain(t, 3).Validate())
	})

	t.Run("tampered payload", func(t *testing.T) {
		bc := newTestChain(t, 3)
		bc.blocks[2].Data = []byte("tampered")

		err := bc.Validate()
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, uint64(2), verr.Index)
		assert.ErrorIs(t, err, ErrHashMismatch)
		assert.Equal(t, ErrHashMismatch.Error(), verr.Reason())
	})

	t.Run("relinked block", func(t *testing.T) {
		bc := newTestChain(t, 3)
		old := bc.blocks[1]
		b := newBlockAt(old.Index, old.Timestamp, old.Data, crypto.Sum256([]byte("fork")))
		require.NoError(t, MineSerial(b, testDifficulty))
		bc.blocks[1] = b

		err := bc.Validate()
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, uint64(1), verr.Index)
		assert.ErrorIs(t, err, ErrLinkage)
	})

	t.Run("bad genesis", func(t *testing.T) {
		bc := newTestChain(t, 1)
		bc.blocks[0].Nonce++

		var verr *ValidationError
		require.ErrorAs(t, bc.Validate(), &verr)
		assert.Equal(t, uint64(0), verr.Index)
	})
}

func TestLoadBlockchain(t *testing.T) {
	source := newTestChain(t, 3)
	blocks := source.Blocks()

	loaded, err := LoadBlockchain(blocks, testDifficulty)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Len())
	tip, err := loaded.Tip()
	require.NoError(t, err)
	assert.True(t, tip.Sealed())
	assert.NoError(t, loaded.Validate())

	_, err = LoadBlockchain(nil, testDifficulty)
	assert.ErrorIs(t, err, ErrEmptyChain)

	tampered := source.Blocks()
	tampered[3].Data = []byte("changed")
	_, err = LoadBlockchain(tampered, testDifficulty)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, uint64(3), verr.Index)

	// a chain mined at 8 bits does not load at a much higher difficulty
	_, err = LoadBlockchain(blocks, 40)
	assert.ErrorIs(t, err, ErrDifficulty)
}

func TestChainHandsOutCopies(t *testing.T) {
	bc := newTestChain(t, 1)

	tip, err := bc.Tip()
	require.NoError(t, err)
	tip.Data = []byte("mutated")
	tip.Nonce++

	block := mineAfter(t, tip, "next", testDifficulty)
	require.NoError(t, bc.Append(block))
	block.Data = []byte("mutated after append")

	assert.NoError(t, bc.Validate())
}

func TestLookups(t *testing.T) {
	bc := newTestChain(t, 2)
	blocks := bc.Blocks()
	require.Len(t, blocks, 3)

	for _, want := range blocks {
		byIndex, err := bc.BlockByIndex(want.Index)
		require.NoError(t, err)
		assert.Equal(t, want.Hash, byIndex.Hash)

		byHash, err := bc.BlockByHash(want.Hash)
		require.NoError(t, err)
		assert.Equal(t, want.Index, byHash.Index)
	}

	_, err := bc.BlockByIndex(10)
	assert.ErrorIs(t, err, ErrBlockNotFound)
	_, err = bc.BlockByHash(crypto.Sum256([]byte("missing")))
	assert.ErrorIs(t, err, ErrBlockNotFound)

	var seen []uint64
	require.NoError(t, bc.Each(func(b *Block) error {
		seen = append(seen, b.Index)
		return nil
	}))
	assert.Equal(t, []uint64{0, 1, 2}, seen)

	stop := errors.New("stop")
	assert.ErrorIs(t, bc.Each(func(*Block) error { return stop }), stop)
}

func TestConcurrentReadersDuringAppend(t *testing.T) {
	bc := newTestChain(t, 0)

	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				tip, err := bc.Tip()
				if assert.NoError(t, err) {
					assert.GreaterOrEqual(t, uint64(bc.Len()-1), tip.Index)
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		tip, err := bc.Tip()
		require.NoError(t, err)
		require.NoError(t, bc.Append(mineAfter(t, tip, "c", testDifficulty)))
	}
	close(done)
	wg.Wait()
	assert.NoError(t, bc.Validate())
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, "linkage", RejectReason(&ValidationError{Index: 1, Err: ErrLinkage}))
	assert.Equal(t, "difficulty", RejectReason(newDifficultyErr(&Block{}, 3)))
	assert.Equal(t, "other", RejectReason(errors.New("boom")))
	assert.True(t, IsValidityError(ErrSequence))
	assert.False(t, IsValidityError(errors.New("boom")))
}
