package consensus

import (
	"sync/atomic"
	"testing"
	"time"

	"powchain/core"
	"powchain/crypto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTemplate() *core.Block {
	return core.NewBlock(1, []byte("a"), crypto.Sum256([]byte("genesis")))
}

func TestSearchFindsValidBlock(t *testing.T) {
	pow := NewProofOfWork(0)
	assert.Equal(t, uint64(DefaultCheckInterval), pow.CheckInterval())

	template := newTemplate()
	before := *template

	block, err := pow.Search(template, 8, Partition{Start: 0, Stride: 1}, new(atomic.Bool))
	require.NoError(t, err)
	assert.True(t, block.Sealed())
	assert.NoError(t, pow.Verify(block, 8))
	assert.Equal(t, template.Index, block.Index)
	assert.Equal(t, template.PrevHash, block.PrevHash)
	assert.Equal(t, template.Timestamp, block.Timestamp)

	// the template is shared between workers and must stay untouched
	assert.Equal(t, before.Nonce, template.Nonce)
	assert.Equal(t, before.Hash, template.Hash)
	assert.False(t, template.Sealed())
}

func TestSearchFindsSmallestNonceInPartition(t *testing.T) {
	template := newTemplate()
	want := uint64(0)
	for !core.HashMeetsDifficulty(template.HashForNonce(want), 6) {
		want++
	}

	block, err := NewProofOfWork(1).Search(template, 6, Partition{Start: 0, Stride: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, want, block.Nonce)
}

func TestSearchHonoursCancelBeforeFirstTrial(t *testing.T) {
	var cancel atomic.Bool
	cancel.Store(true)

	_, err := NewProofOfWork(1).Search(newTemplate(), 0, Partition{Stride: 1}, &cancel)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestSearchNoticesCancelWhileRunning(t *testing.T) {
	var cancel atomic.Bool
	done := make(chan error, 1)
	go func() {
		_, err := NewProofOfWork(64).Search(newTemplate(), core.MaxDifficulty, Partition{Stride: 1}, &cancel)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel.Store(true)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("search did not stop after cancel")
	}
}

func TestSearchExhaustsPartition(t *testing.T) {
	_, err := NewProofOfWork(0).Search(newTemplate(), 64, Partition{Start: 0, Stride: 1, Limit: 100}, nil)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestSearchRejectsBadInput(t *testing.T) {
	pow := NewProofOfWork(0)

	_, err := pow.Search(nil, 1, Partition{Stride: 1}, nil)
	assert.ErrorIs(t, err, core.ErrNilBlock)

	_, err = pow.Search(newTemplate(), core.MaxDifficulty+1, Partition{Stride: 1}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidDifficulty)

	assert.ErrorIs(t, pow.Verify(nil, 1), core.ErrNilBlock)
}
