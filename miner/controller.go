package miner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"powchain/consensus"
	"powchain/core"
	"powchain/interfaces"
	"powchain/logger"
)

// ErrHalted is returned by MineNext after the chain rejected a block. The
// controller stays halted until Resume is called.
var ErrHalted = errors.New("controller halted after chain rejected a block")

// ErrNotPersisted is returned together with the block when the chain
// accepted it but the store failed to save it.
var ErrNotPersisted = errors.New("block appended but not persisted")

// ControllerConfig wires the controller's optional parts.
type ControllerConfig struct {
	// Store menerima setiap block yang diterima chain. Boleh nil.
	Store interfaces.BlockStore
	// LoopInterval adalah jeda antar ronde loop auto-mining.
	LoopInterval time.Duration
	// LoopData adalah payload block yang ditambang oleh loop auto-mining.
	LoopData []byte
}

// MineOption adjusts a single MineNext call.
type MineOption func(*mineOptions)

type mineOptions struct {
	difficulty    uint
	hasDifficulty bool
}

// WithDifficulty requests a difficulty for this round. Values below the
// chain difficulty are raised to it, since the chain would reject the block.
func WithDifficulty(d uint) MineOption {
	return func(o *mineOptions) {
		o.difficulty = d
		o.hasDifficulty = true
	}
}

// Stats summarises controller activity.
type Stats struct {
	IsActive    bool       `json:"isActive"`
	Halted      bool       `json:"halted"`
	HaltReason  string     `json:"haltReason,omitempty"`
	Rounds      uint64     `json:"rounds"`
	BlocksFound uint64     `json:"blocksFound"`
	Difficulty  uint       `json:"difficulty"`
	Workers     int        `json:"workers"`
	StartTime   int64      `json:"startTime,omitempty"`
	Queue       QueueStats `json:"queue"`
}

// Controller runs "mine next block" rounds against one chain: read the
// tip, build a candidate, hand it to the work queue, append the solution.
// Rounds never overlap, so the chain only ever has this one writer.
type Controller struct {
	chain interfaces.ChainWriter
	queue *WorkQueue
	cfg   ControllerConfig

	roundMu sync.Mutex

	mu          sync.Mutex
	halted      error
	rounds      uint64
	blocksFound uint64
	running     bool
	startTime   time.Time
	stopLoop    context.CancelFunc
	loopDone    chan struct{}
}

// NewController creates a controller for chain using queue.
func NewController(chain interfaces.ChainWriter, queue *WorkQueue, cfg ControllerConfig) *Controller {
	return &Controller{chain: chain, queue: queue, cfg: cfg}
}

// MineNext runs one round. On ErrCancelled or ErrExhausted the chain is
// untouched and the caller may call again; the tip is re-read every time.
// A chain rejection halts the controller.
func (c *Controller) MineNext(ctx context.Context, data []byte, opts ...MineOption) (*core.Block, error) {
	c.roundMu.Lock()
	defer c.roundMu.Unlock()

	if err := c.haltErr(); err != nil {
		return nil, err
	}

	var o mineOptions
	for _, opt := range opts {
		opt(&o)
	}
	difficulty := c.chain.Difficulty()
	if o.hasDifficulty {
		if o.difficulty < difficulty {
			logger.Warningf("Requested difficulty %d is below chain difficulty %d, using %d", o.difficulty, difficulty, difficulty)
		} else {
			difficulty = o.difficulty
		}
	}

	tip, err := c.chain.Tip()
	if err != nil {
		return nil, fmt.Errorf("failed to read chain tip: %w", err)
	}
	candidate := core.NewBlockAfter(tip, data)

	c.mu.Lock()
	c.rounds++
	c.mu.Unlock()

	logger.Infof("Mining block %d on parent %s at difficulty %d with %d workers", candidate.Index, tip.Hash.Hex(), difficulty, c.queue.Workers())
	started := time.Now()
	block, err := c.queue.Submit(ctx, candidate, difficulty)
	if err != nil {
		logger.Infof("Mining round for block %d ended without a block: %v", candidate.Index, err)
		return nil, err
	}
	logger.Infof("Block %d mined in %v. Hash: %s", block.Index, time.Since(started), block.Hash.Hex())

	if err := c.chain.Append(block); err != nil {
		c.halt(err)
		logger.Errorf("Chain rejected mined block %d, halting further appends: %v", block.Index, err)
		return nil, err
	}

	c.mu.Lock()
	c.blocksFound++
	c.mu.Unlock()

	if c.cfg.Store != nil {
		if err := c.cfg.Store.Save(block); err != nil {
			c.halt(err)
			logger.Errorf("Failed to persist block %d, halting further appends: %v", block.Index, err)
			return block, fmt.Errorf("%w: block %d: %w", ErrNotPersisted, block.Index, err)
		}
	}
	return block, nil
}

// MineNextWithRetry calls MineNext up to attempts times, starting a new
// round with a fresh template after ErrExhausted or ErrCancelled. It stops
// early when ctx ends or any other error occurs.
func (c *Controller) MineNextWithRetry(ctx context.Context, data []byte, attempts int, opts ...MineOption) (*core.Block, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		block, err := c.MineNext(ctx, data, opts...)
		if err == nil || block != nil {
			return block, err
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		if !errors.Is(err, consensus.ErrExhausted) && !errors.Is(err, consensus.ErrCancelled) {
			return nil, err
		}
		logger.Infof("Retrying mining round (%d/%d) after: %v", i+1, attempts, err)
	}
	return nil, lastErr
}

// Validate runs a full integrity check of the chain.
func (c *Controller) Validate() error {
	return c.chain.Validate()
}

func (c *Controller) halt(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted == nil {
		c.halted = cause
	}
}

func (c *Controller) haltErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrHalted, c.halted)
}

// Halted returns the error that halted the controller, or nil.
func (c *Controller) Halted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

// Resume clears a halt once the cause has been dealt with externally.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted != nil {
		logger.Infof("Controller resumed; previous halt: %v", c.halted)
	}
	c.halted = nil
}

// Start launches the auto-mining loop, which mines blocks back to back
// until Stop is called or the controller halts.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		logger.Info("Miner already running.")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.startTime = time.Now()
	c.stopLoop = cancel
	c.loopDone = make(chan struct{})
	done := c.loopDone
	c.mu.Unlock()

	logger.Infof("Starting miner with %d workers", c.queue.Workers())
	go c.loop(ctx, cancel, done)
}

func (c *Controller) loop(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Miner stopping work loop.")
			return
		default:
		}

		_, err := c.MineNext(ctx, c.cfg.LoopData)
		switch {
		case err == nil:
		case errors.Is(err, ErrHalted), core.IsValidityError(err):
			logger.Errorf("Miner loop stopped: %v", err)
			return
		case errors.Is(err, consensus.ErrCancelled), errors.Is(err, consensus.ErrExhausted):
			// template baru dibuat pada ronde berikutnya
		default:
			logger.Errorf("Miner loop round failed: %v", err)
		}

		if c.cfg.LoopInterval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.LoopInterval):
			}
		}
	}
}

// Stop ends the auto-mining loop, cancelling the round in progress, and
// waits for it to exit.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		logger.Info("Miner is not running.")
		return
	}
	cancel, done := c.stopLoop, c.loopDone
	c.mu.Unlock()

	logger.Info("Stopping miner...")
	cancel()
	<-done
	logger.Info("Miner stopped.")
}

// IsRunning memeriksa apakah loop auto-mining sedang aktif.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stats returns a snapshot of controller and queue counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		IsActive:    c.running,
		Halted:      c.halted != nil,
		Rounds:      c.rounds,
		BlocksFound: c.blocksFound,
		Difficulty:  c.chain.Difficulty(),
		Workers:     c.queue.Workers(),
	}
	if c.halted != nil {
		s.HaltReason = c.halted.Error()
	}
	if c.running {
		s.StartTime = c.startTime.Unix()
	}
	c.mu.Unlock()
	s.Queue = c.queue.Stats()
	return s
}
