package miner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"powchain/consensus"
	"powchain/core"
	"powchain/interfaces"
	"powchain/logger"
	"powchain/metrics"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultStopTimeout bounds how long a finished task waits for its
// remaining workers to notice the cancel flag.
const DefaultStopTimeout = 2 * time.Second

var ErrQueueClosed = errors.New("work queue closed")

// TaskState is the lifecycle of one mining task.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskSolved
	TaskCancelled
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskSolved:
		return "solved"
	case TaskCancelled:
		return "cancelled"
	case TaskFailed:
		return "failed"
	default:
		return fmt.Sprintf("TaskState(%d)", int32(s))
	}
}

// Final reports whether the state is terminal.
func (s TaskState) Final() bool {
	return s >= TaskSolved
}

// QueueConfig sizes the worker pool and the nonce space.
type QueueConfig struct {
	Workers     int           // jumlah pencarian paralel per task
	StartNonce  uint64        // nonce pertama untuk worker 0
	NonceLimit  uint64        // batas atas eksklusif, 0 untuk seluruh ruang uint64
	StopTimeout time.Duration // batas waktu menunggu worker setelah task selesai
}

// Task is one search for a nonce that seals a candidate block. All of its
// workers share the read-only template and a single cancel flag.
type Task struct {
	id         uint64
	template   *core.Block
	difficulty uint

	state     atomic.Int32
	cancel    atomic.Bool // dibaca oleh worker
	abandoned atomic.Bool // diset oleh Cancel; solusi yang terlambat dibuang
	ctx       context.Context
	stopCtx   context.CancelFunc

	solveOnce sync.Once
	solvedCh  chan struct{}
	solution  *core.Block

	done   chan struct{}
	result *core.Block
	err    error
}

// ID identifies the task within its queue.
func (t *Task) ID() uint64 { return t.id }

// Height is the index of the candidate block.
func (t *Task) Height() uint64 { return t.template.Index }

// State returns the current lifecycle state.
func (t *Task) State() TaskState { return TaskState(t.state.Load()) }

// Done is closed once the task reaches a final state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel abandons the task. If no worker has been declared the winner yet,
// Wait returns ErrCancelled and no block is emitted.
func (t *Task) Cancel() {
	if t.State().Final() {
		return
	}
	t.abandoned.Store(true)
	t.stop()
}

// stop raises the cancel flag and releases workers still waiting for a
// search slot.
func (t *Task) stop() {
	t.cancel.Store(true)
	t.stopCtx()
}

// Wait blocks until the task resolves or ctx ends. If ctx ends first, the
// task is cancelled and Wait still waits for it to settle.
func (t *Task) Wait(ctx context.Context) (*core.Block, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		t.Cancel()
		<-t.done
	}
	return t.result, t.err
}

// offer publishes a worker's solution. Only the first call wins.
func (t *Task) offer(block *core.Block) bool {
	won := false
	t.solveOnce.Do(func() {
		t.solution = block
		won = true
		t.stop()
		close(t.solvedCh)
	})
	return won
}

// WorkQueue runs mining tasks on a bounded pool of searches: every task
// splits its nonces into Workers disjoint strides, the first solution wins
// and the rest are cancelled. At most Workers searches run at once across
// all tasks. Workers never touch the chain.
type WorkQueue struct {
	engine  interfaces.Engine
	cfg     QueueConfig
	metrics metrics.Mining
	slots   *semaphore.Weighted

	mu       sync.Mutex
	closed   bool
	nextID   uint64
	inflight map[uint64]*Task
	wg       sync.WaitGroup

	solved    atomic.Uint64
	cancelled atomic.Uint64
	failed    atomic.Uint64
}

// QueueStats counts resolved tasks.
type QueueStats struct {
	Solved    uint64 `json:"solved"`
	Cancelled uint64 `json:"cancelled"`
	Failed    uint64 `json:"failed"`
	InFlight  int    `json:"inFlight"`
}

// NewWorkQueue creates a queue around engine.
func NewWorkQueue(engine interfaces.Engine, cfg QueueConfig) (*WorkQueue, error) {
	if engine == nil {
		return nil, errors.New("work queue needs a consensus engine")
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("invalid worker count %d: must be at least 1", cfg.Workers)
	}
	if cfg.NonceLimit != 0 && cfg.StartNonce >= cfg.NonceLimit {
		return nil, fmt.Errorf("start nonce %d is not below nonce limit %d", cfg.StartNonce, cfg.NonceLimit)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &WorkQueue{
		engine:   engine,
		cfg:      cfg,
		slots:    semaphore.NewWeighted(int64(cfg.Workers)),
		inflight: make(map[uint64]*Task),
	}, nil
}

// Workers returns the pool size.
func (q *WorkQueue) Workers() int {
	return q.cfg.Workers
}

// Submit dispatches template and blocks until a worker seals it, the task
// is cancelled (ctx, CancelHeight, a newer task for the same height) or the
// nonce space runs out.
func (q *WorkQueue) Submit(ctx context.Context, template *core.Block, difficulty uint) (*core.Block, error) {
	task, err := q.Dispatch(template, difficulty)
	if err != nil {
		return nil, err
	}
	return task.Wait(ctx)
}

// Dispatch starts a task without waiting for it. An in-flight task for the
// same height is cancelled first; it has been superseded.
func (q *WorkQueue) Dispatch(template *core.Block, difficulty uint) (*Task, error) {
	if template == nil {
		return nil, core.ErrNilBlock
	}
	if _, err := core.NewTarget(difficulty); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	for _, other := range q.inflight {
		if other.Height() == template.Index {
			logger.Debugf("Task %d for height %d superseded by a new task", other.id, other.Height())
			other.Cancel()
		}
	}

	q.nextID++
	t := &Task{
		id:         q.nextID,
		template:   template.Clone(),
		difficulty: difficulty,
		solvedCh:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	t.ctx, t.stopCtx = context.WithCancel(context.Background())
	q.inflight[t.id] = t
	q.wg.Add(1)
	go q.run(t)
	return t, nil
}

func (q *WorkQueue) run(t *Task) {
	defer q.wg.Done()
	started := time.Now()

	if !t.state.CompareAndSwap(int32(TaskPending), int32(TaskRunning)) || t.cancel.Load() {
		q.finish(t, started, nil, consensus.ErrCancelled)
		return
	}

	var g errgroup.Group
	for _, part := range consensus.Partitions(q.cfg.Workers, q.cfg.StartNonce, q.cfg.NonceLimit) {
		g.Go(func() error {
			if err := q.slots.Acquire(t.ctx, 1); err != nil {
				return nil
			}
			defer q.slots.Release(1)
			q.metrics.WorkerStarted()
			defer q.metrics.WorkerStopped()

			block, err := q.engine.Search(t.template, t.difficulty, part, &t.cancel)
			switch {
			case err == nil:
				if err := q.checkSolution(t, block); err != nil {
					t.stop()
					return err
				}
				if t.offer(block) {
					logger.Debugf("Task %d: worker starting at nonce %d won with nonce %d", t.id, part.Start, block.Nonce)
				}
				return nil
			case errors.Is(err, consensus.ErrCancelled), errors.Is(err, consensus.ErrExhausted):
				return nil
			default:
				// hentikan worker lain, task ini sudah gagal
				t.stop()
				return err
			}
		})
	}

	workersDone := make(chan error, 1)
	go func() { workersDone <- g.Wait() }()

	var workerErr error
	select {
	case <-t.solvedCh:
		select {
		case workerErr = <-workersDone:
		case <-time.After(q.cfg.StopTimeout):
			logger.Warningf("Task %d: workers did not stop within %s after a solution was found", t.id, q.cfg.StopTimeout)
		}
	case workerErr = <-workersDone:
	}

	switch {
	case t.abandoned.Load():
		q.finish(t, started, nil, consensus.ErrCancelled)
	case t.solution != nil:
		q.finish(t, started, t.solution, nil)
	case workerErr != nil:
		q.finish(t, started, nil, fmt.Errorf("mining task %d failed: %w", t.id, workerErr))
	default:
		q.finish(t, started, nil, fmt.Errorf("%w: height %d, %d workers, nonce limit %d",
			consensus.ErrExhausted, t.Height(), q.cfg.Workers, q.cfg.NonceLimit))
	}
}

// checkSolution rejects a block that is not the task's template sealed at
// the task's difficulty.
func (q *WorkQueue) checkSolution(t *Task, block *core.Block) error {
	if block == nil {
		return core.ErrNilBlock
	}
	if block.Index != t.template.Index || block.PrevHash != t.template.PrevHash ||
		block.Timestamp != t.template.Timestamp || !bytes.Equal(block.Data, t.template.Data) {
		return fmt.Errorf("solution for block %d does not match the task template", block.Index)
	}
	if err := q.engine.Verify(block, t.difficulty); err != nil {
		return fmt.Errorf("solution rejected: %w", err)
	}
	return nil
}

func (q *WorkQueue) finish(t *Task, started time.Time, block *core.Block, err error) {
	state, status := TaskSolved, metrics.StatusSolved
	switch {
	case err == nil:
		q.solved.Add(1)
	case errors.Is(err, consensus.ErrCancelled):
		state, status = TaskCancelled, metrics.StatusCancelled
		q.cancelled.Add(1)
	case errors.Is(err, consensus.ErrExhausted):
		state, status = TaskFailed, metrics.StatusExhausted
		q.failed.Add(1)
	default:
		state, status = TaskFailed, metrics.StatusError
		q.failed.Add(1)
	}

	t.stopCtx()
	t.result, t.err = block, err
	t.state.Store(int32(state))

	q.mu.Lock()
	delete(q.inflight, t.id)
	q.mu.Unlock()

	q.metrics.ObserveRound(status, started)
	logger.LogRoundEvent(t.Height(), status, q.cfg.Workers, time.Since(started))
	close(t.done)
}

// CancelHeight abandons every in-flight task for the given block index and
// returns how many were cancelled.
func (q *WorkQueue) CancelHeight(index uint64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.inflight {
		if t.Height() == index {
			t.Cancel()
			n++
		}
	}
	return n
}

// CancelAll abandons every in-flight task.
func (q *WorkQueue) CancelAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.inflight {
		t.Cancel()
	}
}

// Stats returns resolved-task counters.
func (q *WorkQueue) Stats() QueueStats {
	q.mu.Lock()
	inflight := len(q.inflight)
	q.mu.Unlock()
	return QueueStats{
		Solved:    q.solved.Load(),
		Cancelled: q.cancelled.Load(),
		Failed:    q.failed.Load(),
		InFlight:  inflight,
	}
}

// Close cancels all tasks, waits for them to settle and rejects further
// dispatches.
func (q *WorkQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, t := range q.inflight {
		t.Cancel()
	}
	q.mu.Unlock()
	q.wg.Wait()
}
