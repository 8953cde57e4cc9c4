// Package taskqueue implements the bounded async task limiter used to flush
// rule-usage-statistics deltas without letting burst traffic turn into
// unbounded concurrent writes against the rule store.
//
// A fixed pool of execution slots bounded by an explicit
// golang.org/x/sync/semaphore.Weighted, with a per-rule "latest pending
// wins" drop policy: a second enqueue for a rule still waiting for a slot
// overwrites the first in place instead of growing an unbounded backlog or
// dropping the newer update.
package taskqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"go.uber.org/zap"
)

// Job is one unit of deferred work, tagged by the rule it concerns so the
// limiter can de-duplicate bursts against the same rule.
type Job struct {
	RuleID uint
	Fn     func(ctx context.Context) error
}

// WorkerStatus is a point-in-time snapshot of one execution slot.
type WorkerStatus struct {
	ID            int
	State         string // "idle" or "busy"
	CurrentRuleID uint
	StartedAt     *time.Time
}

type slot struct {
	id int
	mu sync.RWMutex
	WorkerStatus
}

func (s *slot) start(ruleID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.State = "busy"
	s.CurrentRuleID = ruleID
	s.StartedAt = &now
}

func (s *slot) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = "idle"
	s.CurrentRuleID = 0
	s.StartedAt = nil
}

func (s *slot) snapshot() WorkerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return WorkerStatus{ID: s.id, State: s.State, CurrentRuleID: s.CurrentRuleID, StartedAt: s.StartedAt}
}

// Limiter bounds how many Jobs run concurrently and collapses repeated
// enqueues for the same rule into whichever was submitted most recently.
type Limiter struct {
	sem        *semaphore.Weighted
	jobTimeout time.Duration
	log        *zap.Logger

	mu      sync.Mutex
	pending map[uint]Job
	waiting map[uint]bool

	slotsArr []*slot
	free     chan int
	active   atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Limiter admitting at most concurrency Jobs at once. jobTimeout
// bounds each Job's context; pass 0 to run Jobs without a deadline.
func New(concurrency int, jobTimeout time.Duration, log *zap.Logger) *Limiter {
	if concurrency <= 0 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Limiter{
		sem:        semaphore.NewWeighted(int64(concurrency)),
		jobTimeout: jobTimeout,
		log:        log,
		pending:    make(map[uint]Job),
		waiting:    make(map[uint]bool),
		slotsArr:   make([]*slot, concurrency),
		free:       make(chan int, concurrency),
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := 0; i < concurrency; i++ {
		l.slotsArr[i] = &slot{id: i, WorkerStatus: WorkerStatus{ID: i, State: "idle"}}
		l.free <- i
	}
	return l
}

// Enqueue schedules job without blocking. If a job for the same RuleID is
// still waiting for a free slot, job replaces it in place; the superseded
// job never runs. Enqueue is a no-op after Shutdown.
func (l *Limiter) Enqueue(job Job) {
	select {
	case <-l.ctx.Done():
		return
	default:
	}

	l.mu.Lock()
	_, alreadyWaiting := l.waiting[job.RuleID]
	l.pending[job.RuleID] = job
	if alreadyWaiting {
		l.mu.Unlock()
		return
	}
	l.waiting[job.RuleID] = true
	l.mu.Unlock()

	l.wg.Add(1)
	go l.dispatch(job.RuleID)
}

func (l *Limiter) dispatch(ruleID uint) {
	defer l.wg.Done()

	if err := l.sem.Acquire(l.ctx, 1); err != nil {
		l.mu.Lock()
		delete(l.pending, ruleID)
		delete(l.waiting, ruleID)
		l.mu.Unlock()
		return
	}
	defer l.sem.Release(1)

	l.mu.Lock()
	job, ok := l.pending[ruleID]
	delete(l.pending, ruleID)
	delete(l.waiting, ruleID)
	l.mu.Unlock()
	if !ok {
		return
	}

	idx := <-l.free
	w := l.slotsArr[idx]
	w.start(ruleID)
	l.active.Add(1)

	runCtx := l.ctx
	var cancel context.CancelFunc
	if l.jobTimeout > 0 {
		runCtx, cancel = context.WithTimeout(l.ctx, l.jobTimeout)
	}
	err := job.Fn(runCtx)
	if cancel != nil {
		cancel()
	}
	if err != nil && l.log != nil {
		l.log.Warn("taskqueue job failed", zap.Uint("rule_id", ruleID), zap.Error(err))
	}

	l.active.Add(-1)
	w.finish()
	l.free <- idx
}

// QueueSize returns the number of rules currently waiting for a free slot.
func (l *Limiter) QueueSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// ActiveCount returns the number of Jobs currently executing.
func (l *Limiter) ActiveCount() int {
	return int(l.active.Load())
}

// Status returns a snapshot of every execution slot, busy or idle.
func (l *Limiter) Status() []WorkerStatus {
	statuses := make([]WorkerStatus, len(l.slotsArr))
	for i, s := range l.slotsArr {
		statuses[i] = s.snapshot()
	}
	return statuses
}

// Shutdown stops admitting new work, cancels any Job still running, and
// waits for every in-flight dispatch goroutine to return.
func (l *Limiter) Shutdown() {
	l.cancel()
	l.wg.Wait()
}
