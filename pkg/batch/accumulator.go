// Package batch implements the bounded accumulator with the size/time dual
// trigger that decides when pending proofs are ready to submit.
package batch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	committer "github.com/blockproofs/committer"
)

// Trigger identifies what fired a submission.
type Trigger string

const (
	// TriggerSize fires when the pending count reaches the size threshold.
	TriggerSize Trigger = "size"
	// TriggerTimer fires when the max-wait timer expires, whatever the size.
	TriggerTimer Trigger = "timer"
	// TriggerDrain fires on an explicit flush during shutdown.
	TriggerDrain Trigger = "drain"
)

// FlushFn receives the snapshotted batch. It runs on the goroutine that
// fired the trigger, serialized with every other accumulator operation.
type FlushFn func(records []committer.ProofRecord, trigger Trigger)

// Accumulator buffers records for one chain and fires the flush callback on
// whichever trigger lands first: the size threshold or the max-wait timer.
// At most one timer is outstanding at a time. All mutations run under one
// mutex, so the consume path and the timer path never interleave inside the
// append / check-threshold / swap-and-clear sequence.
type Accumulator struct {
	lggr          logger.Logger
	sizeThreshold int
	maxWait       time.Duration
	flush         FlushFn

	mu       sync.Mutex
	pending  []committer.ProofRecord
	timer    *time.Timer
	timerGen uint64
	stopped  bool

	pendingCount atomic.Int64
}

// NewAccumulator validates the trigger parameters and returns an empty
// accumulator.
func NewAccumulator(lggr logger.Logger, sizeThreshold int, maxWait time.Duration, flush FlushFn) (*Accumulator, error) {
	if sizeThreshold < 1 {
		return nil, fmt.Errorf("size threshold must be at least 1, got %d", sizeThreshold)
	}
	if maxWait <= 0 {
		return nil, fmt.Errorf("max wait must be positive, got %s", maxWait)
	}
	if flush == nil {
		return nil, fmt.Errorf("flush callback is not set")
	}
	return &Accumulator{
		lggr:          lggr,
		sizeThreshold: sizeThreshold,
		maxWait:       maxWait,
		flush:         flush,
	}, nil
}

// Add appends a record to the pending sequence. Reaching the size threshold
// fires a submission immediately; otherwise a max-wait timer is armed if
// none is outstanding.
func (a *Accumulator) Add(record committer.ProofRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		a.lggr.Warnw("accumulator stopped, dropping add", "blockNumber", record.BlockNumber)
		return
	}

	a.pending = append(a.pending, record)
	a.pendingCount.Store(int64(len(a.pending)))

	if len(a.pending) >= a.sizeThreshold {
		a.fireLocked(TriggerSize)
		return
	}
	if a.timer == nil {
		a.armTimerLocked()
	}
}

// Requeue reinserts a failed batch at the front of the pending sequence so
// its records retry ahead of newer arrivals, preserving relative order.
func (a *Accumulator) Requeue(records []committer.ProofRecord) {
	if len(records) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		a.lggr.Warnw("accumulator stopped, dropping requeue", "count", len(records))
		return
	}

	a.pending = append(append(make([]committer.ProofRecord, 0, len(records)+len(a.pending)), records...), a.pending...)
	a.pendingCount.Store(int64(len(a.pending)))

	if len(a.pending) >= a.sizeThreshold {
		a.fireLocked(TriggerSize)
		return
	}
	if a.timer == nil {
		a.armTimerLocked()
	}
}

// FlushNow synchronously submits any pending records. Used to drain the
// working set during shutdown.
func (a *Accumulator) FlushNow() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return
	}
	a.fireLocked(TriggerDrain)
}

// Pending returns the current working-set size without blocking on an
// in-flight submission.
func (a *Accumulator) Pending() int {
	return int(a.pendingCount.Load())
}

// Stop cancels any outstanding timer and rejects further adds. Records still
// pending are left in place for a final FlushNow by the owner.
func (a *Accumulator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.cancelTimerLocked()
}

// armTimerLocked starts the max-wait timer for the current accumulation
// cycle. The generation counter ties the callback to this cycle: an expired
// callback that lost the race to a size trigger sees a newer generation and
// must not touch the next cycle's records or its timer. Caller must hold a.mu.
func (a *Accumulator) armTimerLocked() {
	a.timerGen++
	gen := a.timerGen
	a.timer = time.AfterFunc(a.maxWait, func() { a.onTimer(gen) })
}

// cancelTimerLocked stops any outstanding timer and invalidates callbacks
// already in flight. Caller must hold a.mu.
func (a *Accumulator) cancelTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.timerGen++
}

func (a *Accumulator) onTimer(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.timerGen || a.stopped || len(a.pending) == 0 {
		return
	}
	a.timer = nil
	a.fireLocked(TriggerTimer)
}

// fireLocked snapshots and clears the pending sequence, cancels the timer
// and hands the snapshot to the flush callback. Caller must hold a.mu.
func (a *Accumulator) fireLocked(trigger Trigger) {
	snapshot := a.pending
	a.pending = nil
	a.pendingCount.Store(0)
	a.cancelTimerLocked()
	a.flush(snapshot, trigger)
}
