// Package pipeline wires the consume, dedupe, accumulate and submit stages
// into one per-chain instance, and manages the set of instances.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"golang.org/x/sync/errgroup"

	committer "github.com/blockproofs/committer"
	"github.com/blockproofs/committer/pkg/batch"
	"github.com/blockproofs/committer/pkg/dedupe"
	"github.com/blockproofs/committer/pkg/submitter"
)

// fetchRetryDelay paces the consume loop after a transient fetch error.
const fetchRetryDelay = time.Second

// Pipeline runs the consume → validate → dedupe → accumulate → submit
// lifecycle for one chain. It exclusively owns its pending batch and its
// queue, cache and ledger connections. Instances are single-use: a stopped
// pipeline must be recreated, not restarted.
type Pipeline struct {
	lggr    logger.Logger
	chainID uint64
	cfg     *committer.ChainPipelineConfig
	queue   committer.QueueConsumer
	cache   committer.CacheClient
	ledger  committer.LedgerClient
	metrics committer.MetricLabeler

	checker *dedupe.Checker
	acc     *batch.Accumulator
	sub     *submitter.Submitter

	mu        sync.Mutex
	state     committer.PipelineState
	cancel    context.CancelFunc
	submitCtx context.Context
	doneCh    chan struct{}
}

type Option func(*Pipeline)

func WithLogger(lggr logger.Logger) Option {
	return func(p *Pipeline) { p.lggr = lggr }
}

func WithChainID(chainID uint64) Option {
	return func(p *Pipeline) { p.chainID = chainID }
}

func WithConfig(cfg *committer.ChainPipelineConfig) Option {
	return func(p *Pipeline) { p.cfg = cfg }
}

func WithQueue(queue committer.QueueConsumer) Option {
	return func(p *Pipeline) { p.queue = queue }
}

func WithCache(cache committer.CacheClient) Option {
	return func(p *Pipeline) { p.cache = cache }
}

func WithLedger(ledger committer.LedgerClient) Option {
	return func(p *Pipeline) { p.ledger = ledger }
}

func WithMetrics(metrics committer.MetricLabeler) Option {
	return func(p *Pipeline) { p.metrics = metrics }
}

// NewPipeline builds a pipeline in the Created state. All collaborators are
// required; construction fails before any connection is touched.
func NewPipeline(options ...Option) (*Pipeline, error) {
	p := &Pipeline{
		state:  committer.StateCreated,
		doneCh: make(chan struct{}),
	}
	for _, opt := range options {
		opt(p)
	}

	var errs []error
	appendIfNil := func(field any, fieldName string) {
		if field == nil {
			errs = append(errs, fmt.Errorf("%s is not set", fieldName))
		}
	}
	appendIfNil(p.lggr, "logger")
	appendIfNil(p.cfg, "config")
	appendIfNil(p.queue, "queue consumer")
	appendIfNil(p.cache, "cache client")
	appendIfNil(p.ledger, "ledger client")
	appendIfNil(p.metrics, "metrics labeler")
	if p.chainID == 0 {
		errs = append(errs, fmt.Errorf("chain ID is not set"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	p.lggr = logger.Named(p.lggr, fmt.Sprintf("pipeline-%d", p.chainID))
	p.checker = dedupe.NewChecker(p.lggr, p.cache, p.ledger, p.cfg.Cache.GetTTL())

	acc, err := batch.NewAccumulator(p.lggr, p.cfg.BatchSize, p.cfg.GetMaxWait(), p.submitBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to create accumulator: %w", err)
	}
	p.acc = acc

	sub, err := submitter.NewSubmitter(
		p.lggr, p.chainID, p.ledger, p.checker, p.acc.Requeue, p.cfg.GetRetryBackoff(), p.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create submitter: %w", err)
	}
	p.sub = sub

	return p, nil
}

// Start opens the dependency connections and launches the consume loop. A
// probe failure is fatal for this instance and releases anything opened.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != committer.StateCreated {
		p.mu.Unlock()
		return fmt.Errorf("pipeline for chain %d already started", p.chainID)
	}
	p.state = committer.StateStarting
	p.mu.Unlock()

	if err := p.cache.Ping(ctx); err != nil {
		p.closeClients()
		return fmt.Errorf("cache unreachable for chain %d: %w", p.chainID, err)
	}
	if err := p.queue.Ping(ctx); err != nil {
		p.closeClients()
		return fmt.Errorf("queue unreachable for chain %d: %w", p.chainID, err)
	}
	if err := p.ledger.Ping(ctx); err != nil {
		p.closeClients()
		return fmt.Errorf("ledger unreachable for chain %d: %w", p.chainID, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	p.mu.Lock()
	p.cancel = cancel
	p.submitCtx = runCtx
	p.state = committer.StateRunning
	p.mu.Unlock()

	go p.run(runCtx)

	p.lggr.Infow("pipeline started",
		"topic", p.cfg.Queue.Topic,
		"batchSize", p.cfg.BatchSize,
		"maxWait", p.cfg.GetMaxWait(),
	)
	return nil
}

// Stop drains the pipeline: the consume loop exits, any pending batch is
// flushed synchronously under a bounded timeout, then connections close.
// The instance ends in Stopped and cannot be restarted.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state != committer.StateRunning {
		p.mu.Unlock()
		return fmt.Errorf("pipeline for chain %d is not running", p.chainID)
	}
	p.state = committer.StateStopping
	cancel := p.cancel
	p.mu.Unlock()

	p.lggr.Infow("pipeline stopping")

	// The max-wait timer can fire while the consume loop unwinds. Swap in the
	// bounded drain context before cancelling so that flush gets a real
	// submission attempt instead of the dead run context; offsets are already
	// committed, so a batch dropped here would never redeliver.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), p.cfg.GetFlushTimeout())
	p.mu.Lock()
	p.submitCtx = drainCtx
	p.mu.Unlock()

	cancel()
	<-p.doneCh

	p.acc.FlushNow()
	p.acc.Stop()
	drainCancel()
	p.sub.Wait()

	err := p.closeClients()

	p.mu.Lock()
	p.state = committer.StateStopped
	p.mu.Unlock()

	p.lggr.Infow("pipeline stopped")
	return err
}

// State returns the current lifecycle state.
func (p *Pipeline) State() committer.PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ChainID returns the chain this pipeline commits for.
func (p *Pipeline) ChainID() uint64 {
	return p.chainID
}

// Health probes the three dependencies independently and reports a
// point-in-time snapshot. Probe failures mark the dependency down; they are
// recorded, never propagated.
func (p *Pipeline) Health(ctx context.Context) committer.HealthSnapshot {
	snapshot := committer.HealthSnapshot{
		ChainID:      p.chainID,
		State:        p.State(),
		PendingCount: p.acc.Pending(),
	}

	var probeErrs []error
	var probeMu sync.Mutex
	record := func(healthy *bool, name string, err error) {
		probeMu.Lock()
		defer probeMu.Unlock()
		if err != nil {
			probeErrs = append(probeErrs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*healthy = true
	}

	g, probeCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		record(&snapshot.QueueHealthy, "queue", p.queue.Ping(probeCtx))
		return nil
	})
	g.Go(func() error {
		record(&snapshot.LedgerHealthy, "ledger", p.ledger.Ping(probeCtx))
		return nil
	})
	g.Go(func() error {
		record(&snapshot.CacheHealthy, "cache", p.cache.Ping(probeCtx))
		return nil
	})
	_ = g.Wait()

	if len(probeErrs) > 0 {
		snapshot.ProbeError = errors.Join(probeErrs...).Error()
	}
	return snapshot
}

// run is the consume loop: one goroutine per subscription, pushing parsed
// records into the serialized accumulation path.
func (p *Pipeline) run(ctx context.Context) {
	defer close(p.doneCh)

	for {
		payload, err := p.queue.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.lggr.Infow("consume loop exiting")
				return
			}
			p.lggr.Errorw("failed to fetch message", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchRetryDelay):
			}
			continue
		}
		p.handleMessage(ctx, payload)
	}
}

// handleMessage processes one queue message. Malformed payloads and
// duplicates are dropped without touching the batch or the instance state.
func (p *Pipeline) handleMessage(ctx context.Context, payload []byte) {
	var record committer.ProofRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		p.metrics.IncrementMalformedMessages(ctx)
		p.lggr.Errorw("discarding unparsable message", "error", err)
		return
	}
	if err := record.Validate(); err != nil {
		p.metrics.IncrementMalformedMessages(ctx)
		p.lggr.Errorw("discarding invalid record", "blockNumber", record.BlockNumber, "error", err)
		return
	}
	if record.ChainID != p.chainID {
		p.metrics.IncrementMalformedMessages(ctx)
		p.lggr.Errorw("discarding record for wrong chain",
			"recordChainID", record.ChainID, "blockNumber", record.BlockNumber)
		return
	}

	if p.checker.IsCommitted(ctx, record) {
		p.metrics.IncrementDuplicatesSkipped(ctx)
		p.lggr.Debugw("skipping already-committed record", "blockNumber", record.BlockNumber)
		return
	}

	p.metrics.IncrementProofsProcessed(ctx)
	p.acc.Add(record)
	p.metrics.RecordPendingCount(ctx, p.acc.Pending())
}

// submitBatch is the accumulator's flush callback. It runs serialized with
// every other accumulator mutation for this chain.
func (p *Pipeline) submitBatch(records []committer.ProofRecord, trigger batch.Trigger) {
	p.mu.Lock()
	ctx := p.submitCtx
	p.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	// Submit handles requeue-with-backoff internally; the error is already
	// logged and counted there.
	_ = p.sub.Submit(ctx, records, trigger)
}

func (p *Pipeline) closeClients() error {
	var errs []error
	if err := p.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close queue consumer: %w", err))
	}
	if err := p.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close cache client: %w", err))
	}
	if err := p.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close ledger client: %w", err))
	}
	return errors.Join(errs...)
}
