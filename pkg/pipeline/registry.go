package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	committer "github.com/blockproofs/committer"
	"github.com/blockproofs/committer/pkg/cache"
	"github.com/blockproofs/committer/pkg/ledger"
	"github.com/blockproofs/committer/pkg/queue"
)

var (
	// ErrPipelineExists is returned by Add when the chain is already managed.
	ErrPipelineExists = errors.New("pipeline already exists for chain")
	// ErrPipelineNotFound is returned by Remove for an unknown chain.
	ErrPipelineNotFound = errors.New("no pipeline exists for chain")
)

// healthProbeTimeout bounds each instance's dependency probes.
const healthProbeTimeout = 5 * time.Second

// Factory builds a pipeline for one chain. Injected so tests can assemble
// instances from fakes.
type Factory func(chainID uint64, cfg *committer.ChainPipelineConfig) (*Pipeline, error)

// Registry exclusively owns the set of pipeline instances, keyed by chain
// ID. All mutation goes through one mutex; instances themselves are fully
// independent.
type Registry struct {
	lggr    logger.Logger
	factory Factory

	mu        sync.Mutex
	pipelines map[uint64]*Pipeline
	// starting reserves chain IDs whose pipelines are still dialing their
	// dependencies, so duplicate adds fail without a map entry existing yet.
	starting map[uint64]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(lggr logger.Logger, factory Factory) (*Registry, error) {
	if lggr == nil {
		return nil, fmt.Errorf("logger is not set")
	}
	if factory == nil {
		return nil, fmt.Errorf("factory is not set")
	}
	return &Registry{
		lggr:      logger.Named(lggr, "registry"),
		factory:   factory,
		pipelines: make(map[uint64]*Pipeline),
		starting:  make(map[uint64]struct{}),
	}, nil
}

// NewDefaultFactory assembles pipelines from the real Kafka, Redis and EVM
// clients described by each chain's configuration bundle.
func NewDefaultFactory(lggr logger.Logger, monitoring committer.Monitoring) Factory {
	return func(chainID uint64, cfg *committer.ChainPipelineConfig) (*Pipeline, error) {
		ledgerClient, err := ledger.NewEVMClient(lggr, chainID, cfg.Ledger)
		if err != nil {
			return nil, fmt.Errorf("failed to create ledger client for chain %d: %w", chainID, err)
		}
		return NewPipeline(
			WithLogger(lggr),
			WithChainID(chainID),
			WithConfig(cfg),
			WithQueue(queue.NewKafkaConsumer(cfg.Queue)),
			WithCache(cache.NewRedisCache(cfg.Cache.Address, cfg.Cache.DB, cfg.Cache.KeyPrefix)),
			WithLedger(ledgerClient),
			WithMetrics(monitoring.Metrics().With("chainID", fmt.Sprintf("%d", chainID))),
		)
	}
}

// Add constructs and starts a pipeline for the chain. It fails if one
// already exists or if the new instance cannot reach its dependencies; a
// failed start never leaves a partial entry behind. The chain key is
// reserved up front and the dial-heavy start runs outside the registry
// mutex, so one slow dependency never stalls operations on other chains.
func (r *Registry) Add(ctx context.Context, chainID uint64, cfg *committer.ChainPipelineConfig) error {
	r.mu.Lock()
	if _, exists := r.pipelines[chainID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w %d", ErrPipelineExists, chainID)
	}
	if _, inflight := r.starting[chainID]; inflight {
		r.mu.Unlock()
		return fmt.Errorf("%w %d", ErrPipelineExists, chainID)
	}
	r.starting[chainID] = struct{}{}
	r.mu.Unlock()

	p, err := r.factory(chainID, cfg)
	if err != nil {
		r.releaseReservation(chainID)
		return fmt.Errorf("failed to build pipeline for chain %d: %w", chainID, err)
	}
	if err := p.Start(ctx); err != nil {
		r.releaseReservation(chainID)
		return fmt.Errorf("failed to start pipeline for chain %d: %w", chainID, err)
	}

	r.mu.Lock()
	delete(r.starting, chainID)
	r.pipelines[chainID] = p
	r.mu.Unlock()

	r.lggr.Infow("pipeline added", "chainID", chainID)
	return nil
}

func (r *Registry) releaseReservation(chainID uint64) {
	r.mu.Lock()
	delete(r.starting, chainID)
	r.mu.Unlock()
}

// Remove stops and discards the chain's pipeline. The instance is discarded
// even if its stop reported an error.
func (r *Registry) Remove(chainID uint64) error {
	r.mu.Lock()
	p, exists := r.pipelines[chainID]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w %d", ErrPipelineNotFound, chainID)
	}
	delete(r.pipelines, chainID)
	r.mu.Unlock()

	if err := p.Stop(); err != nil {
		return fmt.Errorf("failed to stop pipeline for chain %d: %w", chainID, err)
	}
	r.lggr.Infow("pipeline removed", "chainID", chainID)
	return nil
}

// StopAll stops every pipeline concurrently and waits for all of them,
// collecting errors instead of failing fast.
func (r *Registry) StopAll() error {
	r.mu.Lock()
	pipelines := make([]*Pipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		pipelines = append(pipelines, p)
	}
	r.pipelines = make(map[uint64]*Pipeline)
	r.mu.Unlock()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var errs []error
	for _, p := range pipelines {
		wg.Add(1)
		go func(p *Pipeline) {
			defer wg.Done()
			if err := p.Stop(); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("chain %d: %w", p.ChainID(), err))
				errMu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	r.lggr.Infow("all pipelines stopped", "count", len(pipelines), "errors", len(errs))
	return errors.Join(errs...)
}

// HealthStatus queries every instance independently and always returns the
// full map; a failing probe shows up inside its snapshot, not as an error.
func (r *Registry) HealthStatus(ctx context.Context) map[uint64]committer.HealthSnapshot {
	r.mu.Lock()
	pipelines := make([]*Pipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		pipelines = append(pipelines, p)
	}
	r.mu.Unlock()

	statuses := make(map[uint64]committer.HealthSnapshot, len(pipelines))
	var wg sync.WaitGroup
	var statusMu sync.Mutex
	for _, p := range pipelines {
		wg.Add(1)
		go func(p *Pipeline) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
			defer cancel()
			snapshot := p.Health(probeCtx)
			statusMu.Lock()
			statuses[p.ChainID()] = snapshot
			statusMu.Unlock()
		}(p)
	}
	wg.Wait()

	return statuses
}

// Count returns the number of managed pipelines.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pipelines)
}
