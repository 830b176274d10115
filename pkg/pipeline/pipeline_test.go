package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	committer "github.com/blockproofs/committer"
	"github.com/blockproofs/committer/internal/fakes"
	"github.com/blockproofs/committer/pkg/monitoring"
	"github.com/blockproofs/committer/pkg/pipeline"
)

func testChainConfig() *committer.ChainPipelineConfig {
	return &committer.ChainPipelineConfig{
		Queue:        committer.QueueConfig{Brokers: []string{"localhost:9092"}, Topic: "proofs.1", GroupID: "committer"},
		Cache:        committer.CacheConfig{Address: "localhost:6379", TTL: "1h"},
		BatchSize:    3,
		MaxWait:      "100ms",
		RetryBackoff: "20ms",
		FlushTimeout: "2s",
	}
}

type testPipeline struct {
	p      *pipeline.Pipeline
	queue  *fakes.Queue
	cache  *fakes.Cache
	ledger *fakes.Ledger
}

func newTestPipeline(t *testing.T, cfg *committer.ChainPipelineConfig) *testPipeline {
	t.Helper()
	tp := &testPipeline{
		queue:  fakes.NewQueue(),
		cache:  fakes.NewCache(),
		ledger: fakes.NewLedger(),
	}
	p, err := pipeline.NewPipeline(
		pipeline.WithLogger(logger.Test(t)),
		pipeline.WithChainID(1),
		pipeline.WithConfig(cfg),
		pipeline.WithQueue(tp.queue),
		pipeline.WithCache(tp.cache),
		pipeline.WithLedger(tp.ledger),
		pipeline.WithMetrics(monitoring.NewNoopCommitterMetricLabeler()),
	)
	require.NoError(t, err)
	tp.p = p
	return tp
}

func (tp *testPipeline) push(t *testing.T, record committer.ProofRecord) {
	t.Helper()
	payload, err := json.Marshal(record)
	require.NoError(t, err)
	tp.queue.Push(payload)
}

func submittedBlocks(subs []fakes.Submission) []uint64 {
	var out []uint64
	for _, s := range subs {
		for _, r := range s.Records {
			out = append(out, r.BlockNumber)
		}
	}
	return out
}

func TestNewPipelineValidation(t *testing.T) {
	lggr := logger.Test(t)
	cfg := testChainConfig()
	metrics := monitoring.NewNoopCommitterMetricLabeler()

	testcases := []struct {
		name      string
		options   []pipeline.Option
		expectErr bool
	}{
		{
			name:      "missing everything",
			options:   nil,
			expectErr: true,
		},
		{
			name: "happy",
			options: []pipeline.Option{
				pipeline.WithLogger(lggr),
				pipeline.WithChainID(1),
				pipeline.WithConfig(cfg),
				pipeline.WithQueue(fakes.NewQueue()),
				pipeline.WithCache(fakes.NewCache()),
				pipeline.WithLedger(fakes.NewLedger()),
				pipeline.WithMetrics(metrics),
			},
		},
		{
			name: "missing ledger",
			options: []pipeline.Option{
				pipeline.WithLogger(lggr),
				pipeline.WithChainID(1),
				pipeline.WithConfig(cfg),
				pipeline.WithQueue(fakes.NewQueue()),
				pipeline.WithCache(fakes.NewCache()),
				pipeline.WithMetrics(metrics),
			},
			expectErr: true,
		},
		{
			name: "missing chain ID",
			options: []pipeline.Option{
				pipeline.WithLogger(lggr),
				pipeline.WithConfig(cfg),
				pipeline.WithQueue(fakes.NewQueue()),
				pipeline.WithCache(fakes.NewCache()),
				pipeline.WithLedger(fakes.NewLedger()),
				pipeline.WithMetrics(metrics),
			},
			expectErr: true,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := pipeline.NewPipeline(tc.options...)
			if tc.expectErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	tp := newTestPipeline(t, testChainConfig())
	require.Equal(t, committer.StateCreated, tp.p.State())

	require.NoError(t, tp.p.Start(t.Context()))
	require.Equal(t, committer.StateRunning, tp.p.State())
	require.Error(t, tp.p.Start(t.Context()))

	require.NoError(t, tp.p.Stop())
	require.Equal(t, committer.StateStopped, tp.p.State())
	require.Error(t, tp.p.Stop())
}

func TestStartFailsWhenDependencyUnreachable(t *testing.T) {
	tp := newTestPipeline(t, testChainConfig())
	tp.cache.PingErr = errors.New("connection refused")
	require.Error(t, tp.p.Start(t.Context()))
}

func TestSizeTriggerSubmitsFullBatch(t *testing.T) {
	tp := newTestPipeline(t, testChainConfig())
	require.NoError(t, tp.p.Start(t.Context()))
	defer func() { require.NoError(t, tp.p.Stop()) }()

	tp.push(t, fakes.Record(1, 20))
	tp.push(t, fakes.Record(1, 21))
	tp.push(t, fakes.Record(1, 22))

	require.Eventually(t, func() bool { return len(tp.ledger.Submissions()) == 1 }, 5*time.Second, 10*time.Millisecond)
	subs := tp.ledger.Submissions()
	require.True(t, subs[0].Batched)
	require.Equal(t, []uint64{20, 21, 22}, submittedBlocks(subs))

	// Every committed record is marked in the cache.
	require.True(t, tp.cache.Has("1:20"))
	require.True(t, tp.cache.Has("1:21"))
	require.True(t, tp.cache.Has("1:22"))
}

func TestTimerTriggerSubmitsPartialBatch(t *testing.T) {
	tp := newTestPipeline(t, testChainConfig())
	require.NoError(t, tp.p.Start(t.Context()))
	defer func() { require.NoError(t, tp.p.Stop()) }()

	tp.push(t, fakes.Record(1, 10))
	tp.push(t, fakes.Record(1, 11))

	require.Eventually(t, func() bool { return len(tp.ledger.Submissions()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []uint64{10, 11}, submittedBlocks(tp.ledger.Submissions()))
}

func TestSingleRecordUsesSinglePath(t *testing.T) {
	tp := newTestPipeline(t, testChainConfig())
	require.NoError(t, tp.p.Start(t.Context()))
	defer func() { require.NoError(t, tp.p.Stop()) }()

	tp.push(t, fakes.Record(1, 7))

	require.Eventually(t, func() bool { return len(tp.ledger.Submissions()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.False(t, tp.ledger.Submissions()[0].Batched)
}

func TestMalformedMessagesAreDiscarded(t *testing.T) {
	tp := newTestPipeline(t, testChainConfig())
	require.NoError(t, tp.p.Start(t.Context()))
	defer func() { require.NoError(t, tp.p.Stop()) }()

	tp.queue.Push([]byte("not json"))
	invalid := fakes.Record(1, 5)
	invalid.MerkleRoot = [32]byte{}
	tp.push(t, invalid)
	wrongChain := fakes.Record(2, 6)
	tp.push(t, wrongChain)

	tp.push(t, fakes.Record(1, 20))
	tp.push(t, fakes.Record(1, 21))
	tp.push(t, fakes.Record(1, 22))

	require.Eventually(t, func() bool { return len(tp.ledger.Submissions()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []uint64{20, 21, 22}, submittedBlocks(tp.ledger.Submissions()))
}

func TestDuplicateNeverReachesAccumulator(t *testing.T) {
	tp := newTestPipeline(t, testChainConfig())
	tp.ledger.Existing[30] = true
	require.NoError(t, tp.p.Start(t.Context()))
	defer func() { require.NoError(t, tp.p.Stop()) }()

	tp.push(t, fakes.Record(1, 30))
	tp.push(t, fakes.Record(1, 31))
	tp.push(t, fakes.Record(1, 32))
	tp.push(t, fakes.Record(1, 33))

	require.Eventually(t, func() bool { return len(tp.ledger.Submissions()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []uint64{31, 32, 33}, submittedBlocks(tp.ledger.Submissions()))
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	cfg := testChainConfig()
	cfg.BatchSize = 1
	tp := newTestPipeline(t, cfg)
	require.NoError(t, tp.p.Start(t.Context()))
	defer func() { require.NoError(t, tp.p.Stop()) }()

	tp.push(t, fakes.Record(1, 50))
	require.Eventually(t, func() bool { return len(tp.ledger.Submissions()) == 1 }, 5*time.Second, 10*time.Millisecond)

	// Simulated at-least-once redelivery: the same record again.
	tp.push(t, fakes.Record(1, 50))
	tp.push(t, fakes.Record(1, 51))
	require.Eventually(t, func() bool { return len(tp.ledger.Submissions()) == 2 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []uint64{50, 51}, submittedBlocks(tp.ledger.Submissions()))
}

func TestFailedBatchRetriesInOriginalOrder(t *testing.T) {
	cfg := testChainConfig()
	cfg.BatchSize = 2
	tp := newTestPipeline(t, cfg)
	tp.ledger.FailTimes = 1
	require.NoError(t, tp.p.Start(t.Context()))
	defer func() { require.NoError(t, tp.p.Stop()) }()

	tp.push(t, fakes.Record(1, 60))
	tp.push(t, fakes.Record(1, 61))

	// First attempt fails; the requeued batch resubmits whole and in order.
	require.Eventually(t, func() bool { return len(tp.ledger.Submissions()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []uint64{60, 61}, submittedBlocks(tp.ledger.Submissions()))
}

func TestStopDrainsPendingBatch(t *testing.T) {
	cfg := testChainConfig()
	cfg.MaxWait = "1h"
	tp := newTestPipeline(t, cfg)
	require.NoError(t, tp.p.Start(t.Context()))

	tp.push(t, fakes.Record(1, 70))
	tp.push(t, fakes.Record(1, 71))
	require.Eventually(t, func() bool {
		return tp.p.Health(t.Context()).PendingCount == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, tp.p.Stop())
	require.Equal(t, []uint64{70, 71}, submittedBlocks(tp.ledger.Submissions()))
}

// laggingQueue delays the consume loop's unwind after cancellation, the way
// a real reader returns from a blocking fetch some time after its context
// is cancelled.
type laggingQueue struct {
	*fakes.Queue
	unwindDelay time.Duration
}

func (q *laggingQueue) Fetch(ctx context.Context) ([]byte, error) {
	payload, err := q.Queue.Fetch(ctx)
	if err != nil {
		time.Sleep(q.unwindDelay)
	}
	return payload, err
}

// cancelAwareLedger refuses writes on a dead context, matching the real EVM
// client's first RPC round trip.
type cancelAwareLedger struct {
	*fakes.Ledger
}

func (l *cancelAwareLedger) SubmitProof(ctx context.Context, record committer.ProofRecord) (*committer.SubmissionReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.Ledger.SubmitProof(ctx, record)
}

func (l *cancelAwareLedger) SubmitProofBatch(ctx context.Context, records []committer.ProofRecord) (*committer.SubmissionReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.Ledger.SubmitProofBatch(ctx, records)
}

func TestStopSubmitsTimerFlushDuringShutdown(t *testing.T) {
	cfg := testChainConfig()
	cfg.BatchSize = 10
	cfg.MaxWait = "30ms"

	queueConsumer := &laggingQueue{Queue: fakes.NewQueue(), unwindDelay: 150 * time.Millisecond}
	ledgerClient := &cancelAwareLedger{Ledger: fakes.NewLedger()}
	p, err := pipeline.NewPipeline(
		pipeline.WithLogger(logger.Test(t)),
		pipeline.WithChainID(1),
		pipeline.WithConfig(cfg),
		pipeline.WithQueue(queueConsumer),
		pipeline.WithCache(fakes.NewCache()),
		pipeline.WithLedger(ledgerClient),
		pipeline.WithMetrics(monitoring.NewNoopCommitterMetricLabeler()),
	)
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))

	payload, err := json.Marshal(fakes.Record(1, 80))
	require.NoError(t, err)
	queueConsumer.Push(payload)
	require.Eventually(t, func() bool {
		return p.Health(t.Context()).PendingCount == 1
	}, 5*time.Second, time.Millisecond)

	// The max-wait timer expires while the consume loop is still unwinding.
	// That flush must run on the live drain context, not the cancelled run
	// context: offsets were already committed, so a batch dropped here would
	// never redeliver.
	require.NoError(t, p.Stop())
	require.Equal(t, []uint64{80}, submittedBlocks(ledgerClient.Submissions()))
}

func TestHealthReportsDependencyProbes(t *testing.T) {
	tp := newTestPipeline(t, testChainConfig())
	require.NoError(t, tp.p.Start(t.Context()))
	defer func() { require.NoError(t, tp.p.Stop()) }()

	snapshot := tp.p.Health(t.Context())
	require.Equal(t, committer.StateRunning, snapshot.State)
	require.True(t, snapshot.QueueHealthy)
	require.True(t, snapshot.LedgerHealthy)
	require.True(t, snapshot.CacheHealthy)
	require.Empty(t, snapshot.ProbeError)

	tp.cache.PingErr = errors.New("connection refused")
	snapshot = tp.p.Health(t.Context())
	require.True(t, snapshot.QueueHealthy)
	require.False(t, snapshot.CacheHealthy)
	require.Contains(t, snapshot.ProbeError, "cache")
}
