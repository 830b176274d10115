package monitoring

import (
	"context"
	"time"

	committer "github.com/blockproofs/committer"
)

var _ committer.Monitoring = (*NoopCommitterMonitoring)(nil)

type NoopCommitterMonitoring struct {
	noop committer.MetricLabeler
}

func NewNoopCommitterMonitoring() committer.Monitoring {
	return &NoopCommitterMonitoring{noop: NewNoopCommitterMetricLabeler()}
}

func (n *NoopCommitterMonitoring) Metrics() committer.MetricLabeler {
	return n.noop
}

type NoopCommitterMetricLabeler struct{}

func NewNoopCommitterMetricLabeler() committer.MetricLabeler {
	return &NoopCommitterMetricLabeler{}
}

func (n *NoopCommitterMetricLabeler) With(keyValues ...string) committer.MetricLabeler { return n }

func (n *NoopCommitterMetricLabeler) IncrementProofsProcessed(ctx context.Context) {}

func (n *NoopCommitterMetricLabeler) IncrementDuplicatesSkipped(ctx context.Context) {}

func (n *NoopCommitterMetricLabeler) IncrementMalformedMessages(ctx context.Context) {}

func (n *NoopCommitterMetricLabeler) IncrementSubmissionsSucceeded(ctx context.Context) {}

func (n *NoopCommitterMetricLabeler) IncrementSubmissionsFailed(ctx context.Context) {}

func (n *NoopCommitterMetricLabeler) RecordBatchSize(ctx context.Context, size int) {}

func (n *NoopCommitterMetricLabeler) RecordSubmissionLatency(ctx context.Context, duration time.Duration) {
}

func (n *NoopCommitterMetricLabeler) RecordGasUsed(ctx context.Context, gasUsed uint64) {}

func (n *NoopCommitterMetricLabeler) RecordPendingCount(ctx context.Context, count int) {}
