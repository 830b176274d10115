package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/smartcontractkit/chainlink-common/pkg/beholder"
	"github.com/smartcontractkit/chainlink-common/pkg/metrics"

	committer "github.com/blockproofs/committer"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// CommitterMetrics provides all metrics for the proof committer.
type CommitterMetrics struct {
	// Latency
	submissionLatency metric.Float64Histogram

	// Processing counters
	proofsProcessedCounter      metric.Int64Counter
	duplicatesSkippedCounter    metric.Int64Counter
	malformedMessagesCounter    metric.Int64Counter
	submissionsSucceededCounter metric.Int64Counter
	submissionsFailedCounter    metric.Int64Counter
	gasUsedCounter              metric.Int64Counter

	// Batch observations
	batchSizeHistogram metric.Int64Histogram
	pendingCountGauge  metric.Int64Gauge
}

// InitMetrics initializes all committer metrics.
func InitMetrics() (*CommitterMetrics, error) {
	cm := &CommitterMetrics{}
	var err error

	cm.submissionLatency, err = beholder.GetMeter().Float64Histogram(
		"committer_submission_duration_seconds",
		metric.WithDescription("Duration of a full batch submission including confirmation wait"),
		metric.WithUnit("seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register submission latency histogram: %w", err)
	}

	cm.proofsProcessedCounter, err = beholder.GetMeter().Int64Counter(
		"committer_proofs_processed_total",
		metric.WithDescription("Total number of records accepted into the accumulator"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register proofs processed counter: %w", err)
	}

	cm.duplicatesSkippedCounter, err = beholder.GetMeter().Int64Counter(
		"committer_duplicates_skipped_total",
		metric.WithDescription("Total number of records dropped by the dedup check"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register duplicates skipped counter: %w", err)
	}

	cm.malformedMessagesCounter, err = beholder.GetMeter().Int64Counter(
		"committer_malformed_messages_total",
		metric.WithDescription("Total number of unparsable or structurally invalid queue messages"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register malformed messages counter: %w", err)
	}

	cm.submissionsSucceededCounter, err = beholder.GetMeter().Int64Counter(
		"committer_submissions_succeeded_total",
		metric.WithDescription("Total number of confirmed batch submissions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register submissions succeeded counter: %w", err)
	}

	cm.submissionsFailedCounter, err = beholder.GetMeter().Int64Counter(
		"committer_submissions_failed_total",
		metric.WithDescription("Total number of failed batch submissions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register submissions failed counter: %w", err)
	}

	cm.gasUsedCounter, err = beholder.GetMeter().Int64Counter(
		"committer_gas_used_total",
		metric.WithDescription("Cumulative gas consumed by confirmed proof-store writes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register gas used counter: %w", err)
	}

	cm.batchSizeHistogram, err = beholder.GetMeter().Int64Histogram(
		"committer_batch_size",
		metric.WithDescription("Number of records per submitted batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register batch size histogram: %w", err)
	}

	cm.pendingCountGauge, err = beholder.GetMeter().Int64Gauge(
		"committer_pending_count",
		metric.WithDescription("Current size of the accumulator working set"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register pending count gauge: %w", err)
	}

	return cm, nil
}

// MetricViews defines histogram bucket boundaries for committer metrics.
func MetricViews() []sdkmetric.View {
	return []sdkmetric.View{
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "committer_submission_duration_seconds"},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: []float64{0.5, 1, 2, 5, 10, 15, 30, 60, 120, 300},
			}},
		),
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "committer_batch_size"},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: []float64{1, 2, 5, 10, 20, 50, 100},
			}},
		),
	}
}

var _ committer.MetricLabeler = &CommitterMetricLabeler{}

// CommitterMetricLabeler wraps CommitterMetrics with label support.
type CommitterMetricLabeler struct {
	metrics.Labeler
	cm *CommitterMetrics
}

// NewCommitterMetricLabeler creates a new committer metric labeler.
func NewCommitterMetricLabeler(labeler metrics.Labeler, cm *CommitterMetrics) committer.MetricLabeler {
	return &CommitterMetricLabeler{
		Labeler: labeler,
		cm:      cm,
	}
}

func (v *CommitterMetricLabeler) With(keyValues ...string) committer.MetricLabeler {
	return &CommitterMetricLabeler{v.Labeler.With(keyValues...), v.cm}
}

func (v *CommitterMetricLabeler) IncrementProofsProcessed(ctx context.Context) {
	otelLabels := beholder.OtelAttributes(v.Labels).AsStringAttributes()
	v.cm.proofsProcessedCounter.Add(ctx, 1, metric.WithAttributes(otelLabels...))
}

func (v *CommitterMetricLabeler) IncrementDuplicatesSkipped(ctx context.Context) {
	otelLabels := beholder.OtelAttributes(v.Labels).AsStringAttributes()
	v.cm.duplicatesSkippedCounter.Add(ctx, 1, metric.WithAttributes(otelLabels...))
}

func (v *CommitterMetricLabeler) IncrementMalformedMessages(ctx context.Context) {
	otelLabels := beholder.OtelAttributes(v.Labels).AsStringAttributes()
	v.cm.malformedMessagesCounter.Add(ctx, 1, metric.WithAttributes(otelLabels...))
}

func (v *CommitterMetricLabeler) IncrementSubmissionsSucceeded(ctx context.Context) {
	otelLabels := beholder.OtelAttributes(v.Labels).AsStringAttributes()
	v.cm.submissionsSucceededCounter.Add(ctx, 1, metric.WithAttributes(otelLabels...))
}

func (v *CommitterMetricLabeler) IncrementSubmissionsFailed(ctx context.Context) {
	otelLabels := beholder.OtelAttributes(v.Labels).AsStringAttributes()
	v.cm.submissionsFailedCounter.Add(ctx, 1, metric.WithAttributes(otelLabels...))
}

func (v *CommitterMetricLabeler) RecordBatchSize(ctx context.Context, size int) {
	otelLabels := beholder.OtelAttributes(v.Labels).AsStringAttributes()
	v.cm.batchSizeHistogram.Record(ctx, int64(size), metric.WithAttributes(otelLabels...))
}

func (v *CommitterMetricLabeler) RecordSubmissionLatency(ctx context.Context, duration time.Duration) {
	otelLabels := beholder.OtelAttributes(v.Labels).AsStringAttributes()
	v.cm.submissionLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(otelLabels...))
}

func (v *CommitterMetricLabeler) RecordGasUsed(ctx context.Context, gasUsed uint64) {
	otelLabels := beholder.OtelAttributes(v.Labels).AsStringAttributes()
	v.cm.gasUsedCounter.Add(ctx, int64(gasUsed), metric.WithAttributes(otelLabels...)) //nolint:gosec // gas fits in int64
}

func (v *CommitterMetricLabeler) RecordPendingCount(ctx context.Context, count int) {
	otelLabels := beholder.OtelAttributes(v.Labels).AsStringAttributes()
	v.cm.pendingCountGauge.Record(ctx, int64(count), metric.WithAttributes(otelLabels...))
}
