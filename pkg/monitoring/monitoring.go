// Package monitoring provides beholder-based monitoring for the committer,
// plus a no-op implementation for tests and metrics-disabled deployments.
package monitoring

import (
	"fmt"
	"time"

	"github.com/grafana/pyroscope-go"

	"github.com/smartcontractkit/chainlink-common/pkg/beholder"
	"github.com/smartcontractkit/chainlink-common/pkg/metrics"

	committer "github.com/blockproofs/committer"
)

// CommitterBeholderMonitoring provides beholder-based monitoring for the committer.
type CommitterBeholderMonitoring struct {
	metrics committer.MetricLabeler
}

// InitMonitoring initializes the beholder monitoring system for the committer.
func InitMonitoring(config committer.MonitoringConfig) (committer.Monitoring, error) {
	beholderConfig := beholder.Config{
		InsecureConnection:       config.Beholder.InsecureConnection,
		CACertFile:               config.Beholder.CACertFile,
		OtelExporterGRPCEndpoint: config.Beholder.OtelExporterGRPCEndpoint,
		OtelExporterHTTPEndpoint: config.Beholder.OtelExporterHTTPEndpoint,
		LogStreamingEnabled:      config.Beholder.LogStreamingEnabled,
		MetricReaderInterval:     time.Second * time.Duration(config.Beholder.MetricReaderInterval),
		TraceSampleRatio:         config.Beholder.TraceSampleRatio,
		TraceBatchTimeout:        time.Second * time.Duration(config.Beholder.TraceBatchTimeout),
		// Note: due to OTEL spec, all histogram buckets must be defined when
		// the beholder client is created.
		MetricViews: MetricViews(),
	}

	client, err := beholder.NewClient(beholderConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create beholder client: %w", err)
	}
	beholder.SetClient(client)
	beholder.SetGlobalOtelProviders()

	committerMetrics, err := InitMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize committer metrics: %w", err)
	}

	if config.PyroscopeURL != "" {
		if _, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "committer",
			ServerAddress:   config.PyroscopeURL,
			Logger:          pyroscope.StandardLogger,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileGoroutines,
				pyroscope.ProfileBlockDuration,
				pyroscope.ProfileMutexDuration,
			},
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize pyroscope client: %w", err)
		}
	}

	return &CommitterBeholderMonitoring{
		metrics: NewCommitterMetricLabeler(metrics.NewLabeler(), committerMetrics),
	}, nil
}

func (m *CommitterBeholderMonitoring) Metrics() committer.MetricLabeler {
	return m.metrics
}
