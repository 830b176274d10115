package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	committer "github.com/blockproofs/committer"
	"github.com/blockproofs/committer/internal/fakes"
	"github.com/blockproofs/committer/pkg/api"
	"github.com/blockproofs/committer/pkg/monitoring"
	"github.com/blockproofs/committer/pkg/pipeline"
)

func testRegistry(t *testing.T) *pipeline.Registry {
	t.Helper()
	lggr := logger.Test(t)
	registry, err := pipeline.NewRegistry(lggr, func(chainID uint64, cfg *committer.ChainPipelineConfig) (*pipeline.Pipeline, error) {
		return pipeline.NewPipeline(
			pipeline.WithLogger(lggr),
			pipeline.WithChainID(chainID),
			pipeline.WithConfig(cfg),
			pipeline.WithQueue(fakes.NewQueue()),
			pipeline.WithCache(fakes.NewCache()),
			pipeline.WithLedger(fakes.NewLedger()),
			pipeline.WithMetrics(monitoring.NewNoopCommitterMetricLabeler()),
		)
	})
	require.NoError(t, err)
	return registry
}

func chainConfig() *committer.ChainPipelineConfig {
	return &committer.ChainPipelineConfig{
		Queue:     committer.QueueConfig{Brokers: []string{"localhost:9092"}, Topic: "proofs.1", GroupID: "committer"},
		Cache:     committer.CacheConfig{Address: "localhost:6379", TTL: "1h"},
		BatchSize: 10,
		MaxWait:   "10s",
	}
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPing(t *testing.T) {
	router := api.NewV1API(logger.Test(t), testRegistry(t))
	rec := get(t, router, "/v1/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"pong"}`, rec.Body.String())
}

func TestReadyWithoutPipelines(t *testing.T) {
	router := api.NewV1API(logger.Test(t), testRegistry(t))
	rec := get(t, router, "/v1/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyWithRunningPipeline(t *testing.T) {
	registry := testRegistry(t)
	require.NoError(t, registry.Add(t.Context(), 1, chainConfig()))
	defer func() { require.NoError(t, registry.StopAll()) }()

	router := api.NewV1API(logger.Test(t), registry)
	rec := get(t, router, "/v1/ready")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReturnsAllChains(t *testing.T) {
	registry := testRegistry(t)
	require.NoError(t, registry.Add(t.Context(), 1, chainConfig()))
	require.NoError(t, registry.Add(t.Context(), 137, chainConfig()))
	defer func() { require.NoError(t, registry.StopAll()) }()

	router := api.NewV1API(logger.Test(t), registry)
	rec := get(t, router, "/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Chains map[string]committer.HealthSnapshot `json:"chains"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Chains, 2)
	require.Equal(t, committer.StateRunning, body.Chains["1"].State)
	require.True(t, body.Chains["137"].QueueHealthy)
}
