package committer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	committer "github.com/blockproofs/committer"
	"github.com/blockproofs/committer/pkg/configuration"
)

const validTOML = `
[API]
port = 8100

[Monitoring]
Enabled = false

[chains.1]
batchSize = 10
maxWait = "10s"
retryBackoff = "5s"
flushTimeout = "30s"

[chains.1.Queue]
brokers = ["localhost:9092"]
topic = "proofs.1"
groupID = "committer"

[chains.1.Ledger]
rpcURL = "http://localhost:8545"
contractAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
privateKeyEnv = "COMMITTER_PRIVATE_KEY_1"
gasLimit = 300000
batchGasLimitPerProof = 150000

[chains.1.Cache]
address = "localhost:6379"
db = 0
keyPrefix = "proofs"
ttl = "1h"

[chains.137]
batchSize = 25
maxWait = "2s"

[chains.137.Queue]
brokers = ["localhost:9092"]
topic = "proofs.137"
groupID = "committer"

[chains.137.Ledger]
rpcURL = "http://localhost:8546"
contractAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
privateKeyEnv = "COMMITTER_PRIVATE_KEY_137"
gasLimit = 300000
batchGasLimitPerProof = 150000

[chains.137.Cache]
address = "localhost:6379"
db = 1
`

func loadValid(t *testing.T) *committer.Configuration {
	t.Helper()
	cfg, err := configuration.LoadConfigString(validTOML)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestLoadConfigString(t *testing.T) {
	cfg := loadValid(t)

	require.Equal(t, 8100, cfg.API.Port)
	require.Len(t, cfg.ChainConfigs(), 2)

	mainnet := cfg.ChainConfigs()[1]
	require.NotNil(t, mainnet)
	require.Equal(t, 10, mainnet.BatchSize)
	require.Equal(t, 10*time.Second, mainnet.GetMaxWait())
	require.Equal(t, 5*time.Second, mainnet.GetRetryBackoff())
	require.Equal(t, 30*time.Second, mainnet.GetFlushTimeout())
	require.Equal(t, "proofs.1", mainnet.Queue.Topic)
	require.Equal(t, time.Hour, mainnet.Cache.GetTTL())

	polygon := cfg.ChainConfigs()[137]
	require.NotNil(t, polygon)
	require.Equal(t, 2*time.Second, polygon.GetMaxWait())
}

func TestDurationDefaults(t *testing.T) {
	cfg := &committer.ChainPipelineConfig{}
	require.Equal(t, 10*time.Second, cfg.GetMaxWait())
	require.Equal(t, 5*time.Second, cfg.GetRetryBackoff())
	require.Equal(t, 30*time.Second, cfg.GetFlushTimeout())
	require.Equal(t, time.Hour, (&committer.CacheConfig{}).GetTTL())
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	testcases := []struct {
		name   string
		mutate func(*committer.Configuration)
	}{
		{
			name:   "no chains",
			mutate: func(c *committer.Configuration) { c.Chains = nil },
		},
		{
			name: "non-numeric chain key",
			mutate: func(c *committer.Configuration) {
				c.Chains["mainnet"] = c.Chains["1"]
				delete(c.Chains, "1")
			},
		},
		{
			name: "zero chain ID",
			mutate: func(c *committer.Configuration) {
				c.Chains["0"] = c.Chains["1"]
				delete(c.Chains, "1")
			},
		},
		{
			name:   "zero batch size",
			mutate: func(c *committer.Configuration) { c.Chains["1"].BatchSize = 0 },
		},
		{
			name:   "missing brokers",
			mutate: func(c *committer.Configuration) { c.Chains["1"].Queue.Brokers = nil },
		},
		{
			name:   "missing topic",
			mutate: func(c *committer.Configuration) { c.Chains["1"].Queue.Topic = "" },
		},
		{
			name:   "missing rpc url",
			mutate: func(c *committer.Configuration) { c.Chains["1"].Ledger.RPCURL = "" },
		},
		{
			name:   "missing contract address",
			mutate: func(c *committer.Configuration) { c.Chains["1"].Ledger.ContractAddress = "" },
		},
		{
			name:   "missing private key env",
			mutate: func(c *committer.Configuration) { c.Chains["1"].Ledger.PrivateKeyEnv = "" },
		},
		{
			name:   "missing gas limit",
			mutate: func(c *committer.Configuration) { c.Chains["1"].Ledger.GasLimit = 0 },
		},
		{
			name:   "missing cache address",
			mutate: func(c *committer.Configuration) { c.Chains["1"].Cache.Address = "" },
		},
		{
			name: "monitoring enabled without type",
			mutate: func(c *committer.Configuration) {
				c.Monitoring.Enabled = true
				c.Monitoring.Type = ""
			},
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := configuration.LoadConfigString(validTOML)
			require.NoError(t, err)
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	cfg := loadValid(t)

	t.Setenv("COMMITTER_PRIVATE_KEY_1", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	t.Setenv("COMMITTER_PRIVATE_KEY_137", "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")

	require.NoError(t, cfg.LoadFromEnvironment())
	require.Equal(t,
		"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
		cfg.ChainConfigs()[1].Ledger.PrivateKey(),
	)
}

func TestLoadFromEnvironmentMissingKey(t *testing.T) {
	cfg := loadValid(t)

	t.Setenv("COMMITTER_PRIVATE_KEY_1", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	// COMMITTER_PRIVATE_KEY_137 deliberately unset.

	require.Error(t, cfg.LoadFromEnvironment())
}
