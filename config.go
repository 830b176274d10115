package committer

import (
	"fmt"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Configuration is the top-level service configuration, loaded from TOML.
// Chains maps a decimal chain ID to the configuration bundle for that
// chain's pipeline. The mapping is explicit and validated at startup; a
// configuration change requires recreating the affected pipeline.
type Configuration struct {
	API        APIConfig                       `toml:"API"`
	Monitoring MonitoringConfig                `toml:"Monitoring"`
	Chains     map[string]*ChainPipelineConfig `toml:"chains"`

	// chainsParsed holds the chain-ID-keyed bundles, populated during validation.
	chainsParsed map[uint64]*ChainPipelineConfig
}

// ChainPipelineConfig is immutable configuration bound to one pipeline at
// construction.
type ChainPipelineConfig struct {
	Queue  QueueConfig  `toml:"Queue"`
	Ledger LedgerConfig `toml:"Ledger"`
	Cache  CacheConfig  `toml:"Cache"`

	// BatchSize is the size trigger: a submission fires as soon as this many
	// records are pending.
	BatchSize int `toml:"batchSize"`
	// MaxWait is the time trigger: no record waits longer than this before a
	// submission fires, regardless of batch size.
	MaxWait string `toml:"maxWait"`
	// RetryBackoff is the fixed delay before a failed batch is requeued.
	RetryBackoff string `toml:"retryBackoff"`
	// FlushTimeout bounds the final drain during shutdown.
	FlushTimeout string `toml:"flushTimeout"`
}

func (c *ChainPipelineConfig) GetMaxWait() time.Duration {
	d, err := time.ParseDuration(c.MaxWait)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

func (c *ChainPipelineConfig) GetRetryBackoff() time.Duration {
	d, err := time.ParseDuration(c.RetryBackoff)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

func (c *ChainPipelineConfig) GetFlushTimeout() time.Duration {
	d, err := time.ParseDuration(c.FlushTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// QueueConfig holds the Kafka connection parameters for one pipeline.
type QueueConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"groupID"`
}

// LedgerConfig holds the RPC, signing and fee parameters for one pipeline.
// The private key is never stored in the config file: PrivateKeyEnv names
// the environment variable it is read from at startup.
type LedgerConfig struct {
	RPCURL          string `toml:"rpcURL"`
	ContractAddress string `toml:"contractAddress"`
	PrivateKeyEnv   string `toml:"privateKeyEnv"`
	// GasLimit is the resource ceiling for the single-item commit path.
	GasLimit uint64 `toml:"gasLimit"`
	// BatchGasLimitPerProof scales the multi-item ceiling linearly with
	// batch size.
	BatchGasLimitPerProof uint64 `toml:"batchGasLimitPerProof"`
	// GasPriceWei pins the gas price; 0 means ask the node.
	GasPriceWei int64 `toml:"gasPriceWei"`

	privateKey string
}

// PrivateKey returns the hex-encoded signing key loaded from the environment.
func (l *LedgerConfig) PrivateKey() string { return l.privateKey }

// CacheConfig holds the Redis connection parameters for one pipeline.
type CacheConfig struct {
	Address   string `toml:"address"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"keyPrefix"`
	// TTL bounds cache growth; the ledger stays authoritative.
	TTL string `toml:"ttl"`
}

func (c *CacheConfig) GetTTL() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return time.Hour
	}
	return d
}

// APIConfig configures the health/readiness HTTP surface.
type APIConfig struct {
	Port int `toml:"port"`
}

// Validate checks the whole configuration and populates the parsed
// chain-ID map. It is called once at startup; a failure is fatal.
func (c *Configuration) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("no chains configured")
	}

	c.chainsParsed = make(map[uint64]*ChainPipelineConfig, len(c.Chains))
	for key, chain := range c.Chains {
		chainID, err := strconv.ParseUint(key, 10, 64)
		if err != nil || chainID == 0 {
			return fmt.Errorf("invalid chain ID %q: must be a positive integer", key)
		}
		if err := chain.Validate(); err != nil {
			return fmt.Errorf("chain %d: %w", chainID, err)
		}
		c.chainsParsed[chainID] = chain
	}

	if err := c.Monitoring.Validate(); err != nil {
		return fmt.Errorf("monitoring config validation failed: %w", err)
	}

	return nil
}

// Validate checks a single chain's configuration bundle.
func (c *ChainPipelineConfig) Validate() error {
	err := validation.ValidateStruct(
		c,
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
	)
	if err != nil {
		return err
	}

	err = validation.ValidateStruct(
		&c.Queue,
		validation.Field(&c.Queue.Brokers, validation.Required),
		validation.Field(&c.Queue.Topic, validation.Required),
		validation.Field(&c.Queue.GroupID, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}

	err = validation.ValidateStruct(
		&c.Ledger,
		validation.Field(&c.Ledger.RPCURL, validation.Required),
		validation.Field(&c.Ledger.ContractAddress, validation.Required),
		validation.Field(&c.Ledger.PrivateKeyEnv, validation.Required),
		validation.Field(&c.Ledger.GasLimit, validation.Required),
		validation.Field(&c.Ledger.BatchGasLimitPerProof, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	err = validation.ValidateStruct(
		&c.Cache,
		validation.Field(&c.Cache.Address, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	return nil
}

// LoadFromEnvironment resolves secret material referenced by the config.
// Must be called after Validate.
func (c *Configuration) LoadFromEnvironment() error {
	for chainID, chain := range c.chainsParsed {
		key, ok := os.LookupEnv(chain.Ledger.PrivateKeyEnv)
		if !ok || key == "" {
			return fmt.Errorf("chain %d: environment variable %s is not set", chainID, chain.Ledger.PrivateKeyEnv)
		}
		chain.Ledger.privateKey = key
	}
	return nil
}

// ChainConfigs returns the validated chain-ID-keyed configuration bundles.
func (c *Configuration) ChainConfigs() map[uint64]*ChainPipelineConfig {
	return c.chainsParsed
}

// MonitoringConfig provides monitoring configuration for the committer.
type MonitoringConfig struct {
	// Enabled enables the monitoring system.
	Enabled bool `toml:"Enabled"`
	// Type is the type of monitoring system to use (beholder, noop).
	Type string `toml:"Type"`
	// Beholder is the configuration for the beholder client (not required if type is noop).
	Beholder BeholderConfig `toml:"Beholder"`
	// PyroscopeURL enables continuous profiling when set.
	PyroscopeURL string `toml:"PyroscopeURL"`
}

// BeholderConfig wraps OpenTelemetry configuration for the beholder client.
type BeholderConfig struct {
	// InsecureConnection disables TLS for the beholder client.
	InsecureConnection bool `toml:"InsecureConnection"`
	// CACertFile is the path to the CA certificate file for the beholder client.
	CACertFile string `toml:"CACertFile"`
	// OtelExporterGRPCEndpoint is the endpoint for the beholder client to export to the collector.
	OtelExporterGRPCEndpoint string `toml:"OtelExporterGRPCEndpoint"`
	// OtelExporterHTTPEndpoint is the endpoint for the beholder client to export to the collector.
	OtelExporterHTTPEndpoint string `toml:"OtelExporterHTTPEndpoint"`
	// LogStreamingEnabled enables log streaming to the collector.
	LogStreamingEnabled bool `toml:"LogStreamingEnabled"`
	// MetricReaderInterval is the interval to scrape metrics (in seconds).
	MetricReaderInterval int64 `toml:"MetricReaderInterval"`
	// TraceSampleRatio is the ratio of traces to sample.
	TraceSampleRatio float64 `toml:"TraceSampleRatio"`
	// TraceBatchTimeout is the timeout for a batch of traces (in seconds).
	TraceBatchTimeout int64 `toml:"TraceBatchTimeout"`
}

// Validate performs validation on the monitoring configuration.
func (m *MonitoringConfig) Validate() error {
	if m.Enabled && m.Type == "" {
		return fmt.Errorf("monitoring type is required when monitoring is enabled")
	}

	if m.Enabled && m.Type == "beholder" {
		if err := m.Beholder.Validate(); err != nil {
			return fmt.Errorf("beholder config validation failed: %w", err)
		}
	}

	return nil
}

// Validate performs validation on the beholder configuration.
func (b *BeholderConfig) Validate() error {
	if b.MetricReaderInterval <= 0 {
		return fmt.Errorf("metric_reader_interval must be positive, got %d", b.MetricReaderInterval)
	}

	if b.TraceSampleRatio < 0 || b.TraceSampleRatio > 1 {
		return fmt.Errorf("trace_sample_ratio must be between 0 and 1, got %f", b.TraceSampleRatio)
	}

	if b.TraceBatchTimeout <= 0 {
		return fmt.Errorf("trace_batch_timeout must be positive, got %d", b.TraceBatchTimeout)
	}

	return nil
}
