package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Admission AdmissionConfig `yaml:"admission"`
	Mempool   MempoolConfig   `yaml:"mempool"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Producer  ProducerConfig  `yaml:"producer"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// GatewayConfig holds the network-facing service settings.
type GatewayConfig struct {
	ListenAddr         string        `yaml:"listen_addr"`
	WSAddr             string        `yaml:"ws_addr"`
	MaxInFlightSubmits int64         `yaml:"max_inflight_submits"`
	MaxInFlightQueries int64         `yaml:"max_inflight_queries"`
	DefaultTimeout     time.Duration `yaml:"default_timeout"`
	MaxRequestBytes    int64         `yaml:"max_request_bytes"`
	MaxQueryItems      int           `yaml:"max_query_items"`
	OverloadBackoff    time.Duration `yaml:"overload_backoff"`
}

// AdmissionConfig bounds each adapter call made by the admission pipeline.
type AdmissionConfig struct {
	ValidateTimeout  time.Duration `yaml:"validate_timeout"`
	SubmitTimeout    time.Duration `yaml:"submit_timeout"`
	QueryTimeout     time.Duration `yaml:"query_timeout"`
	// CapacityBackoff is suggested to clients rejected with MempoolFull.
	CapacityBackoff  time.Duration `yaml:"capacity_backoff"`
	// TransientBackoff is suggested to clients on timeouts and pool outages.
	TransientBackoff time.Duration `yaml:"transient_backoff"`
}

// MempoolConfig holds the transaction pool and pool client settings.
type MempoolConfig struct {
	Capacity     int         `yaml:"capacity"`
	MaxPerSender int         `yaml:"max_per_sender"`
	Retry        RetryConfig `yaml:"retry"`
}

// RetryConfig is the retry policy of the pool client.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// LedgerConfig holds the ledger storage settings.
type LedgerConfig struct {
	DataDir              string `yaml:"datadir"` // empty = in-memory
	ChainID              uint64 `yaml:"chain_id"`
	PruneWindow          uint64 `yaml:"prune_window"` // 0 = keep every version
	AccumulatorCacheSize int    `yaml:"accumulator_cache_size"`
}

// ProducerConfig holds the devnet committer settings.
type ProducerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	MaxTxPerBlock int           `yaml:"max_tx_per_block"`
	TxGas         uint64        `yaml:"tx_gas"` // gas charged per committed transaction
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // terminal | json
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.MaxInFlightSubmits <= 0 {
		errs = append(errs, errors.New("gateway.max_inflight_submits must be positive"))
	}
	if c.Gateway.MaxInFlightQueries <= 0 {
		errs = append(errs, errors.New("gateway.max_inflight_queries must be positive"))
	}
	if c.Gateway.DefaultTimeout <= 0 {
		errs = append(errs, errors.New("gateway.default_timeout must be positive"))
	}
	if c.Gateway.MaxQueryItems <= 0 {
		errs = append(errs, errors.New("gateway.max_query_items must be positive"))
	}
	if c.Admission.ValidateTimeout <= 0 || c.Admission.SubmitTimeout <= 0 || c.Admission.QueryTimeout <= 0 {
		errs = append(errs, errors.New("admission timeouts must be positive"))
	}
	if c.Admission.CapacityBackoff < 0 || c.Admission.TransientBackoff < 0 {
		errs = append(errs, errors.New("admission backoffs must not be negative"))
	}
	if c.Mempool.Capacity <= 0 {
		errs = append(errs, errors.New("mempool.capacity must be positive"))
	}
	if c.Mempool.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("mempool.retry.max_attempts must be at least 1"))
	}
	if c.Producer.Enabled && c.Producer.Interval <= 0 {
		errs = append(errs, errors.New("producer.interval must be positive when the producer is enabled"))
	}
	switch c.Logging.Format {
	case "terminal", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q: want terminal or json", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ListenAddr:         "0.0.0.0:8080",
			WSAddr:             "0.0.0.0:8081",
			MaxInFlightSubmits: 512,
			MaxInFlightQueries: 1024,
			DefaultTimeout:     5 * time.Second,
			MaxRequestBytes:    1 << 20,
			MaxQueryItems:      16,
			OverloadBackoff:    250 * time.Millisecond,
		},
		Admission: AdmissionConfig{
			ValidateTimeout:  500 * time.Millisecond,
			SubmitTimeout:    2 * time.Second,
			QueryTimeout:     2 * time.Second,
			CapacityBackoff:  time.Second,
			TransientBackoff: 500 * time.Millisecond,
		},
		Mempool: MempoolConfig{
			Capacity:     10_000,
			MaxPerSender: 100,
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: 50 * time.Millisecond,
				MaxBackoff:     500 * time.Millisecond,
				Multiplier:     2,
			},
		},
		Ledger: LedgerConfig{
			DataDir:              "",
			ChainID:              42069,
			PruneWindow:          0,
			AccumulatorCacheSize: 1024,
		},
		Producer: ProducerConfig{
			Enabled:       true,
			Interval:      time.Second,
			MaxTxPerBlock: 500,
			TxGas:         600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "terminal",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "0.0.0.0:6060",
		},
	}
}
