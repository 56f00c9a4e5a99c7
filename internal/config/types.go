package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	EVM            EVMConfig            `yaml:"evm"`
	SVM            SVMConfig            `yaml:"svm"`
	Ledger         LedgerConfig         `yaml:"ledger"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout         Duration `yaml:"read_timeout"`
	WriteTimeout        Duration `yaml:"write_timeout"`
	IdleTimeout         Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins  []string `yaml:"cors_allowed_origins"`
	RoutePrefix         string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey  string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics endpoint (leave empty to disable protection)
	AdminWallet         string   `yaml:"admin_wallet"`          // Base58 Solana pubkey authorized to sign admin maintenance requests (leave empty to disable the endpoint)
}

// EVMChainConfig configures one EIP-3009 capable EVM network the facilitator
// verifies and settles payments on.
type EVMChainConfig struct {
	Network       string `yaml:"network"`       // x402.Network value, e.g. "base", "base-sepolia"
	ChainID       int64  `yaml:"chain_id"`
	RPCURL        string `yaml:"rpc_url"`
	USDCAddress   string `yaml:"usdc_address"` // ERC-3009 token contract accepted on this chain
	Confirmations uint64 `yaml:"confirmations"`
}

// EVMConfig holds facilitator configuration for EVM-based settlement.
type EVMConfig struct {
	Chains            []EVMChainConfig `yaml:"chains"`
	SettlementPrivKey string           `yaml:"-"` // loaded from EVM_SETTLEMENT_PRIVATE_KEY, hex-encoded
}

// SVMClusterConfig configures one Solana cluster the facilitator verifies and
// settles SPL TransferChecked payments on.
type SVMClusterConfig struct {
	Network       string `yaml:"network"` // x402.Network value, e.g. "solana", "solana-devnet"
	RPCURL        string `yaml:"rpc_url"`
	WSURL         string `yaml:"ws_url"`
	Commitment    string `yaml:"commitment"`
	USDCMint      string `yaml:"usdc_mint"`
	Confirmations uint64 `yaml:"confirmations"`
}

// SVMConfig holds facilitator configuration for Solana-based settlement.
type SVMConfig struct {
	Clusters     []SVMClusterConfig `yaml:"clusters"`
	FeePayerKey  string             `yaml:"-"` // loaded from SVM_FEE_PAYER_KEY, base58 or JSON array
}

// LedgerConfig holds durable nonce/transaction ledger configuration.
type LedgerConfig struct {
	PostgresURL  string             `yaml:"postgres_url"`
	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"`
}

// MonitoringConfig holds hot-wallet balance monitoring configuration.
type MonitoringConfig struct {
	LowBalanceAlertURL  string            `yaml:"low_balance_alert_url"` // Webhook URL for low balance alerts (Discord, Slack, etc.)
	LowBalanceThreshold float64           `yaml:"low_balance_threshold"` // Native-token threshold to trigger alert
	CheckInterval       Duration          `yaml:"check_interval"`        // How often to check balances (default: 15m)
	Headers             map[string]string `yaml:"headers"`               // Custom headers for webhook
	BodyTemplate        string            `yaml:"body_template"`         // Custom body template (Go template)
	Timeout             Duration          `yaml:"timeout"`               // Request timeout (default: 5s)
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// RateLimitConfig holds rate limiting configuration.
// Provides multi-tier rate limiting to prevent spam while allowing legitimate use.
type RateLimitConfig struct {
	// Global rate limiting (across all users)
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-wallet rate limiting (identified by the payer address on the payload)
	PerWalletEnabled bool     `yaml:"per_wallet_enabled"`
	PerWalletLimit   int      `yaml:"per_wallet_limit"`
	PerWalletWindow  Duration `yaml:"per_wallet_window"`

	// Per-IP rate limiting (fallback when no payer is identified)
	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for upstream RPC
// providers. Prevents cascading failures by failing fast when a chain's RPC
// is degraded.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"`  // Enable circuit breakers (default: true)
	EVMRPC  BreakerServiceConfig `yaml:"evm_rpc"`  // EVM JSON-RPC circuit breaker
	SVMRPC  BreakerServiceConfig `yaml:"svm_rpc"`  // Solana RPC circuit breaker
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
