package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Monitoring.LowBalanceThreshold <= 0 {
		c.Monitoring.LowBalanceThreshold = 0.01
	}
	if c.Monitoring.CheckInterval.Duration <= 0 {
		c.Monitoring.CheckInterval = Duration{Duration: 15 * time.Minute}
	}
	if c.Monitoring.Timeout.Duration <= 0 {
		c.Monitoring.Timeout = Duration{Duration: 5 * time.Second}
	}
	if c.Monitoring.Headers == nil {
		c.Monitoring.Headers = make(map[string]string)
	}

	for i, chain := range c.EVM.Chains {
		if chain.Confirmations == 0 {
			c.EVM.Chains[i].Confirmations = 1
		}
	}
	for i, cluster := range c.SVM.Clusters {
		if cluster.Commitment == "" {
			cluster.Commitment = "confirmed"
		}
		switch strings.ToLower(cluster.Commitment) {
		case "processed", "confirmed", "finalized", "finalised":
		default:
			cluster.Commitment = "confirmed"
		}
		if cluster.WSURL == "" && cluster.RPCURL != "" {
			wsURL, err := deriveWebsocketURL(cluster.RPCURL)
			if err == nil {
				cluster.WSURL = wsURL
			}
		}
		c.SVM.Clusters[i] = cluster
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	if len(c.EVM.Chains) == 0 && len(c.SVM.Clusters) == 0 {
		errs = append(errs, "at least one evm.chains or svm.clusters entry is required")
	}

	seenEVM := make(map[string]bool)
	for _, chain := range c.EVM.Chains {
		if chain.Network == "" {
			errs = append(errs, "evm.chains entries require a network")
			continue
		}
		if seenEVM[chain.Network] {
			errs = append(errs, fmt.Sprintf("evm.chains has a duplicate network %q", chain.Network))
		}
		seenEVM[chain.Network] = true
		if chain.RPCURL == "" {
			errs = append(errs, fmt.Sprintf("evm.chains[%s].rpc_url is required", chain.Network))
		}
		if chain.ChainID == 0 {
			errs = append(errs, fmt.Sprintf("evm.chains[%s].chain_id is required", chain.Network))
		}
		if chain.USDCAddress == "" {
			errs = append(errs, fmt.Sprintf("evm.chains[%s].usdc_address is required", chain.Network))
		}
	}
	if len(c.EVM.Chains) > 0 && c.EVM.SettlementPrivKey == "" {
		errs = append(errs, "EVM_SETTLEMENT_PRIVATE_KEY is required when evm.chains is configured")
	}

	seenSVM := make(map[string]bool)
	for _, cluster := range c.SVM.Clusters {
		if cluster.Network == "" {
			errs = append(errs, "svm.clusters entries require a network")
			continue
		}
		if seenSVM[cluster.Network] {
			errs = append(errs, fmt.Sprintf("svm.clusters has a duplicate network %q", cluster.Network))
		}
		seenSVM[cluster.Network] = true
		if cluster.RPCURL == "" {
			errs = append(errs, fmt.Sprintf("svm.clusters[%s].rpc_url is required", cluster.Network))
		}
		if cluster.USDCMint == "" {
			errs = append(errs, fmt.Sprintf("svm.clusters[%s].usdc_mint is required", cluster.Network))
		}
	}
	if len(c.SVM.Clusters) > 0 && c.SVM.FeePayerKey == "" {
		errs = append(errs, "SVM_FEE_PAYER_KEY is required when svm.clusters is configured")
	}

	if c.Ledger.PostgresURL == "" {
		errs = append(errs, "ledger.postgres_url is required")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// deriveWebsocketURL converts an HTTP(S) RPC URL to WS(S) format.
func deriveWebsocketURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("rpc url empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
		return raw, nil
	case "":
		return "", errors.New("rpc url missing scheme")
	default:
		return "", fmt.Errorf("unsupported rpc url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
