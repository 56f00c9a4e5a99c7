package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "X402_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "X402_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "X402_ADMIN_METRICS_API_KEY")
	setIfEnv(&c.Server.AdminWallet, "X402_ADMIN_WALLET")

	// Normalize route prefix: ensure it starts with / and doesn't end with /
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// EVM / SVM hot-wallet keys. Held only in the process environment, never
	// written back to the parsed YAML.
	setIfEnv(&c.EVM.SettlementPrivKey, "EVM_SETTLEMENT_PRIVATE_KEY")
	setIfEnv(&c.SVM.FeePayerKey, "SVM_FEE_PAYER_KEY")

	setIfEnv(&c.Ledger.PostgresURL, "X402_LEDGER_POSTGRES_URL")

	// Monitoring config
	setIfEnv(&c.Monitoring.LowBalanceAlertURL, "X402_MONITORING_LOW_BALANCE_ALERT_URL")
	if v := os.Getenv("X402_MONITORING_LOW_BALANCE_THRESHOLD"); v != "" {
		var threshold float64
		if _, err := fmt.Sscanf(v, "%f", &threshold); err == nil {
			c.Monitoring.LowBalanceThreshold = threshold
		}
	}
	setDurationIfEnv(&c.Monitoring.CheckInterval, "X402_MONITORING_CHECK_INTERVAL")
	setDurationIfEnv(&c.Monitoring.Timeout, "X402_MONITORING_TIMEOUT")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api", "x402kit" -> "/x402kit"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
