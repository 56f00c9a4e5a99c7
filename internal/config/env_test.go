package config

import (
	"os"
	"testing"
)

func TestEnvOverrides_ServerConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "X402_SERVER_ADDRESS overrides default",
			envVars: map[string]string{
				"X402_SERVER_ADDRESS": ":3000",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != ":3000" {
					t.Errorf("Expected :3000, got %s", cfg.Server.Address)
				}
			},
		},
		{
			name: "X402_ROUTE_PREFIX override",
			envVars: map[string]string{
				"X402_ROUTE_PREFIX": "api",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.RoutePrefix != "/api" {
					t.Errorf("Expected /api, got %s", cfg.Server.RoutePrefix)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_WalletKeys(t *testing.T) {
	defer os.Clearenv()
	os.Clearenv()
	os.Setenv("EVM_SETTLEMENT_PRIVATE_KEY", "deadbeef")
	os.Setenv("SVM_FEE_PAYER_KEY", "feepayerkey")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.EVM.SettlementPrivKey != "deadbeef" {
		t.Errorf("Expected deadbeef, got %s", cfg.EVM.SettlementPrivKey)
	}
	if cfg.SVM.FeePayerKey != "feepayerkey" {
		t.Errorf("Expected feepayerkey, got %s", cfg.SVM.FeePayerKey)
	}
}

func TestEnvOverrides_LedgerURL(t *testing.T) {
	defer os.Clearenv()
	os.Clearenv()
	os.Setenv("X402_LEDGER_POSTGRES_URL", "postgres://user:pass@db:5432/ledger")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Ledger.PostgresURL != "postgres://user:pass@db:5432/ledger" {
		t.Errorf("Expected ledger postgres url override, got %s", cfg.Ledger.PostgresURL)
	}
}

func TestEnvOverrides_MonitoringConfig(t *testing.T) {
	defer os.Clearenv()
	os.Clearenv()
	os.Setenv("X402_MONITORING_LOW_BALANCE_ALERT_URL", "https://example.com/webhook")
	os.Setenv("X402_MONITORING_LOW_BALANCE_THRESHOLD", "0.05")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Monitoring.LowBalanceAlertURL != "https://example.com/webhook" {
		t.Errorf("Expected webhook url override, got %s", cfg.Monitoring.LowBalanceAlertURL)
	}
	if cfg.Monitoring.LowBalanceThreshold != 0.05 {
		t.Errorf("Expected threshold 0.05, got %v", cfg.Monitoring.LowBalanceThreshold)
	}
}

// TestNormalizeRoutePrefix lives in config_test.go.
