package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog/log"

	"github.com/x402kit/facilitator/internal/circuitbreaker"
	"github.com/x402kit/facilitator/internal/config"
	"github.com/x402kit/facilitator/internal/httputil"
	"github.com/x402kit/facilitator/internal/logger"
	"github.com/x402kit/facilitator/internal/rpcutil"
)

// evmWeiPerEther is used to convert the settlement wallet's native balance
// (wei) into whole-token units for threshold comparison and alert display.
var evmWeiPerEther = new(big.Float).SetFloat64(1e18)

// evmWatch is one EVM chain this monitor polls the settlement wallet's
// native gas balance on.
type evmWatch struct {
	network string
	client  *ethclient.Client
}

// BalanceMonitor periodically checks the facilitator's settlement wallet
// balances (native gas on every configured EVM chain, SOL on every
// configured Solana cluster) and sends a webhook alert when a balance
// drops below the configured threshold. Gas-starved hot wallets fail
// settlement silently, so this is the facilitator's early warning.
type BalanceMonitor struct {
	cfg        *config.Config
	breakers   *circuitbreaker.Manager
	httpClient *http.Client

	evmWallet common.Address
	evmChains []evmWatch

	svmWallet  solana.PublicKey
	svmClients []*solanarpc.Client

	mu          sync.Mutex
	alertedKeys map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBalanceMonitor builds a monitor for the facilitator's hot wallets.
// evmChains/svmClients may be empty when that side of the protocol isn't
// configured; the monitor simply skips checks it has no client for.
func NewBalanceMonitor(cfg *config.Config, breakers *circuitbreaker.Manager, evmWallet common.Address, evmChains map[string]*ethclient.Client, svmWallet solana.PublicKey, svmClients []*solanarpc.Client) *BalanceMonitor {
	watches := make([]evmWatch, 0, len(evmChains))
	for network, client := range evmChains {
		watches = append(watches, evmWatch{network: network, client: client})
	}

	return &BalanceMonitor{
		cfg:         cfg,
		breakers:    breakers,
		httpClient:  httputil.NewClient(cfg.Monitoring.Timeout.Duration),
		evmWallet:   evmWallet,
		evmChains:   watches,
		svmWallet:   svmWallet,
		svmClients:  svmClients,
		alertedKeys: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the balance monitoring loop.
func (m *BalanceMonitor) Start(ctx context.Context) {
	if m.cfg.Monitoring.LowBalanceAlertURL == "" {
		log.Info().Msg("balance_monitor.disabled_no_url")
		return
	}
	if len(m.evmChains) == 0 && len(m.svmClients) == 0 {
		log.Info().Msg("balance_monitor.no_wallets")
		return
	}

	log.Info().
		Int("evm_chains", len(m.evmChains)).
		Int("svm_clusters", len(m.svmClients)).
		Dur("check_interval", m.cfg.Monitoring.CheckInterval.Duration).
		Float64("threshold", m.cfg.Monitoring.LowBalanceThreshold).
		Msg("balance_monitor.started")

	m.wg.Add(1)
	go m.monitorLoop(ctx)
}

// Stop gracefully stops the balance monitoring loop.
func (m *BalanceMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	log.Info().Msg("balance_monitor.stopped")
}

func (m *BalanceMonitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Monitoring.CheckInterval.Duration)
	defer ticker.Stop()

	m.checkBalances(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkBalances(ctx)
		}
	}
}

func (m *BalanceMonitor) checkBalances(ctx context.Context) {
	for _, watch := range m.evmChains {
		m.checkEVMBalance(ctx, watch)
	}
	for i, client := range m.svmClients {
		m.checkSVMBalance(ctx, fmt.Sprintf("solana-%d", i), client)
	}
}

func (m *BalanceMonitor) checkEVMBalance(ctx context.Context, watch evmWatch) {
	key := "evm:" + watch.network
	raw, err := m.breakerExecute(circuitbreaker.ServiceEVMRPC, func() (any, error) {
		return rpcutil.WithRetry(ctx, func() (*big.Int, error) {
			return watch.client.BalanceAt(ctx, m.evmWallet, nil)
		})
	})
	if err != nil {
		log.Error().Err(err).Str("network", watch.network).Str("wallet", logger.TruncateAddress(m.evmWallet.Hex())).Msg("balance_monitor.fetch_error")
		return
	}

	wei := raw.(*big.Int)
	balance, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), evmWeiPerEther).Float64()
	m.evaluate(ctx, key, watch.network, m.evmWallet.Hex(), balance)
}

func (m *BalanceMonitor) checkSVMBalance(ctx context.Context, label string, client *solanarpc.Client) {
	key := "svm:" + label
	raw, err := m.breakerExecute(circuitbreaker.ServiceSVMRPC, func() (any, error) {
		return rpcutil.WithRetry(ctx, func() (uint64, error) {
			result, err := client.GetBalance(ctx, m.svmWallet, solanarpc.CommitmentConfirmed)
			if err != nil {
				return 0, err
			}
			return result.Value, nil
		})
	})
	if err != nil {
		log.Error().Err(err).Str("cluster", label).Str("wallet", logger.TruncateAddress(m.svmWallet.String())).Msg("balance_monitor.fetch_error")
		return
	}

	balance := float64(raw.(uint64)) / 1e9
	m.evaluate(ctx, key, label, m.svmWallet.String(), balance)
}

// breakerExecute adapts circuitbreaker.Manager's interface{}-typed Execute
// for a nil-safe call when circuit breaking is not configured.
func (m *BalanceMonitor) breakerExecute(service circuitbreaker.ServiceType, fn func() (any, error)) (any, error) {
	if m.breakers == nil {
		return fn()
	}
	return m.breakers.Execute(service, fn)
}

func (m *BalanceMonitor) evaluate(ctx context.Context, key, network, wallet string, balance float64) {
	log.Debug().Str("network", network).Str("wallet", logger.TruncateAddress(wallet)).Float64("balance", balance).Msg("balance_monitor.balance_checked")

	if balance < m.cfg.Monitoring.LowBalanceThreshold {
		if m.shouldAlert(key) {
			m.sendAlert(ctx, key, network, wallet, balance)
		}
	} else {
		m.clearAlert(key)
	}
}

func (m *BalanceMonitor) shouldAlert(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	lastAlert, exists := m.alertedKeys[key]
	if !exists {
		return true
	}
	return time.Since(lastAlert) > 24*time.Hour
}

func (m *BalanceMonitor) clearAlert(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alertedKeys, key)
}

// BalanceAlert contains information about a wallet with low balance.
type BalanceAlert struct {
	Network   string    `json:"network"`
	Wallet    string    `json:"wallet"`
	Balance   float64   `json:"balance"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *BalanceMonitor) sendAlert(ctx context.Context, key, network, wallet string, balance float64) {
	alert := BalanceAlert{
		Network:   network,
		Wallet:    wallet,
		Balance:   balance,
		Threshold: m.cfg.Monitoring.LowBalanceThreshold,
		Timestamp: time.Now(),
	}

	var body []byte
	var err error

	if m.cfg.Monitoring.BodyTemplate != "" {
		body, err = m.renderTemplate(alert)
		if err != nil {
			log.Error().Err(err).Str("network", network).Msg("balance_monitor.template_error")
			return
		}
	} else {
		body, err = json.Marshal(map[string]any{
			"content": fmt.Sprintf(
				"⚠️ **Low Balance Alert**\n\n"+
					"Network: `%s`\n"+
					"Wallet: `%s`\n"+
					"Balance: **%.6f**\n"+
					"Threshold: %.6f\n\n"+
					"Top up the settlement wallet to keep processing payments on this network.",
				network, wallet, balance, m.cfg.Monitoring.LowBalanceThreshold,
			),
		})
		if err != nil {
			log.Error().Err(err).Str("network", network).Msg("balance_monitor.marshal_error")
			return
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Monitoring.LowBalanceAlertURL, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("network", network).Msg("balance_monitor.request_error")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range m.cfg.Monitoring.Headers {
		req.Header.Set(key, value)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("network", network).Msg("balance_monitor.send_error")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		log.Info().Str("network", network).Float64("balance", balance).Int("status_code", resp.StatusCode).Msg("balance_monitor.alert_sent")
		m.mu.Lock()
		m.alertedKeys[key] = time.Now()
		m.mu.Unlock()
	} else {
		log.Warn().Str("network", network).Int("status_code", resp.StatusCode).Msg("balance_monitor.alert_failed")
	}
}

func (m *BalanceMonitor) renderTemplate(alert BalanceAlert) ([]byte, error) {
	tmpl, err := template.New("alert").Parse(m.cfg.Monitoring.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, alert); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	return buf.Bytes(), nil
}
