package svm

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/x402kit/facilitator/internal/logger"
)

const (
	// MinHealthyBalance is the minimum SOL balance required for a fee
	// payer wallet to be considered healthy: rent exemption, occasional
	// ATA creation, and transaction fees.
	MinHealthyBalance = 0.005 // SOL

	// CriticalBalance is the balance at which a wallet is critically low.
	CriticalBalance = 0.001 // SOL

	// HealthCheckInterval is how often wallet balances are checked.
	HealthCheckInterval = 5 * time.Minute

	// HealthCheckTimeout is the RPC timeout for balance queries.
	HealthCheckTimeout = 10 * time.Second
)

// WalletHealth tracks the health status of a facilitator fee-payer wallet.
type WalletHealth struct {
	PublicKey      solana.PublicKey
	Balance        float64
	IsHealthy      bool
	IsCritical     bool
	LastChecked    time.Time
	LastCheckError error
}

// WalletHealthChecker monitors fee-payer wallet balances in the background.
type WalletHealthChecker struct {
	mu         sync.RWMutex
	rpcClient  *rpc.Client
	wallets    []solana.PrivateKey
	health     map[string]*WalletHealth
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	onCritical func(wallet WalletHealth)
	log        zerolog.Logger
}

// NewWalletHealthChecker creates a health checker for the given wallets.
func NewWalletHealthChecker(rpcClient *rpc.Client, wallets []solana.PrivateKey) *WalletHealthChecker {
	ctx, cancel := context.WithCancel(context.Background())

	log := logger.FromContext(ctx).With().
		Str("component", "svm_wallet_health_checker").
		Logger()

	checker := &WalletHealthChecker{
		rpcClient: rpcClient,
		wallets:   wallets,
		health:    make(map[string]*WalletHealth),
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
	}

	for _, wallet := range wallets {
		pubkey := wallet.PublicKey()
		checker.health[pubkey.String()] = &WalletHealth{
			PublicKey:  pubkey,
			IsHealthy:  false,
			IsCritical: true,
		}
	}

	return checker
}

// SetCriticalCallback sets a callback invoked when a wallet becomes critical.
func (w *WalletHealthChecker) SetCriticalCallback(fn func(wallet WalletHealth)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onCritical = fn
}

// Start begins background health checking, after an immediate first check.
func (w *WalletHealthChecker) Start() {
	w.CheckAll()
	w.wg.Add(1)
	go w.healthCheckLoop()

	w.log.Info().
		Dur("interval", HealthCheckInterval).
		Float64("healthy_threshold_sol", MinHealthyBalance).
		Float64("critical_threshold_sol", CriticalBalance).
		Msg("wallet_health_checker.started")
}

// Stop gracefully stops the health checker.
func (w *WalletHealthChecker) Stop() {
	w.log.Info().Msg("wallet_health_checker.stopping")
	w.cancel()
	w.wg.Wait()
	w.log.Info().Msg("wallet_health_checker.stopped")
}

func (w *WalletHealthChecker) healthCheckLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.CheckAll()
		}
	}
}

// CheckAll checks the balance of all wallets and updates their health.
func (w *WalletHealthChecker) CheckAll() {
	for _, wallet := range w.wallets {
		w.checkWallet(wallet)
	}
}

func (w *WalletHealthChecker) checkWallet(wallet solana.PrivateKey) {
	ctx, cancel := context.WithTimeout(w.ctx, HealthCheckTimeout)
	defer cancel()

	pubkey := wallet.PublicKey()
	pubkeyStr := pubkey.String()

	balanceLamports, err := w.rpcClient.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
	if err != nil {
		w.mu.Lock()
		if h, ok := w.health[pubkeyStr]; ok {
			h.LastCheckError = err
			h.LastChecked = time.Now()
			h.IsHealthy = false
		}
		w.mu.Unlock()
		w.log.Error().
			Err(err).
			Str("wallet", logger.TruncateAddress(pubkey.String())).
			Msg("wallet_health.balance_check_failed")
		return
	}

	balance := float64(balanceLamports.Value) / 1e9

	w.mu.Lock()
	defer w.mu.Unlock()

	health, ok := w.health[pubkeyStr]
	if !ok {
		health = &WalletHealth{PublicKey: pubkey}
		w.health[pubkeyStr] = health
	}

	wasHealthy := health.IsHealthy
	wasCritical := health.IsCritical

	health.Balance = balance
	health.IsHealthy = balance >= MinHealthyBalance
	health.IsCritical = balance <= CriticalBalance
	health.LastChecked = time.Now()
	health.LastCheckError = nil

	if !wasHealthy && health.IsHealthy {
		w.log.Info().Str("wallet", logger.TruncateAddress(pubkey.String())).Float64("balance_sol", balance).Msg("wallet_health.now_healthy")
	} else if wasHealthy && !health.IsHealthy {
		w.log.Warn().Str("wallet", logger.TruncateAddress(pubkey.String())).Float64("balance_sol", balance).Msg("wallet_health.now_unhealthy")
	}

	if !wasCritical && health.IsCritical {
		w.log.Error().Str("wallet", logger.TruncateAddress(pubkey.String())).Float64("balance_sol", balance).Msg("wallet_health.now_critical")
		if w.onCritical != nil {
			healthCopy := *health
			go w.onCritical(healthCopy)
		}
	} else if wasCritical && !health.IsCritical {
		w.log.Info().Str("wallet", logger.TruncateAddress(pubkey.String())).Float64("balance_sol", balance).Msg("wallet_health.no_longer_critical")
	}
}

// GetHealthyWallet returns the next healthy wallet using round-robin
// selection starting from *currentIndex, advancing it as a side effect.
func (w *WalletHealthChecker) GetHealthyWallet(currentIndex *uint64) *solana.PrivateKey {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.wallets) == 0 {
		return nil
	}

	for i := 0; i < len(w.wallets); i++ {
		idx := (int(*currentIndex) + i) % len(w.wallets)
		wallet := w.wallets[idx]
		pubkeyStr := wallet.PublicKey().String()

		if health, ok := w.health[pubkeyStr]; ok && health.IsHealthy {
			*currentIndex = uint64(idx + 1)
			return &wallet
		}
	}
	return nil
}

// GetHealth returns the current health status of all wallets.
func (w *WalletHealthChecker) GetHealth() []WalletHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]WalletHealth, 0, len(w.health))
	for _, h := range w.health {
		result = append(result, *h)
	}
	return result
}

// HealthySummary returns a summary count of wallet health.
func (w *WalletHealthChecker) HealthySummary() (healthy, unhealthy, critical int) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, h := range w.health {
		switch {
		case h.IsCritical:
			critical++
		case !h.IsHealthy:
			unhealthy++
		default:
			healthy++
		}
	}
	return
}
