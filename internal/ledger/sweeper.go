package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultCleanupInterval is how often the sweeper reaps expired nonce
	// reservations.
	DefaultCleanupInterval = 60 * time.Second

	// DefaultRetryInterval is how often the sweeper scans for failed
	// transactions eligible for replay.
	DefaultRetryInterval = 5 * time.Minute
)

// Sweeper runs the ledger's background maintenance: reclaiming expired
// nonce reservations, and handing transactions stuck in StatusFailed past
// their retry cooldown to a caller-supplied replay callback.
type Sweeper struct {
	nonces          NonceStore
	transactions    TransactionStore
	cleanupInterval time.Duration
	retryInterval   time.Duration
	retryCooldown   time.Duration
	onFailedRetry   func(Transaction)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper builds a Sweeper over the given stores. onFailedRetry is
// invoked for each transaction found in StatusFailed with attempts still
// under max_attempts, past DefaultRetryCooldown since its last update; pass
// nil to only log them. The callback is responsible for actually
// resubmitting the settlement and updating the transaction's status.
func NewSweeper(nonces NonceStore, transactions TransactionStore, onFailedRetry func(Transaction)) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		nonces:          nonces,
		transactions:    transactions,
		cleanupInterval: DefaultCleanupInterval,
		retryInterval:   DefaultRetryInterval,
		retryCooldown:   DefaultRetryCooldown,
		onFailedRetry:   onFailedRetry,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start launches the nonce-cleanup and stale-transaction loops.
func (s *Sweeper) Start() {
	s.wg.Add(2)
	go s.nonceCleanupLoop()
	go s.staleTransactionLoop()
	log.Info().
		Dur("cleanup_interval", s.cleanupInterval).
		Dur("retry_interval", s.retryInterval).
		Msg("ledger_sweeper.started")
}

// Stop gracefully stops both loops.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Info().Msg("ledger_sweeper.stopped")
}

func (s *Sweeper) nonceCleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			n, err := s.nonces.CleanupExpired(s.ctx)
			if err != nil {
				log.Error().Err(err).Msg("ledger_sweeper.nonce_cleanup_failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("count", n).Msg("ledger_sweeper.nonces_reclaimed")
			}
		}
	}
}

func (s *Sweeper) staleTransactionLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			failed, err := s.transactions.FailedForRetry(s.ctx, s.retryCooldown)
			if err != nil {
				log.Error().Err(err).Msg("ledger_sweeper.retry_scan_failed")
				continue
			}
			for _, tx := range failed {
				log.Warn().
					Str("request_hash", tx.RequestHash).
					Str("network", string(tx.Network)).
					Int("attempts", tx.Attempts).
					Msg("ledger_sweeper.replaying_failed_transaction")
				if s.onFailedRetry != nil {
					s.onFailedRetry(tx)
				}
			}
		}
	}
}
