package svm

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog/log"

	"github.com/x402kit/facilitator/internal/logger"
	"github.com/x402kit/facilitator/pkg/x402"
)

const (
	// QueuePollInterval is how frequently the worker checks for new transactions when the queue is empty.
	QueuePollInterval = 50 * time.Millisecond

	// TxTimeout is the timeout for sending an individual transaction.
	TxTimeout = 30 * time.Second

	// TxConfirmTimeout is the timeout for waiting for transaction confirmation.
	TxConfirmTimeout = 60 * time.Second

	// MaxTxRetries is the maximum number of times to retry a rate-limited transaction.
	MaxTxRetries = 3
)

// TransactionQueue sends settlement transactions with rate limiting.
// Rate-limited transactions go back to the TOP of the queue.
type TransactionQueue struct {
	queue          *list.List
	mu             sync.Mutex
	minTimeBetween time.Duration
	maxInFlight    int
	inFlight       int
	lastSendTime   time.Time
	client         *Client
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

type queuedTx struct {
	id          string
	transaction *solana.Transaction
	opts        rpc.TransactionOpts
	req         x402.PaymentRequirements
	retries     int
	priority    bool // true = rate limited, goes to front
}

// NewTransactionQueue creates the queue.
func NewTransactionQueue(client *Client, minTimeBetween time.Duration, maxInFlight int) *TransactionQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &TransactionQueue{
		queue:          list.New(),
		minTimeBetween: minTimeBetween,
		maxInFlight:    maxInFlight,
		client:         client,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start begins processing the queue.
func (q *TransactionQueue) Start() {
	q.wg.Add(1)
	go q.worker()
	log.Info().
		Dur("min_time_between", q.minTimeBetween).
		Int("max_in_flight", q.maxInFlight).
		Msg("svm_transaction_queue.started")
}

// Enqueue adds a transaction to the queue.
func (q *TransactionQueue) Enqueue(id string, tx *solana.Transaction, opts rpc.TransactionOpts, req x402.PaymentRequirements) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queue.PushBack(&queuedTx{id: id, transaction: tx, opts: opts, req: req})
}

// EnqueuePriority adds a rate-limited transaction to the FRONT of the queue.
func (q *TransactionQueue) EnqueuePriority(qtx *queuedTx) {
	q.mu.Lock()
	defer q.mu.Unlock()

	qtx.priority = true
	q.queue.PushFront(qtx)
}

func (q *TransactionQueue) worker() {
	defer q.wg.Done()

	ticker := time.NewTicker(QueuePollInterval)
	defer ticker.Stop()

	for {
		qtx := q.dequeue()
		if qtx == nil {
			select {
			case <-q.ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}

		q.waitForRateLimit()

		q.mu.Lock()
		q.inFlight++
		q.lastSendTime = time.Now()
		q.mu.Unlock()

		go q.process(qtx)

		select {
		case <-q.ctx.Done():
			return
		default:
		}
	}
}

func (q *TransactionQueue) dequeue() *queuedTx {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxInFlight > 0 && q.inFlight >= q.maxInFlight {
		return nil
	}
	if q.queue.Len() == 0 {
		return nil
	}

	elem := q.queue.Front()
	q.queue.Remove(elem)
	return elem.Value.(*queuedTx)
}

func (q *TransactionQueue) waitForRateLimit() {
	if q.minTimeBetween == 0 {
		return
	}

	q.mu.Lock()
	timeSince := time.Since(q.lastSendTime)
	q.mu.Unlock()

	if timeSince < q.minTimeBetween {
		waitDuration := q.minTimeBetween - timeSince
		timer := time.NewTimer(waitDuration)
		defer timer.Stop()

		select {
		case <-q.ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func (q *TransactionQueue) process(qtx *queuedTx) {
	defer func() {
		q.mu.Lock()
		q.inFlight--
		q.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(q.ctx, TxTimeout)
	defer cancel()

	sig, err := q.client.RPC.SendTransactionWithOpts(ctx, qtx.transaction, qtx.opts)
	if err != nil {
		if isRateLimitError(err) && qtx.retries < MaxTxRetries {
			qtx.retries++
			backoff := 500 * time.Millisecond * time.Duration(1<<uint(qtx.retries-1))

			log.Warn().
				Str("tx_id", qtx.id).
				Int("retry", qtx.retries).
				Int("max_retries", MaxTxRetries).
				Dur("backoff", backoff).
				Msg("svm_transaction_queue.rate_limited")

			timer := time.NewTimer(backoff)
			defer timer.Stop()

			select {
			case <-q.ctx.Done():
				return
			case <-timer.C:
			}

			q.EnqueuePriority(qtx)
			return
		}

		log.Error().Err(err).Str("tx_id", qtx.id).Msg("svm_transaction_queue.send_failed")
		return
	}

	log.Debug().
		Str("tx_id", qtx.id).
		Str("signature", logger.TruncateAddress(sig.String())).
		Msg("svm_transaction_queue.sent")

	// Use q.ctx, not ctx: ctx already carries TxTimeout (30s), and using it
	// as the parent here would cap confirmation wait at 30s instead of
	// TxConfirmTimeout's 60s.
	confirmCtx, confirmCancel := context.WithTimeout(q.ctx, TxConfirmTimeout)
	defer confirmCancel()

	commitment := rpc.CommitmentConfirmed
	if qtx.opts.MaxRetries != nil && *qtx.opts.MaxRetries > 0 {
		commitment = rpc.CommitmentFinalized
	}

	if err := awaitConfirmation(confirmCtx, q.client, sig, commitment); err != nil {
		log.Error().
			Err(err).
			Str("tx_id", qtx.id).
			Str("signature", logger.TruncateAddress(sig.String())).
			Msg("svm_transaction_queue.confirmation_failed")
		return
	}

	log.Info().
		Str("tx_id", qtx.id).
		Str("signature", logger.TruncateAddress(sig.String())).
		Msg("svm_transaction_queue.confirmed")
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "throttle")
}

// Shutdown stops the queue.
func (q *TransactionQueue) Shutdown() {
	log.Info().Msg("svm_transaction_queue.shutting_down")
	q.cancel()
	q.wg.Wait()
	log.Info().Msg("svm_transaction_queue.shutdown_complete")
}

// Stats returns queue stats.
func (q *TransactionQueue) Stats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return map[string]int{
		"queued":    q.queue.Len(),
		"in_flight": q.inFlight,
	}
}
