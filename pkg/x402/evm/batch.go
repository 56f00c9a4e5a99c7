package evm

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/x402kit/facilitator/pkg/x402"
)

// BatchItem is one settlement request within a batch.
type BatchItem struct {
	Payload      x402.PaymentPayload
	Requirements x402.PaymentRequirements
}

// BatchItemResult is the outcome of settling one BatchItem. A failed item
// still occupies the nonce it was assigned; the gap is reported, not
// backfilled (DESIGN.md Open Question).
type BatchItemResult struct {
	Index  int
	Nonce  uint64
	Result x402.SettlementResult
	Err    error
}

// BatchResult is the outcome of SubmitBatch.
type BatchResult struct {
	BaseNonce uint64
	Items     []BatchItemResult
}

// FailedIndices returns the indices of items whose settlement failed,
// i.e. the nonce gaps a caller or the ledger sweeper must account for.
func (r BatchResult) FailedIndices() []int {
	var out []int
	for _, item := range r.Items {
		if item.Err != nil {
			out = append(out, item.Index)
		}
	}
	return out
}

// maxBatchWorkers bounds the fan-out so a large batch cannot open an
// unbounded number of RPC connections at once.
const maxBatchWorkers = 8

// SubmitBatch pre-allocates one sequential nonce per item
// (eth_getTransactionCount(facilitator, "pending") + i, assigned in
// declaration order) and submits all items concurrently through a bounded
// worker pool. Items do not retry on failure within the batch.
func (s *Settler) SubmitBatch(ctx context.Context, network x402.Network, items []BatchItem) (BatchResult, error) {
	client, err := s.clients(network)
	if err != nil {
		return BatchResult{}, err
	}

	baseNonce, err := client.PendingNonceAt(ctx, s.facilitatorAddress)
	if err != nil {
		return BatchResult{}, err
	}

	results := make([]BatchItemResult, len(items))
	sem := make(chan struct{}, maxBatchWorkers)
	var wg sync.WaitGroup

	for i, item := range items {
		i, item := i, item
		nonce := baseNonce + uint64(i)
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := s.SettleAt(ctx, item.Payload, item.Requirements, nonce)
			if err != nil {
				log.Error().Err(err).Int("index", i).Uint64("nonce", nonce).
					Msg("evm.batch_settle_failed")
			}
			results[i] = BatchItemResult{Index: i, Nonce: nonce, Result: result, Err: err}
		}()
	}
	wg.Wait()

	return BatchResult{BaseNonce: baseNonce, Items: results}, nil
}
