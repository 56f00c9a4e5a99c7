package httpserver

import (
	"context"
	"fmt"

	"github.com/x402kit/facilitator/internal/ledger"
	"github.com/x402kit/facilitator/pkg/x402"
)

// decodeAgainstRequirements decodes the X-Payment header and returns it
// alongside the single PaymentRequirements entry (out of the resource's
// accepted set) whose scheme and network it targets; the asset is not
// compared here.
func decodeAgainstRequirements(header string, requirements []x402.PaymentRequirements) (x402.PaymentPayload, x402.PaymentRequirements, error) {
	payload, err := x402.DecodePayload(header)
	if err != nil {
		return x402.PaymentPayload{}, x402.PaymentRequirements{}, err
	}

	for _, req := range requirements {
		if req.Scheme == payload.Scheme && req.Network == payload.Network {
			return payload, req, nil
		}
	}
	return payload, x402.PaymentRequirements{}, fmt.Errorf(
		"x402: payment payload targets %s/%s, which this resource does not accept", payload.Scheme, payload.Network)
}

// checkIdempotent looks up requestHash in the ledger and, if it is already
// settled, returns the prior result so a retried /settle-triggering request
// never pays twice.
func checkIdempotent(ctx context.Context, txStore ledger.TransactionStore, requestHash string) (bool, x402.SettlementResult) {
	tx, err := txStore.Get(ctx, requestHash)
	if err != nil || tx.Status != ledger.StatusSettled {
		return false, x402.SettlementResult{}
	}
	var settledAt = tx.CreatedAt
	if tx.SettledAt != nil {
		settledAt = *tx.SettledAt
	}
	return true, x402.SettlementResult{
		TxHash:    tx.TxHash,
		Network:   tx.Network,
		Payer:     tx.Payer,
		SettledAt: settledAt,
	}
}

// beginLedgerRecord records a new pending settlement attempt, failing if
// requestHash already exists (a concurrent duplicate submission).
func beginLedgerRecord(ctx context.Context, txStore ledger.TransactionStore, rec ledger.Transaction) error {
	return txStore.Begin(ctx, rec)
}
