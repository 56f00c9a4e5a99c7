package httpserver

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/x402kit/facilitator/internal/errors"
	"github.com/x402kit/facilitator/internal/ledger"
	"github.com/x402kit/facilitator/pkg/responders"
	"github.com/x402kit/facilitator/pkg/x402"
)

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	X402Version         int                     `json:"x402Version"`
	PaymentPayload       x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements  x402.PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the body of POST /settle.
type SettleRequest struct {
	X402Version         int                     `json:"x402Version"`
	PaymentPayload       x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements  x402.PaymentRequirements `json:"paymentRequirements"`
}

func (h *handlers) facilitatorVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}

	scheme := string(req.PaymentRequirements.Scheme)
	network := string(req.PaymentRequirements.Network)
	start := time.Now()

	result, err := h.facilitator.Verify(r.Context(), req.PaymentPayload, req.PaymentRequirements)
	if h.metrics != nil {
		h.metrics.ObservePayment(scheme, network, err == nil, time.Since(start))
	}
	if err != nil {
		if h.metrics != nil {
			h.metrics.ObservePaymentFailure(scheme, network, err.Error())
		}
		writeVerificationError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"isValid": true,
		"payer":   result.Payer,
	})
}

func (h *handlers) facilitatorSettle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}

	requestHash, err := x402.RequestHash(req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, err.Error())
		return
	}

	if settled, result := checkIdempotent(r.Context(), h.ledger, requestHash); settled {
		responders.JSON(w, http.StatusOK, map[string]any{
			"success": true,
			"txHash":  result.TxHash,
			"network": result.Network,
		})
		return
	}

	replayPayload, err := x402.EncodeReplayRecord(req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, err.Error())
		return
	}

	rec := ledger.Transaction{
		RequestHash: requestHash,
		Network:     req.PaymentRequirements.Network,
		Scheme:      req.PaymentRequirements.Scheme,
		Resource:    req.PaymentRequirements.Resource,
		Amount:      req.PaymentRequirements.MaxAmountRequired,
		Payload:     replayPayload,
		Status:      ledger.StatusPending,
		MaxAttempts: ledger.DefaultMaxAttempts,
		CreatedAt:   time.Now(),
	}
	if err := beginLedgerRecord(r.Context(), h.ledger, rec); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeTransactionFailed, "payment already submitted")
		return
	}
	if err := h.ledger.MarkProcessing(r.Context(), requestHash); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeTransactionFailed, "payment already submitted")
		return
	}

	network := string(req.PaymentRequirements.Network)
	start := time.Now()

	result, err := h.facilitator.Settle(r.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		_ = h.ledger.Complete(r.Context(), requestHash, ledger.StatusFailed, ledger.SettlementOutcome{FailReason: err.Error()})
		if h.metrics != nil {
			h.metrics.ObservePaymentFailure(string(req.PaymentRequirements.Scheme), network, err.Error())
		}
		writeVerificationError(w, err)
		return
	}
	_ = h.ledger.Complete(r.Context(), requestHash, ledger.StatusSettled, ledger.SettlementOutcome{
		TxHash:      result.TxHash,
		BlockNumber: result.BlockNumber,
		GasUsed:     result.GasUsed,
		GasPrice:    result.GasPrice,
	})
	if h.metrics != nil {
		amount := 0.0
		if atomic, err := req.PaymentRequirements.AtomicAmount(); err == nil {
			amount, _ = new(big.Float).SetInt(atomic).Float64()
		}
		h.metrics.ObserveSettlement(network, req.PaymentRequirements.Asset, amount, time.Since(start))
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"txHash":  result.TxHash,
		"network": result.Network,
	})
}

func (h *handlers) facilitatorSupported(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"kinds": h.facilitator.Supported(),
	})
}

func (h *handlers) discoveryResources(w http.ResponseWriter, r *http.Request) {
	listing, err := h.priceTable.Listing()
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, err.Error())
		return
	}

	limit := parsePaginationParam(r.URL.Query().Get("limit"), 20)
	offset := parsePaginationParam(r.URL.Query().Get("offset"), 0)

	total := len(listing)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	responders.JSON(w, http.StatusOK, x402.DiscoveryPage{
		X402Version: 1,
		Items:       listing[start:end],
		Pagination: x402.Pagination{
			Limit:  limit,
			Offset: offset,
			Total:  total,
		},
	})
}

// parsePaginationParam parses a ?limit/?offset query value, falling back to
// def for a missing, negative, or malformed value.
func parsePaginationParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
