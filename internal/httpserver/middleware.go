package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/x402kit/facilitator/internal/errors"
	"github.com/x402kit/facilitator/internal/ledger"
	"github.com/x402kit/facilitator/pkg/facilitator"
	"github.com/x402kit/facilitator/pkg/responders"
	"github.com/x402kit/facilitator/pkg/x402"
)

type contextKey string

const contextKeySettlement contextKey = "x402mw.settlement"

// ResourceResolver maps an incoming request to the PriceSpec describing
// what it costs, or ErrResourceNotPriced if the request targets no priced
// resource.
type ResourceResolver func(*http.Request) (x402.PriceSpec, error)

// ErrResourceNotPriced is returned by a ResourceResolver when the request
// does not target a resource with a price attached.
var ErrResourceNotPriced = errors.New("x402mw: resource not priced")

// Middleware implements the challenge/verify/serve/settle state machine:
// an unpaid request gets a 402 with accepted requirements: a
// request carrying X-Payment is verified, and — only once the downstream
// handler returns without error — settled, with X-Payment-Response always
// set (success:false on settle failure, never blocking the response the
// handler already produced).
func Middleware(fac *facilitator.Facilitator, txStore ledger.TransactionStore, resolve ResourceResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			spec, err := resolve(r)
			if err != nil {
				if errors.Is(err, ErrResourceNotPriced) {
					http.NotFound(w, r)
					return
				}
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
				return
			}

			requirements, err := x402.BuildRequirements(spec)
			if err != nil {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
				return
			}

			paymentHeader := strings.TrimSpace(r.Header.Get("X-Payment"))
			if paymentHeader == "" {
				writeChallengeResponse(w, requirements)
				return
			}

			payload, matched, err := decodeAgainstRequirements(paymentHeader, requirements)
			if err != nil {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPaymentProof, err.Error())
				return
			}

			requestHash, err := x402.RequestHash(payload, matched)
			if err != nil {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, err.Error())
				return
			}

			if alreadySettled, settlement := checkIdempotent(r.Context(), txStore, requestHash); alreadySettled {
				ctx := context.WithValue(r.Context(), contextKeySettlement, settlement)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			verification, err := fac.Verify(r.Context(), payload, matched)
			if err != nil {
				writeVerificationError(w, err)
				return
			}

			replayPayload, err := x402.EncodeReplayRecord(payload, matched)
			if err != nil {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, err.Error())
				return
			}

			rec := ledger.Transaction{
				RequestHash: requestHash,
				Network:     matched.Network,
				Scheme:      matched.Scheme,
				Payer:       verification.Payer,
				Resource:    matched.Resource,
				Amount:      matched.MaxAmountRequired,
				Payload:     replayPayload,
				Status:      ledger.StatusPending,
				MaxAttempts: ledger.DefaultMaxAttempts,
				CreatedAt:   time.Now(),
			}
			if err := beginLedgerRecord(r.Context(), txStore, rec); err != nil {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeTransactionFailed, "payment already submitted")
				return
			}

			rw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			if rw.status >= 400 {
				_ = txStore.Complete(r.Context(), requestHash, ledger.StatusFailed, ledger.SettlementOutcome{FailReason: "handler returned error"})
				return
			}

			if err := txStore.MarkProcessing(r.Context(), requestHash); err != nil {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeTransactionFailed, "payment already submitted")
				return
			}

			settlement, err := fac.Settle(r.Context(), payload, matched)
			if err != nil {
				_ = txStore.Complete(r.Context(), requestHash, ledger.StatusFailed, ledger.SettlementOutcome{FailReason: err.Error()})
				writeSettlementFailureHeader(w, err)
				return
			}
			_ = txStore.Complete(r.Context(), requestHash, ledger.StatusSettled, ledger.SettlementOutcome{
				TxHash:      settlement.TxHash,
				BlockNumber: settlement.BlockNumber,
				GasUsed:     settlement.GasUsed,
				GasPrice:    settlement.GasPrice,
			})
			writeSettlementHeader(w, settlement)
		})
	}
}

// SettlementFromContext retrieves an idempotent-replay settlement result
// recorded by Middleware, for logging/auditing downstream.
func SettlementFromContext(ctx context.Context) (x402.SettlementResult, bool) {
	val := ctx.Value(contextKeySettlement)
	if val == nil {
		return x402.SettlementResult{}, false
	}
	result, ok := val.(x402.SettlementResult)
	return result, ok
}

// captureWriter records the status code the downstream handler wrote, so
// Middleware knows whether to settle after the handler returns.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (c *captureWriter) WriteHeader(status int) {
	if !c.wroteHeader {
		c.status = status
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.wroteHeader = true
	}
	return c.ResponseWriter.Write(b)
}

func writeChallengeResponse(w http.ResponseWriter, requirements []x402.PaymentRequirements) {
	responders.JSON(w, http.StatusPaymentRequired, map[string]any{
		"x402Version": 1,
		"error":       "payment required",
		"accepts":     requirements,
	})
}

func writeVerificationError(w http.ResponseWriter, err error) {
	if vErr, ok := err.(x402.VerificationError); ok {
		apierrors.WriteSimpleError(w, vErr.Code, vErr.Message)
		return
	}
	apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPaymentProof, err.Error())
}

func writeSettlementHeader(w http.ResponseWriter, settlement x402.SettlementResult) {
	encoded, err := x402.EncodeSettlementResponse(settlement)
	if err != nil {
		return
	}
	w.Header().Set("X-Payment-Response", encoded)
}

func writeSettlementFailureHeader(w http.ResponseWriter, settleErr error) {
	encoded, err := x402.EncodeFailedSettlementResponse(settleErr)
	if err != nil {
		return
	}
	w.Header().Set("X-Payment-Response", encoded)
}
