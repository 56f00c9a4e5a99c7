package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/x402kit/facilitator/internal/ledger"
	"github.com/x402kit/facilitator/pkg/facilitator"
	"github.com/x402kit/facilitator/pkg/x402"
)

// memTransactionStore is an in-memory ledger.TransactionStore for exercising
// Middleware without a database.
type memTransactionStore struct {
	mu  sync.Mutex
	txs map[string]ledger.Transaction
}

func newMemTransactionStore() *memTransactionStore {
	return &memTransactionStore{txs: make(map[string]ledger.Transaction)}
}

func (s *memTransactionStore) Begin(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.txs[tx.RequestHash]; exists {
		return errors.New("duplicate request hash")
	}
	s.txs[tx.RequestHash] = tx
	return nil
}

func (s *memTransactionStore) MarkProcessing(ctx context.Context, requestHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[requestHash]
	if !ok {
		return ledger.ErrNotFound
	}
	tx.Status = ledger.StatusProcessing
	tx.Attempts++
	s.txs[requestHash] = tx
	return nil
}

func (s *memTransactionStore) Complete(ctx context.Context, requestHash string, status ledger.TransactionStatus, outcome ledger.SettlementOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[requestHash]
	if !ok {
		return ledger.ErrNotFound
	}
	tx.Status = status
	tx.TxHash = outcome.TxHash
	tx.FailReason = outcome.FailReason
	tx.BlockNumber = outcome.BlockNumber
	tx.GasUsed = outcome.GasUsed
	tx.GasPrice = outcome.GasPrice
	now := time.Now()
	tx.SettledAt = &now
	s.txs[requestHash] = tx
	return nil
}

func (s *memTransactionStore) Get(ctx context.Context, requestHash string) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[requestHash]
	if !ok {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	return tx, nil
}

func (s *memTransactionStore) Exists(ctx context.Context, requestHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.txs[requestHash]
	return ok, nil
}

func (s *memTransactionStore) FailedForRetry(ctx context.Context, cooldown time.Duration) ([]ledger.Transaction, error) {
	return nil, nil
}

// fakeScheme is a facilitator.SchemeVerifier + SchemeSettler test double.
type fakeScheme struct {
	verifyErr  error
	settleErr  error
	payer      string
	txHash     string
	verifyCalls int
}

func (f *fakeScheme) Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerificationResult, error) {
	f.verifyCalls++
	if f.verifyErr != nil {
		return x402.VerificationResult{}, f.verifyErr
	}
	return x402.VerificationResult{Payer: f.payer}, nil
}

func (f *fakeScheme) Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettlementResult, error) {
	if f.settleErr != nil {
		return x402.SettlementResult{}, f.settleErr
	}
	return x402.SettlementResult{TxHash: f.txHash, Network: req.Network, Payer: f.payer, SettledAt: time.Now()}, nil
}

func testRequirement() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkBaseSepolia,
		MaxAmountRequired: "1000",
		Resource:          "/paid",
		PayTo:             "0x1111111111111111111111111111111111111111",
		Asset:             "0x2222222222222222222222222222222222222222",
	}
}

func testPayloadHeader(t *testing.T, req x402.PaymentRequirements) string {
	t.Helper()
	payload := x402.PaymentPayload{
		X402Version: 1,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload: x402.EvmPayload{
			Signature: "0xsig",
			Authorization: x402.EvmAuthorization{
				From:  "0x3333333333333333333333333333333333333333",
				To:    req.PayTo,
				Value: req.MaxAmountRequired,
				Nonce: "0xnonce",
			},
		},
	}
	header, err := x402.EncodePayload(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return header
}

func TestMiddleware_NoPaymentHeaderReturns402(t *testing.T) {
	req := testRequirement()
	scheme := &fakeScheme{payer: "0x3333333333333333333333333333333333333333"}
	fac := facilitator.New(map[x402.Network]facilitator.Scheme{
		req.Network: {Verifier: scheme, Settler: scheme},
	}, nil)
	store := newMemTransactionStore()

	resolve := func(r *http.Request) (x402.PriceSpec, error) {
		return x402.PriceSpec{
			ResourceID: req.Resource,
			Accepts: []x402.AssetQuote{{
				Network: req.Network, Asset: req.Asset, PayTo: req.PayTo, UnitsPerUSD: 1_000_000,
			}},
		}, nil
	}

	mw := Middleware(fac, store, resolve)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("downstream handler should not be called without payment")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, req.Resource, nil))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}

	var body struct {
		Accepts []x402.PaymentRequirements `json:"accepts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode challenge body: %v", err)
	}
	if len(body.Accepts) != 1 {
		t.Fatalf("expected 1 accepted requirement, got %d", len(body.Accepts))
	}
}

func TestMiddleware_ValidPaymentServesAndSettles(t *testing.T) {
	req := testRequirement()
	scheme := &fakeScheme{payer: "0x3333333333333333333333333333333333333333", txHash: "0xsettled"}
	fac := facilitator.New(map[x402.Network]facilitator.Scheme{
		req.Network: {Verifier: scheme, Settler: scheme},
	}, nil)
	store := newMemTransactionStore()

	resolve := func(r *http.Request) (x402.PriceSpec, error) {
		return x402.PriceSpec{
			ResourceID: req.Resource,
			Accepts: []x402.AssetQuote{{
				Network: req.Network, Asset: req.Asset, PayTo: req.PayTo, UnitsPerUSD: 1_000_000,
			}},
		}, nil
	}

	served := false
	mw := Middleware(fac, store, resolve)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("protected content"))
	}))

	httpReq := httptest.NewRequest(http.MethodGet, req.Resource, nil)
	httpReq.Header.Set("X-Payment", testPayloadHeader(t, req))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httpReq)

	if !served {
		t.Fatal("expected downstream handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	settlementHeader := rec.Header().Get("X-Payment-Response")
	if settlementHeader == "" {
		t.Fatal("expected X-Payment-Response header to be set")
	}
	settlement, err := x402.DecodeSettlementResponse(settlementHeader)
	if err != nil {
		t.Fatalf("decode settlement header: %v", err)
	}
	if !settlement.Success || settlement.TxHash != "0xsettled" {
		t.Errorf("unexpected settlement: %+v", settlement)
	}
}

func TestMiddleware_FailedHandlerSkipsSettlement(t *testing.T) {
	req := testRequirement()
	scheme := &fakeScheme{payer: "0x3333333333333333333333333333333333333333", txHash: "0xshouldnotsettle"}
	fac := facilitator.New(map[x402.Network]facilitator.Scheme{
		req.Network: {Verifier: scheme, Settler: scheme},
	}, nil)
	store := newMemTransactionStore()

	resolve := func(r *http.Request) (x402.PriceSpec, error) {
		return x402.PriceSpec{
			ResourceID: req.Resource,
			Accepts: []x402.AssetQuote{{
				Network: req.Network, Asset: req.Asset, PayTo: req.PayTo, UnitsPerUSD: 1_000_000,
			}},
		}, nil
	}

	mw := Middleware(fac, store, resolve)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	httpReq := httptest.NewRequest(http.MethodGet, req.Resource, nil)
	httpReq.Header.Set("X-Payment", testPayloadHeader(t, req))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httpReq)

	if rec.Header().Get("X-Payment-Response") != "" {
		t.Error("expected no settlement header when handler fails")
	}
}

func TestMiddleware_IdempotentReplaySkipsVerify(t *testing.T) {
	req := testRequirement()
	scheme := &fakeScheme{payer: "0x3333333333333333333333333333333333333333", txHash: "0xfirst"}
	fac := facilitator.New(map[x402.Network]facilitator.Scheme{
		req.Network: {Verifier: scheme, Settler: scheme},
	}, nil)
	store := newMemTransactionStore()

	resolve := func(r *http.Request) (x402.PriceSpec, error) {
		return x402.PriceSpec{
			ResourceID: req.Resource,
			Accepts: []x402.AssetQuote{{
				Network: req.Network, Asset: req.Asset, PayTo: req.PayTo, UnitsPerUSD: 1_000_000,
			}},
		}, nil
	}

	header := testPayloadHeader(t, req)

	callCount := 0
	mw := Middleware(fac, store, resolve)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		httpReq := httptest.NewRequest(http.MethodGet, req.Resource, nil)
		httpReq.Header.Set("X-Payment", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httpReq)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	if callCount != 2 {
		t.Errorf("expected downstream handler called twice, got %d", callCount)
	}
	if scheme.verifyCalls != 1 {
		t.Errorf("expected verify called once (replay skips it), got %d", scheme.verifyCalls)
	}
}
