package client

import (
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402kit/facilitator/pkg/x402"
	"github.com/x402kit/facilitator/pkg/x402/evm"
)

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestTransport_PassesThroughNon402(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	tr := &Transport{}
	httpClient := &http.Client{Transport: tr}

	resp, err := httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestTransport_PaysEVMChallenge(t *testing.T) {
	evm.RegisterChain(evm.ChainConfig{Network: x402.NetworkBaseSepolia, ChainID: big.NewInt(84532)})

	requirement := x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkBaseSepolia,
		MaxAmountRequired: "1000000",
		Resource:          "/paid",
		PayTo:             "0x1111111111111111111111111111111111111111",
		MaxTimeoutSeconds: 60,
		Asset:             "0x2222222222222222222222222222222222222222",
		Extra:             map[string]string{"name": "USD Coin", "version": "2"},
	}

	var sawPaymentHeader bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Payment") == "" {
			body, _ := json.Marshal(map[string]any{
				"x402Version": 1,
				"error":       "payment required",
				"accepts":     []x402.PaymentRequirements{requirement},
			})
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write(body)
			return
		}
		sawPaymentHeader = true
		result, _ := x402.EncodeSettlementResponse(x402.SettlementResult{
			TxHash:  "0xdeadbeef",
			Network: x402.NetworkBaseSepolia,
		})
		w.Header().Set("X-Payment-Response", result)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("paid resource"))
	}))
	defer server.Close()

	var gotSuccess PaymentEvent
	tr := &Transport{
		EVMSigner: evm.NewSigner(mustKey(t)),
		OnPaymentSuccess: func(ev PaymentEvent) {
			gotSuccess = ev
		},
	}
	httpClient := &http.Client{Transport: tr}

	resp, err := httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after payment, got %d", resp.StatusCode)
	}
	if !sawPaymentHeader {
		t.Fatal("server never saw X-Payment header on retry")
	}
	if gotSuccess.TxHash != "0xdeadbeef" {
		t.Errorf("expected success callback with tx hash, got %+v", gotSuccess)
	}
}

func TestTransport_NoSignerConfigured(t *testing.T) {
	requirement := x402.PaymentRequirements{
		Scheme:  x402.SchemeExact,
		Network: x402.NetworkBaseSepolia,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]any{
			"accepts": []x402.PaymentRequirements{requirement},
		})
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(body)
	}))
	defer server.Close()

	tr := &Transport{}
	httpClient := &http.Client{Transport: tr}

	_, err := httpClient.Get(server.URL)
	if err == nil {
		t.Fatal("expected error when no signer matches accepted requirements")
	}
}
