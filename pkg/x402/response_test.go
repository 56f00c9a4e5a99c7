package x402

import (
	"errors"
	"testing"
)

func TestRequestHash_Deterministic(t *testing.T) {
	payload := PaymentPayload{X402Version: 1, Scheme: SchemeExact, Network: NetworkBase}
	req := PaymentRequirements{Scheme: SchemeExact, Network: NetworkBase, Resource: "/x"}

	h1, err := RequestHash(payload, req)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := RequestHash(payload, req)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("expected identical hash for identical inputs, got %q and %q", h1, h2)
	}

	req.Resource = "/y"
	h3, err := RequestHash(payload, req)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h3 == h1 {
		t.Error("expected different hash for different requirements")
	}
}

func TestEncodeDecodeSettlementResponse_Success(t *testing.T) {
	encoded, err := EncodeSettlementResponse(SettlementResult{
		TxHash:  "0xabc",
		Network: NetworkBaseSepolia,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeSettlementResponse(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Success || decoded.TxHash != "0xabc" {
		t.Errorf("unexpected decoded response: %+v", decoded)
	}
}

func TestEncodeDecodeSettlementResponse_Failure(t *testing.T) {
	encoded, err := EncodeFailedSettlementResponse(errors.New("insufficient funds"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeSettlementResponse(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Success {
		t.Error("expected success=false")
	}
	if decoded.Error != "insufficient funds" {
		t.Errorf("expected error message preserved, got %q", decoded.Error)
	}
}

func TestDecodeSettlementResponse_InvalidHeader(t *testing.T) {
	if _, err := DecodeSettlementResponse("not-base64!!"); err == nil {
		t.Fatal("expected error for undecodable header")
	}
}
