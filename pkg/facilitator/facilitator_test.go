package facilitator

import (
	"context"
	"errors"
	"testing"

	"github.com/x402kit/facilitator/pkg/x402"
	"github.com/x402kit/facilitator/pkg/x402/evm"
)

type fakeVerifier struct {
	result x402.VerificationResult
	err    error
}

func (f *fakeVerifier) Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerificationResult, error) {
	return f.result, f.err
}

type fakeSettler struct {
	result x402.SettlementResult
	err    error
}

func (f *fakeSettler) Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettlementResult, error) {
	return f.result, f.err
}

func TestFacilitator_VerifyDispatchesToScheme(t *testing.T) {
	verifier := &fakeVerifier{result: x402.VerificationResult{Payer: "0xabc"}}
	fac := New(map[x402.Network]Scheme{
		x402.NetworkBaseSepolia: {Verifier: verifier, Settler: &fakeSettler{}},
	}, nil)

	result, err := fac.Verify(context.Background(), x402.PaymentPayload{}, x402.PaymentRequirements{
		Scheme: x402.SchemeExact, Network: x402.NetworkBaseSepolia,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Payer != "0xabc" {
		t.Errorf("expected dispatched result, got %+v", result)
	}
}

func TestFacilitator_VerifyUnsupportedNetwork(t *testing.T) {
	fac := New(map[x402.Network]Scheme{}, nil)

	_, err := fac.Verify(context.Background(), x402.PaymentPayload{}, x402.PaymentRequirements{
		Scheme: x402.SchemeExact, Network: x402.NetworkBaseSepolia,
	})
	if err == nil {
		t.Fatal("expected error for unregistered network")
	}
}

func TestFacilitator_VerifyUnsupportedScheme(t *testing.T) {
	fac := New(map[x402.Network]Scheme{
		x402.NetworkBaseSepolia: {Verifier: &fakeVerifier{}, Settler: &fakeSettler{}},
	}, nil)

	_, err := fac.Verify(context.Background(), x402.PaymentPayload{}, x402.PaymentRequirements{
		Scheme: x402.Scheme("unknown"), Network: x402.NetworkBaseSepolia,
	})
	if err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestFacilitator_SettleDispatchesToScheme(t *testing.T) {
	settler := &fakeSettler{result: x402.SettlementResult{TxHash: "0xdeadbeef"}}
	fac := New(map[x402.Network]Scheme{
		x402.NetworkBaseSepolia: {Verifier: &fakeVerifier{}, Settler: settler},
	}, nil)

	result, err := fac.Settle(context.Background(), x402.PaymentPayload{}, x402.PaymentRequirements{
		Scheme: x402.SchemeExact, Network: x402.NetworkBaseSepolia,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.TxHash != "0xdeadbeef" {
		t.Errorf("expected dispatched result, got %+v", result)
	}
}

func TestFacilitator_SettlePropagatesSchemeError(t *testing.T) {
	settler := &fakeSettler{err: errors.New("settlement reverted")}
	fac := New(map[x402.Network]Scheme{
		x402.NetworkBaseSepolia: {Verifier: &fakeVerifier{}, Settler: settler},
	}, nil)

	_, err := fac.Settle(context.Background(), x402.PaymentPayload{}, x402.PaymentRequirements{
		Scheme: x402.SchemeExact, Network: x402.NetworkBaseSepolia,
	})
	if err == nil {
		t.Fatal("expected propagated settlement error")
	}
}

func TestFacilitator_SettleBatchRequiresBatchSettler(t *testing.T) {
	fac := New(map[x402.Network]Scheme{
		x402.NetworkBaseSepolia: {Verifier: &fakeVerifier{}, Settler: &fakeSettler{}, BatchSettler: nil},
	}, nil)

	_, err := fac.SettleBatch(context.Background(), x402.NetworkBaseSepolia, []evm.BatchItem{})
	if err == nil {
		t.Fatal("expected error when no batch settler is registered")
	}
}

func TestFacilitator_SettleBatchUnsupportedNetwork(t *testing.T) {
	fac := New(map[x402.Network]Scheme{}, nil)

	_, err := fac.SettleBatch(context.Background(), x402.NetworkBaseSepolia, []evm.BatchItem{})
	if err == nil {
		t.Fatal("expected error for unregistered network")
	}
}

func TestFacilitator_Supported(t *testing.T) {
	kinds := []x402.SupportedKind{
		{Scheme: x402.SchemeExact, Network: x402.NetworkBaseSepolia},
	}
	fac := New(nil, kinds)

	got := fac.Supported()
	if len(got) != 1 || got[0].Network != x402.NetworkBaseSepolia {
		t.Errorf("expected supported kinds passthrough, got %+v", got)
	}
}
