package evm

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/x402kit/facilitator/pkg/x402"
)

// settleFakeClient extends fakeClient with a configurable submit/receipt
// outcome, for exercising Settler's success and revert paths.
type settleFakeClient struct {
	fakeClient
	sendHash      common.Hash
	receiptStatus uint64
}

func (s *settleFakeClient) SendTransferWithAuthorization(ctx context.Context, asset common.Address, auth TransferAuthorization, signature [65]byte, nonce int64) (common.Hash, error) {
	return s.sendHash, nil
}

func (s *settleFakeClient) WaitForReceipt(ctx context.Context, txHash common.Hash, confirmations uint64) (*types.Receipt, error) {
	return &types.Receipt{
		Status:            s.receiptStatus,
		BlockNumber:       big.NewInt(42),
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(1_000_000_000),
	}, nil
}

func TestSettler_SettleSucceeds(t *testing.T) {
	req, evmPayload, _ := testSignedRequirement(t)
	client := &settleFakeClient{sendHash: common.HexToHash("0xabc123"), receiptStatus: types.ReceiptStatusSuccessful}
	verifier := NewVerifier(func(n x402.Network) (Client, error) { return client, nil })
	settler := NewSettler(verifier, func(n x402.Network) (Client, error) { return client, nil }, SettleConfig{}, common.Address{})

	result, err := settler.Settle(context.Background(), x402.PaymentPayload{
		Scheme: req.Scheme, Network: req.Network, Payload: evmPayload,
	}, req)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.TxHash != client.sendHash.Hex() {
		t.Errorf("expected tx hash %s, got %s", client.sendHash.Hex(), result.TxHash)
	}
	if result.BlockNumber != 42 || result.GasUsed != 21000 || result.GasPrice != "1000000000" {
		t.Errorf("expected receipt fields populated, got block=%d gasUsed=%d gasPrice=%s",
			result.BlockNumber, result.GasUsed, result.GasPrice)
	}
}

func TestSettler_SettleFailsOnRevert(t *testing.T) {
	req, evmPayload, _ := testSignedRequirement(t)
	client := &settleFakeClient{sendHash: common.HexToHash("0xdead"), receiptStatus: types.ReceiptStatusFailed}
	verifier := NewVerifier(func(n x402.Network) (Client, error) { return client, nil })
	settler := NewSettler(verifier, func(n x402.Network) (Client, error) { return client, nil }, SettleConfig{}, common.Address{})

	_, err := settler.Settle(context.Background(), x402.PaymentPayload{
		Scheme: req.Scheme, Network: req.Network, Payload: evmPayload,
	}, req)
	if err == nil {
		t.Fatal("expected settle error on reverted transaction")
	}
}

func TestSettler_SettleFailsVerification(t *testing.T) {
	req, evmPayload, _ := testSignedRequirement(t)
	req.PayTo = "0x9999999999999999999999999999999999999999" // makes verify fail
	client := &settleFakeClient{sendHash: common.HexToHash("0xabc"), receiptStatus: types.ReceiptStatusSuccessful}
	verifier := NewVerifier(func(n x402.Network) (Client, error) { return client, nil })
	settler := NewSettler(verifier, func(n x402.Network) (Client, error) { return client, nil }, SettleConfig{}, common.Address{})

	_, err := settler.Settle(context.Background(), x402.PaymentPayload{
		Scheme: req.Scheme, Network: req.Network, Payload: evmPayload,
	}, req)
	if err == nil {
		t.Fatal("expected settle to fail when re-verification fails")
	}
}
