package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/x402kit/facilitator/pkg/x402"
)

type fakeClient struct {
	balanceErr error
}

func (f *fakeClient) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return big.NewInt(1_000_000_000), nil
}
func (f *fakeClient) CodeAt(ctx context.Context, address common.Address) ([]byte, error) {
	return nil, nil
}
func (f *fakeClient) IsValidERC1271Signature(ctx context.Context, wallet common.Address, digest [32]byte, signature []byte) (bool, error) {
	return false, nil
}
func (f *fakeClient) SendTransferWithAuthorization(ctx context.Context, asset common.Address, auth TransferAuthorization, signature [65]byte, nonce int64) (common.Hash, error) {
	return common.Hash{}, nil
}
func (f *fakeClient) SendRawTransaction(ctx context.Context, to common.Address, data []byte, nonce int64) (common.Hash, error) {
	return common.Hash{}, nil
}
func (f *fakeClient) WaitForReceipt(ctx context.Context, txHash common.Hash, confirmations uint64) (*types.Receipt, error) {
	return &types.Receipt{}, nil
}
func (f *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func testSignedRequirement(t *testing.T) (x402.PaymentRequirements, x402.EvmPayload, *Signer) {
	t.Helper()
	RegisterChain(ChainConfig{Network: x402.NetworkBaseSepolia, ChainID: big.NewInt(84532)})
	key := mustTestKey(t)
	signer := NewSigner(key)

	req := x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkBaseSepolia,
		MaxAmountRequired: "1000000",
		PayTo:             "0x2222222222222222222222222222222222222222",
		Asset:             "0x1111111111111111111111111111111111111111",
		MaxTimeoutSeconds: 120,
		Extra:             map[string]string{"name": "USD Coin", "version": "2"},
	}
	payload, err := signer.Sign(context.Background(), req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return req, payload, signer
}

func TestVerifier_VerifiesValidSignature(t *testing.T) {
	req, evmPayload, signer := testSignedRequirement(t)
	verifier := NewVerifier(func(n x402.Network) (Client, error) { return &fakeClient{}, nil })

	result, err := verifier.Verify(context.Background(), x402.PaymentPayload{
		Scheme: req.Scheme, Network: req.Network, Payload: evmPayload,
	}, req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Payer != signer.Address().Hex() {
		t.Errorf("expected payer %q, got %q", signer.Address().Hex(), result.Payer)
	}
}

func TestVerifier_RejectsSchemeMismatch(t *testing.T) {
	req, evmPayload, _ := testSignedRequirement(t)
	verifier := NewVerifier(func(n x402.Network) (Client, error) { return &fakeClient{}, nil })

	_, err := verifier.Verify(context.Background(), x402.PaymentPayload{
		Scheme: x402.Scheme("other"), Network: req.Network, Payload: evmPayload,
	}, req)
	if err == nil {
		t.Fatal("expected scheme mismatch error")
	}
}

func TestVerifier_RejectsWrongRecipient(t *testing.T) {
	req, evmPayload, _ := testSignedRequirement(t)
	req.PayTo = "0x9999999999999999999999999999999999999999"
	verifier := NewVerifier(func(n x402.Network) (Client, error) { return &fakeClient{}, nil })

	_, err := verifier.Verify(context.Background(), x402.PaymentPayload{
		Scheme: req.Scheme, Network: req.Network, Payload: evmPayload,
	}, req)
	if err == nil {
		t.Fatal("expected recipient mismatch error")
	}
}

func TestVerifier_RejectsInsufficientAmount(t *testing.T) {
	req, evmPayload, _ := testSignedRequirement(t)
	req.MaxAmountRequired = "2000000" // more than the signed value
	verifier := NewVerifier(func(n x402.Network) (Client, error) { return &fakeClient{}, nil })

	_, err := verifier.Verify(context.Background(), x402.PaymentPayload{
		Scheme: req.Scheme, Network: req.Network, Payload: evmPayload,
	}, req)
	if err == nil {
		t.Fatal("expected amount mismatch error")
	}
}

func TestVerifier_RejectsInsufficientBalance(t *testing.T) {
	req, evmPayload, _ := testSignedRequirement(t)
	lowBalanceClient := &lowBalanceFakeClient{}
	verifier := NewVerifier(func(n x402.Network) (Client, error) { return lowBalanceClient, nil })

	_, err := verifier.Verify(context.Background(), x402.PaymentPayload{
		Scheme: req.Scheme, Network: req.Network, Payload: evmPayload,
	}, req)
	if err == nil {
		t.Fatal("expected insufficient balance error")
	}
}

type lowBalanceFakeClient struct {
	fakeClient
}

func (l *lowBalanceFakeClient) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return big.NewInt(1), nil
}

func TestVerifier_RejectsRPCLookupFailure(t *testing.T) {
	req, evmPayload, _ := testSignedRequirement(t)
	verifier := NewVerifier(func(n x402.Network) (Client, error) { return nil, errors.New("no rpc configured") })

	_, err := verifier.Verify(context.Background(), x402.PaymentPayload{
		Scheme: req.Scheme, Network: req.Network, Payload: evmPayload,
	}, req)
	if err == nil {
		t.Fatal("expected rpc client resolution error")
	}
}
