package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402kit/facilitator/pkg/x402"
)

func mustTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestSigner_AddressMatchesKey(t *testing.T) {
	key := mustTestKey(t)
	signer := NewSigner(key)
	if signer.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Error("signer address should derive from the private key")
	}
}

func TestSigner_SignProducesValidAuthorization(t *testing.T) {
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
	if payload.Signature == "" {
		t.Error("expected non-empty signature")
	}
	if payload.Authorization.From != signer.Address().Hex() {
		t.Errorf("expected authorization.from %q, got %q", signer.Address().Hex(), payload.Authorization.From)
	}
	if payload.Authorization.Value != "1000000" {
		t.Errorf("expected value 1000000, got %q", payload.Authorization.Value)
	}
	if payload.Authorization.Nonce == "" {
		t.Error("expected non-empty nonce")
	}
}

func TestSigner_RejectsNonEVMNetwork(t *testing.T) {
	key := mustTestKey(t)
	signer := NewSigner(key)

	req := x402.PaymentRequirements{Network: x402.NetworkSolana}
	if _, err := signer.Sign(context.Background(), req); err == nil {
		t.Fatal("expected error for non-EVM network")
	}
}

func TestSigner_RejectsUnconfiguredChain(t *testing.T) {
	key := mustTestKey(t)
	signer := NewSigner(key)

	req := x402.PaymentRequirements{Network: x402.Network("evm-never-configured-for-signer")}
	if _, err := signer.Sign(context.Background(), req); err == nil {
		t.Fatal("expected error for unconfigured chain")
	}
}

func TestSigner_RejectsMissingAssetDomain(t *testing.T) {
	RegisterChain(ChainConfig{Network: x402.NetworkBaseSepolia, ChainID: big.NewInt(84532)})
	key := mustTestKey(t)
	signer := NewSigner(key)

	req := x402.PaymentRequirements{
		Network:           x402.NetworkBaseSepolia,
		MaxAmountRequired: "1000",
		Asset:             "0x1111111111111111111111111111111111111111",
	}
	if _, err := signer.Sign(context.Background(), req); err == nil {
		t.Fatal("expected error for missing EIP-712 domain in extra")
	}
}
