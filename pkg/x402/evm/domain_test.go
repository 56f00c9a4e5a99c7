package evm

import (
	"math/big"
	"testing"

	"github.com/x402kit/facilitator/pkg/x402"
)

func TestRegisterAndGetChain(t *testing.T) {
	cfg := ChainConfig{Network: x402.Network("evm-test-domain"), ChainID: big.NewInt(1337), RPCURL: "http://localhost:8545"}
	RegisterChain(cfg)

	got, err := GetChain(cfg.Network)
	if err != nil {
		t.Fatalf("get chain: %v", err)
	}
	if got.ChainID.Cmp(cfg.ChainID) != 0 {
		t.Errorf("expected chain id %v, got %v", cfg.ChainID, got.ChainID)
	}
	if got.RPCURL != cfg.RPCURL {
		t.Errorf("expected rpc url %q, got %q", cfg.RPCURL, got.RPCURL)
	}
}

func TestGetChain_NotConfigured(t *testing.T) {
	_, err := GetChain(x402.Network("evm-never-registered"))
	if err == nil {
		t.Fatal("expected error for unconfigured network")
	}
}

func TestAssetInfoFromRequirements(t *testing.T) {
	req := x402.PaymentRequirements{
		Asset: "0x1111111111111111111111111111111111111111",
		Extra: map[string]string{"name": "USD Coin", "version": "2"},
	}
	info, err := AssetInfoFromRequirements(req)
	if err != nil {
		t.Fatalf("asset info: %v", err)
	}
	if info.Name != "USD Coin" || info.Version != "2" {
		t.Errorf("unexpected asset info: %+v", info)
	}
}

func TestAssetInfoFromRequirements_InvalidAddress(t *testing.T) {
	req := x402.PaymentRequirements{
		Asset: "not-an-address",
		Extra: map[string]string{"name": "USD Coin", "version": "2"},
	}
	if _, err := AssetInfoFromRequirements(req); err == nil {
		t.Fatal("expected error for invalid asset address")
	}
}

func TestAssetInfoFromRequirements_MissingDomainFields(t *testing.T) {
	req := x402.PaymentRequirements{
		Asset: "0x1111111111111111111111111111111111111111",
	}
	if _, err := AssetInfoFromRequirements(req); err == nil {
		t.Fatal("expected error for missing name/version extra")
	}
}
