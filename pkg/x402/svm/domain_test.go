package svm

import (
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/x402kit/facilitator/pkg/x402"
)

func TestRegisterAndGetCluster(t *testing.T) {
	cfg := ClusterConfig{Network: x402.Network("svm-test-domain"), RPCURL: "http://localhost:8899"}
	RegisterCluster(cfg)

	got, err := GetCluster(cfg.Network)
	if err != nil {
		t.Fatalf("get cluster: %v", err)
	}
	if got.RPCURL != cfg.RPCURL {
		t.Errorf("expected rpc url %q, got %q", cfg.RPCURL, got.RPCURL)
	}
}

func TestGetCluster_NotConfigured(t *testing.T) {
	_, err := GetCluster(x402.Network("svm-never-registered"))
	if err == nil {
		t.Fatal("expected error for unconfigured network")
	}
}

func TestAssetInfoFromRequirements_DefaultsToLegacyTokenProgram(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	req := x402.PaymentRequirements{Asset: mint.String(), AssetDecimals: 6}

	info, err := AssetInfoFromRequirements(req)
	if err != nil {
		t.Fatalf("asset info: %v", err)
	}
	if info.Mint != mint {
		t.Errorf("expected mint %s, got %s", mint, info.Mint)
	}
	if info.TokenProgram != solana.TokenProgramID {
		t.Errorf("expected legacy token program default, got %s", info.TokenProgram)
	}
	if info.Decimals != 6 {
		t.Errorf("expected decimals 6, got %d", info.Decimals)
	}
}

func TestAssetInfoFromRequirements_CustomTokenProgram(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	tokenProgram := solana.NewWallet().PublicKey()
	req := x402.PaymentRequirements{
		Asset: mint.String(),
		Extra: map[string]string{"tokenProgram": tokenProgram.String()},
	}

	info, err := AssetInfoFromRequirements(req)
	if err != nil {
		t.Fatalf("asset info: %v", err)
	}
	if info.TokenProgram != tokenProgram {
		t.Errorf("expected custom token program %s, got %s", tokenProgram, info.TokenProgram)
	}
}

func TestAssetInfoFromRequirements_InvalidMint(t *testing.T) {
	req := x402.PaymentRequirements{Asset: "not-a-valid-mint"}
	if _, err := AssetInfoFromRequirements(req); err == nil {
		t.Fatal("expected error for invalid mint address")
	}
}

func TestAssetInfoFromRequirements_InvalidTokenProgram(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	req := x402.PaymentRequirements{
		Asset: mint.String(),
		Extra: map[string]string{"tokenProgram": "not-a-valid-program"},
	}
	if _, err := AssetInfoFromRequirements(req); err == nil {
		t.Fatal("expected error for invalid token program override")
	}
}
