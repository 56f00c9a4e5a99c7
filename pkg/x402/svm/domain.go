// Package svm implements the SVM (Solana) side of the x402 "exact" payment
// scheme: gasless SPL TransferChecked transaction construction, structural
// verification plus RPC simulation, fee-payer co-signing and settlement,
// and a rate-limited submission queue.
package svm

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	apierrors "github.com/x402kit/facilitator/internal/errors"
	"github.com/x402kit/facilitator/pkg/x402"
)

// ClusterConfig describes one SVM cluster the facilitator can verify/settle on.
type ClusterConfig struct {
	Network       x402.Network
	RPCURL        string
	WSURL         string
	Commitment    rpc.CommitmentType
	Confirmations uint64 // number of post-confirmation blocks to additionally wait for, usually 0
}

var clusterRegistry = map[x402.Network]ClusterConfig{}

// RegisterCluster adds or replaces a cluster's configuration.
func RegisterCluster(cfg ClusterConfig) {
	clusterRegistry[cfg.Network] = cfg
}

// GetCluster looks up a configured cluster by network.
func GetCluster(network x402.Network) (ClusterConfig, error) {
	cfg, ok := clusterRegistry[network]
	if !ok {
		return ClusterConfig{}, x402.NewVerificationError(apierrors.ErrCodeUnsupportedNetwork,
			fmt.Errorf("svm: network %q not configured", network))
	}
	return cfg, nil
}

// SupportedNetworks returns every registered SVM network.
func SupportedNetworks() []x402.Network {
	out := make([]x402.Network, 0, len(clusterRegistry))
	for n := range clusterRegistry {
		out = append(out, n)
	}
	return out
}

// AssetInfo describes the SPL mint a requirement prices against.
type AssetInfo struct {
	Mint          solana.PublicKey
	Decimals      uint8
	TokenProgram  solana.PublicKey
}

// AssetInfoFromRequirements extracts AssetInfo from a PaymentRequirements.
// Extra["tokenProgram"] optionally overrides the legacy SPL Token program
// (for Token-2022 mints); it defaults to solana.TokenProgramID.
func AssetInfoFromRequirements(req x402.PaymentRequirements) (AssetInfo, error) {
	mint, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return AssetInfo{}, x402.NewVerificationError(apierrors.ErrCodeInvalidTokenMint,
			fmt.Errorf("svm: asset %q is not a valid mint address: %w", req.Asset, err))
	}
	program := solana.TokenProgramID
	if raw, ok := req.Extra["tokenProgram"]; ok && raw != "" {
		program, err = solana.PublicKeyFromBase58(raw)
		if err != nil {
			return AssetInfo{}, x402.NewVerificationError(apierrors.ErrCodeInvalidTokenProgram,
				fmt.Errorf("svm: extra.tokenProgram %q is not a valid address: %w", raw, err))
		}
	}
	return AssetInfo{Mint: mint, Decimals: req.AssetDecimals, TokenProgram: program}, nil
}
