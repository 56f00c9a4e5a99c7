// Package evm implements the EVM side of the x402 "exact" payment scheme:
// EIP-3009 transferWithAuthorization construction/signing, ERC-6492
// counterfactual-wallet signature unwrapping, facilitator-side
// verification, single and batched on-chain settlement.
package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	apierrors "github.com/x402kit/facilitator/internal/errors"
	"github.com/x402kit/facilitator/pkg/x402"
)

// ChainConfig describes one EVM network the facilitator can verify/settle on.
type ChainConfig struct {
	Network     x402.Network
	ChainID     *big.Int
	RPCURL      string
	Confirmations uint64
}

// chainRegistry is the process-wide set of configured EVM networks, keyed
// by x402.Network. Populated once at startup from internal/config.
var chainRegistry = map[x402.Network]ChainConfig{}

// RegisterChain adds or replaces a chain's configuration.
func RegisterChain(cfg ChainConfig) {
	chainRegistry[cfg.Network] = cfg
}

// GetChain looks up a configured chain by network.
func GetChain(network x402.Network) (ChainConfig, error) {
	cfg, ok := chainRegistry[network]
	if !ok {
		return ChainConfig{}, x402.NewVerificationError(apierrors.ErrCodeUnsupportedNetwork,
			fmt.Errorf("evm: network %q not configured", network))
	}
	return cfg, nil
}

// SupportedNetworks returns every registered EVM network.
func SupportedNetworks() []x402.Network {
	out := make([]x402.Network, 0, len(chainRegistry))
	for n := range chainRegistry {
		out = append(out, n)
	}
	return out
}

// AssetInfo describes the EIP-712 domain parameters for a token contract,
// required to reproduce its TransferWithAuthorization digest. These come
// from PaymentRequirements.Extra (keys "name"/"version") per the coinbase
// x402 facilitator convention.
type AssetInfo struct {
	Address common.Address
	Name    string
	Version string
}

// AssetInfoFromRequirements extracts AssetInfo from a PaymentRequirements'
// Asset/Extra fields. Extra must carry "name" and "version" (the EIP-712
// domain parameters of the token contract) for exact verification.
func AssetInfoFromRequirements(req x402.PaymentRequirements) (AssetInfo, error) {
	if !common.IsHexAddress(req.Asset) {
		return AssetInfo{}, x402.NewVerificationError(apierrors.ErrCodeInvalidTokenMint,
			fmt.Errorf("evm: asset %q is not a valid address", req.Asset))
	}
	name := req.Extra["name"]
	version := req.Extra["version"]
	if name == "" || version == "" {
		return AssetInfo{}, x402.NewVerificationError(apierrors.ErrCodeInvalidField,
			fmt.Errorf("evm: requirements missing EIP-712 domain name/version in extra"))
	}
	return AssetInfo{
		Address: common.HexToAddress(req.Asset),
		Name:    name,
		Version: version,
	}, nil
}
