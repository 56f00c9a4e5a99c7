package x402

import (
	"fmt"

	"github.com/x402kit/facilitator/internal/money"
)

// PriceSpec is how a server-side resource declares its price: a USD amount
// plus the set of (network, asset) combinations the facilitator should
// quote it in. internal/httpserver's requirement builder fans a single
// PriceSpec out into one PaymentRequirements per accepted network/asset.
type PriceSpec struct {
	ResourceID string
	USD        money.Money // Asset must be money.USD
	Accepts    []AssetQuote
	TimeoutSeconds int
	// SVMFeePayer is the facilitator's Solana fee payer public key, handed
	// to SVM-network requirements via Extra["feePayer"] so a client can
	// build the TransferChecked transaction's fee payer account before it
	// knows anything else about the facilitator. internal/httpserver's
	// PriceTable fills this in at registration time; callers building a
	// PriceSpec directly only need to set it for accepts with an SVM
	// network.
	SVMFeePayer string
}

// AssetQuote names one (network, asset) pair a PriceSpec can be quoted in,
// plus the conversion rate from USD to that asset's atomic units.
type AssetQuote struct {
	Network       Network
	Asset         string // token contract / mint address
	AssetDecimals uint8
	PayTo         string
	// UnitsPerUSD is how many atomic asset units equal $1.00 (e.g. for a
	// USD-pegged stablecoin with 6 decimals, 1_000_000).
	UnitsPerUSD int64
	// EIP712Name/EIP712Version are the token contract's EIP-712 domain
	// parameters (e.g. "USD Coin"/"2" for Base USDC). Required for EVM
	// networks only; pkg/x402/evm.AssetInfoFromRequirements reads them
	// back out of the built requirement's Extra map.
	EIP712Name    string
	EIP712Version string
}

// BuildRequirements converts a PriceSpec into one PaymentRequirements per
// AssetQuote, using internal/money's atomic Money type throughout so no
// float64 ever touches an amount comparison (Testable Property 6).
func BuildRequirements(spec PriceSpec) ([]PaymentRequirements, error) {
	if spec.USD.Atomic < 0 {
		return nil, fmt.Errorf("x402: negative price for resource %q", spec.ResourceID)
	}

	out := make([]PaymentRequirements, 0, len(spec.Accepts))
	for _, quote := range spec.Accepts {
		req := PaymentRequirements{
			Scheme:            SchemeExact,
			Network:           quote.Network,
			MaxAmountRequired: centsToAtomic(spec.USD.Atomic, quote.UnitsPerUSD),
			Resource:          spec.ResourceID,
			PayTo:             quote.PayTo,
			MaxTimeoutSeconds: spec.TimeoutSeconds,
			Asset:             quote.Asset,
			AssetDecimals:     quote.AssetDecimals,
		}
		switch {
		case quote.Network.IsSVM() && spec.SVMFeePayer != "":
			req.Extra = map[string]string{"feePayer": spec.SVMFeePayer}
		case quote.Network.IsEVM() && (quote.EIP712Name != "" || quote.EIP712Version != ""):
			req.Extra = map[string]string{"name": quote.EIP712Name, "version": quote.EIP712Version}
		}
		out = append(out, req)
	}
	return out, nil
}

// centsToAtomic converts a USD cents amount to an asset's atomic units using
// pure integer math (no float64) — cents is USD*100 and UnitsPerUSD is
// atomic units per $1.00, so the conversion is an exact multiply-then-divide
// for every stablecoin decimals configuration used in practice (1e6, 1e9,
// 1e18 atomic-units-per-dollar are all divisible by 100).
func centsToAtomic(cents int64, unitsPerUSD int64) string {
	return fmt.Sprintf("%d", (cents*unitsPerUSD)/100)
}
