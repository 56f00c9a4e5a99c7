package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	apierrors "github.com/x402kit/facilitator/internal/errors"
	"github.com/x402kit/facilitator/pkg/x402"
)

// validBeforeBuffer is the block-time buffer applied when checking
// validBefore, matching the coinbase facilitator reference (6s, roughly
// one Base block).
const validBeforeBuffer = 6 * time.Second

// Verifier implements facilitator.SchemeVerifier for EIP-3009 "exact"
// payments.
type Verifier struct {
	clients func(x402.Network) (Client, error)
}

// NewVerifier builds a Verifier backed by a per-network Client resolver.
func NewVerifier(clients func(x402.Network) (Client, error)) *Verifier {
	return &Verifier{clients: clients}
}

// Verify validates an EvmPayload against requirements: scheme/network
// match, recipient/amount/timing, on-chain balance, and the EIP-712
// signature (unwrapping an ERC-6492 suffix first).
func (v *Verifier) Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerificationResult, error) {
	if payload.Scheme != req.Scheme {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeUnsupportedScheme,
			fmt.Errorf("evm: payload scheme %q != requirements scheme %q", payload.Scheme, req.Scheme))
	}
	if payload.Network != req.Network {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeUnsupportedNetwork,
			fmt.Errorf("evm: payload network %q != requirements network %q", payload.Network, req.Network))
	}
	evmPayload, ok := payload.Payload.(x402.EvmPayload)
	if !ok {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidPaymentProof,
			fmt.Errorf("evm: payload is not an EvmPayload"))
	}

	asset, err := AssetInfoFromRequirements(req)
	if err != nil {
		return x402.VerificationResult{}, err
	}

	auth := evmPayload.Authorization
	if !strings.EqualFold(auth.To, req.PayTo) {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidRecipient,
			fmt.Errorf("evm: authorization.to %s != requirements.payTo %s", auth.To, req.PayTo))
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidAmount,
			fmt.Errorf("evm: authorization value %q is not a valid integer", auth.Value))
	}
	required, err := req.AtomicAmount()
	if err != nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidAmount, err)
	}
	if value.Cmp(required) != 0 {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeAmountMismatch,
			fmt.Errorf("evm: authorization value %s != required %s", value, required))
	}

	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidTiming,
			fmt.Errorf("evm: invalid validBefore %q", auth.ValidBefore))
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidTiming,
			fmt.Errorf("evm: invalid validAfter %q", auth.ValidAfter))
	}
	now := time.Now()
	if validBefore.Cmp(big.NewInt(now.Add(validBeforeBuffer).Unix())) < 0 {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidTiming,
			fmt.Errorf("evm: authorization validBefore %s has expired (or expires within %s)", validBefore, validBeforeBuffer))
	}
	if validAfter.Cmp(big.NewInt(now.Unix())) > 0 {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidTiming,
			fmt.Errorf("evm: authorization validAfter %s is still in the future", validAfter))
	}

	chain, err := GetChain(req.Network)
	if err != nil {
		return x402.VerificationResult{}, err
	}
	client, err := v.clients(req.Network)
	if err != nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeRPCError, err)
	}

	from := common.HexToAddress(auth.From)
	if balance, err := client.BalanceOf(ctx, asset.Address, from); err == nil {
		if balance.Cmp(value) < 0 {
			return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInsufficientFundsToken,
				fmt.Errorf("evm: payer balance %s below authorization value %s", balance, value))
		}
	}

	nonceBytes := common.FromHex(auth.Nonce)
	if len(nonceBytes) != 32 {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidPaymentProof,
			fmt.Errorf("evm: authorization nonce must be 32 bytes, got %d", len(nonceBytes)))
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	to := common.HexToAddress(auth.To)
	typedData := transferAuthorizationTypedData(asset.Address, chain.ChainID, from, to, value, validAfter, validBefore, nonce, asset.Name, asset.Version)
	digestBytes, err := transferAuthorizationDigest(typedData)
	if err != nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInternalError, err)
	}
	var digest [32]byte
	copy(digest[:], digestBytes)

	sigBytes := common.FromHex(evmPayload.Signature)
	sigData, err := ParseSignature(sigBytes)
	if err != nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidSignature, err)
	}

	valid, err := v.verifySignature(ctx, client, from, digest, sigData)
	if err != nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeRPCError, err)
	}
	if !valid {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidSignature,
			fmt.Errorf("evm: signature does not recover to authorization.from %s", auth.From))
	}

	return x402.VerificationResult{
		Payer:     auth.From,
		Amount:    value,
		ExpiresAt: time.Unix(validBefore.Int64(), 0),
	}, nil
}

// verifySignature tries EOA recovery first (cheap, no RPC), then falls
// back to EIP-1271 for a contract wallet. An ERC-6492-wrapped signature
// targets the inner signature at whichever of those two paths applies.
func (v *Verifier) verifySignature(ctx context.Context, client Client, from common.Address, digest [32]byte, sig SignatureData) (bool, error) {
	if recovered, err := signerForDigest(digest, sig.InnerSignature); err == nil && recovered == from {
		return true, nil
	}
	return client.IsValidERC1271Signature(ctx, from, digest, sig.InnerSignature)
}
