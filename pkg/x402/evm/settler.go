package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	apierrors "github.com/x402kit/facilitator/internal/errors"
	"github.com/x402kit/facilitator/pkg/x402"
)

// SettleConfig gates optional settlement behaviors.
type SettleConfig struct {
	// DeployERC6492Wallets enables deploying an undeployed counterfactual
	// smart wallet (via the wrapped factory calldata) before submitting
	// transferWithAuthorization, when the signature was ERC-6492 wrapped
	// and the wallet has no code yet. Default off.
	DeployERC6492Wallets bool
}

// Settler executes a verified EIP-3009 authorization on-chain.
type Settler struct {
	verifier           *Verifier
	clients            func(x402.Network) (Client, error)
	config             SettleConfig
	facilitatorAddress common.Address
}

// NewSettler builds a Settler. It re-verifies before submitting rather than
// trusting a caller-supplied "already verified" flag. facilitatorAddress is
// the hot wallet that pays
// gas and co-signs settlement transactions; SubmitBatch uses it to resolve
// the batch's starting nonce.
func NewSettler(verifier *Verifier, clients func(x402.Network) (Client, error), config SettleConfig, facilitatorAddress common.Address) *Settler {
	return &Settler{verifier: verifier, clients: clients, config: config, facilitatorAddress: facilitatorAddress}
}

// Settle verifies then submits transferWithAuthorization, waiting for the
// chain's configured confirmation count. It resolves the pending nonce at
// submission time; for concurrent batch settlement use SettleAt instead,
// which takes a pre-assigned nonce.
func (s *Settler) Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettlementResult, error) {
	return s.settle(ctx, payload, req, -1)
}

// SettleAt is Settle with an explicit nonce, used by SubmitBatch so
// concurrently submitted items don't race for the same pending nonce.
func (s *Settler) SettleAt(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements, nonce uint64) (x402.SettlementResult, error) {
	return s.settle(ctx, payload, req, int64(nonce))
}

func (s *Settler) settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements, nonce int64) (x402.SettlementResult, error) {
	result, err := s.verifier.Verify(ctx, payload, req)
	if err != nil {
		return x402.SettlementResult{}, err
	}

	evmPayload := payload.Payload.(x402.EvmPayload)
	asset, err := AssetInfoFromRequirements(req)
	if err != nil {
		return x402.SettlementResult{}, err
	}
	chain, err := GetChain(req.Network)
	if err != nil {
		return x402.SettlementResult{}, err
	}
	client, err := s.clients(req.Network)
	if err != nil {
		return x402.SettlementResult{}, x402.NewVerificationError(apierrors.ErrCodeRPCError, err)
	}

	txHash, err := s.submit(ctx, client, asset.Address, evmPayload, nonce)
	if err != nil {
		return x402.SettlementResult{}, err
	}

	receipt, err := client.WaitForReceipt(ctx, txHash, chain.Confirmations)
	if err != nil {
		return x402.SettlementResult{}, x402.NewVerificationError(apierrors.ErrCodeTransactionExpired, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return x402.SettlementResult{}, x402.NewVerificationError(apierrors.ErrCodeOnChainRevert,
			fmt.Errorf("evm: transferWithAuthorization reverted in tx %s", txHash))
	}

	gasPrice := ""
	if receipt.EffectiveGasPrice != nil {
		gasPrice = receipt.EffectiveGasPrice.String()
	}
	var blockNumber uint64
	if receipt.BlockNumber != nil {
		blockNumber = receipt.BlockNumber.Uint64()
	}

	return x402.SettlementResult{
		TxHash:      txHash.Hex(),
		Network:     req.Network,
		Payer:       result.Payer,
		Amount:      result.Amount,
		SettledAt:   time.Now(),
		BlockNumber: blockNumber,
		GasUsed:     receipt.GasUsed,
		GasPrice:    gasPrice,
	}, nil
}

// submit optionally deploys an undeployed ERC-6492 smart wallet, then
// sends transferWithAuthorization using the unwrapped inner signature.
// nonce < 0 means resolve the pending nonce at send time.
func (s *Settler) submit(ctx context.Context, client Client, asset common.Address, payload x402.EvmPayload, nonce int64) (common.Hash, error) {
	auth := payload.Authorization
	sigBytes := common.FromHex(payload.Signature)
	sigData, err := ParseSignature(sigBytes)
	if err != nil {
		return common.Hash{}, x402.NewVerificationError(apierrors.ErrCodeInvalidSignature, err)
	}

	from := common.HexToAddress(auth.From)
	if sigData.IsWrapped() {
		if err := s.maybeDeployWallet(ctx, client, from, sigData); err != nil {
			return common.Hash{}, err
		}
	}

	if len(sigData.InnerSignature) != 65 {
		return common.Hash{}, x402.NewVerificationError(apierrors.ErrCodeInvalidSignature,
			fmt.Errorf("evm: inner signature must be 65 bytes, got %d", len(sigData.InnerSignature)))
	}
	var sig [65]byte
	copy(sig[:], sigData.InnerSignature)

	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	nonceBytes := common.FromHex(auth.Nonce)
	var authNonce [32]byte
	copy(authNonce[:], nonceBytes)

	txAuth := TransferAuthorization{
		From:        from,
		To:          common.HexToAddress(auth.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       authNonce,
	}

	txHash, err := client.SendTransferWithAuthorization(ctx, asset, txAuth, sig, nonce)
	if err != nil {
		return common.Hash{}, x402.NewVerificationError(apierrors.ErrCodeTransactionFailed, err)
	}
	return txHash, nil
}

// maybeDeployWallet deploys the counterfactual smart wallet via its
// ERC-6492 factory calldata when it is not yet deployed and the settler is
// configured to do so; otherwise fails closed rather than submitting a
// transfer the wallet cannot authorize.
func (s *Settler) maybeDeployWallet(ctx context.Context, client Client, wallet common.Address, sig SignatureData) error {
	code, err := client.CodeAt(ctx, wallet)
	if err != nil {
		return x402.NewVerificationError(apierrors.ErrCodeRPCError, err)
	}
	if len(code) > 0 {
		return nil // already deployed
	}
	if !s.config.DeployERC6492Wallets {
		return x402.NewVerificationError(apierrors.ErrCodeInvalidTransaction,
			fmt.Errorf("evm: wallet %s is undeployed and erc6492 deployment is disabled", wallet))
	}

	txHash, err := client.SendRawTransaction(ctx, sig.Factory, sig.FactoryCalldata, -1)
	if err != nil {
		return x402.NewVerificationError(apierrors.ErrCodeTransactionFailed,
			fmt.Errorf("evm: deploy smart wallet: %w", err))
	}
	receipt, err := client.WaitForReceipt(ctx, txHash, 1)
	if err != nil {
		return x402.NewVerificationError(apierrors.ErrCodeTransactionExpired, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return x402.NewVerificationError(apierrors.ErrCodeOnChainRevert,
			fmt.Errorf("evm: smart wallet deployment reverted in tx %s", txHash))
	}
	return nil
}
