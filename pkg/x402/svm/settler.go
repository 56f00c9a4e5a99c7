package svm

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	apierrors "github.com/x402kit/facilitator/internal/errors"
	"github.com/x402kit/facilitator/pkg/x402"
)

// Settler submits a verified SPL TransferChecked transaction and awaits
// confirmation. It always co-signs and simulates via Verify first.
type Settler struct {
	verifier *Verifier
	clients  Clients
}

// NewSettler builds a Settler.
func NewSettler(verifier *Verifier, clients Clients) *Settler {
	return &Settler{verifier: verifier, clients: clients}
}

// Settle re-verifies, submits, and waits for confirmation.
func (s *Settler) Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettlementResult, error) {
	result, err := s.verifier.Verify(ctx, payload, req)
	if err != nil {
		return x402.SettlementResult{}, err
	}

	svmPayload := payload.Payload.(x402.SvmPayload)
	tx, err := solana.TransactionFromBase64(svmPayload.Transaction)
	if err != nil {
		return x402.SettlementResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidTransaction, err)
	}

	client, err := s.clients(req.Network)
	if err != nil {
		return x402.SettlementResult{}, x402.NewVerificationError(apierrors.ErrCodeRPCError, err)
	}
	cluster, err := GetCluster(req.Network)
	if err != nil {
		return x402.SettlementResult{}, err
	}

	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(client.FeePayer.PublicKey()) {
			return &client.FeePayer
		}
		return nil
	}); err != nil {
		return x402.SettlementResult{}, x402.NewVerificationError(apierrors.ErrCodeInternalError,
			fmt.Errorf("svm: co-sign as fee payer: %w", err))
	}

	commitment := cluster.Commitment
	if commitment == "" {
		commitment = commitmentFromString("")
	}

	signature, err := client.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{PreflightCommitment: commitment})
	if err != nil && !isAlreadyProcessedError(err) {
		if isInsufficientFundsTokenError(err) {
			return x402.SettlementResult{}, x402.NewVerificationError(apierrors.ErrCodeInsufficientFundsToken, err)
		}
		if isInsufficientFundsSOLError(err) {
			return x402.SettlementResult{}, x402.NewVerificationError(apierrors.ErrCodeInternalError, err)
		}
		return x402.SettlementResult{}, x402.NewVerificationError(apierrors.ErrCodeTransactionFailed, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxDuration(time.Duration(req.MaxTimeoutSeconds)*time.Second, x402.DefaultConfirmationTimeout))
	defer cancel()

	if err := awaitConfirmation(waitCtx, client, signature, commitment); err != nil {
		return x402.SettlementResult{}, x402.NewVerificationError(apierrors.ErrCodeTransactionExpired, err)
	}

	return x402.SettlementResult{
		TxHash:    signature.String(),
		Network:   req.Network,
		Payer:     result.Payer,
		Amount:    result.Amount,
		SettledAt: time.Now(),
	}, nil
}
