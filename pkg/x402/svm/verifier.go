package svm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	apierrors "github.com/x402kit/facilitator/internal/errors"
	"github.com/x402kit/facilitator/pkg/x402"
)

// Verifier implements facilitator.SchemeVerifier for SPL TransferChecked
// "exact" payments. It decodes and structurally validates the partially
// signed transaction, co-signs as fee payer, then simulates against RPC;
// any simulation error fails closed.
type Verifier struct {
	clients Clients
}

// NewVerifier builds a Verifier backed by a per-network Client resolver.
func NewVerifier(clients Clients) *Verifier {
	return &Verifier{clients: clients}
}

// Verify validates an SvmPayload against requirements.
func (v *Verifier) Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerificationResult, error) {
	if payload.Scheme != req.Scheme {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeUnsupportedScheme,
			fmt.Errorf("svm: payload scheme %q != requirements scheme %q", payload.Scheme, req.Scheme))
	}
	if payload.Network != req.Network {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeUnsupportedNetwork,
			fmt.Errorf("svm: payload network %q != requirements network %q", payload.Network, req.Network))
	}
	svmPayload, ok := payload.Payload.(x402.SvmPayload)
	if !ok {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidPaymentProof,
			fmt.Errorf("svm: payload is not an SvmPayload"))
	}
	if svmPayload.Transaction == "" {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidTransaction,
			fmt.Errorf("svm: transaction payload missing"))
	}

	tx, err := solana.TransactionFromBase64(svmPayload.Transaction)
	if err != nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidTransaction, err)
	}
	if len(tx.Message.AccountKeys) == 0 {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidTransaction,
			fmt.Errorf("svm: transaction missing account keys"))
	}

	client, err := v.clients(req.Network)
	if err != nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeRPCError, err)
	}

	feePayer := tx.Message.AccountKeys[0]
	if !feePayer.Equals(client.FeePayer.PublicKey()) {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInvalidTransaction,
			fmt.Errorf("svm: transaction fee payer %s does not match facilitator %s", feePayer, client.FeePayer.PublicKey()))
	}

	amount, payer, err := structuralCheck(tx, req, svmPayload)
	if err != nil {
		return x402.VerificationResult{}, err
	}

	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(client.FeePayer.PublicKey()) {
			return &client.FeePayer
		}
		return nil
	}); err != nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeInternalError,
			fmt.Errorf("svm: co-sign as fee payer: %w", err))
	}

	simResult, err := client.RPC.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  true,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeSimulationFailed, err)
	}
	if simResult != nil && simResult.Value != nil && simResult.Value.Err != nil {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeSimulationFailed,
			fmt.Errorf("svm: simulation failed: %v", simResult.Value.Err))
	}

	timeout := req.MaxTimeoutSeconds
	expiresAt := time.Now().Add(maxDuration(time.Duration(timeout)*time.Second, x402.DefaultAccessTTL))
	return x402.VerificationResult{
		Payer:     payer.String(),
		Amount:    new(big.Int).SetUint64(amount),
		ExpiresAt: expiresAt,
	}, nil
}
