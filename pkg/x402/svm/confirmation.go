package svm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/x402kit/facilitator/pkg/x402"
)

// awaitConfirmation waits for transaction confirmation using WebSocket
// (fast) or RPC polling (fallback).
func awaitConfirmation(ctx context.Context, client *Client, signature solana.Signature, commitment rpc.CommitmentType) error {
	if err := awaitConfirmationViaWebSocket(ctx, client, signature, commitment); err == nil {
		return nil
	}
	// WebSocket failed; fall back to RPC polling so a dropped subscription
	// never masks whether the transaction actually landed.
	return awaitConfirmationViaRPC(ctx, client, signature, commitment)
}

func awaitConfirmationViaWebSocket(ctx context.Context, client *Client, signature solana.Signature, commitment rpc.CommitmentType) error {
	sub, err := client.WS.SignatureSubscribe(signature, commitment)
	if err != nil {
		return fmt.Errorf("svm: subscribe signature: %w", err)
	}
	defer sub.Unsubscribe()

	res, err := sub.Recv(ctx)
	if err != nil {
		return fmt.Errorf("svm: wait confirmation: %w", err)
	}
	if res == nil {
		return errors.New("svm: empty confirmation result")
	}
	if res.Value.Err != nil {
		return fmt.Errorf("svm: transaction error: %v", res.Value.Err)
	}
	return nil
}

func awaitConfirmationViaRPC(ctx context.Context, client *Client, signature solana.Signature, commitment rpc.CommitmentType) error {
	ticker := time.NewTicker(x402.RPCPollInterval)
	defer ticker.Stop()

	// Solana blockhashes are valid for ~150 slots (~60s on mainnet); past
	// that, an unseen transaction never will be.
	maxValidTime := time.Now().Add(x402.BlockhashValidityWindow)

	for {
		select {
		case <-ctx.Done():
			return checkTransactionStatus(ctx, client, signature, commitment)
		case <-ticker.C:
			if time.Now().After(maxValidTime) {
				if err := checkTransactionStatus(ctx, client, signature, commitment); err == nil {
					return nil
				}
				return errors.New("svm: transaction not found within blockhash validity period (likely dropped)")
			}

			err := checkTransactionStatus(ctx, client, signature, commitment)
			if err == nil {
				return nil
			}
			if isTransactionNotFoundError(err) {
				continue
			}
			return err
		}
	}
}

func checkTransactionStatus(ctx context.Context, client *Client, signature solana.Signature, commitment rpc.CommitmentType) error {
	result, err := client.RPC.GetSignatureStatuses(ctx, true, signature)
	if err != nil {
		return fmt.Errorf("svm: get signature status: %w", err)
	}
	if result == nil || result.Value == nil || len(result.Value) == 0 || result.Value[0] == nil {
		return errors.New("svm: transaction not found")
	}

	status := result.Value[0]
	confirmedStatus := status.ConfirmationStatus
	if confirmedStatus == "" {
		return errors.New("svm: transaction not confirmed yet")
	}

	switch commitment {
	case rpc.CommitmentFinalized:
		if confirmedStatus != rpc.ConfirmationStatusFinalized {
			return errors.New("svm: transaction not finalized yet")
		}
	case rpc.CommitmentConfirmed:
		if confirmedStatus != rpc.ConfirmationStatusConfirmed && confirmedStatus != rpc.ConfirmationStatusFinalized {
			return errors.New("svm: transaction not confirmed yet")
		}
	case rpc.CommitmentProcessed:
		if confirmedStatus != rpc.ConfirmationStatusProcessed && confirmedStatus != rpc.ConfirmationStatusConfirmed && confirmedStatus != rpc.ConfirmationStatusFinalized {
			return errors.New("svm: transaction not processed yet")
		}
	}

	if status.Err != nil {
		return fmt.Errorf("svm: transaction error: %v", status.Err)
	}
	return nil
}
