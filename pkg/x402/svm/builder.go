package svm

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/x402kit/facilitator/pkg/x402"
)

// Builder assembles a gasless SPL TransferChecked transaction on behalf of
// a paying wallet, for internal/client's interceptor to sign and submit.
type Builder struct {
	rpcClient        *rpc.Client
	computeUnitLimit uint32
	computeUnitPrice uint64 // micro-lamports per compute unit, must be <= x402.MaxComputeUnitPriceMicroLamports
}

// NewBuilder constructs a Builder backed by an RPC client used to fetch a
// recent blockhash and check destination ATA existence.
func NewBuilder(rpcClient *rpc.Client, computeUnitLimit uint32, computeUnitPriceMicroLamports uint64) (*Builder, error) {
	if computeUnitPriceMicroLamports > x402.MaxComputeUnitPriceMicroLamports {
		return nil, fmt.Errorf("svm: compute unit price %d exceeds ceiling %d", computeUnitPriceMicroLamports, x402.MaxComputeUnitPriceMicroLamports)
	}
	return &Builder{
		rpcClient:        rpcClient,
		computeUnitLimit: computeUnitLimit,
		computeUnitPrice: computeUnitPriceMicroLamports,
	}, nil
}

// Build assembles, signs (transfer-authority only) and base64-serializes a
// TransferChecked transaction paying req from payer's wallet, with
// facilitatorFeePayer as the fee payer. The instruction order is fixed:
// compute-limit, compute-price, optional create-ATA, TransferChecked.
func (b *Builder) Build(ctx context.Context, req x402.PaymentRequirements, payer solana.PrivateKey, facilitatorFeePayer solana.PublicKey) (x402.SvmPayload, error) {
	if !req.Network.IsSVM() {
		return x402.SvmPayload{}, fmt.Errorf("svm: requirements network %q is not an SVM network", req.Network)
	}
	asset, err := AssetInfoFromRequirements(req)
	if err != nil {
		return x402.SvmPayload{}, err
	}
	amount, err := req.AtomicAmount()
	if err != nil {
		return x402.SvmPayload{}, err
	}
	if !amount.IsUint64() {
		return x402.SvmPayload{}, fmt.Errorf("svm: amount %s overflows uint64", amount)
	}

	recipientOwner, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return x402.SvmPayload{}, fmt.Errorf("svm: invalid payTo %q: %w", req.PayTo, err)
	}
	recipientATA, _, err := solana.FindAssociatedTokenAddress(recipientOwner, asset.Mint)
	if err != nil {
		return x402.SvmPayload{}, fmt.Errorf("svm: derive recipient ata: %w", err)
	}
	payerATA, _, err := solana.FindAssociatedTokenAddress(payer.PublicKey(), asset.Mint)
	if err != nil {
		return x402.SvmPayload{}, fmt.Errorf("svm: derive payer ata: %w", err)
	}

	ataExists := true
	if _, err := b.rpcClient.GetAccountInfo(ctx, recipientATA); err != nil {
		ataExists = false
	}

	recent, err := b.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return x402.SvmPayload{}, fmt.Errorf("svm: get latest blockhash: %w", err)
	}

	instructions := make([]solana.Instruction, 0, 4)
	if b.computeUnitLimit > 0 {
		instructions = append(instructions, computebudget.NewSetComputeUnitLimitInstruction(b.computeUnitLimit).Build())
	}
	instructions = append(instructions, computebudget.NewSetComputeUnitPriceInstruction(b.computeUnitPrice).Build())
	if !ataExists {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(facilitatorFeePayer, recipientOwner, asset.Mint).Build(),
		)
	}
	instructions = append(instructions,
		token.NewTransferCheckedInstruction(
			amount.Uint64(),
			asset.Decimals,
			payerATA,
			asset.Mint,
			recipientATA,
			payer.PublicKey(),
			[]solana.PublicKey{},
		).Build(),
	)

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(facilitatorFeePayer))
	if err != nil {
		return x402.SvmPayload{}, fmt.Errorf("svm: build transaction: %w", err)
	}

	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	}); err != nil {
		return x402.SvmPayload{}, fmt.Errorf("svm: partial sign: %w", err)
	}

	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return x402.SvmPayload{}, fmt.Errorf("svm: serialize transaction: %w", err)
	}

	return x402.SvmPayload{
		Transaction:           base64.StdEncoding.EncodeToString(txBytes),
		Resource:              req.Resource,
		FeePayer:              facilitatorFeePayer.String(),
		RecipientTokenAccount: recipientATA.String(),
	}, nil
}
