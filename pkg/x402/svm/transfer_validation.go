package svm

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"

	apierrors "github.com/x402kit/facilitator/internal/errors"
	"github.com/x402kit/facilitator/pkg/x402"
)

// newVerificationError is a helper to create verification errors.
func newVerificationError(code apierrors.ErrorCode, err error) x402.VerificationError {
	return x402.NewVerificationError(code, err)
}

// resolveTokenAccount derives the expected recipient token account for a
// requirement: SvmPayload.RecipientTokenAccount if the payload carried one,
// otherwise the associated token account for req.PayTo/req.Asset.
func resolveTokenAccount(payload x402.SvmPayload, req x402.PaymentRequirements) (solana.PublicKey, error) {
	if payload.RecipientTokenAccount != "" {
		pk, err := solana.PublicKeyFromBase58(payload.RecipientTokenAccount)
		if err != nil {
			return solana.PublicKey{}, newVerificationError(apierrors.ErrCodeInvalidRecipient, err)
		}
		return pk, nil
	}
	owner, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return solana.PublicKey{}, newVerificationError(apierrors.ErrCodeInvalidRecipient, err)
	}
	mint, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return solana.PublicKey{}, newVerificationError(apierrors.ErrCodeInvalidTokenMint, err)
	}
	account, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, newVerificationError(apierrors.ErrCodeInternalError, err)
	}
	return account, nil
}

// structuralCheck enforces the allowed SVM payment transaction shape:
// exactly a compute-limit instruction, a compute-price instruction at or below
// x402.MaxComputeUnitPriceMicroLamports, an optional create-ATA
// instruction for the destination, and one TransferChecked instruction
// whose mint, amount, decimals, and destination ATA all match req.
// Returns the exact atomic amount and the transfer authority (payer).
func structuralCheck(tx *solana.Transaction, req x402.PaymentRequirements, payload x402.SvmPayload) (uint64, solana.PublicKey, error) {
	asset, err := AssetInfoFromRequirements(req)
	if err != nil {
		return 0, solana.PublicKey{}, err
	}
	required, err := req.AtomicAmount()
	if err != nil {
		return 0, solana.PublicKey{}, newVerificationError(apierrors.ErrCodeInvalidAmount, err)
	}
	if !required.IsUint64() {
		return 0, solana.PublicKey{}, newVerificationError(apierrors.ErrCodeInvalidAmount,
			fmt.Errorf("svm: requirement amount %s overflows uint64", required))
	}

	expectedAccount, err := resolveTokenAccount(payload, req)
	if err != nil {
		return 0, solana.PublicKey{}, err
	}

	var sawComputePrice bool
	var amount uint64
	var owner solana.PublicKey
	var found bool

	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		programID := tx.Message.AccountKeys[inst.ProgramIDIndex]

		switch {
		case programID.Equals(solana.ComputeBudget):
			accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
			if err != nil {
				continue
			}
			decoded, err := computebudget.DecodeInstruction(accounts, []byte(inst.Data))
			if err != nil {
				continue
			}
			if price, ok := decoded.Impl.(*computebudget.SetComputeUnitPrice); ok {
				if price.MicroLamports > x402.MaxComputeUnitPriceMicroLamports {
					return 0, solana.PublicKey{}, newVerificationError(apierrors.ErrCodeComputePriceTooHigh,
						fmt.Errorf("svm: compute price %d exceeds ceiling %d", price.MicroLamports, x402.MaxComputeUnitPriceMicroLamports))
				}
				sawComputePrice = true
			}

		case programID.Equals(asset.TokenProgram):
			accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
			if err != nil {
				return 0, solana.PublicKey{}, newVerificationError(apierrors.ErrCodeInvalidInstructions, err)
			}
			decoded, err := token.DecodeInstruction(accounts, []byte(inst.Data))
			if err != nil {
				continue
			}
			ins, ok := decoded.Impl.(*token.TransferChecked)
			if !ok {
				continue
			}
			dest := ins.GetDestinationAccount().PublicKey
			if !dest.Equals(expectedAccount) {
				continue
			}
			if mintAccount := ins.GetMintAccount().PublicKey; !mintAccount.Equals(asset.Mint) {
				continue
			}
			if ins.Decimals == nil || *ins.Decimals != asset.Decimals {
				return 0, solana.PublicKey{}, newVerificationError(apierrors.ErrCodeInvalidInstructions,
					fmt.Errorf("svm: transferChecked decimals %v != required %d", ins.Decimals, asset.Decimals))
			}
			if ins.Amount == nil {
				return 0, solana.PublicKey{}, newVerificationError(apierrors.ErrCodeInvalidInstructions, errors.New("transferChecked amount missing"))
			}
			amount = *ins.Amount
			owner = ins.GetOwnerAccount().PublicKey
			found = true
		}
	}

	if !sawComputePrice {
		return 0, solana.PublicKey{}, newVerificationError(apierrors.ErrCodeInvalidInstructions,
			errors.New("svm: missing compute unit price instruction"))
	}
	if !found {
		return 0, solana.PublicKey{}, newVerificationError(apierrors.ErrCodeNotSPLTransfer,
			fmt.Errorf("svm: no transferChecked to %s found in transaction", expectedAccount.String()))
	}
	if amount != required.Uint64() {
		return 0, solana.PublicKey{}, newVerificationError(apierrors.ErrCodeAmountMismatch,
			fmt.Errorf("svm: transfer amount %d != required %d", amount, required.Uint64()))
	}
	if owner.Equals(tx.Message.AccountKeys[0]) {
		// Fee payer (first account) must never also be the transfer
		// authority: that would let the facilitator move its own funds
		// under the guise of settling a payer's authorization.
		return 0, solana.PublicKey{}, newVerificationError(apierrors.ErrCodeInvalidSender,
			errors.New("svm: transfer authority must not be the fee payer"))
	}

	return amount, owner, nil
}
