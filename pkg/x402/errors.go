package x402

import (
	"errors"
	"fmt"
	"strings"

	apierrors "github.com/x402kit/facilitator/internal/errors"
)

// ErrInvalidAmount is returned when a PaymentRequirements or payload carries
// a MaxAmountRequired/Value that does not parse as a non-negative integer.
var ErrInvalidAmount = errors.New("x402: invalid atomic amount")

// VerificationError classifies failures encountered during payload decoding,
// signature verification, or settlement.
type VerificationError struct {
	Code    apierrors.ErrorCode // machine-readable error code
	Message string              // user-friendly message
	Err     error               // technical error for logging
}

func (e VerificationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e VerificationError) Unwrap() error {
	return e.Err
}

// NewVerificationError creates a verification error with a user-friendly message.
func NewVerificationError(code apierrors.ErrorCode, err error) VerificationError {
	return VerificationError{
		Code:    code,
		Message: GetUserFriendlyMessage(code, err),
		Err:     err,
	}
}

// GetUserFriendlyMessage converts error codes to user-friendly messages.
func GetUserFriendlyMessage(code apierrors.ErrorCode, err error) string {
	switch code {
	case apierrors.ErrCodeInsufficientFundsToken:
		return "Insufficient token balance. Please add more tokens to the paying wallet and try again."
	case apierrors.ErrCodeInsufficientFunds:
		return "Insufficient balance for network fees. Please fund the paying wallet and try again."
	case apierrors.ErrCodeAmountBelowMinimum:
		return "Payment amount is less than required. Please check the payment amount and try again."
	case apierrors.ErrCodeAmountMismatch:
		return "Payment amount does not match the required amount. Please pay the exact amount shown."
	case apierrors.ErrCodeInvalidSignature:
		return "Invalid payment signature. Please sign the authorization again."
	case apierrors.ErrCodeInvalidTiming:
		return "Payment authorization is outside its valid time window. Please request a fresh authorization."
	case apierrors.ErrCodeInvalidTokenMint:
		return "Wrong asset used for payment. Please use the asset specified in the payment requirements."
	case apierrors.ErrCodeInvalidRecipient:
		return "Payment sent to the wrong address. Please check the recipient address and try again."
	case apierrors.ErrCodeMissingTokenAccount:
		return "Recipient token account not found and auto-creation is disabled."
	case apierrors.ErrCodeTransactionNotFound:
		return "Transaction not found on-chain. It may have been dropped. Please try again."
	case apierrors.ErrCodeTransactionExpired:
		return "Transaction confirmation timed out. Check the block explorer before retrying."
	case apierrors.ErrCodeSimulationFailed:
		return "Transaction simulation failed. The payment would not succeed on-chain."
	case apierrors.ErrCodeOnChainRevert:
		return "Transaction reverted on-chain."
	case apierrors.ErrCodeTransactionFailed:
		if err != nil {
			msg := strings.ToLower(err.Error())
			switch {
			case strings.Contains(msg, "custom program error: 0x1"):
				return "Insufficient token balance. Please add more tokens to the paying wallet and try again."
			case strings.Contains(msg, "insufficient lamports"):
				return "Insufficient balance for network fees. Please fund the paying wallet and try again."
			case strings.Contains(msg, "account not found"):
				return "Recipient token account not found on-chain."
			}
		}
		return "Transaction failed on-chain. Check the block explorer for details."
	case apierrors.ErrCodePaymentAlreadyUsed:
		return "This payment has already been processed. Each authorization can only be settled once."
	case apierrors.ErrCodeNonceExpired:
		return "The reserved nonce has expired. Please request a fresh authorization."
	default:
		return fmt.Sprintf("Payment verification failed: %s", code)
	}
}
