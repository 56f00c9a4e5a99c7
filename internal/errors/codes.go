package errors

// ErrorCode represents a machine-readable error identifier for client-facing
// error handling and log correlation.
type ErrorCode string

// Payment Verification Errors (x402 protocol + chain-specific)
const (
	// Invalid payment proof format or structure
	ErrCodeInvalidPaymentProof ErrorCode = "invalid_payment_proof"
	ErrCodeInvalidSignature    ErrorCode = "invalid_signature"
	ErrCodeInvalidTransaction  ErrorCode = "invalid_transaction"
	ErrCodeUnsupportedScheme   ErrorCode = "unsupported_scheme"
	ErrCodeUnsupportedNetwork  ErrorCode = "unsupported_network"

	// On-chain verification failures
	ErrCodeTransactionNotFound     ErrorCode = "transaction_not_found"
	ErrCodeTransactionNotConfirmed ErrorCode = "transaction_not_confirmed"
	ErrCodeTransactionFailed       ErrorCode = "transaction_failed"
	ErrCodeSimulationFailed        ErrorCode = "simulation_failed"
	ErrCodeOnChainRevert           ErrorCode = "on_chain_revert"

	// Recipient/sender validation failures
	ErrCodeInvalidRecipient ErrorCode = "invalid_recipient"
	ErrCodeInvalidSender    ErrorCode = "invalid_sender"

	// Amount/token validation failures
	ErrCodeAmountBelowMinimum     ErrorCode = "amount_below_minimum"
	ErrCodeAmountMismatch         ErrorCode = "amount_mismatch"
	ErrCodeInsufficientFunds      ErrorCode = "insufficient_funds_native"
	ErrCodeInsufficientFundsToken ErrorCode = "insufficient_funds_token"
	ErrCodeInvalidTokenMint       ErrorCode = "invalid_token_mint"

	// SPL transfer structural validation failures
	ErrCodeNotSPLTransfer      ErrorCode = "not_spl_transfer"
	ErrCodeMissingTokenAccount ErrorCode = "missing_token_account"
	ErrCodeInvalidTokenProgram ErrorCode = "invalid_token_program"
	ErrCodeInvalidInstructions ErrorCode = "invalid_instructions"
	ErrCodeComputePriceTooHigh ErrorCode = "compute_price_too_high"

	// EIP-3009 timing window failures
	ErrCodeInvalidTiming ErrorCode = "invalid_timing"

	// Replay / idempotency protection
	ErrCodePaymentAlreadyUsed ErrorCode = "payment_already_used"
	ErrCodeSignatureReused    ErrorCode = "signature_reused"
	ErrCodeNonceExpired       ErrorCode = "nonce_expired"
	ErrCodeNonceConflict      ErrorCode = "nonce_conflict"

	// Timeout/expiration errors
	ErrCodeQuoteExpired       ErrorCode = "quote_expired"
	ErrCodeTransactionExpired ErrorCode = "transaction_expired"
)

// Validation Errors (request input validation)
const (
	ErrCodeMissingField    ErrorCode = "missing_field"
	ErrCodeInvalidField    ErrorCode = "invalid_field"
	ErrCodeInvalidAmount   ErrorCode = "invalid_amount"
	ErrCodeInvalidWallet   ErrorCode = "invalid_wallet"
	ErrCodeInvalidResource ErrorCode = "invalid_resource"
)

// Resource/State Errors (resource not found or in wrong state)
const (
	ErrCodeResourceNotFound ErrorCode = "resource_not_found"
)

// External Service Errors (chain RPCs, etc.)
const (
	ErrCodeRPCError     ErrorCode = "rpc_error"
	ErrCodeNetworkError ErrorCode = "network_error"
)

// Internal/System Errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are typically transient network/service issues, not
// validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeRPCError,
		ErrCodeNetworkError,
		ErrCodeTransactionNotConfirmed:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - client validation errors
	case ErrCodeInvalidPaymentProof,
		ErrCodeInvalidSignature,
		ErrCodeInvalidTransaction,
		ErrCodeUnsupportedScheme,
		ErrCodeUnsupportedNetwork,
		ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeInvalidWallet,
		ErrCodeInvalidResource,
		ErrCodeInvalidRecipient,
		ErrCodeInvalidSender,
		ErrCodeInvalidTokenMint,
		ErrCodeNotSPLTransfer,
		ErrCodeInvalidTokenProgram,
		ErrCodeInvalidInstructions,
		ErrCodeComputePriceTooHigh,
		ErrCodeInvalidTiming:
		return 400

	// 402 Payment Required - payment verification failures
	case ErrCodeTransactionNotFound,
		ErrCodeTransactionNotConfirmed,
		ErrCodeTransactionFailed,
		ErrCodeSimulationFailed,
		ErrCodeOnChainRevert,
		ErrCodeAmountBelowMinimum,
		ErrCodeAmountMismatch,
		ErrCodeInsufficientFunds,
		ErrCodeInsufficientFundsToken,
		ErrCodeMissingTokenAccount,
		ErrCodePaymentAlreadyUsed,
		ErrCodeSignatureReused,
		ErrCodeNonceExpired,
		ErrCodeNonceConflict,
		ErrCodeQuoteExpired,
		ErrCodeTransactionExpired:
		return 402

	// 404 Not Found - resource not found
	case ErrCodeResourceNotFound:
		return 404

	// 502 Bad Gateway - external service errors
	case ErrCodeRPCError,
		ErrCodeNetworkError:
		return 502

	// 500 Internal Server Error - system/internal errors
	default:
		return 500
	}
}
