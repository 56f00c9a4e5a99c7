package x402

import "time"

// X402ProtocolVersion is the value carried in PaymentPayload.X402Version.
const X402ProtocolVersion = 1

// Transaction confirmation timeouts and intervals.
const (
	// BlockhashValidityWindow is the conservative window for Solana blockhash
	// validity. Solana blockhashes are valid for ~150 slots (~60s on
	// mainnet); 90s is a conservative estimate.
	BlockhashValidityWindow = 90 * time.Second

	// RPCPollInterval is how frequently we poll RPC for transaction status
	// when the WebSocket fast path is unavailable.
	RPCPollInterval = 2 * time.Second

	// DefaultConfirmationTimeout is the maximum time to wait for transaction
	// confirmation on either chain.
	DefaultConfirmationTimeout = 2 * time.Minute

	// DefaultEIP3009TimeoutSeconds is the default validBefore window applied
	// to an authorization when the caller does not specify one.
	DefaultEIP3009TimeoutSeconds = 300

	// EIP3009ValidAfterSkew is subtracted from "now" when constructing
	// validAfter, to tolerate clock drift between client and facilitator.
	EIP3009ValidAfterSkew = 10 * time.Second

	// DefaultAccessTTL is how long a verified-but-unsettled payment remains
	// usable before the server must re-verify.
	DefaultAccessTTL = 45 * time.Minute
)

// MaxComputeUnitPriceMicroLamports is the ceiling the SVM verifier enforces
// on SetComputeUnitPrice instructions, so a payer's transaction can't bid the
// facilitator's fee payer into overpaying priority fees.
const MaxComputeUnitPriceMicroLamports = 5
