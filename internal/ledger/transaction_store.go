package ledger

import (
	"context"
	"time"

	"github.com/x402kit/facilitator/pkg/x402"
)

// DefaultMaxAttempts bounds how many times the sweeper will replay a failed
// settlement before giving up on it for good.
const DefaultMaxAttempts = 3

// DefaultRetryCooldown is how long a failed transaction must sit before the
// sweeper will replay it, giving a flaky RPC provider time to recover.
const DefaultRetryCooldown = 5 * time.Minute

// Transaction is a durable record of one settlement attempt, keyed by a
// request hash so a retried /settle call for the same payload+requirements
// resolves to the original result instead of paying twice.
type Transaction struct {
	RequestHash string // sha256(payload || requirements), hex-encoded
	Network     x402.Network
	Scheme      x402.Scheme
	Payer       string
	Resource    string
	Amount      string // decimal atomic amount, stored as text to stay exact past int64
	Payload     string // x402.ReplayRecord JSON, used to resubmit a failed settlement
	TxHash      string
	Status      TransactionStatus
	FailReason  string
	Attempts    int
	MaxAttempts int
	BlockNumber uint64
	GasUsed     uint64
	GasPrice    string // decimal atomic units (wei), empty if not applicable
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SettledAt   *time.Time
}

// TransactionStatus is the settlement lifecycle state of a Transaction.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusSettled    TransactionStatus = "settled"
	StatusFailed     TransactionStatus = "failed"
)

// SettlementOutcome carries the on-chain result recorded when a Transaction
// moves out of StatusProcessing.
type SettlementOutcome struct {
	TxHash      string
	FailReason  string
	BlockNumber uint64
	GasUsed     uint64
	GasPrice    string
}

// TransactionStore persists settlement attempts for idempotency, replay
// protection, and crash recovery: a request hash is globally unique
// regardless of resource.
type TransactionStore interface {
	// Begin records a pending settlement attempt. It fails if the request
	// hash already exists (replay / duplicate submission).
	Begin(ctx context.Context, tx Transaction) error

	// MarkProcessing transitions a pending or previously-failed transaction
	// to StatusProcessing and increments its attempt counter, immediately
	// before a settler broadcasts a transaction for it. Fails if the record
	// is already processing or settled.
	MarkProcessing(ctx context.Context, requestHash string) error

	// Complete marks a processing transaction settled or failed, persisting
	// the on-chain outcome.
	Complete(ctx context.Context, requestHash string, status TransactionStatus, outcome SettlementOutcome) error

	// Get retrieves a transaction by request hash. Callers use this to
	// short-circuit a retried /settle call that already has a result.
	Get(ctx context.Context, requestHash string) (Transaction, error)

	// Exists reports whether a request hash has ever been recorded.
	Exists(ctx context.Context, requestHash string) (bool, error)

	// FailedForRetry lists transactions in StatusFailed with attempts still
	// under their max_attempts whose last update is older than cooldown —
	// candidates for the sweeper to replay.
	FailedForRetry(ctx context.Context, cooldown time.Duration) ([]Transaction, error)
}

// ErrNotFound is returned by TransactionStore.Get and NonceStore-adjacent
// lookups when the requested record does not exist.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "ledger: record not found" }
