package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NonceTTL is how long a reserved EIP-3009/SPL nonce stays reserved before
// the sweeper reclaims it for reuse. The reservation exists to stop two
// concurrent settlements from racing to consume the same authorization
// nonce, not to track it forever.
const NonceTTL = 5 * time.Minute

// Nonce is a reservation record for one (network, facilitator-or-payer,
// nonce-value) tuple, consumed at most once.
type Nonce struct {
	ID         string // hex-encoded random reservation ID
	Network    string
	Account    string // the address/pubkey the nonce belongs to
	Value      string // the nonce itself (hex for EVM, decimal for EVM sequential, base58 n/a for SVM durable nonces)
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// IsConsumed reports whether the nonce has already been used.
func (n Nonce) IsConsumed() bool {
	return n.ConsumedAt != nil
}

// IsExpiredAt reports whether the nonce's reservation has lapsed as of now.
func (n Nonce) IsExpiredAt(now time.Time) bool {
	return now.After(n.ExpiresAt)
}

// NonceStore reserves and consumes nonces so that two concurrent settlement
// attempts for the same (network, account, nonce) can never both succeed.
type NonceStore interface {
	// Reserve records a new nonce reservation. It fails if a row for the
	// (network, account, value) tuple already exists, including an expired
	// one that CleanupExpired has not yet removed.
	Reserve(ctx context.Context, n Nonce) error

	// Consume marks a reservation as used. It fails if the reservation
	// does not exist, is already consumed, or has expired.
	Consume(ctx context.Context, id string) error

	// CleanupExpired deletes reservations past their expiry and returns
	// the count removed.
	CleanupExpired(ctx context.Context) (int64, error)
}

// GenerateReservationID creates a random reservation identifier.
func GenerateReservationID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ledger: generate reservation id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
