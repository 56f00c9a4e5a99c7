package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/x402kit/facilitator/pkg/x402"
)

// DefaultQueryTimeout bounds every ledger query so a slow Postgres never
// stalls a settlement request indefinitely.
const DefaultQueryTimeout = 5 * time.Second

func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

// PostgresLedger implements NonceStore and TransactionStore over a shared
// *sql.DB (internal/dbpool), using the fixed tables x402_nonces and
// x402_transactions.
type PostgresLedger struct {
	db               *sql.DB
	ownsDB           bool
	noncesTable      string
	transactionsTable string
}

// NewPostgresLedger opens its own connection and creates the ledger tables.
func NewPostgresLedger(connectionString string) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("ledger: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: ping postgres: %w", err)
	}
	return newPostgresLedger(db, true)
}

// NewPostgresLedgerWithDB builds a ledger over an existing connection pool
// (internal/dbpool.SharedPool), so the ledger and any other Postgres-backed
// component share one pool per SPEC_FULL.md §5.
func NewPostgresLedgerWithDB(db *sql.DB) (*PostgresLedger, error) {
	return newPostgresLedger(db, false)
}

func newPostgresLedger(db *sql.DB, ownsDB bool) (*PostgresLedger, error) {
	l := &PostgresLedger{
		db:                db,
		ownsDB:            ownsDB,
		noncesTable:       "x402_nonces",
		transactionsTable: "x402_transactions",
	}
	if err := l.createTables(); err != nil {
		if ownsDB {
			_ = db.Close()
		}
		return nil, err
	}
	return l, nil
}

func (l *PostgresLedger) createTables() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			network TEXT NOT NULL,
			account TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			consumed_at TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS %s (
			request_hash TEXT PRIMARY KEY,
			network TEXT NOT NULL,
			scheme TEXT NOT NULL,
			payer TEXT NOT NULL,
			resource TEXT NOT NULL,
			amount TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			tx_hash TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			fail_reason TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			block_number BIGINT NOT NULL DEFAULT 0,
			gas_used BIGINT NOT NULL DEFAULT 0,
			gas_price TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			settled_at TIMESTAMP
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_network_account_value ON %s(network, account, value);
		CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s(expires_at);
		CREATE INDEX IF NOT EXISTS idx_%s_status_created ON %s(status, created_at) WHERE status IN ('pending', 'processing');
		CREATE INDEX IF NOT EXISTS idx_%s_status_updated ON %s(status, updated_at) WHERE status = 'failed';
	`,
		l.noncesTable,
		l.transactionsTable,
		l.noncesTable, l.noncesTable,
		l.noncesTable, l.noncesTable,
		l.transactionsTable, l.transactionsTable,
		l.transactionsTable, l.transactionsTable,
	)
	_, err := l.db.Exec(schema)
	return err
}

// Close closes the underlying connection if this ledger opened it.
func (l *PostgresLedger) Close() error {
	if !l.ownsDB {
		return nil
	}
	return l.db.Close()
}

// --- NonceStore ---

func (l *PostgresLedger) Reserve(ctx context.Context, n Nonce) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, network, account, value, created_at, expires_at, consumed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, l.noncesTable)

	var consumedAt interface{}
	if n.ConsumedAt != nil {
		utc := n.ConsumedAt.UTC()
		consumedAt = &utc
	}

	_, err := l.db.ExecContext(ctx, query, n.ID, n.Network, n.Account, n.Value,
		n.CreatedAt.UTC(), n.ExpiresAt.UTC(), consumedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("ledger: nonce %s already reserved for %s/%s: %w", n.Value, n.Network, n.Account, err)
	}
	return err
}

func (l *PostgresLedger) Consume(ctx context.Context, id string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET consumed_at = NOW()
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > NOW()
	`, l.noncesTable)

	result, err := l.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("ledger: nonce reservation %s not found, already consumed, or expired", id)
	}
	return nil
}

func (l *PostgresLedger) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < NOW()`, l.noncesTable)
	result, err := l.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("ledger: cleanup expired nonces: %w", err)
	}
	return result.RowsAffected()
}

// --- TransactionStore ---

func (l *PostgresLedger) Begin(ctx context.Context, tx Transaction) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	maxAttempts := tx.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (request_hash, network, scheme, payer, resource, amount, payload, tx_hash, status, fail_reason, attempts, max_attempts, created_at, updated_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8, '', 0, $9, $10, $10, NULL)
	`, l.transactionsTable)

	_, err := l.db.ExecContext(ctx, query, tx.RequestHash, string(tx.Network), string(tx.Scheme),
		tx.Payer, tx.Resource, tx.Amount, tx.Payload, string(StatusPending), maxAttempts, tx.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("ledger: request hash %s already recorded: %w", tx.RequestHash, err)
	}
	return err
}

func (l *PostgresLedger) MarkProcessing(ctx context.Context, requestHash string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $2, attempts = attempts + 1, updated_at = NOW()
		WHERE request_hash = $1 AND status IN ($3, $4)
	`, l.transactionsTable)

	result, err := l.db.ExecContext(ctx, query, requestHash, string(StatusProcessing), string(StatusPending), string(StatusFailed))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("ledger: transaction %s not pending or failed, cannot mark processing", requestHash)
	}
	return nil
}

func (l *PostgresLedger) Complete(ctx context.Context, requestHash string, status TransactionStatus, outcome SettlementOutcome) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $2, tx_hash = $3, fail_reason = $4, block_number = $5, gas_used = $6, gas_price = $7,
			updated_at = NOW(),
			settled_at = CASE WHEN $2 = '%s' THEN NOW() ELSE settled_at END
		WHERE request_hash = $1
	`, l.transactionsTable, string(StatusSettled))

	result, err := l.db.ExecContext(ctx, query, requestHash, string(status), outcome.TxHash, outcome.FailReason,
		outcome.BlockNumber, outcome.GasUsed, outcome.GasPrice)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("ledger: transaction %s not found", requestHash)
	}
	return nil
}

func (l *PostgresLedger) Get(ctx context.Context, requestHash string) (Transaction, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT request_hash, network, scheme, payer, resource, amount, payload, tx_hash, status, fail_reason,
			attempts, max_attempts, block_number, gas_used, gas_price, created_at, updated_at, settled_at
		FROM %s WHERE request_hash = $1
	`, l.transactionsTable)

	row := l.db.QueryRowContext(ctx, query, requestHash)
	tx, err := scanTransaction(row.Scan)
	if err == sql.ErrNoRows {
		return Transaction{}, ErrNotFound
	}
	return tx, err
}

func (l *PostgresLedger) Exists(ctx context.Context, requestHash string) (bool, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE request_hash = $1)`, l.transactionsTable)
	var exists bool
	err := l.db.QueryRowContext(ctx, query, requestHash).Scan(&exists)
	return exists, err
}

func (l *PostgresLedger) FailedForRetry(ctx context.Context, cooldown time.Duration) ([]Transaction, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT request_hash, network, scheme, payer, resource, amount, payload, tx_hash, status, fail_reason,
			attempts, max_attempts, block_number, gas_used, gas_price, created_at, updated_at, settled_at
		FROM %s
		WHERE status = $1 AND attempts < max_attempts AND updated_at < $2
		ORDER BY created_at ASC
	`, l.transactionsTable)

	rows, err := l.db.QueryContext(ctx, query, string(StatusFailed), time.Now().Add(-cooldown).UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// scanTransaction reads one transaction row via scan, which is either a
// *sql.Row's or *sql.Rows's Scan method, to share column handling between
// Get and FailedForRetry.
func scanTransaction(scan func(dest ...any) error) (Transaction, error) {
	var tx Transaction
	var network, scheme string
	var blockNumber, gasUsed int64
	var updatedAt sql.NullTime
	var settledAt sql.NullTime
	err := scan(&tx.RequestHash, &network, &scheme, &tx.Payer, &tx.Resource, &tx.Amount, &tx.Payload,
		&tx.TxHash, &tx.Status, &tx.FailReason, &tx.Attempts, &tx.MaxAttempts,
		&blockNumber, &gasUsed, &tx.GasPrice, &tx.CreatedAt, &updatedAt, &settledAt)
	if err != nil {
		return Transaction{}, err
	}
	tx.Network = x402.Network(network)
	tx.Scheme = x402.Scheme(scheme)
	tx.BlockNumber = uint64(blockNumber)
	tx.GasUsed = uint64(gasUsed)
	if updatedAt.Valid {
		tx.UpdatedAt = updatedAt.Time
	}
	if settledAt.Valid {
		tx.SettledAt = &settledAt.Time
	}
	return tx, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// lib/pq reports constraint violations with SQLSTATE 23505; matching the
	// error text keeps this dependency-free of pq.Error's exact shape across
	// driver versions.
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") || strings.Contains(msg, "23505")
}
