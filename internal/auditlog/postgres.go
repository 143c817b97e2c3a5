package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all proof-engine instances.
const advisoryLockKey = int64(7_420_118_359)

// PostgresLog persists the audit chain to a PostgreSQL database.
// It implements the Log interface.
type PostgresLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLog creates a PostgresLog backed by the given connection pool.
func NewPostgresLog(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLog {
	return &PostgresLog{pool: pool, logger: logger}
}

// Append implements Log.
// It acquires a PostgreSQL advisory lock, reads the chain tail, computes the
// new entry hash, and inserts it, all within a single transaction.
func (l *PostgresLog) Append(ctx context.Context, bundleID, event, actor string, payload any) (*Entry, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	dataHash := sha256Sum(payloadJSON)

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent appends with a transaction-scoped advisory lock.
	// The lock is automatically released when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	// Read the current tail of the chain.
	var prevIdx int
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM audit_log ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read audit log tail: %w", err)
	}

	// timestamptz stores microseconds; hash only what survives the round
	// trip so Verify recomputes the same value when rows are read back.
	now := time.Now().UTC().Truncate(time.Microsecond)
	entry := &Entry{
		Index:     prevIdx + 1,
		Timestamp: now,
		BundleID:  bundleID,
		Event:     event,
		Actor:     actor,
		DataHash:  dataHash,
		PrevHash:  prevHash,
	}
	entry.Hash = hashEntry(entry)

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_log (idx, timestamp, bundle_id, event, actor, data_hash, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Index, entry.Timestamp, entry.BundleID,
		entry.Event, entry.Actor, entry.DataHash,
		entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit audit tx: %w", err)
	}

	l.logger.Debug("audit entry appended",
		zap.Int("idx", entry.Index),
		zap.String("event", entry.Event),
		zap.String("bundle_id", entry.BundleID),
	)
	return entry, nil
}

// Get implements Log.
func (l *PostgresLog) Get(ctx context.Context, index int) (*Entry, error) {
	entry := &Entry{}
	if err := l.pool.QueryRow(ctx,
		`SELECT idx, timestamp, bundle_id, event, actor, data_hash, prev_hash, hash
		 FROM audit_log WHERE idx = $1`, index,
	).Scan(
		&entry.Index, &entry.Timestamp, &entry.BundleID,
		&entry.Event, &entry.Actor, &entry.DataHash,
		&entry.PrevHash, &entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("get audit entry %d: %w", index, err)
	}
	return entry, nil
}

// Len implements Log.
func (l *PostgresLog) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// Verify implements Log. It streams all rows ordered by idx and validates
// the hash chain. O(n) in chain length; may be slow for very large logs.
func (l *PostgresLog) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx,
		`SELECT idx, timestamp, bundle_id, event, actor, data_hash, prev_hash, hash
		 FROM audit_log ORDER BY idx ASC`,
	)
	if err != nil {
		return fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr := &Entry{}
		if err := rows.Scan(
			&curr.Index, &curr.Timestamp, &curr.BundleID,
			&curr.Event, &curr.Actor, &curr.DataHash,
			&curr.PrevHash, &curr.Hash,
		); err != nil {
			return fmt.Errorf("scan audit row: %w", err)
		}

		if prev == nil {
			// Validate genesis: hash must be the well-known constant.
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			prev = curr
			continue
		}

		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Log.
func (l *PostgresLog) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM audit_log ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get audit root: %w", err)
	}
	return hash, nil
}
