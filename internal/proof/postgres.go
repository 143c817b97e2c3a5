package proof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists bundles, sub-records, and aggregations to
// PostgreSQL. It implements the store interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateBundle implements store.
func (s *PostgresStore) CreateBundle(ctx context.Context, b *ProofBundle) error {
	metadata, err := json.Marshal(b.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	snapshotRefs, err := json.Marshal(b.SnapshotRefs)
	if err != nil {
		return fmt.Errorf("marshal snapshot refs: %w", err)
	}
	encryption, err := marshalNullable(b.Encryption)
	if err != nil {
		return fmt.Errorf("marshal encryption record: %w", err)
	}
	timeLock, err := marshalNullable(b.TimeLock)
	if err != nil {
		return fmt.Errorf("marshal time-lock record: %w", err)
	}
	deleg, err := marshalNullable(b.Delegation)
	if err != nil {
		return fmt.Errorf("marshal delegation record: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO proof_bundles (
			bundle_id, tenant_id, subject_id, policy_id, consent_id,
			proof_type, data_hash, signature, public_key, bundle_size,
			snapshot_refs, verification_status, metadata, created_at, expires_at,
			encryption, time_lock, delegation
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18
		)`,
		b.BundleID, b.TenantID, b.SubjectID, b.PolicyID, b.ConsentID,
		b.ProofType, b.DataHash, b.Signature, b.PublicKey, b.BundleSize,
		snapshotRefs, b.VerificationStatus, metadata, b.CreatedAt, b.ExpiresAt,
		encryption, timeLock, deleg,
	)
	if err != nil {
		return fmt.Errorf("insert bundle: %w", err)
	}
	return nil
}

const bundleColumns = `
	bundle_id, tenant_id, subject_id, policy_id, consent_id,
	proof_type, data_hash, signature, public_key, bundle_size,
	snapshot_refs, verification_status, metadata, created_at, expires_at,
	encryption, time_lock, delegation`

// GetBundle implements store.
func (s *PostgresStore) GetBundle(ctx context.Context, tenantID, bundleID string) (*ProofBundle, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+bundleColumns+` FROM proof_bundles WHERE tenant_id = $1 AND bundle_id = $2`,
		tenantID, bundleID,
	)
	b, err := scanBundle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBundleNotFound
		}
		return nil, fmt.Errorf("get bundle %s: %w", bundleID, err)
	}
	return b, nil
}

// GetBundles implements store. Missing ids are omitted from the result;
// the service detects the shortfall.
func (s *PostgresStore) GetBundles(ctx context.Context, tenantID string, bundleIDs []string) ([]*ProofBundle, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+bundleColumns+` FROM proof_bundles WHERE tenant_id = $1 AND bundle_id = ANY($2)`,
		tenantID, bundleIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("query bundles: %w", err)
	}
	defer rows.Close()

	var out []*ProofBundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bundle row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListBySubject implements store.
func (s *PostgresStore) ListBySubject(ctx context.Context, tenantID, subjectID string) ([]*ProofBundle, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+bundleColumns+` FROM proof_bundles
		 WHERE tenant_id = $1 AND subject_id = $2 ORDER BY created_at DESC`,
		tenantID, subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query subject bundles: %w", err)
	}
	defer rows.Close()

	var out []*ProofBundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bundle row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateVerification implements store.
func (s *PostgresStore) UpdateVerification(ctx context.Context, tenantID, bundleID string, status VerificationStatus, metadata map[string]any) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE proof_bundles SET verification_status = $1, metadata = $2
		 WHERE tenant_id = $3 AND bundle_id = $4`,
		status, meta, tenantID, bundleID,
	)
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBundleNotFound
	}
	return nil
}

// ListExpired implements store.
func (s *PostgresStore) ListExpired(ctx context.Context, tenantID string, now time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT bundle_id FROM proof_bundles
		 WHERE tenant_id = $1 AND expires_at IS NOT NULL AND expires_at < $2
		 ORDER BY bundle_id`,
		tenantID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired bundles: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan bundle id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteBundle implements store.
func (s *PostgresStore) DeleteBundle(ctx context.Context, tenantID, bundleID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM proof_bundles WHERE tenant_id = $1 AND bundle_id = $2`,
		tenantID, bundleID,
	)
	if err != nil {
		return fmt.Errorf("delete bundle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBundleNotFound
	}
	return nil
}

// CreateAggregation implements store. The aggregation row and its
// membership links are written in one transaction.
func (s *PostgresStore) CreateAggregation(ctx context.Context, a *AggregatedProof) error {
	tree, err := json.Marshal(a.MerkleTree)
	if err != nil {
		return fmt.Errorf("marshal merkle tree: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO aggregated_proofs (aggregation_id, tenant_id, root_hash, merkle_tree, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.AggregationID, a.TenantID, a.RootHash, tree, a.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert aggregation: %w", err)
	}

	for i, bundleID := range a.ProofBundleIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO aggregation_members (aggregation_id, bundle_id, leaf_index)
			 VALUES ($1, $2, $3)`,
			a.AggregationID, bundleID, i,
		); err != nil {
			return fmt.Errorf("insert aggregation member: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit aggregation tx: %w", err)
	}
	return nil
}

// GetAggregation implements store.
func (s *PostgresStore) GetAggregation(ctx context.Context, tenantID, aggregationID string) (*AggregatedProof, error) {
	a := &AggregatedProof{}
	var tree []byte
	err := s.db.QueryRow(ctx,
		`SELECT aggregation_id, tenant_id, root_hash, merkle_tree, created_at
		 FROM aggregated_proofs WHERE tenant_id = $1 AND aggregation_id = $2`,
		tenantID, aggregationID,
	).Scan(&a.AggregationID, &a.TenantID, &a.RootHash, &tree, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAggregationNotFound
		}
		return nil, fmt.Errorf("get aggregation %s: %w", aggregationID, err)
	}
	if err := json.Unmarshal(tree, &a.MerkleTree); err != nil {
		return nil, fmt.Errorf("decode merkle tree: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT bundle_id FROM aggregation_members
		 WHERE aggregation_id = $1 ORDER BY leaf_index ASC`,
		aggregationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query aggregation members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member row: %w", err)
		}
		a.ProofBundleIDs = append(a.ProofBundleIDs, id)
	}
	return a, rows.Err()
}

// scanBundle reads a full bundle row, including nullable jsonb sub-records.
func scanBundle(row pgx.Row) (*ProofBundle, error) {
	b := &ProofBundle{}
	var snapshotRefs, metadata, encryption, timeLock, deleg []byte

	if err := row.Scan(
		&b.BundleID, &b.TenantID, &b.SubjectID, &b.PolicyID, &b.ConsentID,
		&b.ProofType, &b.DataHash, &b.Signature, &b.PublicKey, &b.BundleSize,
		&snapshotRefs, &b.VerificationStatus, &metadata, &b.CreatedAt, &b.ExpiresAt,
		&encryption, &timeLock, &deleg,
	); err != nil {
		return nil, err
	}

	if len(snapshotRefs) > 0 {
		if err := json.Unmarshal(snapshotRefs, &b.SnapshotRefs); err != nil {
			return nil, fmt.Errorf("decode snapshot refs: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &b.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(encryption) > 0 {
		if err := json.Unmarshal(encryption, &b.Encryption); err != nil {
			return nil, fmt.Errorf("decode encryption record: %w", err)
		}
	}
	if len(timeLock) > 0 {
		if err := json.Unmarshal(timeLock, &b.TimeLock); err != nil {
			return nil, fmt.Errorf("decode time-lock record: %w", err)
		}
	}
	if len(deleg) > 0 {
		if err := json.Unmarshal(deleg, &b.Delegation); err != nil {
			return nil, fmt.Errorf("decode delegation record: %w", err)
		}
	}
	return b, nil
}

// marshalNullable encodes an optional sub-record, mapping a nil pointer to
// a SQL NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
