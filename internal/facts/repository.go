package facts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads policy and consent facts from PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// FindPolicy returns the policy with the given id within the tenant scope.
func (r *Repository) FindPolicy(ctx context.Context, tenantID, id string) (*Policy, error) {
	p := &Policy{}
	err := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, name, version, content_hash, created_at
		 FROM policies WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	).Scan(&p.ID, &p.TenantID, &p.Name, &p.Version, &p.ContentHash, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find policy %s: %w", id, err)
	}
	return p, nil
}

// FindConsent returns the consent event with the given id within the tenant scope.
func (r *Repository) FindConsent(ctx context.Context, tenantID, id string) (*Consent, error) {
	c := &Consent{}
	err := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, subject_id, policy_id, action, timestamp
		 FROM consents WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	).Scan(&c.ID, &c.TenantID, &c.SubjectID, &c.PolicyID, &c.Action, &c.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find consent %s: %w", id, err)
	}
	return c, nil
}

// ListConsentsBySubject returns a subject's full consent history, oldest first.
func (r *Repository) ListConsentsBySubject(ctx context.Context, tenantID, subjectID string) ([]*Consent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, subject_id, policy_id, action, timestamp
		 FROM consents WHERE tenant_id = $1 AND subject_id = $2
		 ORDER BY timestamp ASC, id ASC`,
		tenantID, subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list consents for %s: %w", subjectID, err)
	}
	defer rows.Close()

	var out []*Consent
	for rows.Next() {
		c := &Consent{}
		if err := rows.Scan(&c.ID, &c.TenantID, &c.SubjectID, &c.PolicyID, &c.Action, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan consent row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
