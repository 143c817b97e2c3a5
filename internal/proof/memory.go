package proof

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory, thread-safe store implementation, useful for
// testing and single-process deployments without a database.
type MemoryStore struct {
	mu           sync.RWMutex
	bundles      map[string]*ProofBundle    // key: tenantID + "/" + bundleID
	aggregations map[string]*AggregatedProof // key: tenantID + "/" + aggregationID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bundles:      make(map[string]*ProofBundle),
		aggregations: make(map[string]*AggregatedProof),
	}
}

func storeKey(tenantID, id string) string {
	return tenantID + "/" + id
}

// CreateBundle implements store.
func (m *MemoryStore) CreateBundle(_ context.Context, b *ProofBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[storeKey(b.TenantID, b.BundleID)] = cloneBundle(b)
	return nil
}

// GetBundle implements store.
func (m *MemoryStore) GetBundle(_ context.Context, tenantID, bundleID string) (*ProofBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bundles[storeKey(tenantID, bundleID)]
	if !ok {
		return nil, ErrBundleNotFound
	}
	return cloneBundle(b), nil
}

// GetBundles implements store. Missing ids are silently omitted; the
// service detects the shortfall.
func (m *MemoryStore) GetBundles(_ context.Context, tenantID string, bundleIDs []string) ([]*ProofBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ProofBundle, 0, len(bundleIDs))
	for _, id := range bundleIDs {
		if b, ok := m.bundles[storeKey(tenantID, id)]; ok {
			out = append(out, cloneBundle(b))
		}
	}
	return out, nil
}

// ListBySubject implements store.
func (m *MemoryStore) ListBySubject(_ context.Context, tenantID, subjectID string) ([]*ProofBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ProofBundle
	for _, b := range m.bundles {
		if b.TenantID == tenantID && b.SubjectID == subjectID {
			out = append(out, cloneBundle(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateVerification implements store.
func (m *MemoryStore) UpdateVerification(_ context.Context, tenantID, bundleID string, status VerificationStatus, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[storeKey(tenantID, bundleID)]
	if !ok {
		return ErrBundleNotFound
	}
	b.VerificationStatus = status
	b.Metadata = metadata
	return nil
}

// ListExpired implements store.
func (m *MemoryStore) ListExpired(_ context.Context, tenantID string, now time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, b := range m.bundles {
		if b.TenantID == tenantID && b.ExpiresAt != nil && b.ExpiresAt.Before(now) {
			out = append(out, b.BundleID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// DeleteBundle implements store.
func (m *MemoryStore) DeleteBundle(_ context.Context, tenantID, bundleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := storeKey(tenantID, bundleID)
	if _, ok := m.bundles[key]; !ok {
		return ErrBundleNotFound
	}
	delete(m.bundles, key)
	return nil
}

// CreateAggregation implements store.
func (m *MemoryStore) CreateAggregation(_ context.Context, a *AggregatedProof) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggregations[storeKey(a.TenantID, a.AggregationID)] = a
	return nil
}

// GetAggregation implements store.
func (m *MemoryStore) GetAggregation(_ context.Context, tenantID, aggregationID string) (*AggregatedProof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.aggregations[storeKey(tenantID, aggregationID)]
	if !ok {
		return nil, ErrAggregationNotFound
	}
	return a, nil
}

// cloneBundle deep-copies a bundle through JSON so callers can never mutate
// stored state in place.
func cloneBundle(b *ProofBundle) *ProofBundle {
	raw, err := json.Marshal(b)
	if err != nil {
		return b
	}
	out := &ProofBundle{}
	if err := json.Unmarshal(raw, out); err != nil {
		return b
	}
	return out
}
