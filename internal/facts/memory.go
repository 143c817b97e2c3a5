package facts

import (
	"context"
	"sort"
	"sync"
)

// MemorySource is an in-memory fact source for development and tests.
type MemorySource struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	consents map[string]*Consent
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		policies: make(map[string]*Policy),
		consents: make(map[string]*Consent),
	}
}

// AddPolicy registers a policy fact.
func (m *MemorySource) AddPolicy(p *Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.TenantID+"/"+p.ID] = p
}

// AddConsent registers a consent fact.
func (m *MemorySource) AddConsent(c *Consent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consents[c.TenantID+"/"+c.ID] = c
}

func (m *MemorySource) FindPolicy(_ context.Context, tenantID, id string) (*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[tenantID+"/"+id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *MemorySource) FindConsent(_ context.Context, tenantID, id string) (*Consent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.consents[tenantID+"/"+id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// ListConsentsBySubject returns the subject's consents ordered by timestamp
// then id, matching the repository's query order.
func (m *MemorySource) ListConsentsBySubject(_ context.Context, tenantID, subjectID string) ([]*Consent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Consent
	for _, c := range m.consents {
		if c.TenantID == tenantID && c.SubjectID == subjectID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
