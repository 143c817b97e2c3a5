// Package facts provides read access to the policy and consent records the
// proof engine attests over. The engine never writes facts; it only resolves
// references and assembles a subject's consent history for canonicalization.
package facts

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced policy or consent does not
// exist within the tenant scope.
var ErrNotFound = errors.New("facts: not found")

// Policy is a versioned policy document reference.
type Policy struct {
	ID          string    `json:"policyId"`
	TenantID    string    `json:"tenantId"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	ContentHash string    `json:"contentHash"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Consent is a single consent event of a data subject.
type Consent struct {
	ID        string    `json:"consentId"`
	TenantID  string    `json:"tenantId"`
	SubjectID string    `json:"subjectId"`
	PolicyID  string    `json:"policyId"`
	Action    string    `json:"action"` // grant, revoke
	Timestamp time.Time `json:"timestamp"`
}
