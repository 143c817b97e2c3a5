package proof

import (
	"errors"
	"time"

	"github.com/consentgrid/proofengine/internal/canonical"
	"github.com/consentgrid/proofengine/internal/merkle"
	"github.com/consentgrid/proofengine/internal/timelock"
	"github.com/google/uuid"
)

// Terminal user errors. All "not found" conditions abort the operation and
// map to 4xx-style responses; they are never retried.
var (
	ErrBundleNotFound      = errors.New("proof bundle not found")
	ErrPolicyNotFound      = errors.New("policy not found")
	ErrConsentNotFound     = errors.New("consent not found")
	ErrBundlesNotFound     = errors.New("some proof bundles not found")
	ErrDuplicateBundleIDs  = errors.New("duplicate bundle ids in aggregation request")
	ErrAggregationNotFound = errors.New("aggregated proof not found")
	ErrNoDelegation        = errors.New("bundle has no delegation")
	ErrQuotaExceeded       = errors.New("tenant quota exceeded")
)

// ProofType classifies what a bundle attests over.
type ProofType string

const (
	ProofTypeConsent    ProofType = "consent"
	ProofTypePolicy     ProofType = "policy"
	ProofTypeDelegation ProofType = "delegation"
	ProofTypeAggregate  ProofType = "aggregate"
)

// VerificationStatus is the bundle lifecycle state. Transitions only
// pending → {verified, invalid}; re-verification re-enters and re-exits
// that edge with last-write-wins semantics.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusInvalid  VerificationStatus = "invalid"
)

// EncryptionKey is the persisted encryption sub-record of a bundle.
// The raw symmetric key is never stored; only the wrapped form.
type EncryptionKey struct {
	Algorithm          string `json:"algorithm"`
	IV                 string `json:"iv"`
	EncryptedKey       string `json:"encryptedKey"`
	Ciphertext         string `json:"ciphertext"`
	RecipientPublicKey string `json:"recipientPublicKey"`
}

// Delegation is the persisted delegation sub-record of a bundle.
type Delegation struct {
	DelegateTo  string     `json:"delegateTo"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	DelegatedBy string     `json:"delegatedBy"`
}

// ProofBundle is the atomic unit of proof. The payload is immutable after
// creation; only VerificationStatus and Metadata change, and only through
// verification. Deletion happens only through expiry cleanup.
type ProofBundle struct {
	BundleID  string `json:"bundleId"`
	TenantID  string `json:"tenantId"`
	SubjectID string `json:"subjectId"`

	PolicyID  string    `json:"policyId,omitempty"`
	ConsentID string    `json:"consentId,omitempty"`
	ProofType ProofType `json:"proofType"`
	DataHash  string    `json:"dataHash"`

	Signature  string `json:"signature"`
	PublicKey  string `json:"publicKey"`
	BundleSize int    `json:"bundleSize"`

	SnapshotRefs []canonical.SnapshotRef `json:"snapshotRefs,omitempty"`

	VerificationStatus VerificationStatus `json:"verificationStatus"`
	Metadata           map[string]any     `json:"metadata,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	ExpiresAt          *time.Time         `json:"expiresAt,omitempty"`

	Encryption *EncryptionKey   `json:"encryption,omitempty"`
	TimeLock   *timelock.Puzzle `json:"timeLock,omitempty"`
	Delegation *Delegation      `json:"delegation,omitempty"`
}

// AggregatedProof is a Merkle aggregation over a tenant-scoped, ordered
// list of bundle ids. Its integrity is the Merkle root itself; aggregates
// carry no separate signature.
type AggregatedProof struct {
	AggregationID  string       `json:"aggregationId"`
	TenantID       string       `json:"tenantId"`
	RootHash       string       `json:"rootHash"`
	MerkleTree     *merkle.Tree `json:"merkleTree"`
	ProofBundleIDs []string     `json:"proofBundleIds"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// VerificationResult is the structured verdict returned by VerifyProofBundle.
// Verification never throws on a failing predicate; every failure is an
// entry in Issues.
type VerificationResult struct {
	BundleID           string             `json:"bundleId"`
	Valid              bool               `json:"valid"`
	SignatureValid     bool               `json:"signatureValid"`
	NotExpired         bool               `json:"notExpired"`
	TimeLockReleased   bool               `json:"timeLockReleased"`
	SnapshotConsistent bool               `json:"snapshotConsistent"`
	Issues             []string           `json:"issues"`
	Status             VerificationStatus `json:"status"`
	CheckedAt          time.Time          `json:"checkedAt"`
}

// NewBundleID mints a prefixed, globally unique bundle id.
// Ids are assigned once and never reused.
func NewBundleID() string {
	return "pb_" + uuid.NewString()
}

// NewAggregationID mints a prefixed aggregation id.
func NewAggregationID() string {
	return "agg_" + uuid.NewString()
}
