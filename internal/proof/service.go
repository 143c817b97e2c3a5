// Package proof orchestrates proof bundle generation, verification,
// aggregation, delegation, query, and expiry cleanup.
package proof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/consentgrid/proofengine/internal/auditlog"
	"github.com/consentgrid/proofengine/internal/cache"
	"github.com/consentgrid/proofengine/internal/canonical"
	"github.com/consentgrid/proofengine/internal/delegation"
	"github.com/consentgrid/proofengine/internal/facts"
	"github.com/consentgrid/proofengine/internal/hgtp"
	"github.com/consentgrid/proofengine/internal/merkle"
	"github.com/consentgrid/proofengine/internal/sealing"
	"github.com/consentgrid/proofengine/internal/signing"
	"github.com/consentgrid/proofengine/internal/timelock"
	"go.uber.org/zap"
)

// cacheKeyPrefix keys hydrated bundle views; tenant-agnostic by contract.
const cacheKeyPrefix = "proof:"

// Store is the persistence interface for the proof service.
// Both MemoryStore and PostgresStore satisfy it.
type Store interface {
	CreateBundle(ctx context.Context, b *ProofBundle) error
	GetBundle(ctx context.Context, tenantID, bundleID string) (*ProofBundle, error)
	GetBundles(ctx context.Context, tenantID string, bundleIDs []string) ([]*ProofBundle, error)
	ListBySubject(ctx context.Context, tenantID, subjectID string) ([]*ProofBundle, error)
	UpdateVerification(ctx context.Context, tenantID, bundleID string, status VerificationStatus, metadata map[string]any) error
	ListExpired(ctx context.Context, tenantID string, now time.Time) ([]string, error)
	DeleteBundle(ctx context.Context, tenantID, bundleID string) error
	CreateAggregation(ctx context.Context, a *AggregatedProof) error
	GetAggregation(ctx context.Context, tenantID, aggregationID string) (*AggregatedProof, error)
}

// FactSource resolves the policy/consent facts a bundle attests over.
// *facts.Repository satisfies this interface.
type FactSource interface {
	FindPolicy(ctx context.Context, tenantID, id string) (*facts.Policy, error)
	FindConsent(ctx context.Context, tenantID, id string) (*facts.Consent, error)
	ListConsentsBySubject(ctx context.Context, tenantID, subjectID string) ([]*facts.Consent, error)
}

// SnapshotSource fetches finalized ledger snapshots for cross-checking.
// *hgtp.Client satisfies this interface.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, ordinal int64) *hgtp.Snapshot
}

// QuotaChecker enforces tenant-level resource limits. A QuotaExceeded
// failure is terminal and surfaced verbatim.
type QuotaChecker interface {
	CheckProofQuota(ctx context.Context, tenantID string) error
}

// LedgerSubmitter anchors generated proof facts on the consent ledger.
// *hgtp.Client satisfies this interface.
type LedgerSubmitter interface {
	Submit(ctx context.Context, kind string, fact any) (string, error)
}

// MetricsRecorder is an optional callback for recording operation outcomes.
type MetricsRecorder func(operation string, duration time.Duration, err error)

// SubmissionRecorder is an optional callback for recording ledger anchoring
// outcomes, fired once per completed submission attempt.
type SubmissionRecorder func(success bool, duration time.Duration)

// Service contains the proof engine's business logic.
type Service struct {
	store     Store
	facts     FactSource
	signer    *signing.Context
	snapshots SnapshotSource           // nil = skip ledger cross-check
	cache     cache.Cache              // nil = no read-through cache
	audit     auditlog.Log             // nil = no domain events
	quota     QuotaChecker             // nil = no quota enforcement
	ledger    LedgerSubmitter          // nil = no ledger anchoring
	tokens    *delegation.TokenIssuer  // nil = no delegate tokens
	onMetrics MetricsRecorder          // nil = no metrics
	onSubmit  SubmissionRecorder       // nil = no submission metrics
	logger    *zap.Logger
}

// NewService creates a Service. snapshots, cache, audit, quota, and tokens
// may each be nil to disable that collaborator.
func NewService(s Store, f FactSource, signer *signing.Context, logger *zap.Logger) *Service {
	return &Service{
		store:  s,
		facts:  f,
		signer: signer,
		logger: logger,
	}
}

// SetSnapshotSource configures the ledger cross-check collaborator.
func (s *Service) SetSnapshotSource(src SnapshotSource) { s.snapshots = src }

// SetCache configures the read-through bundle cache.
func (s *Service) SetCache(c cache.Cache) { s.cache = c }

// SetAuditLog configures the domain-event sink.
func (s *Service) SetAuditLog(l auditlog.Log) { s.audit = l }

// SetQuotaChecker configures tenant quota enforcement.
func (s *Service) SetQuotaChecker(q QuotaChecker) { s.quota = q }

// SetLedgerSubmitter configures ledger anchoring of generated bundles.
func (s *Service) SetLedgerSubmitter(l LedgerSubmitter) { s.ledger = l }

// SetTokenIssuer configures delegate access token issuance.
func (s *Service) SetTokenIssuer(t *delegation.TokenIssuer) { s.tokens = t }

// SetMetricsRecorder configures the metrics callback.
func (s *Service) SetMetricsRecorder(fn MetricsRecorder) { s.onMetrics = fn }

// SetSubmissionRecorder configures the ledger submission metrics callback.
func (s *Service) SetSubmissionRecorder(fn SubmissionRecorder) { s.onSubmit = fn }

// EncryptOptions requests payload encryption for a new bundle.
type EncryptOptions struct {
	RecipientPublicKey string `json:"recipientPublicKey"`
}

// TimeLockOptions requests a time-lock on a new bundle.
type TimeLockOptions struct {
	UnlockAt   time.Time `json:"unlockAt"`
	Difficulty int       `json:"difficulty"`
}

// DelegationOptions attaches a delegation to a new bundle.
type DelegationOptions struct {
	DelegateTo  string     `json:"delegateTo"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// GenerateRequest carries everything needed to create a bundle.
type GenerateRequest struct {
	SubjectID    string                  `json:"subjectId"`
	PolicyID     string                  `json:"policyId"`
	ConsentID    string                  `json:"consentId"`
	ProofType    ProofType               `json:"proofType"`
	DataHash     string                  `json:"dataHash,omitempty"`
	SnapshotRefs []canonical.SnapshotRef `json:"snapshotRefs,omitempty"`
	ExpiresAt    *time.Time              `json:"expiresAt,omitempty"`
	Encrypt      *EncryptOptions         `json:"encrypt,omitempty"`
	TimeLock     *TimeLockOptions        `json:"timeLock,omitempty"`
	Delegation   *DelegationOptions      `json:"delegation,omitempty"`
}

// GenerateProofBundle validates the referenced facts, canonicalizes and
// signs the subject's fact set, applies the requested encryption,
// time-lock, and delegation capabilities, and persists the bundle in
// pending state. Persistence happens only after every cryptographic step
// has succeeded in memory.
func (s *Service) GenerateProofBundle(ctx context.Context, tenantID string, req *GenerateRequest, actor string) (*ProofBundle, error) {
	start := time.Now()
	bundle, err := s.generate(ctx, tenantID, req, actor)
	s.record("generate", start, err)
	return bundle, err
}

func (s *Service) generate(ctx context.Context, tenantID string, req *GenerateRequest, actor string) (*ProofBundle, error) {
	if s.quota != nil {
		if err := s.quota.CheckProofQuota(ctx, tenantID); err != nil {
			return nil, err
		}
	}

	if req.PolicyID != "" {
		if _, err := s.facts.FindPolicy(ctx, tenantID, req.PolicyID); err != nil {
			if errors.Is(err, facts.ErrNotFound) {
				return nil, ErrPolicyNotFound
			}
			return nil, fmt.Errorf("look up policy: %w", err)
		}
	}
	if req.ConsentID != "" {
		if _, err := s.facts.FindConsent(ctx, tenantID, req.ConsentID); err != nil {
			if errors.Is(err, facts.ErrNotFound) {
				return nil, ErrConsentNotFound
			}
			return nil, fmt.Errorf("look up consent: %w", err)
		}
	}

	canonicalBytes, err := s.canonicalFactSet(ctx, tenantID, req.SubjectID, req.SnapshotRefs)
	if err != nil {
		return nil, err
	}

	dataHash := req.DataHash
	if dataHash == "" {
		dataHash = canonical.ContentHash(canonicalBytes)
	}

	proofType := req.ProofType
	if proofType == "" {
		proofType = ProofTypeConsent
	}

	bundle := &ProofBundle{
		BundleID:           NewBundleID(),
		TenantID:           tenantID,
		SubjectID:          req.SubjectID,
		PolicyID:           req.PolicyID,
		ConsentID:          req.ConsentID,
		ProofType:          proofType,
		DataHash:           dataHash,
		Signature:          s.signer.Sign(canonicalBytes),
		PublicKey:          s.signer.PublicKeyHex(),
		BundleSize:         len(canonicalBytes),
		SnapshotRefs:       req.SnapshotRefs,
		VerificationStatus: StatusPending,
		Metadata:           map[string]any{},
		CreatedAt:          time.Now().UTC(),
		ExpiresAt:          req.ExpiresAt,
	}

	// Crypto capabilities are applied in memory before any write. A failed
	// encryption aborts generation rather than persisting a half-sealed
	// bundle.
	if req.Encrypt != nil {
		env, err := sealing.Encrypt(canonicalBytes, req.Encrypt.RecipientPublicKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt bundle payload: %w", err)
		}
		bundle.Encryption = &EncryptionKey{
			Algorithm:          env.Algorithm,
			IV:                 env.IV,
			EncryptedKey:       env.EncryptedKey,
			Ciphertext:         env.Ciphertext,
			RecipientPublicKey: env.RecipientPublicKey,
		}
	}

	if req.TimeLock != nil {
		bundle.TimeLock = timelock.Issue(canonicalBytes, req.TimeLock.UnlockAt, req.TimeLock.Difficulty)
	}

	if req.Delegation != nil {
		bundle.Delegation = &Delegation{
			DelegateTo:  req.Delegation.DelegateTo,
			Permissions: req.Delegation.Permissions,
			ExpiresAt:   req.Delegation.ExpiresAt,
			DelegatedBy: actor,
		}
	}

	if err := s.store.CreateBundle(ctx, bundle); err != nil {
		return nil, fmt.Errorf("persist bundle: %w", err)
	}

	s.appendEvent(ctx, bundle.BundleID, auditlog.EventBundleGenerated, actor, map[string]any{
		"subjectId": bundle.SubjectID,
		"proofType": bundle.ProofType,
		"dataHash":  bundle.DataHash,
	})
	if bundle.Encryption != nil {
		s.appendEvent(ctx, bundle.BundleID, auditlog.EventBundleEncrypted, actor, map[string]any{
			"algorithm": bundle.Encryption.Algorithm,
		})
	}
	if bundle.Delegation != nil {
		s.appendEvent(ctx, bundle.BundleID, auditlog.EventBundleDelegated, actor, map[string]any{
			"delegateTo": bundle.Delegation.DelegateTo,
		})
	}

	s.anchorBundle(ctx, bundle)

	s.logger.Info("proof bundle generated",
		zap.String("bundle_id", bundle.BundleID),
		zap.String("tenant_id", tenantID),
		zap.String("subject_id", bundle.SubjectID),
		zap.Bool("encrypted", bundle.Encryption != nil),
		zap.Bool("time_locked", bundle.TimeLock != nil),
	)
	return bundle, nil
}

// anchorBundle submits the generated bundle's attestation fact to the
// consent ledger. Anchoring is best effort: a failed submission is logged
// and never fails generation.
func (s *Service) anchorBundle(ctx context.Context, bundle *ProofBundle) {
	if s.ledger == nil {
		return
	}
	fact := map[string]any{
		"bundleId":  bundle.BundleID,
		"subjectId": bundle.SubjectID,
		"dataHash":  bundle.DataHash,
		"signature": bundle.Signature,
		"createdAt": bundle.CreatedAt.Format(time.RFC3339Nano),
	}
	start := time.Now()
	hash, err := s.ledger.Submit(ctx, hgtp.FactKindConsent, fact)
	if s.onSubmit != nil {
		s.onSubmit(err == nil, time.Since(start))
	}
	if err != nil {
		s.logger.Warn("ledger anchoring failed",
			zap.String("bundle_id", bundle.BundleID), zap.Error(err))
		return
	}
	s.logger.Info("bundle anchored on ledger",
		zap.String("bundle_id", bundle.BundleID), zap.String("ledger_hash", hash))
}

// VerifyProofBundle re-runs every verification predicate over the bundle
// and returns a structured verdict. Failing predicates become issues, never
// errors; the only error path is an unresolvable bundle id. Each call
// overwrites the bundle's verification status and lastVerified metadata
// (last write wins) and invalidates the bundle's cache entry.
func (s *Service) VerifyProofBundle(ctx context.Context, tenantID, bundleID string) (*VerificationResult, error) {
	start := time.Now()
	result, err := s.verify(ctx, tenantID, bundleID)
	s.record("verify", start, err)
	return result, err
}

func (s *Service) verify(ctx context.Context, tenantID, bundleID string) (*VerificationResult, error) {
	bundle, err := s.store.GetBundle(ctx, tenantID, bundleID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result := &VerificationResult{
		BundleID:           bundleID,
		NotExpired:         true,
		TimeLockReleased:   true,
		SnapshotConsistent: true,
		Issues:             []string{},
		CheckedAt:          now,
	}

	if bundle.ExpiresAt != nil && !now.Before(*bundle.ExpiresAt) {
		result.NotExpired = false
		result.Issues = append(result.Issues, "Proof bundle has expired")
	}

	canonicalBytes, err := s.canonicalFactSet(ctx, tenantID, bundle.SubjectID, bundle.SnapshotRefs)
	if err != nil {
		return nil, err
	}
	result.SignatureValid = signing.Verify(canonicalBytes, bundle.Signature, bundle.PublicKey)
	if !result.SignatureValid {
		result.Issues = append(result.Issues, "Signature verification failed")
	}

	if bundle.TimeLock != nil {
		// Release is decided by a fresh timestamp comparison on every call;
		// the stored puzzle status is advisory only.
		if !timelock.Evaluate(bundle.TimeLock, now) {
			result.TimeLockReleased = false
			result.Issues = append(result.Issues, "Time-lock has not been released yet")
		}
		if !timelock.Matches(bundle.TimeLock, canonicalBytes) {
			result.TimeLockReleased = false
			result.Issues = append(result.Issues, "Time-lock puzzle does not match bundle content")
		}
	}

	if s.snapshots != nil {
		for _, ref := range bundle.SnapshotRefs {
			snap := s.snapshots.FetchSnapshot(ctx, ref.Ordinal)
			if snap == nil {
				// Advisory cross-check: an unreachable ledger is not a
				// verification failure.
				continue
			}
			if snap.Hash != ref.Hash {
				result.SnapshotConsistent = false
				result.Issues = append(result.Issues,
					fmt.Sprintf("Ledger snapshot mismatch at ordinal %d", ref.Ordinal))
			}
		}
	}

	result.Valid = result.NotExpired && result.SignatureValid &&
		result.TimeLockReleased && result.SnapshotConsistent

	result.Status = StatusInvalid
	if result.Valid {
		result.Status = StatusVerified
	}

	metadata := map[string]any{}
	for k, v := range bundle.Metadata {
		metadata[k] = v
	}
	metadata["lastVerified"] = now.Format(time.RFC3339Nano)
	metadata["issues"] = result.Issues

	if err := s.store.UpdateVerification(ctx, tenantID, bundleID, result.Status, metadata); err != nil {
		return nil, fmt.Errorf("persist verification result: %w", err)
	}

	s.appendEvent(ctx, bundleID, auditlog.EventBundleVerified, "proof-engine", map[string]any{
		"valid":  result.Valid,
		"issues": result.Issues,
	})
	if s.cache != nil {
		s.cache.Delete(ctx, cacheKeyPrefix+bundleID)
	}

	s.logger.Info("proof bundle verified",
		zap.String("bundle_id", bundleID),
		zap.Bool("valid", result.Valid),
		zap.Strings("issues", result.Issues),
	)
	return result, nil
}

// AggregateProofs builds a Merkle aggregation over the given bundles, in
// the caller's order, and persists it. Fails with ErrBundlesNotFound when
// any id does not resolve within the tenant scope. Bundles created after
// the read are not included.
func (s *Service) AggregateProofs(ctx context.Context, tenantID string, bundleIDs []string, actor string) (*AggregatedProof, error) {
	start := time.Now()
	agg, err := s.aggregate(ctx, tenantID, bundleIDs, actor)
	s.record("aggregate", start, err)
	return agg, err
}

func (s *Service) aggregate(ctx context.Context, tenantID string, bundleIDs []string, actor string) (*AggregatedProof, error) {
	if len(bundleIDs) == 0 {
		return nil, merkle.ErrNoLeaves
	}

	// The store returns unique rows, so a duplicate id would otherwise be
	// misreported as a missing bundle by the length check below.
	seen := make(map[string]struct{}, len(bundleIDs))
	for _, id := range bundleIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBundleIDs, id)
		}
		seen[id] = struct{}{}
	}

	bundles, err := s.store.GetBundles(ctx, tenantID, bundleIDs)
	if err != nil {
		return nil, fmt.Errorf("load bundles: %w", err)
	}
	if len(bundles) != len(bundleIDs) {
		return nil, ErrBundlesNotFound
	}

	byID := make(map[string]*ProofBundle, len(bundles))
	for _, b := range bundles {
		byID[b.BundleID] = b
	}

	// Leaf order is the caller's id order and is part of the observable
	// tree shape.
	leaves := make([]string, 0, len(bundleIDs))
	for _, id := range bundleIDs {
		b, ok := byID[id]
		if !ok {
			return nil, ErrBundlesNotFound
		}
		leaves = append(leaves, b.DataHash)
	}

	tree, err := merkle.Build(leaves)
	if err != nil {
		return nil, fmt.Errorf("build merkle tree: %w", err)
	}

	agg := &AggregatedProof{
		AggregationID:  NewAggregationID(),
		TenantID:       tenantID,
		RootHash:       tree.Root,
		MerkleTree:     tree,
		ProofBundleIDs: append([]string(nil), bundleIDs...),
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.CreateAggregation(ctx, agg); err != nil {
		return nil, fmt.Errorf("persist aggregation: %w", err)
	}

	s.appendEvent(ctx, agg.AggregationID, auditlog.EventAggregateCreated, actor, map[string]any{
		"rootHash": agg.RootHash,
		"bundles":  len(bundleIDs),
	})

	s.logger.Info("proofs aggregated",
		zap.String("aggregation_id", agg.AggregationID),
		zap.String("root", agg.RootHash),
		zap.Int("bundles", len(bundleIDs)),
	)
	return agg, nil
}

// GetBundle returns a single hydrated bundle view, read through the cache
// when one is configured.
func (s *Service) GetBundle(ctx context.Context, tenantID, bundleID string) (*ProofBundle, error) {
	if s.cache != nil {
		if raw, ok := s.cache.Get(ctx, cacheKeyPrefix+bundleID); ok {
			cached := &ProofBundle{}
			if err := json.Unmarshal(raw, cached); err == nil && cached.TenantID == tenantID {
				return cached, nil
			}
		}
	}

	bundle, err := s.store.GetBundle(ctx, tenantID, bundleID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(bundle); err == nil {
			s.cache.Set(ctx, cacheKeyPrefix+bundleID, raw, cache.DefaultProofTTL)
		}
	}
	return bundle, nil
}

// GetAggregation returns a stored aggregation.
func (s *Service) GetAggregation(ctx context.Context, tenantID, aggregationID string) (*AggregatedProof, error) {
	return s.store.GetAggregation(ctx, tenantID, aggregationID)
}

// ListBySubject returns all bundles attesting over a subject, newest first.
func (s *Service) ListBySubject(ctx context.Context, tenantID, subjectID string) ([]*ProofBundle, error) {
	return s.store.ListBySubject(ctx, tenantID, subjectID)
}

// CleanupExpiredProofs deletes every bundle whose expiry has passed,
// invalidates its cache entry, and returns the count deleted. This is the
// only deletion path for bundles.
func (s *Service) CleanupExpiredProofs(ctx context.Context, tenantID string) (int, error) {
	start := time.Now()
	n, err := s.cleanup(ctx, tenantID)
	s.record("cleanup", start, err)
	return n, err
}

func (s *Service) cleanup(ctx context.Context, tenantID string) (int, error) {
	ids, err := s.store.ListExpired(ctx, tenantID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("list expired bundles: %w", err)
	}

	deleted := 0
	for _, id := range ids {
		if err := s.store.DeleteBundle(ctx, tenantID, id); err != nil {
			s.logger.Warn("delete expired bundle", zap.String("bundle_id", id), zap.Error(err))
			continue
		}
		if s.cache != nil {
			s.cache.Delete(ctx, cacheKeyPrefix+id)
		}
		deleted++
	}

	if deleted > 0 {
		s.appendEvent(ctx, "", auditlog.EventBundlesCleanedUp, "proof-engine", map[string]any{
			"tenantId": tenantID,
			"deleted":  deleted,
		})
		s.logger.Info("expired proofs cleaned up",
			zap.String("tenant_id", tenantID),
			zap.Int("deleted", deleted),
		)
	}
	return deleted, nil
}

// DelegationToken mints a delegate access token for the bundle's stored
// delegation. Fails when the bundle has no delegation or token issuance is
// not configured.
func (s *Service) DelegationToken(ctx context.Context, tenantID, bundleID string) (string, error) {
	if s.tokens == nil {
		return "", fmt.Errorf("delegation token issuance is not configured")
	}

	bundle, err := s.store.GetBundle(ctx, tenantID, bundleID)
	if err != nil {
		return "", err
	}
	if bundle.Delegation == nil {
		return "", ErrNoDelegation
	}

	d := bundle.Delegation
	return s.tokens.Issue(bundleID, d.DelegateTo, d.DelegatedBy, d.Permissions, d.ExpiresAt)
}

// DecryptPayload unwraps an encrypted bundle's payload for an authorized
// delegate. The caller presents a delegate token carrying the decrypt
// permission plus the recipient private key; the service never holds
// recipient keys.
func (s *Service) DecryptPayload(ctx context.Context, tenantID, bundleID, token, recipientPrivHex string) ([]byte, error) {
	if s.tokens == nil {
		return nil, fmt.Errorf("delegation token issuance is not configured")
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("delegate token rejected: %w", err)
	}
	if claims.BundleID != bundleID {
		return nil, fmt.Errorf("delegate token is bound to a different bundle")
	}
	if !claims.HasPermission(delegation.PermissionDecrypt) {
		return nil, fmt.Errorf("delegate token lacks decrypt permission")
	}

	bundle, err := s.store.GetBundle(ctx, tenantID, bundleID)
	if err != nil {
		return nil, err
	}
	if bundle.Encryption == nil {
		return nil, fmt.Errorf("bundle %s is not encrypted", bundleID)
	}

	env := &sealing.Envelope{
		Algorithm:          bundle.Encryption.Algorithm,
		IV:                 bundle.Encryption.IV,
		EncryptedKey:       bundle.Encryption.EncryptedKey,
		Ciphertext:         bundle.Encryption.Ciphertext,
		RecipientPublicKey: bundle.Encryption.RecipientPublicKey,
	}
	return sealing.Decrypt(env, recipientPrivHex)
}

// canonicalFactSet re-derives the canonical bytes for a subject's current
// fact set. Used both at generation and at verification so the signature
// check always runs over a fresh derivation.
func (s *Service) canonicalFactSet(ctx context.Context, tenantID, subjectID string, refs []canonical.SnapshotRef) ([]byte, error) {
	consents, err := s.facts.ListConsentsBySubject(ctx, tenantID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list subject consents: %w", err)
	}

	events := make([]canonical.Consent, 0, len(consents))
	for _, c := range consents {
		events = append(events, canonical.Consent{
			ConsentID: c.ID,
			PolicyID:  c.PolicyID,
			Action:    c.Action,
			Timestamp: c.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	return canonical.Canonicalize(subjectID, events, refs)
}

// appendEvent writes a fire-and-forget domain event. Audit failures are
// logged, never surfaced to the caller.
func (s *Service) appendEvent(ctx context.Context, bundleID, event, actor string, payload map[string]any) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Append(ctx, bundleID, event, actor, payload); err != nil {
		s.logger.Warn("append audit event",
			zap.String("event", event),
			zap.String("bundle_id", bundleID),
			zap.Error(err),
		)
	}
}

func (s *Service) record(operation string, start time.Time, err error) {
	if s.onMetrics != nil {
		s.onMetrics(operation, time.Since(start), err)
	}
}
