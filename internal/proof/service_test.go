package proof_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/consentgrid/proofengine/internal/auditlog"
	"github.com/consentgrid/proofengine/internal/cache"
	"github.com/consentgrid/proofengine/internal/canonical"
	"github.com/consentgrid/proofengine/internal/delegation"
	"github.com/consentgrid/proofengine/internal/facts"
	"github.com/consentgrid/proofengine/internal/hgtp"
	"github.com/consentgrid/proofengine/internal/merkle"
	"github.com/consentgrid/proofengine/internal/proof"
	"github.com/consentgrid/proofengine/internal/sealing"
	"github.com/consentgrid/proofengine/internal/signing"
	"go.uber.org/zap"
)

var ctx = context.Background()

const tenant = "tenant-a"

// fakeFacts is an in-memory FactSource.
type fakeFacts struct {
	policies map[string]*facts.Policy
	consents map[string]*facts.Consent
}

func newFakeFacts() *fakeFacts {
	return &fakeFacts{
		policies: map[string]*facts.Policy{
			"p1": {ID: "p1", TenantID: tenant, Name: "privacy", Version: "2"},
		},
		consents: map[string]*facts.Consent{
			"c1": {ID: "c1", TenantID: tenant, SubjectID: "s1", PolicyID: "p1",
				Action: "grant", Timestamp: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)},
			"c2": {ID: "c2", TenantID: tenant, SubjectID: "s1", PolicyID: "p1",
				Action: "revoke", Timestamp: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)},
		},
	}
}

func (f *fakeFacts) FindPolicy(_ context.Context, _, id string) (*facts.Policy, error) {
	if p, ok := f.policies[id]; ok {
		return p, nil
	}
	return nil, facts.ErrNotFound
}

func (f *fakeFacts) FindConsent(_ context.Context, _, id string) (*facts.Consent, error) {
	if c, ok := f.consents[id]; ok {
		return c, nil
	}
	return nil, facts.ErrNotFound
}

func (f *fakeFacts) ListConsentsBySubject(_ context.Context, _, subjectID string) ([]*facts.Consent, error) {
	var out []*facts.Consent
	for _, c := range f.consents {
		if c.SubjectID == subjectID {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeSnapshots serves canned snapshots by ordinal.
type fakeSnapshots struct {
	snaps map[int64]*hgtp.Snapshot
}

func (f *fakeSnapshots) FetchSnapshot(_ context.Context, ordinal int64) *hgtp.Snapshot {
	return f.snaps[ordinal]
}

func newService(t *testing.T) (*proof.Service, *proof.MemoryStore) {
	t.Helper()
	_, priv, err := signing.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	signer, err := signing.NewContext(priv, "")
	if err != nil {
		t.Fatal(err)
	}

	store := proof.NewMemoryStore()
	svc := proof.NewService(store, newFakeFacts(), signer, zap.NewNop())
	svc.SetAuditLog(auditlog.New())
	svc.SetCache(cache.NewMemory())
	svc.SetTokenIssuer(delegation.NewTokenIssuer(signer.PrivateKey(), "https://proofs.test", time.Hour))
	return svc, store
}

func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func plainRequest() *proof.GenerateRequest {
	return &proof.GenerateRequest{
		SubjectID: "s1",
		PolicyID:  "p1",
		ConsentID: "c1",
		ProofType: proof.ProofTypeConsent,
		DataHash:  sha256Hex("x"),
	}
}

func TestGenerate_plainBundle(t *testing.T) {
	svc, _ := newService(t)

	b, err := svc.GenerateProofBundle(ctx, tenant, plainRequest(), "auditor")
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(b.BundleID, "pb_") {
		t.Errorf("bundle id %q lacks prefix", b.BundleID)
	}
	if b.VerificationStatus != proof.StatusPending {
		t.Errorf("status = %q, want pending", b.VerificationStatus)
	}
	if b.Signature == signing.Unsigned || b.Signature == "" {
		t.Errorf("expected a real signature, got %q", b.Signature)
	}
	if b.BundleSize == 0 {
		t.Error("bundle size not recorded")
	}
	if b.Encryption != nil || b.TimeLock != nil || b.Delegation != nil {
		t.Error("plain bundle carries unexpected sub-records")
	}
}

func TestGenerate_missingPolicyAndConsent(t *testing.T) {
	svc, _ := newService(t)

	req := plainRequest()
	req.PolicyID = "nope"
	if _, err := svc.GenerateProofBundle(ctx, tenant, req, "a"); !errors.Is(err, proof.ErrPolicyNotFound) {
		t.Errorf("expected ErrPolicyNotFound, got %v", err)
	}

	req = plainRequest()
	req.ConsentID = "nope"
	if _, err := svc.GenerateProofBundle(ctx, tenant, req, "a"); !errors.Is(err, proof.ErrConsentNotFound) {
		t.Errorf("expected ErrConsentNotFound, got %v", err)
	}
}

func TestVerify_freshBundleIsValid(t *testing.T) {
	svc, _ := newService(t)
	b, err := svc.GenerateProofBundle(ctx, tenant, plainRequest(), "a")
	if err != nil {
		t.Fatal(err)
	}

	r, err := svc.VerifyProofBundle(ctx, tenant, b.BundleID)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Valid || !r.SignatureValid || !r.NotExpired || !r.TimeLockReleased {
		t.Errorf("fresh bundle verdict: %+v", r)
	}
	if len(r.Issues) != 0 {
		t.Errorf("unexpected issues: %v", r.Issues)
	}
	if r.Status != proof.StatusVerified {
		t.Errorf("status = %q, want verified", r.Status)
	}

	stored, err := svc.GetBundle(ctx, tenant, b.BundleID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.VerificationStatus != proof.StatusVerified {
		t.Errorf("persisted status = %q", stored.VerificationStatus)
	}
	if stored.Metadata["lastVerified"] == nil {
		t.Error("lastVerified metadata not recorded")
	}
}

func TestVerify_unknownBundle(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.VerifyProofBundle(ctx, tenant, "pb_missing"); !errors.Is(err, proof.ErrBundleNotFound) {
		t.Errorf("expected ErrBundleNotFound, got %v", err)
	}
}

func TestVerify_expiredBundle(t *testing.T) {
	svc, _ := newService(t)
	past := time.Now().Add(-time.Hour)
	req := plainRequest()
	req.ExpiresAt = &past

	b, err := svc.GenerateProofBundle(ctx, tenant, req, "a")
	if err != nil {
		t.Fatal(err)
	}

	r, err := svc.VerifyProofBundle(ctx, tenant, b.BundleID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Valid || r.NotExpired {
		t.Errorf("expired bundle verdict: %+v", r)
	}
	// Signature is still checked independently of expiry.
	if !r.SignatureValid {
		t.Error("expiry must not mask signature validity")
	}
	if !containsSubstring(r.Issues, "expired") {
		t.Errorf("issues %v lack an expiration message", r.Issues)
	}
	if r.Status != proof.StatusInvalid {
		t.Errorf("status = %q, want invalid", r.Status)
	}
}

func TestVerify_timeLockedBundle(t *testing.T) {
	svc, _ := newService(t)
	req := plainRequest()
	req.TimeLock = &proof.TimeLockOptions{
		UnlockAt:   time.Now().Add(24 * time.Hour),
		Difficulty: 4,
	}

	b, err := svc.GenerateProofBundle(ctx, tenant, req, "a")
	if err != nil {
		t.Fatal(err)
	}
	if b.TimeLock == nil || b.TimeLock.Status != "locked" {
		t.Fatalf("time-lock sub-record missing or unlocked: %+v", b.TimeLock)
	}

	r, err := svc.VerifyProofBundle(ctx, tenant, b.BundleID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Valid || r.TimeLockReleased {
		t.Errorf("locked bundle verdict: %+v", r)
	}
	if !r.SignatureValid {
		t.Error("time-lock must not mask signature validity")
	}
	if !containsSubstring(r.Issues, "Time-lock") {
		t.Errorf("issues %v lack a time-lock message", r.Issues)
	}
}

func TestVerify_releasedTimeLock(t *testing.T) {
	svc, _ := newService(t)
	req := plainRequest()
	req.TimeLock = &proof.TimeLockOptions{UnlockAt: time.Now().Add(-time.Minute), Difficulty: 1}

	b, err := svc.GenerateProofBundle(ctx, tenant, req, "a")
	if err != nil {
		t.Fatal(err)
	}
	r, err := svc.VerifyProofBundle(ctx, tenant, b.BundleID)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Valid || !r.TimeLockReleased {
		t.Errorf("released bundle verdict: %+v", r)
	}
}

func TestVerify_snapshotMismatchForcesInvalid(t *testing.T) {
	svc, _ := newService(t)
	svc.SetSnapshotSource(&fakeSnapshots{snaps: map[int64]*hgtp.Snapshot{
		7: {Ordinal: 7, Hash: "actual-hash"},
	}})

	req := plainRequest()
	req.SnapshotRefs = []canonical.SnapshotRef{
		{Ordinal: 7, Hash: "claimed-hash", Timestamp: "2026-01-01T00:00:00Z"},
	}
	b, err := svc.GenerateProofBundle(ctx, tenant, req, "a")
	if err != nil {
		t.Fatal(err)
	}

	r, err := svc.VerifyProofBundle(ctx, tenant, b.BundleID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Valid || r.SnapshotConsistent {
		t.Errorf("mismatched snapshot verdict: %+v", r)
	}
	if !containsSubstring(r.Issues, "snapshot mismatch") {
		t.Errorf("issues %v lack a snapshot message", r.Issues)
	}
}

func TestVerify_snapshotFetchFailureIsAdvisory(t *testing.T) {
	svc, _ := newService(t)
	svc.SetSnapshotSource(&fakeSnapshots{snaps: map[int64]*hgtp.Snapshot{}})

	req := plainRequest()
	req.SnapshotRefs = []canonical.SnapshotRef{
		{Ordinal: 3, Hash: "h", Timestamp: "2026-01-01T00:00:00Z"},
	}
	b, err := svc.GenerateProofBundle(ctx, tenant, req, "a")
	if err != nil {
		t.Fatal(err)
	}
	r, err := svc.VerifyProofBundle(ctx, tenant, b.BundleID)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Valid || !r.SnapshotConsistent {
		t.Errorf("unreachable ledger must not fail verification: %+v", r)
	}
}

func TestVerify_reverificationOverwrites(t *testing.T) {
	svc, _ := newService(t)
	soon := time.Now().Add(150 * time.Millisecond)
	req := plainRequest()
	req.ExpiresAt = &soon

	b, err := svc.GenerateProofBundle(ctx, tenant, req, "a")
	if err != nil {
		t.Fatal(err)
	}

	r1, err := svc.VerifyProofBundle(ctx, tenant, b.BundleID)
	if err != nil {
		t.Fatal(err)
	}
	if !r1.Valid {
		t.Fatalf("first verification should pass: %+v", r1)
	}

	time.Sleep(200 * time.Millisecond)
	r2, err := svc.VerifyProofBundle(ctx, tenant, b.BundleID)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Valid {
		t.Errorf("second verification should fail after expiry: %+v", r2)
	}

	stored, err := svc.GetBundle(ctx, tenant, b.BundleID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.VerificationStatus != proof.StatusInvalid {
		t.Errorf("last write did not win: status = %q", stored.VerificationStatus)
	}
}

func TestVerify_unsignedSentinelInvalid(t *testing.T) {
	// Degraded signer: no private key provisioned.
	signer, err := signing.NewContext("", "")
	if err != nil {
		t.Fatal(err)
	}
	store := proof.NewMemoryStore()
	svc := proof.NewService(store, newFakeFacts(), signer, zap.NewNop())

	b, err := svc.GenerateProofBundle(ctx, tenant, plainRequest(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if b.Signature != signing.Unsigned {
		t.Fatalf("signature = %q, want unsigned sentinel", b.Signature)
	}

	r, err := svc.VerifyProofBundle(ctx, tenant, b.BundleID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Valid || r.SignatureValid {
		t.Errorf("unsigned bundle verified: %+v", r)
	}
}

func TestGenerate_encryptedBundleAndDelegateDecrypt(t *testing.T) {
	svc, _ := newService(t)
	pub, priv, err := sealing.GenerateRecipientKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	req := plainRequest()
	req.Encrypt = &proof.EncryptOptions{RecipientPublicKey: pub}
	req.Delegation = &proof.DelegationOptions{
		DelegateTo:  "auditor@example.com",
		Permissions: []string{delegation.PermissionView, delegation.PermissionDecrypt},
	}

	b, err := svc.GenerateProofBundle(ctx, tenant, req, "tenant-admin")
	if err != nil {
		t.Fatal(err)
	}
	if b.Encryption == nil {
		t.Fatal("encryption sub-record missing")
	}
	if b.Encryption.Algorithm != sealing.Algorithm {
		t.Errorf("algorithm = %q", b.Encryption.Algorithm)
	}
	if b.Delegation == nil || b.Delegation.DelegatedBy != "tenant-admin" {
		t.Fatalf("delegation sub-record: %+v", b.Delegation)
	}

	token, err := svc.DelegationToken(ctx, tenant, b.BundleID)
	if err != nil {
		t.Fatal(err)
	}

	plaintext, err := svc.DecryptPayload(ctx, tenant, b.BundleID, token, priv)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(plaintext), `"subjectId":"s1"`) {
		t.Errorf("decrypted payload: %s", plaintext)
	}
}

func TestDecryptPayload_tokenWithoutPermission(t *testing.T) {
	svc, _ := newService(t)
	pub, priv, err := sealing.GenerateRecipientKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	req := plainRequest()
	req.Encrypt = &proof.EncryptOptions{RecipientPublicKey: pub}
	req.Delegation = &proof.DelegationOptions{
		DelegateTo:  "viewer",
		Permissions: []string{delegation.PermissionView},
	}
	b, err := svc.GenerateProofBundle(ctx, tenant, req, "a")
	if err != nil {
		t.Fatal(err)
	}

	token, err := svc.DelegationToken(ctx, tenant, b.BundleID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.DecryptPayload(ctx, tenant, b.BundleID, token, priv); err == nil {
		t.Error("view-only token was allowed to decrypt")
	}
}

func TestDelegationToken_noDelegation(t *testing.T) {
	svc, _ := newService(t)
	b, err := svc.GenerateProofBundle(ctx, tenant, plainRequest(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.DelegationToken(ctx, tenant, b.BundleID); !errors.Is(err, proof.ErrNoDelegation) {
		t.Errorf("expected ErrNoDelegation, got %v", err)
	}
}

func TestAggregate_fourBundles(t *testing.T) {
	svc, _ := newService(t)

	ids := make([]string, 4)
	for i := range ids {
		req := plainRequest()
		req.DataHash = sha256Hex(string(rune('a' + i)))
		b, err := svc.GenerateProofBundle(ctx, tenant, req, "a")
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = b.BundleID
	}

	agg, err := svc.AggregateProofs(ctx, tenant, ids, "a")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(agg.AggregationID, "agg_") {
		t.Errorf("aggregation id %q lacks prefix", agg.AggregationID)
	}
	if len(agg.MerkleTree.Leaves) != 4 {
		t.Fatalf("leaves = %d, want 4", len(agg.MerkleTree.Leaves))
	}
	if agg.RootHash == "" {
		t.Error("root hash empty")
	}
	for i, path := range agg.MerkleTree.Proofs {
		if len(path) != 2 {
			t.Errorf("leaf %d: path length = %d, want 2 for a balanced 4-leaf tree", i, len(path))
		}
		if !merkle.VerifyInclusion(agg.MerkleTree.Leaves[i], path, agg.RootHash) {
			t.Errorf("leaf %d: inclusion proof fails", i)
		}
	}

	got, err := svc.GetAggregation(ctx, tenant, agg.AggregationID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RootHash != agg.RootHash {
		t.Error("persisted aggregation differs")
	}
}

func TestAggregate_singleBundleRootEqualsLeaf(t *testing.T) {
	svc, _ := newService(t)
	b, err := svc.GenerateProofBundle(ctx, tenant, plainRequest(), "a")
	if err != nil {
		t.Fatal(err)
	}
	agg, err := svc.AggregateProofs(ctx, tenant, []string{b.BundleID}, "a")
	if err != nil {
		t.Fatal(err)
	}
	if agg.RootHash != b.DataHash {
		t.Errorf("single-leaf root %q != leaf %q", agg.RootHash, b.DataHash)
	}
}

func TestAggregate_missingBundle(t *testing.T) {
	svc, _ := newService(t)
	b, err := svc.GenerateProofBundle(ctx, tenant, plainRequest(), "a")
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.AggregateProofs(ctx, tenant, []string{b.BundleID, "pb_ghost"}, "a")
	if !errors.Is(err, proof.ErrBundlesNotFound) {
		t.Errorf("expected ErrBundlesNotFound, got %v", err)
	}
}

func TestListBySubject(t *testing.T) {
	svc, _ := newService(t)
	for i := 0; i < 3; i++ {
		if _, err := svc.GenerateProofBundle(ctx, tenant, plainRequest(), "a"); err != nil {
			t.Fatal(err)
		}
	}

	bundles, err := svc.ListBySubject(ctx, tenant, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(bundles) != 3 {
		t.Errorf("got %d bundles, want 3", len(bundles))
	}

	none, err := svc.ListBySubject(ctx, tenant, "s-other")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("unexpected bundles for unknown subject: %d", len(none))
	}
}

func TestCleanupExpiredProofs(t *testing.T) {
	svc, _ := newService(t)

	past := time.Now().Add(-time.Hour)
	for i := 0; i < 2; i++ {
		req := plainRequest()
		req.ExpiresAt = &past
		if _, err := svc.GenerateProofBundle(ctx, tenant, req, "a"); err != nil {
			t.Fatal(err)
		}
	}
	keeper, err := svc.GenerateProofBundle(ctx, tenant, plainRequest(), "a")
	if err != nil {
		t.Fatal(err)
	}

	n, err := svc.CleanupExpiredProofs(ctx, tenant)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}

	if _, err := svc.GetBundle(ctx, tenant, keeper.BundleID); err != nil {
		t.Errorf("unexpired bundle was deleted: %v", err)
	}

	n, err = svc.CleanupExpiredProofs(ctx, tenant)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second cleanup deleted %d, want 0", n)
	}
}

func TestTenantScoping(t *testing.T) {
	svc, _ := newService(t)
	b, err := svc.GenerateProofBundle(ctx, tenant, plainRequest(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetBundle(ctx, "other-tenant", b.BundleID); !errors.Is(err, proof.ErrBundleNotFound) {
		t.Errorf("bundle leaked across tenants: %v", err)
	}
}

// fakeLedger records the last submitted fact.
type fakeLedger struct {
	kind string
	fact map[string]any
	err  error
}

func (f *fakeLedger) Submit(_ context.Context, kind string, fact any) (string, error) {
	f.kind = kind
	f.fact, _ = fact.(map[string]any)
	if f.err != nil {
		return "", f.err
	}
	return "ledgerhash123", nil
}

func TestGenerate_anchorsOnLedger(t *testing.T) {
	svc, _ := newService(t)
	ledger := &fakeLedger{}
	svc.SetLedgerSubmitter(ledger)

	var recorded int
	var lastSuccess bool
	svc.SetSubmissionRecorder(func(success bool, _ time.Duration) {
		recorded++
		lastSuccess = success
	})

	b, err := svc.GenerateProofBundle(ctx, tenant, plainRequest(), "auditor")
	if err != nil {
		t.Fatal(err)
	}

	if ledger.kind != hgtp.FactKindConsent {
		t.Errorf("fact kind = %q, want consent", ledger.kind)
	}
	if ledger.fact["bundleId"] != b.BundleID {
		t.Errorf("anchored fact carries bundle id %v, want %s", ledger.fact["bundleId"], b.BundleID)
	}
	if recorded != 1 || !lastSuccess {
		t.Errorf("submission recorder: calls=%d success=%v, want one successful call", recorded, lastSuccess)
	}
}

func TestGenerate_anchoringFailureIsNonFatal(t *testing.T) {
	svc, _ := newService(t)
	ledger := &fakeLedger{err: errors.New("ledger down")}
	svc.SetLedgerSubmitter(ledger)

	var lastSuccess = true
	svc.SetSubmissionRecorder(func(success bool, _ time.Duration) { lastSuccess = success })

	if _, err := svc.GenerateProofBundle(ctx, tenant, plainRequest(), "auditor"); err != nil {
		t.Fatalf("failed anchoring aborted generation: %v", err)
	}
	if lastSuccess {
		t.Error("submission recorder not told about the failure")
	}
}

func TestAggregate_duplicateBundleIDs(t *testing.T) {
	svc, _ := newService(t)
	b, err := svc.GenerateProofBundle(ctx, tenant, plainRequest(), "a")
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.AggregateProofs(ctx, tenant, []string{b.BundleID, b.BundleID}, "a")
	if !errors.Is(err, proof.ErrDuplicateBundleIDs) {
		t.Errorf("expected ErrDuplicateBundleIDs, got %v", err)
	}
}

func containsSubstring(issues []string, substr string) bool {
	for _, s := range issues {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
