// Package canonical produces the deterministic byte representation of a
// consent fact set. The canonical form is the sole input to hashing and
// signing: two calls with the same logical facts, in any order, yield
// byte-identical output.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Consent is a single consent event as seen by the proof engine.
// Timestamp is an ISO-8601 string; ordering compares it lexicographically.
type Consent struct {
	ConsentID string `json:"consentId"`
	PolicyID  string `json:"policyId"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

// SnapshotRef points at a finalized ledger snapshot.
type SnapshotRef struct {
	Ordinal   int64  `json:"ordinal"`
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
}

// Canonicalize serializes a fact set into canonical bytes.
//
// Consents are sorted by timestamp (lexicographic ISO-8601 compare, consent
// id as tie-break), snapshot refs by ordinal ascending. The output is
// whitespace-free JSON with sorted object keys, so any two conforming
// producers agree byte for byte. An empty consent list is valid.
func Canonicalize(subjectID string, consents []Consent, refs []SnapshotRef) ([]byte, error) {
	sortedConsents := make([]Consent, len(consents))
	copy(sortedConsents, consents)
	sort.Slice(sortedConsents, func(i, j int) bool {
		if sortedConsents[i].Timestamp != sortedConsents[j].Timestamp {
			return sortedConsents[i].Timestamp < sortedConsents[j].Timestamp
		}
		return sortedConsents[i].ConsentID < sortedConsents[j].ConsentID
	})

	sortedRefs := make([]SnapshotRef, len(refs))
	copy(sortedRefs, refs)
	sort.Slice(sortedRefs, func(i, j int) bool {
		return sortedRefs[i].Ordinal < sortedRefs[j].Ordinal
	})

	// Maps marshal with sorted keys; slices of maps keep element order.
	consentDocs := make([]map[string]any, 0, len(sortedConsents))
	for _, c := range sortedConsents {
		consentDocs = append(consentDocs, map[string]any{
			"consentId": c.ConsentID,
			"policyId":  c.PolicyID,
			"action":    c.Action,
			"timestamp": c.Timestamp,
		})
	}
	refDocs := make([]map[string]any, 0, len(sortedRefs))
	for _, r := range sortedRefs {
		refDocs = append(refDocs, map[string]any{
			"ordinal":   r.Ordinal,
			"hash":      r.Hash,
			"timestamp": r.Timestamp,
		})
	}

	doc := map[string]any{
		"subjectId":    subjectID,
		"consents":     consentDocs,
		"snapshotRefs": refDocs,
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical form: %w", err)
	}
	return out, nil
}

// ContentHash returns the hex-encoded SHA-256 of the canonical bytes.
func ContentHash(canonicalBytes []byte) string {
	h := sha256.Sum256(canonicalBytes)
	return hex.EncodeToString(h[:])
}
