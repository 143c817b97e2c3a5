package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/consentgrid/proofengine/pkg/client"
)

// ── Stub server ─────────────────────────────────────────────────────────

func stubEngineServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/proofs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
			if req["policyId"] == "ghost" {
				http.Error(w, `{"error":"policy not found"}`, http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"bundle": map[string]any{
					"bundleId":           "pb_test123",
					"tenantId":           r.Header.Get("X-Tenant-ID"),
					"subjectId":          req["subjectId"],
					"verificationStatus": "pending",
				},
			})
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"bundles": []map[string]any{{"bundleId": "pb_test123"}},
				"count":   1,
			})
		}
	})

	mux.HandleFunc("/v1/proofs/pb_test123/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"bundleId":       "pb_test123",
			"valid":          true,
			"signatureValid": true,
			"status":         "verified",
			"issues":         []string{},
		})
	})

	mux.HandleFunc("/v1/proofs/pb_ghost/verify", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"proof bundle not found"}`, http.StatusNotFound)
	})

	mux.HandleFunc("/v1/proofs/aggregate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"aggregation": map[string]any{
				"aggregationId": "agg_test456",
				"rootHash":      strings.Repeat("ab", 32),
			},
		})
	})

	mux.HandleFunc("/v1/proofs/cleanup", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"deleted": 3})
	})

	return httptest.NewServer(mux)
}

func TestGenerate(t *testing.T) {
	srv := stubEngineServer(t)
	defer srv.Close()

	c, err := client.New(srv.URL, client.WithTenant("acme"))
	if err != nil {
		t.Fatal(err)
	}

	b, err := c.Generate(context.Background(), &client.GenerateRequest{
		SubjectID: "s1", PolicyID: "p1", ConsentID: "c1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.BundleID != "pb_test123" {
		t.Errorf("bundle id = %q", b.BundleID)
	}
	if b.TenantID != "acme" {
		t.Errorf("tenant header not forwarded: %q", b.TenantID)
	}
}

func TestGenerate_notFound(t *testing.T) {
	srv := stubEngineServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)
	_, err := c.Generate(context.Background(), &client.GenerateRequest{
		SubjectID: "s1", PolicyID: "ghost", ConsentID: "c1",
	})
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	srv := stubEngineServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)
	v, err := c.Verify(context.Background(), "pb_test123")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid || v.Status != "verified" {
		t.Errorf("verdict: %+v", v)
	}
}

func TestVerify_unknownBundle(t *testing.T) {
	srv := stubEngineServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)
	if _, err := c.Verify(context.Background(), "pb_ghost"); !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAggregate(t *testing.T) {
	srv := stubEngineServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)
	agg, err := c.Aggregate(context.Background(), []string{"pb_a", "pb_b"})
	if err != nil {
		t.Fatal(err)
	}
	if agg.AggregationID != "agg_test456" {
		t.Errorf("aggregation id = %q", agg.AggregationID)
	}
}

func TestListBySubject(t *testing.T) {
	srv := stubEngineServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)
	bundles, err := c.ListBySubject(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(bundles) != 1 {
		t.Errorf("got %d bundles", len(bundles))
	}
}

func TestListBySubject_escapesSubjectID(t *testing.T) {
	subject := "s 1&tenantId=evil"
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("subjectId")
		json.NewEncoder(w).Encode(map[string]any{"bundles": []any{}, "count": 0}) //nolint:errcheck
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL)
	if _, err := c.ListBySubject(context.Background(), subject); err != nil {
		t.Fatal(err)
	}
	if got != subject {
		t.Errorf("server saw subjectId %q, want %q", got, subject)
	}
}

func TestCleanup(t *testing.T) {
	srv := stubEngineServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)
	n, err := c.Cleanup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
}
