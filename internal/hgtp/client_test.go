package hgtp_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/consentgrid/proofengine/internal/hgtp"
	"go.uber.org/zap"
)

var ctx = context.Background()

func fastPolicy() hgtp.RetryPolicy {
	return hgtp.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
}

func TestSubmit_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data-application/consent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		fmt.Fprint(w, `{"hash":"abc123","status":"accepted"}`)
	}))
	defer srv.Close()

	c := hgtp.NewClient(srv.URL, srv.URL, 0, fastPolicy(), zap.NewNop())
	hash, err := c.Submit(ctx, hgtp.FactKindConsent, map[string]string{"consentId": "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if hash != "abc123" {
		t.Errorf("hash = %q, want abc123", hash)
	}
}

func TestSubmit_retriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"hash":"h","status":"accepted"}`)
	}))
	defer srv.Close()

	var retries atomic.Int32
	c := hgtp.NewClient(srv.URL, srv.URL, 0, fastPolicy(), zap.NewNop())
	c.SetRetryObserver(func(string) { retries.Add(1) })

	hash, err := c.Submit(ctx, hgtp.FactKindPolicy, map[string]string{"policyId": "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if hash != "h" {
		t.Errorf("hash = %q", hash)
	}
	if retries.Load() != 2 {
		t.Errorf("retries = %d, want 2", retries.Load())
	}
}

func TestSubmit_terminalOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := hgtp.NewClient(srv.URL, srv.URL, 0, fastPolicy(), zap.NewNop())
	_, err := c.Submit(ctx, hgtp.FactKindConsent, map[string]string{})
	if !errors.Is(err, hgtp.ErrTerminal) {
		t.Errorf("expected ErrTerminal, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("terminal error was retried: %d calls", calls.Load())
	}
}

func TestSubmit_exhaustedRetriesSurfaceLastError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := hgtp.NewClient(srv.URL, srv.URL, 0, fastPolicy(), zap.NewNop())
	_, err := c.Submit(ctx, hgtp.FactKindConsent, map[string]string{})
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if !errors.Is(err, hgtp.ErrTransient) {
		t.Errorf("exhausted error lost its class: %v", err)
	}
}

func TestSubmit_timeoutIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := hgtp.NewClient(srv.URL, srv.URL, 20*time.Millisecond,
		hgtp.RetryPolicy{MaxAttempts: 1}, zap.NewNop())
	_, err := c.Submit(ctx, hgtp.FactKindConsent, map[string]string{})
	if !errors.Is(err, hgtp.ErrAmbiguous) {
		t.Errorf("expected ErrAmbiguous on timeout, got %v", err)
	}
}

func TestSubmit_unknownKindRejected(t *testing.T) {
	c := hgtp.NewClient("http://localhost:1", "http://localhost:1", 0, fastPolicy(), zap.NewNop())
	_, err := c.Submit(ctx, "votes", map[string]string{})
	if !errors.Is(err, hgtp.ErrTerminal) {
		t.Errorf("expected ErrTerminal for unknown kind, got %v", err)
	}
}

func TestFetchLatestSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/snapshots/latest" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"ordinal":42,"hash":"deadbeef","timestamp":"2026-05-01T00:00:00Z"}`)
	}))
	defer srv.Close()

	c := hgtp.NewClient(srv.URL, srv.URL, 0, fastPolicy(), zap.NewNop())
	snap := c.FetchLatestSnapshot(ctx)
	if snap == nil {
		t.Fatal("expected snapshot")
	}
	if snap.Ordinal != 42 || snap.Hash != "deadbeef" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestFetchSnapshot_byOrdinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/snapshots/7" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"ordinal":7,"hash":"cafe","timestamp":"2026-05-01T00:00:00Z"}`)
	}))
	defer srv.Close()

	c := hgtp.NewClient(srv.URL, srv.URL, 0, fastPolicy(), zap.NewNop())
	snap := c.FetchSnapshot(ctx, 7)
	if snap == nil || snap.Ordinal != 7 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestFetchSnapshot_failuresReturnNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := hgtp.NewClient(srv.URL, srv.URL, 0, fastPolicy(), zap.NewNop())
	if snap := c.FetchLatestSnapshot(ctx); snap != nil {
		t.Errorf("expected nil on 5xx, got %+v", snap)
	}

	// Unreachable node: still nil, never an error or a panic.
	dead := hgtp.NewClient("http://127.0.0.1:1", "http://127.0.0.1:1", 50*time.Millisecond, fastPolicy(), zap.NewNop())
	if snap := dead.FetchSnapshot(ctx, 1); snap != nil {
		t.Errorf("expected nil on connection failure, got %+v", snap)
	}
}
