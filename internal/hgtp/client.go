// Package hgtp is the HTTP client for the metagraph ledger: fact submission
// to the L1 data-application layer and snapshot reads from the L0
// coordination layer.
package hgtp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Fact kinds accepted by the L1 data-application endpoint.
const (
	FactKindPolicy  = "policy"
	FactKindConsent = "consent"
)

// Snapshot is a finalized ledger state reference returned by L0.
type Snapshot struct {
	Ordinal   int64     `json:"ordinal"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// submitResponse is the subset of the L1 response the engine needs.
type submitResponse struct {
	Hash   string `json:"hash"`
	Status string `json:"status"`
}

// Client talks to the metagraph L0/L1 nodes. Every outbound call is bounded
// by the configured timeout and is independently cancellable through its
// context.
type Client struct {
	l0URL   string
	l1URL   string
	http    *http.Client
	policy  RetryPolicy
	onRetry RetryObserver
	logger  *zap.Logger
}

// NewClient creates a Client. A zero timeout defaults to 10 seconds.
func NewClient(l0URL, l1URL string, timeout time.Duration, policy RetryPolicy, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		l0URL:  l0URL,
		l1URL:  l1URL,
		http:   &http.Client{Timeout: timeout},
		policy: policy,
		logger: logger,
	}
}

// SetRetryObserver configures the per-retry metrics callback.
func (c *Client) SetRetryObserver(fn RetryObserver) {
	c.onRetry = fn
}

// Submit POSTs a single raw fact to {l1}/data-application/{kind}. The ledger
// wraps the payload internally, so the fact is sent as-is, never pre-wrapped.
// Transient failures (network errors, 5xx) are retried under the client's
// policy; 4xx responses are terminal. Returns the identifying hash.
func (c *Client) Submit(ctx context.Context, kind string, fact any) (string, error) {
	if kind != FactKindPolicy && kind != FactKindConsent {
		return "", fmt.Errorf("unknown fact kind %q: %w", kind, ErrTerminal)
	}

	body, err := json.Marshal(fact)
	if err != nil {
		return "", fmt.Errorf("marshal fact: %w", err)
	}

	label := "submit-" + kind
	return Do(ctx, c.policy, label, c.logger, c.onRetry, func(ctx context.Context) (string, error) {
		return c.doSubmit(ctx, kind, body)
	})
}

func (c *Client) doSubmit(ctx context.Context, kind string, body []byte) (string, error) {
	url := fmt.Sprintf("%s/data-application/%s", c.l1URL, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w: %v", ErrTerminal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The request may have reached the node before the timeout; the
		// fact might have landed. Classify as ambiguous so callers can
		// distinguish "definitely failed" from "might have landed".
		if ctx.Err() != nil || isTimeout(err) {
			return "", fmt.Errorf("%w: %v", ErrAmbiguous, err)
		}
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read submit response: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var sr submitResponse
		if err := json.Unmarshal(raw, &sr); err != nil {
			return "", fmt.Errorf("%w: decode submit response: %v", ErrTerminal, err)
		}
		return sr.Hash, nil
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: ledger node returned %d", ErrTransient, resp.StatusCode)
	default:
		return "", fmt.Errorf("%w: ledger node rejected fact with %d", ErrTerminal, resp.StatusCode)
	}
}

// FetchLatestSnapshot reads {l0}/snapshots/latest. Snapshot queries are
// advisory cross-checks: on any failure the result is nil, not an error.
func (c *Client) FetchLatestSnapshot(ctx context.Context) *Snapshot {
	return c.fetchSnapshot(ctx, c.l0URL+"/snapshots/latest")
}

// FetchSnapshot reads {l0}/snapshots/{ordinal}. Nil on any failure.
func (c *Client) FetchSnapshot(ctx context.Context, ordinal int64) *Snapshot {
	return c.fetchSnapshot(ctx, fmt.Sprintf("%s/snapshots/%d", c.l0URL, ordinal))
}

func (c *Client) fetchSnapshot(ctx context.Context, url string) *Snapshot {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("snapshot fetch failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.logger.Debug("snapshot decode failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	return &snap
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
