// Package client provides the Go SDK for the consent proof engine API:
// generating, verifying, aggregating, and decrypting proof bundles.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrNotFound is returned when the engine reports an unknown bundle or
// aggregation id.
var ErrNotFound = errors.New("not found")

// GenerateRequest is the payload for Generate.
type GenerateRequest struct {
	SubjectID    string              `json:"subjectId"`
	PolicyID     string              `json:"policyId"`
	ConsentID    string              `json:"consentId"`
	ProofType    string              `json:"proofType,omitempty"`
	DataHash     string              `json:"dataHash,omitempty"`
	ExpiresAt    *time.Time          `json:"expiresAt,omitempty"`
	Encrypt      *EncryptRequest     `json:"encrypt,omitempty"`
	TimeLock     *TimeLockRequest    `json:"timeLock,omitempty"`
	Delegation   *DelegationRequest  `json:"delegation,omitempty"`
	SnapshotRefs []SnapshotReference `json:"snapshotRefs,omitempty"`
}

// EncryptRequest asks the engine to seal the bundle payload to a recipient.
type EncryptRequest struct {
	RecipientPublicKey string `json:"recipientPublicKey"`
}

// TimeLockRequest asks the engine to time-lock the bundle.
type TimeLockRequest struct {
	UnlockAt   time.Time `json:"unlockAt"`
	Difficulty int       `json:"difficulty,omitempty"`
}

// DelegationRequest attaches a delegation to the bundle.
type DelegationRequest struct {
	DelegateTo  string     `json:"delegateTo"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// SnapshotReference pins a bundle to a finalized ledger snapshot.
type SnapshotReference struct {
	Ordinal   int64  `json:"ordinal"`
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
}

// Bundle is the engine's proof bundle record as returned over HTTP.
type Bundle struct {
	BundleID           string         `json:"bundleId"`
	TenantID           string         `json:"tenantId"`
	SubjectID          string         `json:"subjectId"`
	PolicyID           string         `json:"policyId,omitempty"`
	ConsentID          string         `json:"consentId,omitempty"`
	ProofType          string         `json:"proofType"`
	DataHash           string         `json:"dataHash"`
	Signature          string         `json:"signature"`
	PublicKey          string         `json:"publicKey"`
	VerificationStatus string         `json:"verificationStatus"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	ExpiresAt          *time.Time     `json:"expiresAt,omitempty"`
}

// Verdict is the structured verification result.
type Verdict struct {
	BundleID           string    `json:"bundleId"`
	Valid              bool      `json:"valid"`
	SignatureValid     bool      `json:"signatureValid"`
	NotExpired         bool      `json:"notExpired"`
	TimeLockReleased   bool      `json:"timeLockReleased"`
	SnapshotConsistent bool      `json:"snapshotConsistent"`
	Issues             []string  `json:"issues"`
	Status             string    `json:"status"`
	CheckedAt          time.Time `json:"checkedAt"`
}

// Aggregation is a persisted Merkle aggregation.
type Aggregation struct {
	AggregationID  string    `json:"aggregationId"`
	TenantID       string    `json:"tenantId"`
	RootHash       string    `json:"rootHash"`
	ProofBundleIDs []string  `json:"proofBundleIds"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Client is the proof engine SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tenantID   string
	actor      string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTenant sets the X-Tenant-ID header sent on every request.
func WithTenant(tenantID string) Option {
	return func(c *Client) error {
		c.tenantID = tenantID
		return nil
	}
}

// WithActor sets the X-Actor header sent on every request.
func WithActor(actor string) Option {
	return func(c *Client) error {
		c.actor = actor
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a Client connected to baseURL.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithTenant("acme"),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Generate creates a new proof bundle.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*Bundle, error) {
	var resp struct {
		Bundle *Bundle `json:"bundle"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/proofs", req, &resp); err != nil {
		return nil, err
	}
	return resp.Bundle, nil
}

// Verify re-runs verification over the bundle and returns the verdict.
func (c *Client) Verify(ctx context.Context, bundleID string) (*Verdict, error) {
	var v Verdict
	if err := c.do(ctx, http.MethodPost, "/v1/proofs/"+bundleID+"/verify", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Get fetches a single bundle by id.
func (c *Client) Get(ctx context.Context, bundleID string) (*Bundle, error) {
	var resp struct {
		Bundle *Bundle `json:"bundle"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/proofs/"+bundleID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Bundle, nil
}

// ListBySubject returns every bundle generated for the subject.
func (c *Client) ListBySubject(ctx context.Context, subjectID string) ([]*Bundle, error) {
	var resp struct {
		Bundles []*Bundle `json:"bundles"`
	}
	q := url.Values{"subjectId": {subjectID}}
	if err := c.do(ctx, http.MethodGet, "/v1/proofs?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Bundles, nil
}

// Aggregate builds a Merkle aggregation over the given bundles.
func (c *Client) Aggregate(ctx context.Context, bundleIDs []string) (*Aggregation, error) {
	var resp struct {
		Aggregation *Aggregation `json:"aggregation"`
	}
	body := map[string]any{"bundleIds": bundleIDs}
	if err := c.do(ctx, http.MethodPost, "/v1/proofs/aggregate", body, &resp); err != nil {
		return nil, err
	}
	return resp.Aggregation, nil
}

// GetAggregation fetches a persisted aggregation by id.
func (c *Client) GetAggregation(ctx context.Context, aggregationID string) (*Aggregation, error) {
	var resp struct {
		Aggregation *Aggregation `json:"aggregation"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/aggregations/"+aggregationID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Aggregation, nil
}

// Cleanup deletes expired bundles for the calling tenant and returns how
// many were removed.
func (c *Client) Cleanup(ctx context.Context) (int, error) {
	var resp struct {
		Deleted int `json:"deleted"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/proofs/cleanup", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// DelegationToken mints a delegate access token for the bundle.
func (c *Client) DelegationToken(ctx context.Context, bundleID string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/proofs/"+bundleID+"/delegation-token", nil, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Decrypt unwraps an encrypted bundle payload using a delegation token and
// the recipient's private key. Neither credential is retained server-side.
func (c *Client) Decrypt(ctx context.Context, bundleID, token, recipientPrivateKey string) (string, error) {
	var resp struct {
		Payload string `json:"payload"`
	}
	body := map[string]any{
		"token":               token,
		"recipientPrivateKey": recipientPrivateKey,
	}
	if err := c.do(ctx, http.MethodPost, "/v1/proofs/"+bundleID+"/decrypt", body, &resp); err != nil {
		return "", err
	}
	return resp.Payload, nil
}

// do performs one JSON request/response round trip against the engine.
func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-ID", c.tenantID)
	}
	if c.actor != "" {
		req.Header.Set("X-Actor", c.actor)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", apiError(raw), ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("engine error %d: %s", resp.StatusCode, apiError(raw))
	}

	if respBody != nil {
		if err := json.Unmarshal(raw, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// apiError extracts the engine's error message, falling back to the raw body.
func apiError(raw []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return string(raw)
}
