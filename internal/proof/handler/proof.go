package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/consentgrid/proofengine/internal/proof"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProofHandler handles HTTP requests for the proof engine.
type ProofHandler struct {
	svc    *proof.Service
	logger *zap.Logger
}

// NewProofHandler creates a new ProofHandler.
func NewProofHandler(svc *proof.Service, logger *zap.Logger) *ProofHandler {
	return &ProofHandler{svc: svc, logger: logger}
}

// Register mounts the proof routes on the given router group.
func (h *ProofHandler) Register(rg *gin.RouterGroup) {
	p := rg.Group("/proofs")
	{
		p.POST("", h.Generate)
		p.GET("", h.ListBySubject)
		p.GET("/:id", h.GetBundle)
		p.POST("/:id/verify", h.Verify)
		p.POST("/:id/delegation-token", h.DelegationToken)
		p.POST("/:id/decrypt", h.Decrypt)
		p.POST("/aggregate", h.Aggregate)
		p.POST("/cleanup", h.Cleanup)
	}
	rg.GET("/aggregations/:id", h.GetAggregation)
}

// tenantFromCtx reads the calling tenant from the X-Tenant-ID header.
// Single-tenant deployments may omit it.
func tenantFromCtx(c *gin.Context) string {
	t := strings.TrimSpace(c.GetHeader("X-Tenant-ID"))
	if t == "" {
		return "default"
	}
	return t
}

// actorFromCtx reads the acting principal from the X-Actor header.
func actorFromCtx(c *gin.Context) string {
	a := strings.TrimSpace(c.GetHeader("X-Actor"))
	if a == "" {
		return "api"
	}
	return a
}

// Generate handles POST /proofs.
func (h *ProofHandler) Generate(c *gin.Context) {
	var req proof.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SubjectID == "" || req.PolicyID == "" || req.ConsentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subjectId, policyId, and consentId are required"})
		return
	}

	ctx := c.Request.Context()
	bundle, err := h.svc.GenerateProofBundle(ctx, tenantFromCtx(c), &req, actorFromCtx(c))
	if err != nil {
		switch {
		case errors.Is(err, proof.ErrPolicyNotFound), errors.Is(err, proof.ErrConsentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, proof.ErrQuotaExceeded):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			h.logger.Error("generate proof bundle", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "proof generation failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"bundle": bundle})
}

// Verify handles POST /proofs/:id/verify. A bundle that fails its checks
// still yields 200 with the structured verdict; only an unknown bundle is
// a 404.
func (h *ProofHandler) Verify(c *gin.Context) {
	ctx := c.Request.Context()

	result, err := h.svc.VerifyProofBundle(ctx, tenantFromCtx(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, proof.ErrBundleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "proof bundle not found"})
			return
		}
		h.logger.Error("verify proof bundle", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetBundle handles GET /proofs/:id.
func (h *ProofHandler) GetBundle(c *gin.Context) {
	ctx := c.Request.Context()

	bundle, err := h.svc.GetBundle(ctx, tenantFromCtx(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, proof.ErrBundleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "proof bundle not found"})
			return
		}
		h.logger.Error("get proof bundle", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get proof bundle"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"bundle": bundle})
}

// ListBySubject handles GET /proofs?subjectId=... and returns every bundle
// generated for the subject, newest first.
func (h *ProofHandler) ListBySubject(c *gin.Context) {
	subjectID := strings.TrimSpace(c.Query("subjectId"))
	if subjectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subjectId query parameter is required"})
		return
	}

	ctx := c.Request.Context()
	bundles, err := h.svc.ListBySubject(ctx, tenantFromCtx(c), subjectID)
	if err != nil {
		h.logger.Error("list proofs by subject", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list proof bundles"})
		return
	}
	if bundles == nil {
		bundles = []*proof.ProofBundle{}
	}

	c.JSON(http.StatusOK, gin.H{"bundles": bundles, "count": len(bundles)})
}

type aggregateRequest struct {
	BundleIDs []string `json:"bundleIds"`
}

// Aggregate handles POST /proofs/aggregate.
func (h *ProofHandler) Aggregate(c *gin.Context) {
	var req aggregateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.BundleIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bundleIds must not be empty"})
		return
	}

	ctx := c.Request.Context()
	agg, err := h.svc.AggregateProofs(ctx, tenantFromCtx(c), req.BundleIDs, actorFromCtx(c))
	if err != nil {
		switch {
		case errors.Is(err, proof.ErrBundlesNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, proof.ErrDuplicateBundleIDs):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("aggregate proofs", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregation failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"aggregation": agg})
}

// GetAggregation handles GET /aggregations/:id.
func (h *ProofHandler) GetAggregation(c *gin.Context) {
	ctx := c.Request.Context()

	agg, err := h.svc.GetAggregation(ctx, tenantFromCtx(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, proof.ErrAggregationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "aggregation not found"})
			return
		}
		h.logger.Error("get aggregation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get aggregation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"aggregation": agg})
}

// Cleanup handles POST /proofs/cleanup and deletes every expired bundle for
// the calling tenant.
func (h *ProofHandler) Cleanup(c *gin.Context) {
	ctx := c.Request.Context()

	deleted, err := h.svc.CleanupExpiredProofs(ctx, tenantFromCtx(c))
	if err != nil {
		h.logger.Error("cleanup expired proofs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// DelegationToken handles POST /proofs/:id/delegation-token.
func (h *ProofHandler) DelegationToken(c *gin.Context) {
	ctx := c.Request.Context()

	token, err := h.svc.DelegationToken(ctx, tenantFromCtx(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, proof.ErrBundleNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "proof bundle not found"})
		case errors.Is(err, proof.ErrNoDelegation):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			h.logger.Error("issue delegation token", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue delegation token"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

type decryptRequest struct {
	Token               string `json:"token"`
	RecipientPrivateKey string `json:"recipientPrivateKey"`
}

// Decrypt handles POST /proofs/:id/decrypt. The caller presents a delegation
// token with the decrypt permission plus the recipient private key; the
// engine never stores either.
func (h *ProofHandler) Decrypt(c *gin.Context) {
	var req decryptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Token == "" || req.RecipientPrivateKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token and recipientPrivateKey are required"})
		return
	}

	ctx := c.Request.Context()
	plaintext, err := h.svc.DecryptPayload(ctx, tenantFromCtx(c), c.Param("id"), req.Token, req.RecipientPrivateKey)
	if err != nil {
		if errors.Is(err, proof.ErrBundleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "proof bundle not found"})
			return
		}
		h.logger.Warn("decrypt proof payload", zap.Error(err))
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payload": string(plaintext)})
}
