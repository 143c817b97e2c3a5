package handler

import (
	"net/http"
	"strconv"

	"github.com/consentgrid/proofengine/internal/auditlog"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuditHandler exposes read-only HTTP endpoints for the audit chain.
type AuditHandler struct {
	log    auditlog.Log
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(log auditlog.Log, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{log: log, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.GET("", h.Overview)
		a.GET("/verify", h.Verify)
		a.GET("/entries/:idx", h.GetEntry)
	}
}

// Overview handles GET /audit and returns the chain length and current head hash.
func (h *AuditHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.log.Len(ctx)
	if err != nil {
		h.logger.Error("audit Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit log"})
		return
	}

	root, err := h.log.Root(ctx)
	if err != nil {
		h.logger.Error("audit Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit head"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// Verify handles GET /audit/verify and walks the full chain, reporting integrity.
func (h *AuditHandler) Verify(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.log.Verify(ctx); err != nil {
		h.logger.Warn("audit chain integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetEntry handles GET /audit/entries/:idx.
func (h *AuditHandler) GetEntry(c *gin.Context) {
	ctx := c.Request.Context()

	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	entry, err := h.log.Get(ctx, idx)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}

	c.JSON(http.StatusOK, entry)
}
