package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/consentgrid/proofengine/internal/hgtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SnapshotReader serves finalized ledger snapshots. *hgtp.Client satisfies it.
type SnapshotReader interface {
	FetchLatestSnapshot(ctx context.Context) *hgtp.Snapshot
	FetchSnapshot(ctx context.Context, ordinal int64) *hgtp.Snapshot
}

// SnapshotHandler exposes read-through HTTP endpoints over the ledger's L0
// snapshot API.
type SnapshotHandler struct {
	src    SnapshotReader
	logger *zap.Logger
}

// NewSnapshotHandler creates a new SnapshotHandler.
func NewSnapshotHandler(src SnapshotReader, logger *zap.Logger) *SnapshotHandler {
	return &SnapshotHandler{src: src, logger: logger}
}

// Register mounts the snapshot routes on the given router group.
func (h *SnapshotHandler) Register(rg *gin.RouterGroup) {
	s := rg.Group("/snapshots")
	{
		s.GET("/latest", h.Latest)
		s.GET("/:ordinal", h.ByOrdinal)
	}
}

// Latest handles GET /snapshots/latest. The L0 client reports failures as a
// nil snapshot, which surfaces here as an upstream error.
func (h *SnapshotHandler) Latest(c *gin.Context) {
	snap := h.src.FetchLatestSnapshot(c.Request.Context())
	if snap == nil {
		h.logger.Warn("latest snapshot unavailable")
		c.JSON(http.StatusBadGateway, gin.H{"error": "ledger snapshot unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": snap})
}

// ByOrdinal handles GET /snapshots/:ordinal.
func (h *SnapshotHandler) ByOrdinal(c *gin.Context) {
	ordinal, err := strconv.ParseInt(c.Param("ordinal"), 10, 64)
	if err != nil || ordinal < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ordinal must be a non-negative integer"})
		return
	}

	snap := h.src.FetchSnapshot(c.Request.Context(), ordinal)
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": snap})
}
