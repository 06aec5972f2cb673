package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odin-security/odin-sync/internal/models"
	syncpkg "github.com/odin-security/odin-sync/internal/sync"
)

// SyncHandler exposes the sync pipeline over HTTP.
type SyncHandler struct {
	syncer *syncpkg.Syncer
	cloud  HealthChecker
	local  HealthChecker
	logger zerolog.Logger

	retentionDays int
}

// NewSyncHandler creates a SyncHandler. retentionDays is the default for
// cleanup requests that do not specify one.
func NewSyncHandler(syncer *syncpkg.Syncer, cloud, local HealthChecker, retentionDays int, logger zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		syncer:        syncer,
		cloud:         cloud,
		local:         local,
		logger:        logger.With().Str("component", "sync_handler").Logger(),
		retentionDays: retentionDays,
	}
}

// Health reports liveness of both stores.
func (h *SyncHandler) Health(c *gin.Context) {
	cloudOK := h.cloud.HealthCheck()
	localOK := h.local.HealthCheck()

	status := http.StatusOK
	if !cloudOK || !localOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"cloud": cloudOK,
		"local": localOK,
	})
}

// Status returns the per-table sync cursors.
func (h *SyncHandler) Status(c *gin.Context) {
	statuses, err := h.syncer.GetSyncStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read sync status"})
		return
	}

	needsSync, err := h.syncer.NeedsSync(0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to evaluate sync staleness"})
		return
	}

	tables := make([]*models.SyncStatus, 0, len(statuses))
	for _, table := range models.DefaultTables() {
		tables = append(tables, statuses[table])
	}
	c.JSON(http.StatusOK, gin.H{
		"needs_sync": needsSync,
		"tables":     tables,
	})
}

type syncRequest struct {
	Tables []string   `json:"tables,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
}

// TriggerSync runs a pull cycle for one organization.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization id"})
		return
	}

	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	opts := syncpkg.Options{Since: req.Since}
	for _, name := range req.Tables {
		table, err := models.ParseTable(name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts.Tables = append(opts.Tables, table)
	}

	report, err := h.syncer.SyncOrganization(c.Request.Context(), orgID, opts)
	if errors.Is(err, syncpkg.ErrSyncInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "sync already in progress"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

type uploadRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// TriggerUpload replays locally recorded changes for one organization. The
// actor identity is taken from the request: the authenticated user id from
// the body plus the caller's address and agent.
func (h *SyncHandler) TriggerUpload(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization id"})
		return
	}

	var req uploadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	actor := models.ActorContext{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if req.UserID != "" {
		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		actor.UserID = &userID
	}

	report, err := h.syncer.UploadOfflineChanges(c.Request.Context(), orgID, actor)
	if errors.Is(err, syncpkg.ErrSyncInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "sync already in progress"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// DeadLetter returns queue items that exhausted their retries.
func (h *SyncHandler) DeadLetter(c *gin.Context) {
	items, err := h.syncer.DeadLetter(0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead letter items"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// TriggerCleanup removes local data past the retention window.
func (h *SyncHandler) TriggerCleanup(c *gin.Context) {
	result, err := h.syncer.Cleanup(h.retentionDays)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}
