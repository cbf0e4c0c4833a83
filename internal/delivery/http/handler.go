package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/catalogsync/importer/internal/domain"
)

// ProgressSource reports the live state of the running import
type ProgressSource interface {
	Progress() domain.Progress
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	progress ProgressSource
	version  string
}

// NewHandler creates a new HTTP handler
func NewHandler(progress ProgressSource, version string) *Handler {
	return &Handler{progress: progress, version: version}
}

// HealthCheck returns the health status of the importer
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "catalog-importer",
		"version": h.version,
	})
}

// Status returns a progress snapshot of the current run
func (h *Handler) Status(c *gin.Context) {
	if h.progress == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no import running"})
		return
	}

	p := h.progress.Progress()
	processed := p.Committed + p.Failed + p.Skipped
	remaining := p.TotalRecords - p.LastCommittedIndex - 1
	if remaining < 0 {
		remaining = 0
	}

	c.JSON(http.StatusOK, gin.H{
		"progress":  p,
		"processed": processed,
		"remaining": remaining,
	})
}
