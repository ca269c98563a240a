package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentlens/agentlens/internal/api/ws"
	"github.com/agentlens/agentlens/internal/infrastructure/logging"
	"github.com/agentlens/agentlens/query"
)

const serviceVersion = "0.1.0"

// Handlers serves the viewer API over a read-only trace store.
type Handlers struct {
	queries *query.Engine
	hub     *ws.Hub
	logger  *logging.Logger
	dbPath  string
	started time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(queries *query.Engine, hub *ws.Hub, logger *logging.Logger, dbPath string) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		queries: queries,
		hub:     hub,
		logger:  logger,
		dbPath:  dbPath,
		started: time.Now(),
	}
}

// Root handles the service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "agentlens viewer",
		"version": serviceVersion,
	})
}

// Health reports viewer health. The database is probed, not assumed.
func (h *Handlers) Health(c *gin.Context) {
	if _, err := h.queries.Sessions(c.Request.Context(), 1); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "degraded",
			"database": gin.H{"path": h.dbPath, "error": err.Error()},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"database":       gin.H{"path": h.dbPath},
		"stream":         gin.H{"clients": h.hub.ClientCount()},
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// ListSessions lists recorded sessions, newest first.
func (h *Handlers) ListSessions(c *gin.Context) {
	limit, ok := intParam(c, "limit", 0)
	if !ok {
		return
	}

	sessions, err := h.queries.Sessions(c.Request.Context(), limit)
	if err != nil {
		h.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// SessionStats returns aggregate counts and latency quantiles for one session.
func (h *Handlers) SessionStats(c *gin.Context) {
	stats, err := h.queries.SessionStats(c.Request.Context(), c.Param("id"))
	if errors.Is(err, query.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ListTraces lists traces narrowed by query parameters.
func (h *Handlers) ListTraces(c *gin.Context) {
	status := c.Query("status")
	if !validStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be running, succeeded or failed"})
		return
	}

	since, ok := timeParam(c, "since")
	if !ok {
		return
	}
	until, ok := timeParam(c, "until")
	if !ok {
		return
	}
	limit, ok := intParam(c, "limit", 0)
	if !ok {
		return
	}
	offset, ok := intParam(c, "offset", 0)
	if !ok {
		return
	}

	traces, err := h.queries.ListTraces(c.Request.Context(), query.Filter{
		SessionID: c.Query("session"),
		Status:    status,
		Since:     since,
		Until:     until,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"traces": traces,
		"count":  len(traces),
	})
}

// TraceTree returns one trace assembled into its span tree.
func (h *Handlers) TraceTree(c *gin.Context) {
	tree, err := h.queries.TraceTree(c.Request.Context(), c.Param("id"))
	if errors.Is(err, query.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, tree)
}

// Search finds spans by name substring.
func (h *Handlers) Search(c *gin.Context) {
	status := c.Query("status")
	if !validStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be running, succeeded or failed"})
		return
	}
	limit, ok := intParam(c, "limit", 0)
	if !ok {
		return
	}

	spans, err := h.queries.Search(c.Request.Context(), c.Query("q"), status, limit)
	if errors.Is(err, query.ErrEmptyTerm) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"spans": spans,
		"count": len(spans),
	})
}

func (h *Handlers) serverError(c *gin.Context, err error) {
	h.logger.Error("query failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func validStatus(s string) bool {
	switch s {
	case "", "running", "succeeded", "failed":
		return true
	}
	return false
}

// intParam parses an optional integer query parameter, answering 400 on
// garbage. The bool result reports whether the request may proceed.
func intParam(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s: expected integer", name)})
		return 0, false
	}
	return n, true
}

// timeParam parses an optional RFC3339 query parameter.
func timeParam(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s: expected RFC3339 timestamp", name)})
		return time.Time{}, false
	}
	return ts, true
}
