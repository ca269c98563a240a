package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/agentlens/agentlens/query"
)

// ExportSession streams every record of a session as gzip-compressed
// JSONL, one record per line.
func (h *Handlers) ExportSession(c *gin.Context) {
	sessionID := c.Param("id")
	ctx := c.Request.Context()

	// Resolve the session before committing to a streamed response;
	// headers cannot be unsent.
	if _, err := h.queries.Session(ctx, sessionID); err != nil {
		if errors.Is(err, query.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.serverError(c, err)
		return
	}

	c.Header("Content-Type", "application/gzip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "session-"+sessionID+".jsonl.gz"))
	c.Status(http.StatusOK)

	gz := gzip.NewWriter(c.Writer)
	newline := []byte{'\n'}

	err := h.queries.ExportSession(ctx, sessionID, func(rec query.ExportRecord) error {
		line, err := sonic.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := gz.Write(line); err != nil {
			return err
		}
		_, err = gz.Write(newline)
		return err
	})
	if err != nil {
		// The response is already partially written; all that is left
		// is to log and cut the stream short.
		h.logger.Error("export aborted", zap.String("session_id", sessionID), zap.Error(err))
	}

	if err := gz.Close(); err != nil {
		h.logger.Warn("closing export stream", zap.Error(err))
	}
}
