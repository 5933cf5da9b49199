package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/issue-tracker/internal/errs"
)

// writeError answers with the AppError's status. Ownership rejections get a plain-text
// body; anything unrecognised is logged and hidden behind a 500.
func writeError(c *gin.Context, log *slog.Logger, err error) {
	if errors.Is(err, errs.ErrNotTicketHost) || errors.Is(err, errs.ErrNotMessageAuthor) {
		c.String(http.StatusForbidden, errs.ErrNotTicketHost.Message)
		return
	}
	if appErr := errs.Get(err); appErr != nil {
		body := gin.H{"error": appErr.Message}
		if appErr.Details != "" {
			body["details"] = appErr.Details
		}
		c.JSON(appErr.Code, body)
		return
	}
	_ = c.Error(err)
	log.Error("request failed", "error", err, "method", c.Request.Method, "path", c.Request.URL.Path)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// pageParam reads a 1-based page number; anything unparsable means the first page.
func pageParam(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body", "details": err.Error()})
		return false
	}
	return true
}
