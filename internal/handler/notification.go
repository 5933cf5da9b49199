package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/issue-tracker/internal/middleware"
	"github.com/psds-microservice/issue-tracker/internal/service"
)

type NotificationHandler struct {
	notifications *service.NotificationService
	log           *slog.Logger
}

func NewNotificationHandler(notifications *service.NotificationService, log *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, log: log}
}

// ViewAll lists unread notifications and acknowledges them. Anonymous callers get an
// empty list.
func (h *NotificationHandler) ViewAll(c *gin.Context) {
	list, err := h.notifications.ViewAll(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *NotificationHandler) Unread(c *gin.Context) {
	list, err := h.notifications.Unread(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), id); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
