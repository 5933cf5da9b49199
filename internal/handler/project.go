package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/issue-tracker/internal/middleware"
	"github.com/psds-microservice/issue-tracker/internal/service"
)

type ProjectHandler struct {
	projects *service.ProjectService
	log      *slog.Logger
}

func NewProjectHandler(projects *service.ProjectService, log *slog.Logger) *ProjectHandler {
	return &ProjectHandler{projects: projects, log: log}
}

func (h *ProjectHandler) List(c *gin.Context) {
	search := c.Query("search")
	page, err := h.projects.List(c.Request.Context(), search, pageParam(c, "page"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"search": search, "projects": page})
}

func (h *ProjectHandler) Detail(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	d, err := h.projects.Detail(c.Request.Context(), id, c.Query("search"), pageParam(c, "page"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *ProjectHandler) Create(c *gin.Context) {
	var req service.ProjectInput
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.projects.Create(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *ProjectHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req service.ProjectInput
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.projects.Update(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *ProjectHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.projects.Delete(c.Request.Context(), id); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
