package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/issue-tracker/internal/auth"
	"github.com/psds-microservice/issue-tracker/internal/middleware"
	"github.com/psds-microservice/issue-tracker/internal/service"
)

type UserHandler struct {
	users    *service.UserService
	tickets  *service.TicketService
	projects *service.ProjectService
	jwt      *auth.JWTService
	log      *slog.Logger
}

func NewUserHandler(
	users *service.UserService,
	tickets *service.TicketService,
	projects *service.ProjectService,
	jwt *auth.JWTService,
	log *slog.Logger,
) *UserHandler {
	return &UserHandler{users: users, tickets: tickets, projects: projects, jwt: jwt, log: log}
}

func (h *UserHandler) Register(c *gin.Context) {
	var req service.RegisterInput
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *UserHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	token, exp, err := h.jwt.Issue(u)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   exp.Unix(),
		"user":         u,
	})
}

func (h *UserHandler) Profile(c *gin.Context) {
	view, err := h.users.Profile(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req service.UpdateProfileInput
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.users.UpdateProfile(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// ListUsers backs the admin user management page (?search).
func (h *UserHandler) ListUsers(c *gin.Context) {
	search := c.Query("search")
	users, err := h.users.List(c.Request.Context(), search)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"search": search, "users": users})
}

type reassignRequest struct {
	TicketID   uint64 `json:"ticket_id" binding:"required"`
	AssigneeID uint64 `json:"assignee_id" binding:"required"`
}

// Reassign hands a ticket to a single user.
func (h *UserHandler) Reassign(c *gin.Context) {
	var req reassignRequest
	if !bindJSON(c, &req) {
		return
	}
	t, err := h.tickets.Reassign(c.Request.Context(), req.TicketID, req.AssigneeID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *UserHandler) AdminHome(c *gin.Context) {
	users, err := h.users.List(c.Request.Context(), "")
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": middleware.Actor(c), "users": users})
}

func (h *UserHandler) DeveloperHome(c *gin.Context) {
	actor := middleware.Actor(c)
	page, err := h.tickets.List(c.Request.Context(), service.TicketFilter{Actor: actor}, pageParam(c, "page"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": actor, "tickets": page})
}

func (h *UserHandler) ProjectManagerHome(c *gin.Context) {
	page, err := h.projects.List(c.Request.Context(), "", pageParam(c, "page"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": middleware.Actor(c), "projects": page})
}
