package middleware

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/issue-tracker/internal/auth"
	"github.com/psds-microservice/issue-tracker/internal/errs"
	"github.com/psds-microservice/issue-tracker/internal/model"
)

const (
	ContextKeyActor     = "actor"
	ContextKeyRequestID = "request_id"
)

// UserLookup resolves the subject of a verified token to a stored user.
type UserLookup interface {
	GetByID(ctx context.Context, id uint64) (*model.User, error)
}

type Auth struct {
	jwt   *auth.JWTService
	users UserLookup
	log   *slog.Logger
}

func NewAuth(jwt *auth.JWTService, users UserLookup, log *slog.Logger) *Auth {
	return &Auth{jwt: jwt, users: users, log: log}
}

// Optional attaches the actor when a valid bearer token is present and never rejects.
func (m *Auth) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if u := m.resolve(c); u != nil {
			c.Set(ContextKeyActor, u)
		}
		c.Next()
	}
}

// Require answers 401 unless a valid bearer token names an existing user.
func (m *Auth) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := m.resolve(c)
		if u == nil {
			abortWith(c, errs.ErrUnauthenticated)
			return
		}
		c.Set(ContextKeyActor, u)
		c.Next()
	}
}

func (m *Auth) resolve(c *gin.Context) *model.User {
	if u := Actor(c); u != nil {
		return u
	}
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		return nil
	}
	claims, err := m.jwt.Verify(token)
	if err != nil {
		m.log.Debug("rejected token", "error", err)
		return nil
	}
	id, err := claims.UserID()
	if err != nil {
		return nil
	}
	u, err := m.users.GetByID(c.Request.Context(), id)
	if err != nil {
		m.log.Debug("token subject not found", "user_id", id, "error", err)
		return nil
	}
	return u
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Actor returns the authenticated user, or nil for anonymous requests.
func Actor(c *gin.Context) *model.User {
	v, ok := c.Get(ContextKeyActor)
	if !ok {
		return nil
	}
	u, _ := v.(*model.User)
	return u
}

// RequireCapability answers 403 unless the actor's stored role may perform act on obj.
// It must run after Require.
func RequireCapability(policy *auth.Policy, obj, act string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := Actor(c)
		if u == nil {
			abortWith(c, errs.ErrUnauthenticated)
			return
		}
		if !policy.Allowed(u.Role, obj, act) {
			abortWith(c, errs.ErrRoleNotAllowed)
			return
		}
		c.Next()
	}
}

func abortWith(c *gin.Context, err *errs.AppError) {
	c.AbortWithStatusJSON(err.Code, gin.H{"error": err.Message})
}
