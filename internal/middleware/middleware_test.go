package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psds-microservice/issue-tracker/internal/auth"
	"github.com/psds-microservice/issue-tracker/internal/errs"
	"github.com/psds-microservice/issue-tracker/internal/logger"
	"github.com/psds-microservice/issue-tracker/internal/model"
)

type stubUsers map[uint64]*model.User

func (s stubUsers) GetByID(_ context.Context, id uint64) (*model.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken("abc"))
	assert.Empty(t, bearerToken(""))
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextKeyRequestID)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "fixed", w.Header().Get("X-Request-ID"))
}

func TestAuthRequireAndCapability(t *testing.T) {
	log := logger.Discard()
	jwt := auth.NewJWTService("test-secret", time.Hour)
	admin := &model.User{ID: 1, Username: "root", Role: model.RoleAdmin}
	dev := &model.User{ID: 2, Username: "dev", Role: model.RoleDeveloper}
	policy, err := auth.NewPolicy(log, auth.DefaultPolicies)
	require.NoError(t, err)

	m := NewAuth(jwt, stubUsers{1: admin, 2: dev}, log)
	r := gin.New()
	r.Use(m.Optional())
	r.GET("/whoami", func(c *gin.Context) {
		if u := Actor(c); u != nil {
			c.String(http.StatusOK, u.Username)
			return
		}
		c.String(http.StatusOK, "anonymous")
	})
	r.GET("/admin", m.Require(), RequireCapability(policy, auth.ResourceUsers, auth.ActionManage), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(path string, u *model.User) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if u != nil {
			token, _, err := jwt.Issue(u)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, "anonymous", do("/whoami", nil).Body.String())
	assert.Equal(t, "dev", do("/whoami", dev).Body.String())
	assert.Equal(t, "anonymous", do("/whoami", &model.User{ID: 99, Role: model.RoleAdmin}).Body.String())

	w := do("/admin", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"authentication required"}`, w.Body.String())
	w = do("/admin", dev)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"`+errs.ErrRoleNotAllowed.Message+`"}`, w.Body.String())
	assert.Equal(t, http.StatusNoContent, do("/admin", admin).Code)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "anonymous", w.Body.String())
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery(logger.Discard()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}
