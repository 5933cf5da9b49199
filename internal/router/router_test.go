package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/psds-microservice/issue-tracker/internal/auth"
	"github.com/psds-microservice/issue-tracker/internal/database"
	"github.com/psds-microservice/issue-tracker/internal/handler"
	"github.com/psds-microservice/issue-tracker/internal/logger"
	"github.com/psds-microservice/issue-tracker/internal/middleware"
	"github.com/psds-microservice/issue-tracker/internal/model"
	"github.com/psds-microservice/issue-tracker/internal/richtext"
	"github.com/psds-microservice/issue-tracker/internal/service"
	"github.com/psds-microservice/issue-tracker/internal/storage"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	db      *gorm.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(model.All()...))

	log := logger.Discard()
	tx := database.NewTxManager(db)
	text := richtext.New()
	files := storage.NewLocal(t.TempDir())

	categories := service.NewCategoryService(db)
	notifications := service.NewNotificationService(db, tx, log)
	tickets := service.NewTicketService(db, tx, categories, notifications, nil, files, text, log)
	messages := service.NewMessageService(db, tx, text, log)
	attachments := service.NewAttachmentService(db, tx, files, log)
	projects := service.NewProjectService(db, tx, tickets, nil, files, log)
	users := service.NewUserService(db, tx, auth.NewBcryptHasher(bcrypt.MinCost), log)

	jwtSvc := auth.NewJWTService("test-secret", time.Hour)
	policy, err := auth.NewPolicy(log, auth.DefaultPolicies)
	require.NoError(t, err)

	h := New(Deps{
		Health:        handler.NewHealthHandler(db),
		Tickets:       handler.NewTicketHandler(tickets, messages, attachments, categories, log),
		Projects:      handler.NewProjectHandler(projects, log),
		Users:         handler.NewUserHandler(users, tickets, projects, jwtSvc, log),
		Notifications: handler.NewNotificationHandler(notifications, log),
		Auth:          middleware.NewAuth(jwtSvc, users, log),
		Policy:        policy,
		Log:           log,
	})
	return &testServer{t: t, handler: h, db: db}
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

// signup registers a user and returns an access token for it.
func (s *testServer) signup(username string, role model.Role) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/register/", "", gin.H{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
		"role":     string(role),
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/login/", "", gin.H{"username": username, "password": "password123"})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(s.t, resp.AccessToken)
	return resp.AccessToken
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) createTicket(token string, name string) uint64 {
	s.t.Helper()
	w := s.do(http.MethodPost, "/create-project/", token, gin.H{"name": "Apollo", "description": "moon"})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	projectID := uint64(decode(s.t, w)["id"].(float64))

	w = s.do(http.MethodPost, "/create-ticket/", token, gin.H{"project_id": projectID, "name": name, "type": "bug"})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return uint64(decode(s.t, w)["id"].(float64))
}

func TestHealthAndSwagger(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, paths.PathHealth, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = s.do(http.MethodGet, paths.PathReady, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, paths.PathSwagger+"/openapi.json", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"openapi"`)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)
	s.signup("alice", model.RoleDeveloper)

	w := s.do(http.MethodPost, "/login/", "", gin.H{"username": "alice", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/register/", "", gin.H{
		"username": "alice", "email": "x@example.com", "password": "password123", "role": "admin",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup("alice", model.RoleDeveloper)
	mallory := s.signup("mallory", model.RoleDeveloper)

	w := s.do(http.MethodPost, "/create-ticket/", "", gin.H{"project_id": 1, "name": "anon"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	id := s.createTicket(alice, "Login broken")

	w = s.do(http.MethodPost, fmt.Sprintf("/update-ticket/%d/", id), mallory, gin.H{"name": "hijacked"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "You are not allowed", w.Body.String())

	w = s.do(http.MethodPost, fmt.Sprintf("/update-ticket/%d/", id), alice, gin.H{"name": "Login fixed", "status": "closed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Login fixed", decode(t, w)["name"])

	w = s.do(http.MethodGet, fmt.Sprintf("/ticket/%d", id), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode(t, w)
	history := detail["history"].(map[string]interface{})
	assert.Equal(t, float64(1), history["total"])

	w = s.do(http.MethodGet, "/tickets/?search=bug", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)["tickets"].(map[string]interface{})
	assert.Equal(t, float64(1), page["total"])

	w = s.do(http.MethodGet, "/tickets/", mallory, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode(t, w)["tickets"].(map[string]interface{})
	assert.Equal(t, float64(0), page["total"])

	w = s.do(http.MethodPost, fmt.Sprintf("/delete-ticket/%d/", id), mallory, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodPost, fmt.Sprintf("/delete-ticket/%d/", id), alice, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodGet, fmt.Sprintf("/ticket/%d", id), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotificationsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup("alice", model.RoleDeveloper)
	id := s.createTicket(alice, "Ping")
	w := s.do(http.MethodPost, fmt.Sprintf("/update-ticket/%d/", id), alice, gin.H{"priority": "high"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/notifications/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["count"])

	w = s.do(http.MethodGet, "/notifications/unread/", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])

	w = s.do(http.MethodGet, "/notifications/", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["count"])
	first := body["notifications"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, true, first["is_read"])

	w = s.do(http.MethodGet, "/notifications/", alice, nil)
	assert.Equal(t, float64(0), decode(t, w)["count"])

	w = s.do(http.MethodPost, "/mark_notification_as_read/999/", alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	nid := uint64(first["id"].(float64))
	w = s.do(http.MethodPost, fmt.Sprintf("/mark_notification_as_read/%d/", nid), alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])
}

func TestMessagesAndAttachmentsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup("alice", model.RoleDeveloper)
	bob := s.signup("bob", model.RoleDeveloper)
	id := s.createTicket(alice, "Thread")

	w := s.do(http.MethodPost, fmt.Sprintf("/ticket/%d", id), bob, gin.H{"body": "hello **there**"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	msg := decode(t, w)["message"].(map[string]interface{})
	assert.Contains(t, msg["body_html"], "<strong>there</strong>")
	msgID := uint64(msg["id"].(float64))

	w = s.do(http.MethodPost, fmt.Sprintf("/ticket/%d", id), bob, gin.H{"body": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, fmt.Sprintf("/delete-message/%d/", msgID), alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "You are not allowed", w.Body.String())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "trace.log")
	require.NoError(t, err)
	_, err = fw.Write([]byte("stack trace"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/ticket/%d", id), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["attachments"], 1)

	w = s.do(http.MethodGet, fmt.Sprintf("/ticket/%d?q=trace", id), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	atts := decode(t, w)["attachments"].(map[string]interface{})
	assert.Equal(t, float64(1), atts["total"])

	w = s.do(http.MethodPost, fmt.Sprintf("/delete-message/%d/", msgID), bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(id), decode(t, w)["ticket_id"])

	w = s.do(http.MethodGet, "/activity/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["messages"])
}

func TestRolePages(t *testing.T) {
	s := newTestServer(t)
	admin := s.signup("root", model.RoleAdmin)
	dev := s.signup("dev", model.RoleDeveloper)
	pm := s.signup("pm", model.RoleProjectManager)

	cases := []struct {
		path  string
		token string
		want  int
	}{
		{"/admin-home/", admin, http.StatusOK},
		{"/admin-home/", dev, http.StatusForbidden},
		{"/admin-home/", "", http.StatusUnauthorized},
		{"/developer-home/", dev, http.StatusOK},
		{"/developer-home/", pm, http.StatusForbidden},
		{"/project-manager-home/", pm, http.StatusOK},
		{"/project-manager-home/", admin, http.StatusForbidden},
		{"/manage-users/", admin, http.StatusOK},
		{"/manage-users/", pm, http.StatusForbidden},
	}
	for _, tc := range cases {
		w := s.do(http.MethodGet, tc.path, tc.token, nil)
		assert.Equal(t, tc.want, w.Code, "%s", tc.path)
	}

	id := s.createTicket(pm, "Reassign me")
	w := s.do(http.MethodPost, "/manage-users/", admin, gin.H{"ticket_id": id, "assignee_id": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assignees := decode(t, w)["assignees"].([]interface{})
	require.Len(t, assignees, 1)
	assert.Equal(t, "dev", assignees[0].(map[string]interface{})["username"])
}

func TestStatsAndProfile(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup("alice", model.RoleDeveloper)
	s.createTicket(alice, "One")

	w := s.do(http.MethodGet, "/type_data/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, []interface{}{float64(0), float64(1), float64(0), float64(0), float64(0)}, body["values"])
	assert.Equal(t, "bug", body["labels"].([]interface{})[1])

	w = s.do(http.MethodGet, "/status_data/", "", nil)
	assert.Equal(t, []interface{}{float64(1), float64(0)}, decode(t, w)["values"])

	w = s.do(http.MethodGet, "/profile/", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["created_tickets"], 1)

	w = s.do(http.MethodPost, "/profile/", alice, gin.H{"bio": "hello"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	profile := decode(t, w)["profile"].(map[string]interface{})
	assert.Equal(t, "hello", profile["bio"])

	w = s.do(http.MethodGet, "/profile/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/projects/?search=apol", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	projects := decode(t, w)["projects"].(map[string]interface{})
	assert.Equal(t, float64(1), projects["total"])
}
