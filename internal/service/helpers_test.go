package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/psds-microservice/issue-tracker/internal/auth"
	"github.com/psds-microservice/issue-tracker/internal/database"
	"github.com/psds-microservice/issue-tracker/internal/logger"
	"github.com/psds-microservice/issue-tracker/internal/model"
	"github.com/psds-microservice/issue-tracker/internal/richtext"
	"github.com/psds-microservice/issue-tracker/internal/storage"
)

type recordedEvent struct {
	Event   string
	Payload map[string]interface{}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) ProduceTicketEvent(_ context.Context, event string, payload map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Event: event, Payload: payload})
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Event
	}
	return out
}

type testEnv struct {
	db            *gorm.DB
	media         string
	events        *eventRecorder
	files         *storage.Local
	categories    *CategoryService
	notifications *NotificationService
	tickets       *TicketService
	messages      *MessageService
	attachments   *AttachmentService
	projects      *ProjectService
	users         *UserService
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(model.All()...))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	log := logger.Discard()
	tx := database.NewTxManager(db)
	text := richtext.New()

	e := &testEnv{db: db, media: t.TempDir(), events: &eventRecorder{}}
	e.files = storage.NewLocal(e.media)
	e.categories = NewCategoryService(db)
	e.notifications = NewNotificationService(db, tx, log)
	e.tickets = NewTicketService(db, tx, e.categories, e.notifications, e.events, e.files, text, log)
	e.messages = NewMessageService(db, tx, text, log)
	e.attachments = NewAttachmentService(db, tx, e.files, log)
	e.projects = NewProjectService(db, tx, e.tickets, e.events, e.files, log)
	e.users = NewUserService(db, tx, auth.NewBcryptHasher(bcrypt.MinCost), log)
	return e
}

func (e *testEnv) user(t *testing.T, username string, role model.Role) *model.User {
	t.Helper()
	u, err := e.users.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
		Role:     string(role),
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) project(t *testing.T, owner *model.User, name string) *model.Project {
	t.Helper()
	p, err := e.projects.Create(context.Background(), owner, ProjectInput{Name: name, Description: name + " project"})
	require.NoError(t, err)
	return p
}

func (e *testEnv) ticket(t *testing.T, host *model.User, projectID uint64, in CreateTicketInput) *model.Ticket {
	t.Helper()
	in.ProjectID = projectID
	tk, err := e.tickets.Create(context.Background(), host, in)
	require.NoError(t, err)
	return tk
}

func (e *testEnv) count(t *testing.T, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := e.db.Model(m)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (e *testEnv) readFile(rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(e.media, filepath.FromSlash(rel)))
}

func strPtr(s string) *string { return &s }
