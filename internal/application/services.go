package application

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/psds-microservice/issue-tracker/internal/auth"
	"github.com/psds-microservice/issue-tracker/internal/config"
	"github.com/psds-microservice/issue-tracker/internal/database"
	"github.com/psds-microservice/issue-tracker/internal/kafka"
	"github.com/psds-microservice/issue-tracker/internal/richtext"
	"github.com/psds-microservice/issue-tracker/internal/service"
	"github.com/psds-microservice/issue-tracker/internal/storage"
)

// Services is the wired service layer shared by the API server and the CLI commands.
type Services struct {
	Categories    *service.CategoryService
	Notifications *service.NotificationService
	Tickets       *service.TicketService
	Messages      *service.MessageService
	Attachments   *service.AttachmentService
	Projects      *service.ProjectService
	Users         *service.UserService
}

func NewServices(cfg *config.Config, db *gorm.DB, events kafka.TicketEventProducer, log *slog.Logger) *Services {
	tx := database.NewTxManager(db)
	text := richtext.New()
	files := storage.NewLocal(cfg.MediaDir)

	s := &Services{}
	s.Categories = service.NewCategoryService(db)
	s.Notifications = service.NewNotificationService(db, tx, log)
	s.Tickets = service.NewTicketService(db, tx, s.Categories, s.Notifications, events, files, text, log)
	s.Messages = service.NewMessageService(db, tx, text, log)
	s.Attachments = service.NewAttachmentService(db, tx, files, log)
	s.Projects = service.NewProjectService(db, tx, s.Tickets, events, files, log)
	s.Users = service.NewUserService(db, tx, auth.NewBcryptHasher(cfg.BcryptCost), log)
	return s
}
