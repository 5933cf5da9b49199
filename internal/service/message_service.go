package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/psds-microservice/issue-tracker/internal/database"
	"github.com/psds-microservice/issue-tracker/internal/errs"
	"github.com/psds-microservice/issue-tracker/internal/model"
	"github.com/psds-microservice/issue-tracker/internal/richtext"
)

type MessageService struct {
	db   *gorm.DB
	tx   *database.TxManager
	text *richtext.Renderer
	log  *slog.Logger
}

func NewMessageService(db *gorm.DB, tx *database.TxManager, text *richtext.Renderer, log *slog.Logger) *MessageService {
	return &MessageService{db: db, tx: tx, text: text, log: log}
}

// Post appends a message to the ticket thread and makes the author a participant.
func (s *MessageService) Post(ctx context.Context, ticketID uint64, author *model.User, body string) (*model.Message, error) {
	if author == nil {
		return nil, errs.ErrUnauthenticated
	}
	if strings.TrimSpace(body) == "" {
		return nil, errs.NewValidation("body is required")
	}
	m := &model.Message{TicketID: ticketID, UserID: author.ID, Body: body}
	err := s.tx.Run(ctx, func(ctx context.Context) error {
		db := database.Conn(ctx, s.db)
		if err := ticketExists(db, ticketID); err != nil {
			return err
		}
		if err := db.Omit(clause.Associations).Create(m).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		participant := &model.TicketParticipant{TicketID: ticketID, UserID: author.ID}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(participant).Error; err != nil {
			return fmt.Errorf("add participant: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.User = author
	s.render(m)
	s.log.Info("message posted", "message_id", m.ID, "ticket_id", ticketID, "user_id", author.ID)
	return m, nil
}

// Delete removes a message. Only its author may delete it.
func (s *MessageService) Delete(ctx context.Context, id uint64, actor *model.User) (*model.Message, error) {
	if actor == nil {
		return nil, errs.ErrUnauthenticated
	}
	db := database.Conn(ctx, s.db)
	var m model.Message
	if err := db.First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrMessageNotFound
		}
		return nil, fmt.Errorf("load message: %w", err)
	}
	if m.UserID != actor.ID {
		return nil, errs.ErrNotMessageAuthor
	}
	if err := db.Delete(&model.Message{}, m.ID).Error; err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	s.log.Info("message deleted", "message_id", m.ID, "ticket_id", m.TicketID)
	return &m, nil
}

// Activity returns the most recent messages across all tickets.
func (s *MessageService) Activity(ctx context.Context, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = PageSize
	}
	items := []model.Message{}
	err := database.Conn(ctx, s.db).
		Preload("User").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	for i := range items {
		s.render(&items[i])
	}
	return items, nil
}

func (s *MessageService) render(m *model.Message) {
	html, err := s.text.Markdown(m.Body)
	if err != nil {
		s.log.Warn("render message body", "message_id", m.ID, "error", err)
		return
	}
	m.BodyHTML = html
}

func ticketExists(db *gorm.DB, id uint64) error {
	var t model.Ticket
	if err := db.Select("id").First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrTicketNotFound
		}
		return fmt.Errorf("load ticket: %w", err)
	}
	return nil
}
