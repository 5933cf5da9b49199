package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/psds-microservice/issue-tracker/internal/database"
	"github.com/psds-microservice/issue-tracker/internal/errs"
	"github.com/psds-microservice/issue-tracker/internal/model"
)

// Dispatcher is notified of ticket saves. Implementations write through the transaction
// carried by ctx, so a failed save leaves no notification behind.
type Dispatcher interface {
	OnTicketCreated(ctx context.Context, t *model.Ticket) error
	OnTicketUpdated(ctx context.Context, t *model.Ticket) error
}

type NotificationList struct {
	Items []model.Notification `json:"notifications"`
	Count int                  `json:"count"`
}

type NotificationService struct {
	db  *gorm.DB
	tx  *database.TxManager
	log *slog.Logger
}

func NewNotificationService(db *gorm.DB, tx *database.TxManager, log *slog.Logger) *NotificationService {
	return &NotificationService{db: db, tx: tx, log: log}
}

func (s *NotificationService) OnTicketCreated(ctx context.Context, t *model.Ticket) error {
	return s.emit(ctx, t, model.NotificationCreated, model.MessageTicketCreated)
}

func (s *NotificationService) OnTicketUpdated(ctx context.Context, t *model.Ticket) error {
	return s.emit(ctx, t, model.NotificationUpdated, model.MessageTicketUpdated)
}

func (s *NotificationService) emit(ctx context.Context, t *model.Ticket, typ model.NotificationType, msg string) error {
	ticketID := t.ID
	n := &model.Notification{
		RecipientID: t.HostID,
		TicketID:    &ticketID,
		Message:     msg,
		Type:        typ,
	}
	if err := database.Conn(ctx, s.db).Create(n).Error; err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	s.log.Debug("notification created", "ticket_id", ticketID, "type", typ)
	return nil
}

// MarkRead sets is_read on one notification. Marking a read notification again is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, id uint64) error {
	db := database.Conn(ctx, s.db)
	var n model.Notification
	if err := db.Select("id", "is_read").First(&n, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrNotificationNotFound
		}
		return fmt.Errorf("load notification: %w", err)
	}
	if n.IsRead {
		return nil
	}
	if err := db.Model(&model.Notification{}).Where("id = ?", id).Update("is_read", true).Error; err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

// Unread lists the user's unread notifications without changing them.
func (s *NotificationService) Unread(ctx context.Context, user *model.User) (*NotificationList, error) {
	if user == nil {
		return emptyNotifications(), nil
	}
	items, err := s.unread(database.Conn(ctx, s.db), user.ID)
	if err != nil {
		return nil, err
	}
	return &NotificationList{Items: items, Count: len(items)}, nil
}

// ViewAll returns the user's unread notifications and marks exactly those as read.
func (s *NotificationService) ViewAll(ctx context.Context, user *model.User) (*NotificationList, error) {
	if user == nil {
		return emptyNotifications(), nil
	}
	var items []model.Notification
	err := s.tx.Run(ctx, func(ctx context.Context) error {
		db := database.Conn(ctx, s.db)
		var err error
		if items, err = s.unread(db, user.ID); err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		ids := make([]uint64, len(items))
		for i := range items {
			ids[i] = items[i].ID
		}
		if err := db.Model(&model.Notification{}).Where("id IN ?", ids).Update("is_read", true).Error; err != nil {
			return fmt.Errorf("mark notifications read: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].IsRead = true
	}
	return &NotificationList{Items: items, Count: len(items)}, nil
}

func (s *NotificationService) unread(db *gorm.DB, userID uint64) ([]model.Notification, error) {
	items := []model.Notification{}
	err := db.Preload("Ticket").
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Order("created_at DESC, id DESC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list unread notifications: %w", err)
	}
	return items, nil
}

func emptyNotifications() *NotificationList {
	return &NotificationList{Items: []model.Notification{}}
}
