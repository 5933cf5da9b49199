package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"gorm.io/gorm"

	"github.com/psds-microservice/issue-tracker/internal/database"
	"github.com/psds-microservice/issue-tracker/internal/errs"
	"github.com/psds-microservice/issue-tracker/internal/model"
	"github.com/psds-microservice/issue-tracker/internal/storage"
)

// Upload is one file received with a ticket-detail post.
type Upload struct {
	Name    string
	Content io.Reader
}

type AttachmentService struct {
	db    *gorm.DB
	tx    *database.TxManager
	files storage.FileStore
	log   *slog.Logger
}

func NewAttachmentService(db *gorm.DB, tx *database.TxManager, files storage.FileStore, log *slog.Logger) *AttachmentService {
	return &AttachmentService{db: db, tx: tx, files: files, log: log}
}

// AttachFiles stores every upload and records it against the ticket. If recording fails the
// stored files are removed again.
func (s *AttachmentService) AttachFiles(ctx context.Context, ticketID uint64, uploads []Upload) ([]model.Attachment, error) {
	if len(uploads) == 0 {
		return nil, errs.NewValidation("no files uploaded")
	}
	if err := ticketExists(database.Conn(ctx, s.db), ticketID); err != nil {
		return nil, err
	}

	saved := make([]string, 0, len(uploads))
	for _, u := range uploads {
		rel, err := s.files.Save(ctx, u.Name, u.Content)
		if err != nil {
			removeFiles(ctx, s.files, s.log, saved)
			return nil, fmt.Errorf("store %s: %w", u.Name, err)
		}
		saved = append(saved, rel)
	}

	items := make([]model.Attachment, len(saved))
	for i, rel := range saved {
		items[i] = model.Attachment{TicketID: ticketID, Name: storage.DisplayName(rel), File: rel}
	}
	err := s.tx.Run(ctx, func(ctx context.Context) error {
		if err := database.Conn(ctx, s.db).Create(&items).Error; err != nil {
			return fmt.Errorf("create attachments: %w", err)
		}
		return nil
	})
	if err != nil {
		removeFiles(ctx, s.files, s.log, saved)
		return nil, err
	}
	s.log.Info("attachments added", "ticket_id", ticketID, "count", len(items))
	return items, nil
}
