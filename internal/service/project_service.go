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
	"github.com/psds-microservice/issue-tracker/internal/kafka"
	"github.com/psds-microservice/issue-tracker/internal/model"
	"github.com/psds-microservice/issue-tracker/internal/storage"
)

type ProjectInput struct {
	Name        string `json:"name" validate:"required,max=30"`
	Description string `json:"description" validate:"max=200"`
}

type ProjectDetail struct {
	Project *model.Project      `json:"project"`
	Query   string              `json:"q"`
	Tickets *Page[model.Ticket] `json:"tickets"`
}

type ProjectService struct {
	db      *gorm.DB
	tx      *database.TxManager
	tickets *TicketService
	events  kafka.TicketEventProducer
	files   storage.FileStore
	log     *slog.Logger
}

func NewProjectService(
	db *gorm.DB,
	tx *database.TxManager,
	tickets *TicketService,
	events kafka.TicketEventProducer,
	files storage.FileStore,
	log *slog.Logger,
) *ProjectService {
	return &ProjectService{db: db, tx: tx, tickets: tickets, events: events, files: files, log: log}
}

func (s *ProjectService) Create(ctx context.Context, actor *model.User, in ProjectInput) (*model.Project, error) {
	if actor == nil {
		return nil, errs.ErrUnauthenticated
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	ownerID := actor.ID
	p := &model.Project{Name: in.Name, Description: in.Description, OwnerID: &ownerID}
	if err := database.Conn(ctx, s.db).Omit(clause.Associations).Create(p).Error; err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	s.log.Info("project created", "project_id", p.ID, "owner_id", ownerID)
	return s.Get(ctx, p.ID)
}

func (s *ProjectService) Update(ctx context.Context, id uint64, in ProjectInput) (*model.Project, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	db := database.Conn(ctx, s.db)
	var p model.Project
	if err := db.First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrProjectNotFound
		}
		return nil, fmt.Errorf("load project: %w", err)
	}
	p.Name = in.Name
	p.Description = in.Description
	if err := db.Omit(clause.Associations).Save(&p).Error; err != nil {
		return nil, fmt.Errorf("save project: %w", err)
	}
	return s.Get(ctx, p.ID)
}

// Delete removes the project together with its tickets and everything they own.
func (s *ProjectService) Delete(ctx context.Context, id uint64) error {
	var (
		tickets []model.Ticket
		files   []string
	)
	err := s.tx.Run(ctx, func(ctx context.Context) error {
		db := database.Conn(ctx, s.db)
		var p model.Project
		if err := db.Select("id").First(&p, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrProjectNotFound
			}
			return fmt.Errorf("load project: %w", err)
		}
		if err := db.Where("project_id = ?", id).Find(&tickets).Error; err != nil {
			return fmt.Errorf("list project tickets: %w", err)
		}
		ids := make([]uint64, len(tickets))
		for i := range tickets {
			ids[i] = tickets[i].ID
		}
		var err error
		if files, err = purgeTickets(db, ids); err != nil {
			return err
		}
		if err := db.Delete(&model.Project{}, id).Error; err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	removeFiles(ctx, s.files, s.log, files)
	for i := range tickets {
		kafka.PublishAsync(s.events, kafka.EventTicketDeleted, &tickets[i])
	}
	s.log.Info("project deleted", "project_id", id, "tickets", len(tickets))
	return nil
}

func (s *ProjectService) Get(ctx context.Context, id uint64) (*model.Project, error) {
	var p model.Project
	if err := database.Conn(ctx, s.db).Preload("Owner").First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrProjectNotFound
		}
		return nil, fmt.Errorf("load project: %w", err)
	}
	return &p, nil
}

// List returns one page of projects whose name or description contains query.
func (s *ProjectService) List(ctx context.Context, query string, page int) (*Page[model.Project], error) {
	q := database.Conn(ctx, s.db).Model(&model.Project{})
	if query = strings.TrimSpace(query); query != "" {
		p := containsPattern(query)
		q = q.Where(ilike("projects.name")+" OR "+ilike("projects.description"), p, p)
	}
	res, err := paginate[model.Project](q, page, "projects.updated_at DESC, projects.id DESC", "Owner")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return res, nil
}

// Detail loads a project with a searchable page of its tickets.
func (s *ProjectService) Detail(ctx context.Context, id uint64, query string, page int) (*ProjectDetail, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tickets, err := s.tickets.List(ctx, TicketFilter{ProjectID: id, Query: query}, page)
	if err != nil {
		return nil, err
	}
	return &ProjectDetail{Project: p, Query: strings.TrimSpace(query), Tickets: tickets}, nil
}
