package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/psds-microservice/issue-tracker/internal/database"
	"github.com/psds-microservice/issue-tracker/internal/errs"
	"github.com/psds-microservice/issue-tracker/internal/kafka"
	"github.com/psds-microservice/issue-tracker/internal/model"
	"github.com/psds-microservice/issue-tracker/internal/richtext"
	"github.com/psds-microservice/issue-tracker/internal/storage"
)

const ticketOrder = "tickets.updated_at DESC, tickets.created_at DESC, tickets.id DESC"

var ticketPreloads = []string{"Host", "Project", "Category", "Assignees"}

type CreateTicketInput struct {
	ProjectID    uint64   `json:"project_id"`
	Name         string   `json:"name"`
	CategoryName string   `json:"category"`
	Priority     string   `json:"priority"`
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	AssigneeIDs  []uint64 `json:"assignees"`
}

// UpdateTicketInput changes only the fields that are set.
type UpdateTicketInput struct {
	Name         *string   `json:"name"`
	CategoryName *string   `json:"category"`
	Status       *string   `json:"status"`
	Priority     *string   `json:"priority"`
	Type         *string   `json:"type"`
	Description  *string   `json:"description"`
	AssigneeIDs  *[]uint64 `json:"assignees"`
}

type TicketFilter struct {
	// Actor restricts the listing to tickets the user hosts or is assigned to.
	Actor     *model.User
	ProjectID uint64
	Query     string
}

type DetailPages struct {
	Messages    int
	History     int
	Attachments int
}

type TicketDetail struct {
	Ticket      *model.Ticket              `json:"ticket"`
	Query       string                     `json:"q"`
	Messages    *Page[model.Message]       `json:"messages"`
	History     *Page[model.TicketHistory] `json:"history"`
	Attachments *Page[model.Attachment]    `json:"attachments"`
}

type TicketService struct {
	db         *gorm.DB
	tx         *database.TxManager
	categories *CategoryService
	notify     Dispatcher
	events     kafka.TicketEventProducer
	files      storage.FileStore
	text       *richtext.Renderer
	log        *slog.Logger
}

func NewTicketService(
	db *gorm.DB,
	tx *database.TxManager,
	categories *CategoryService,
	notify Dispatcher,
	events kafka.TicketEventProducer,
	files storage.FileStore,
	text *richtext.Renderer,
	log *slog.Logger,
) *TicketService {
	return &TicketService{
		db:         db,
		tx:         tx,
		categories: categories,
		notify:     notify,
		events:     events,
		files:      files,
		text:       text,
		log:        log,
	}
}

func (s *TicketService) Create(ctx context.Context, actor *model.User, in CreateTicketInput) (*model.Ticket, error) {
	if actor == nil {
		return nil, errs.ErrUnauthenticated
	}
	name, err := ticketName(in.Name)
	if err != nil {
		return nil, err
	}
	priority, ok := model.ParseTicketPriority(in.Priority, model.TicketPriorityNone)
	if !ok {
		return nil, errs.NewValidation("invalid priority", in.Priority)
	}
	typ, ok := model.ParseTicketType(in.Type, model.TicketTypeMisc)
	if !ok {
		return nil, errs.NewValidation("invalid type", in.Type)
	}

	hostID := actor.ID
	t := &model.Ticket{
		ProjectID:   in.ProjectID,
		HostID:      &hostID,
		Name:        name,
		Status:      model.TicketStatusOpen,
		Priority:    priority,
		Type:        typ,
		Description: s.text.Sanitize(in.Description),
	}
	err = s.tx.Run(ctx, func(ctx context.Context) error {
		db := database.Conn(ctx, s.db)
		var project model.Project
		if err := db.Select("id").First(&project, in.ProjectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrProjectNotFound
			}
			return fmt.Errorf("load project: %w", err)
		}
		category, err := s.categories.Resolve(ctx, in.CategoryName)
		if err != nil {
			return err
		}
		if category != nil {
			t.CategoryID = &category.ID
		}
		if err := db.Omit(clause.Associations).Create(t).Error; err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}
		if err := setAssignees(db, t.ID, in.AssigneeIDs); err != nil {
			return err
		}
		return s.notify.OnTicketCreated(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("ticket created", "ticket_id", t.ID, "project_id", t.ProjectID, "host_id", hostID)
	kafka.PublishAsync(s.events, kafka.EventTicketCreated, t)
	return s.Get(ctx, t.ID)
}

// Update snapshots the current values into the history log, applies the changes and
// notifies the host, all in one transaction. Only the host may update.
func (s *TicketService) Update(ctx context.Context, actor *model.User, id uint64, in UpdateTicketInput) (*model.Ticket, error) {
	if actor == nil {
		return nil, errs.ErrUnauthenticated
	}
	var t model.Ticket
	err := s.tx.Run(ctx, func(ctx context.Context) error {
		db := database.Conn(ctx, s.db)
		if err := db.First(&t, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrTicketNotFound
			}
			return fmt.Errorf("load ticket: %w", err)
		}
		if !t.IsHost(actor.ID) {
			return errs.ErrNotTicketHost
		}
		next, err := s.applyChanges(t, in)
		if err != nil {
			return err
		}

		editorID := actor.ID
		snapshot := &model.TicketHistory{
			TicketID:    t.ID,
			UpdatedByID: &editorID,
			Name:        t.Name,
			Status:      t.Status,
			Priority:    t.Priority,
			Type:        t.Type,
			Description: t.Description,
		}
		if err := db.Omit(clause.Associations).Create(snapshot).Error; err != nil {
			return fmt.Errorf("write ticket history: %w", err)
		}

		if in.CategoryName != nil {
			category, err := s.categories.Resolve(ctx, *in.CategoryName)
			if err != nil {
				return err
			}
			next.CategoryID = nil
			if category != nil {
				next.CategoryID = &category.ID
			}
		}
		t = next
		if err := db.Omit(clause.Associations).Save(&t).Error; err != nil {
			return fmt.Errorf("save ticket: %w", err)
		}
		if in.AssigneeIDs != nil {
			if err := setAssignees(db, t.ID, *in.AssigneeIDs); err != nil {
				return err
			}
		}
		return s.notify.OnTicketUpdated(ctx, &t)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("ticket updated", "ticket_id", t.ID, "editor_id", actor.ID)
	kafka.PublishAsync(s.events, kafka.EventTicketUpdated, &t)
	return s.Get(ctx, t.ID)
}

// applyChanges validates in against t and returns the updated copy.
func (s *TicketService) applyChanges(t model.Ticket, in UpdateTicketInput) (model.Ticket, error) {
	if in.Name != nil {
		name, err := ticketName(*in.Name)
		if err != nil {
			return t, err
		}
		t.Name = name
	}
	if in.Status != nil {
		st, ok := model.ParseTicketStatus(*in.Status, t.Status)
		if !ok {
			return t, errs.NewValidation("invalid status", *in.Status)
		}
		t.Status = st
	}
	if in.Priority != nil {
		p, ok := model.ParseTicketPriority(*in.Priority, t.Priority)
		if !ok {
			return t, errs.NewValidation("invalid priority", *in.Priority)
		}
		t.Priority = p
	}
	if in.Type != nil {
		typ, ok := model.ParseTicketType(*in.Type, t.Type)
		if !ok {
			return t, errs.NewValidation("invalid type", *in.Type)
		}
		t.Type = typ
	}
	if in.Description != nil {
		t.Description = s.text.Sanitize(*in.Description)
	}
	return t, nil
}

// Delete removes the ticket and everything hanging off it. Only the host may delete.
func (s *TicketService) Delete(ctx context.Context, actor *model.User, id uint64) error {
	if actor == nil {
		return errs.ErrUnauthenticated
	}
	var (
		t     model.Ticket
		files []string
	)
	err := s.tx.Run(ctx, func(ctx context.Context) error {
		db := database.Conn(ctx, s.db)
		if err := db.First(&t, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrTicketNotFound
			}
			return fmt.Errorf("load ticket: %w", err)
		}
		if !t.IsHost(actor.ID) {
			return errs.ErrNotTicketHost
		}
		var err error
		files, err = purgeTickets(db, []uint64{t.ID})
		return err
	})
	if err != nil {
		return err
	}
	removeFiles(ctx, s.files, s.log, files)
	s.log.Info("ticket deleted", "ticket_id", t.ID, "by", actor.ID)
	kafka.PublishAsync(s.events, kafka.EventTicketDeleted, &t)
	return nil
}

func (s *TicketService) Get(ctx context.Context, id uint64) (*model.Ticket, error) {
	var t model.Ticket
	q := database.Conn(ctx, s.db)
	for _, p := range ticketPreloads {
		q = q.Preload(p)
	}
	if err := q.Preload("Participants").First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	return &t, nil
}

// List returns one page of tickets matching f, most recently updated first.
func (s *TicketService) List(ctx context.Context, f TicketFilter, page int) (*Page[model.Ticket], error) {
	q := database.Conn(ctx, s.db).Model(&model.Ticket{})
	if f.Actor != nil {
		q = q.Where(
			"tickets.host_id = ? OR EXISTS (SELECT 1 FROM ticket_assignees ta WHERE ta.ticket_id = tickets.id AND ta.user_id = ?)",
			f.Actor.ID, f.Actor.ID,
		)
	}
	if f.ProjectID != 0 {
		q = q.Where("tickets.project_id = ?", f.ProjectID)
	}
	if query := strings.TrimSpace(f.Query); query != "" {
		q = q.Where(ticketSearch(query))
	}
	res, err := paginate[model.Ticket](q, page, ticketOrder, ticketPreloads...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return res, nil
}

// ticketSearch matches host or assignee username, category, name, priority, type, and the
// exact status.
func ticketSearch(query string) clause.Expr {
	p := containsPattern(query)
	typ := p
	if norm, _ := model.ParseTicketType(query, ""); norm != "" {
		typ = containsPattern(string(norm))
	}
	return clause.Expr{
		SQL: ilike("tickets.name") +
			" OR " + ilike("tickets.priority") +
			" OR " + ilike("tickets.type") +
			" OR LOWER(tickets.status) = ?" +
			" OR EXISTS (SELECT 1 FROM users h WHERE h.id = tickets.host_id AND " + ilike("h.username") + ")" +
			" OR EXISTS (SELECT 1 FROM ticket_assignees ta JOIN users au ON au.id = ta.user_id WHERE ta.ticket_id = tickets.id AND " + ilike("au.username") + ")" +
			" OR EXISTS (SELECT 1 FROM categories c WHERE c.id = tickets.category_id AND " + ilike("c.name") + ")",
		Vars: []interface{}{p, p, typ, strings.ToLower(strings.TrimSpace(query)), p, p, p},
	}
}

// Detail loads the ticket with its messages, history and attachments, each filtered by
// query and paginated on its own.
func (s *TicketService) Detail(ctx context.Context, id uint64, query string, pages DetailPages) (*TicketDetail, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	db := database.Conn(ctx, s.db)
	d := &TicketDetail{Ticket: t, Query: query}

	messages := db.Model(&model.Message{}).Where("messages.ticket_id = ?", id)
	history := db.Model(&model.TicketHistory{}).Where("ticket_history.ticket_id = ?", id)
	attachments := db.Model(&model.Attachment{}).Where("attachments.ticket_id = ?", id)
	if query != "" {
		p := containsPattern(query)
		messages = messages.Where(
			ilike("messages.body")+" OR EXISTS (SELECT 1 FROM users mu WHERE mu.id = messages.user_id AND "+ilike("mu.username")+")",
			p, p,
		)
		history = history.Where(
			ilike("ticket_history.name")+" OR "+ilike("ticket_history.description")+
				" OR EXISTS (SELECT 1 FROM users hu WHERE hu.id = ticket_history.updated_by_id AND "+ilike("hu.username")+")",
			p, p, p,
		)
		attachments = attachments.Where(
			ilike("attachments.name")+" OR "+ilike("CAST(attachments.created_at AS TEXT)"),
			p, p,
		)
	}

	if d.Messages, err = paginate[model.Message](messages, pages.Messages, "messages.updated_at DESC, messages.created_at DESC, messages.id DESC", "User"); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for i := range d.Messages.Items {
		s.renderBody(&d.Messages.Items[i])
	}
	if d.History, err = paginate[model.TicketHistory](history, pages.History, "ticket_history.created_at DESC, ticket_history.id DESC", "UpdatedBy"); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if d.Attachments, err = paginate[model.Attachment](attachments, pages.Attachments, "attachments.created_at DESC, attachments.id DESC"); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return d, nil
}

func (s *TicketService) renderBody(m *model.Message) {
	html, err := s.text.Markdown(m.Body)
	if err != nil {
		s.log.Warn("render message body", "message_id", m.ID, "error", err)
		return
	}
	m.BodyHTML = html
}

// Reassign replaces the assignee set with one user. The host is notified of the change
// but no history snapshot is taken, since no ticket field changed.
func (s *TicketService) Reassign(ctx context.Context, ticketID, assigneeID uint64) (*model.Ticket, error) {
	var t model.Ticket
	err := s.tx.Run(ctx, func(ctx context.Context) error {
		db := database.Conn(ctx, s.db)
		if err := db.First(&t, ticketID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrTicketNotFound
			}
			return fmt.Errorf("load ticket: %w", err)
		}
		var user model.User
		if err := db.Select("id").First(&user, assigneeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrUserNotFound
			}
			return fmt.Errorf("load user: %w", err)
		}
		if err := setAssignees(db, t.ID, []uint64{user.ID}); err != nil {
			return err
		}
		t.UpdatedAt = time.Now()
		if err := db.Model(&t).UpdateColumn("updated_at", t.UpdatedAt).Error; err != nil {
			return fmt.Errorf("touch ticket: %w", err)
		}
		return s.notify.OnTicketUpdated(ctx, &t)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("ticket reassigned", "ticket_id", ticketID, "assignee_id", assigneeID)
	kafka.PublishAsync(s.events, kafka.EventTicketUpdated, &t)
	return s.Get(ctx, ticketID)
}

// Dashboard returns every ticket whose category, name or description contains query.
func (s *TicketService) Dashboard(ctx context.Context, query string) ([]model.Ticket, error) {
	q := database.Conn(ctx, s.db).Model(&model.Ticket{})
	if query = strings.TrimSpace(query); query != "" {
		p := containsPattern(query)
		q = q.Where(
			ilike("tickets.name")+" OR "+ilike("tickets.description")+
				" OR EXISTS (SELECT 1 FROM categories c WHERE c.id = tickets.category_id AND "+ilike("c.name")+")",
			p, p, p,
		)
	}
	for _, p := range ticketPreloads {
		q = q.Preload(p)
	}
	items := []model.Ticket{}
	if err := q.Order(ticketOrder).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("dashboard tickets: %w", err)
	}
	return items, nil
}

// PriorityCounts counts tickets per priority in the order high, medium, low, none.
func (s *TicketService) PriorityCounts(ctx context.Context) ([]int64, error) {
	keys := make([]string, len(model.TicketPriorities))
	for i, p := range model.TicketPriorities {
		keys[i] = string(p)
	}
	return s.countBy(ctx, "priority", keys)
}

// TypeCounts counts tickets per type in the order misc, bug, help-needed, concern, question.
func (s *TicketService) TypeCounts(ctx context.Context) ([]int64, error) {
	keys := make([]string, len(model.TicketTypes))
	for i, t := range model.TicketTypes {
		keys[i] = string(t)
	}
	return s.countBy(ctx, "type", keys)
}

// StatusCounts counts tickets per status in the order open, closed.
func (s *TicketService) StatusCounts(ctx context.Context) ([]int64, error) {
	keys := make([]string, len(model.TicketStatuses))
	for i, st := range model.TicketStatuses {
		keys[i] = string(st)
	}
	return s.countBy(ctx, "status", keys)
}

func (s *TicketService) countBy(ctx context.Context, column string, keys []string) ([]int64, error) {
	var rows []struct {
		Value string
		Total int64
	}
	err := database.Conn(ctx, s.db).Model(&model.Ticket{}).
		Select(column + " AS value, COUNT(*) AS total").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count tickets by %s: %w", column, err)
	}
	counts := make([]int64, len(keys))
	for _, r := range rows {
		for i, k := range keys {
			if r.Value == k {
				counts[i] = r.Total
			}
		}
	}
	return counts, nil
}

func ticketName(s string) (string, error) {
	name := strings.TrimSpace(s)
	if name == "" {
		return "", errs.NewValidation("name is required")
	}
	if utf8.RuneCountInString(name) > 200 {
		return "", errs.NewValidation("name must be at most 200 characters")
	}
	return name, nil
}

// setAssignees replaces the assignee set of a ticket. Ids that match no user are dropped.
func setAssignees(db *gorm.DB, ticketID uint64, userIDs []uint64) error {
	if err := db.Where("ticket_id = ?", ticketID).Delete(&model.TicketAssignee{}).Error; err != nil {
		return fmt.Errorf("clear assignees: %w", err)
	}
	if len(userIDs) == 0 {
		return nil
	}
	var found []uint64
	if err := db.Model(&model.User{}).Where("id IN ?", userIDs).Pluck("id", &found).Error; err != nil {
		return fmt.Errorf("load assignees: %w", err)
	}
	if len(found) == 0 {
		return nil
	}
	rows := make([]model.TicketAssignee, len(found))
	for i, uid := range found {
		rows[i] = model.TicketAssignee{TicketID: ticketID, UserID: uid}
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("add assignees: %w", err)
	}
	return nil
}

// purgeTickets deletes tickets and their dependent rows, detaching notifications. It
// returns the stored attachment paths so the caller can remove them after commit.
func purgeTickets(db *gorm.DB, ids []uint64) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var files []string
	if err := db.Model(&model.Attachment{}).Where("ticket_id IN ?", ids).Pluck("file", &files).Error; err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	for _, m := range []interface{}{
		&model.Message{}, &model.Attachment{}, &model.TicketHistory{},
		&model.TicketAssignee{}, &model.TicketParticipant{},
	} {
		if err := db.Where("ticket_id IN ?", ids).Delete(m).Error; err != nil {
			return nil, fmt.Errorf("delete %T: %w", m, err)
		}
	}
	if err := db.Model(&model.Notification{}).Where("ticket_id IN ?", ids).Update("ticket_id", nil).Error; err != nil {
		return nil, fmt.Errorf("detach notifications: %w", err)
	}
	if err := db.Where("id IN ?", ids).Delete(&model.Ticket{}).Error; err != nil {
		return nil, fmt.Errorf("delete tickets: %w", err)
	}
	return files, nil
}

func removeFiles(ctx context.Context, store storage.FileStore, log *slog.Logger, files []string) {
	if store == nil {
		return
	}
	for _, f := range files {
		if err := store.Remove(ctx, f); err != nil {
			log.Warn("remove attachment file", "file", f, "error", err)
		}
	}
}

// Republish sends a ticket.updated event for every stored ticket, oldest first, so downstream
// consumers can rebuild their view. progress, when set, is called after each batch.
func (s *TicketService) Republish(ctx context.Context, batchSize int, progress func(sent int)) (int, error) {
	if s.events == nil {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	var batch []model.Ticket
	sent := 0
	res := s.db.WithContext(ctx).FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
		for i := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.events.ProduceTicketEvent(ctx, kafka.EventTicketUpdated, kafka.TicketPayload(&batch[i]))
			sent++
		}
		if progress != nil {
			progress(sent)
		}
		return nil
	})
	if res.Error != nil {
		return sent, fmt.Errorf("republish tickets: %w", res.Error)
	}
	return sent, nil
}
