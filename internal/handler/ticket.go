package handler

import (
	"context"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/issue-tracker/internal/errs"
	"github.com/psds-microservice/issue-tracker/internal/middleware"
	"github.com/psds-microservice/issue-tracker/internal/model"
	"github.com/psds-microservice/issue-tracker/internal/service"
)

type TicketHandler struct {
	tickets     *service.TicketService
	messages    *service.MessageService
	attachments *service.AttachmentService
	categories  *service.CategoryService
	log         *slog.Logger
}

func NewTicketHandler(
	tickets *service.TicketService,
	messages *service.MessageService,
	attachments *service.AttachmentService,
	categories *service.CategoryService,
	log *slog.Logger,
) *TicketHandler {
	return &TicketHandler{
		tickets:     tickets,
		messages:    messages,
		attachments: attachments,
		categories:  categories,
		log:         log,
	}
}

// Dashboard lists every ticket matching ?q by category, name or description.
func (h *TicketHandler) Dashboard(c *gin.Context) {
	q := c.Query("q")
	items, err := h.tickets.Dashboard(c.Request.Context(), q)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"q": q, "tickets": items})
}

// List pages through the actor's hosted and assigned tickets.
func (h *TicketHandler) List(c *gin.Context) {
	filter := service.TicketFilter{
		Actor: middleware.Actor(c),
		Query: c.Query("search"),
	}
	page, err := h.tickets.List(c.Request.Context(), filter, pageParam(c, "page"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"search": filter.Query, "tickets": page})
}

func (h *TicketHandler) Detail(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	d, err := h.tickets.Detail(c.Request.Context(), id, c.Query("q"), service.DetailPages{
		Messages:    pageParam(c, "messages_page"),
		History:     pageParam(c, "history_page"),
		Attachments: pageParam(c, "attachments_page"),
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type postMessageRequest struct {
	Body *string `json:"body"`
}

// Post adds to the ticket thread: a message when a body is sent, otherwise the uploaded
// files. Never both.
func (h *TicketHandler) Post(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if c.ContentType() == gin.MIMEJSON {
		var req postMessageRequest
		if !bindJSON(c, &req) {
			return
		}
		if req.Body == nil {
			writeError(c, h.log, errs.NewValidation("body is required"))
			return
		}
		h.postMessage(c, id, *req.Body)
		return
	}
	if body, ok := c.GetPostForm("body"); ok {
		h.postMessage(c, id, body)
		return
	}

	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		writeError(c, h.log, errs.NewValidation("body or files required"))
		return
	}
	uploads, closeAll, err := openUploads(form.File["files"])
	defer closeAll()
	if err != nil {
		writeError(c, h.log, errs.NewValidation("unreadable upload", err.Error()))
		return
	}
	items, err := h.attachments.AttachFiles(ctx, id, uploads)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"attachments": items})
}

func (h *TicketHandler) postMessage(c *gin.Context, ticketID uint64, body string) {
	m, err := h.messages.Post(c.Request.Context(), ticketID, middleware.Actor(c), body)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

func openUploads(headers []*multipart.FileHeader) ([]service.Upload, func(), error) {
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	uploads := make([]service.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		files = append(files, f)
		uploads = append(uploads, service.Upload{Name: fh.Filename, Content: f})
	}
	return uploads, closeAll, nil
}

func (h *TicketHandler) Create(c *gin.Context) {
	var req service.CreateTicketInput
	if !bindJSON(c, &req) {
		return
	}
	t, err := h.tickets.Create(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *TicketHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req service.UpdateTicketInput
	if !bindJSON(c, &req) {
		return
	}
	t, err := h.tickets.Update(c.Request.Context(), middleware.Actor(c), id, req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.tickets.Delete(c.Request.Context(), middleware.Actor(c), id); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *TicketHandler) DeleteMessage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	m, err := h.messages.Delete(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "ticket_id": m.TicketID})
}

func (h *TicketHandler) PriorityData(c *gin.Context) {
	labels := make([]string, len(model.TicketPriorities))
	for i, p := range model.TicketPriorities {
		labels[i] = string(p)
	}
	h.counts(c, labels, h.tickets.PriorityCounts)
}

func (h *TicketHandler) TypeData(c *gin.Context) {
	labels := make([]string, len(model.TicketTypes))
	for i, t := range model.TicketTypes {
		labels[i] = string(t)
	}
	h.counts(c, labels, h.tickets.TypeCounts)
}

func (h *TicketHandler) StatusData(c *gin.Context) {
	labels := make([]string, len(model.TicketStatuses))
	for i, s := range model.TicketStatuses {
		labels[i] = string(s)
	}
	h.counts(c, labels, h.tickets.StatusCounts)
}

func (h *TicketHandler) counts(c *gin.Context, labels []string, fetch func(context.Context) ([]int64, error)) {
	values, err := fetch(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"labels": labels, "values": values})
}

func (h *TicketHandler) Categories(c *gin.Context) {
	items, err := h.categories.List(c.Request.Context(), c.Query("q"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": items})
}

// Activity returns the latest messages across all tickets, ?limit of them (default 5).
func (h *TicketHandler) Activity(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(service.PageSize)))
	if err != nil || limit < 1 || limit > 100 {
		limit = service.PageSize
	}
	items, err := h.messages.Activity(c.Request.Context(), limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": items})
}
