package model

import (
	"strings"
	"time"
)

type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
)

func (s TicketStatus) IsValid() bool {
	return s == TicketStatusOpen || s == TicketStatusClosed
}

type TicketPriority string

const (
	TicketPriorityNone   TicketPriority = "none"
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// TicketPriorities is the fixed order used by the priority aggregate.
var TicketPriorities = []TicketPriority{TicketPriorityHigh, TicketPriorityMedium, TicketPriorityLow, TicketPriorityNone}

func (p TicketPriority) IsValid() bool {
	switch p {
	case TicketPriorityNone, TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	}
	return false
}

type TicketType string

const (
	TicketTypeMisc       TicketType = "misc"
	TicketTypeBug        TicketType = "bug"
	TicketTypeHelpNeeded TicketType = "help-needed"
	TicketTypeConcern    TicketType = "concern"
	TicketTypeQuestion   TicketType = "question"
)

// TicketTypes is the fixed order used by the type aggregate.
var TicketTypes = []TicketType{TicketTypeMisc, TicketTypeBug, TicketTypeHelpNeeded, TicketTypeConcern, TicketTypeQuestion}

func (t TicketType) IsValid() bool {
	switch t {
	case TicketTypeMisc, TicketTypeBug, TicketTypeHelpNeeded, TicketTypeConcern, TicketTypeQuestion:
		return true
	}
	return false
}

// TicketStatuses is the fixed order used by the status aggregate.
var TicketStatuses = []TicketStatus{TicketStatusOpen, TicketStatusClosed}

// normalizeEnum lowercases and folds display spellings ("Help Needed") to stored values.
func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), "-")
}

// ParseTicketStatus accepts stored values and the legacy "true"/"false" form values.
// An empty string yields def.
func ParseTicketStatus(s string, def TicketStatus) (TicketStatus, bool) {
	switch v := normalizeEnum(s); v {
	case "":
		return def, true
	case "true":
		return TicketStatusOpen, true
	case "false":
		return TicketStatusClosed, true
	default:
		st := TicketStatus(v)
		return st, st.IsValid()
	}
}

func ParseTicketPriority(s string, def TicketPriority) (TicketPriority, bool) {
	v := normalizeEnum(s)
	if v == "" {
		return def, true
	}
	p := TicketPriority(v)
	return p, p.IsValid()
}

func ParseTicketType(s string, def TicketType) (TicketType, bool) {
	v := normalizeEnum(s)
	if v == "" {
		return def, true
	}
	t := TicketType(v)
	return t, t.IsValid()
}

type Category struct {
	ID   uint64 `gorm:"primaryKey" json:"id"`
	Name string `gorm:"type:varchar(200);uniqueIndex;not null" json:"name"`
}

type Ticket struct {
	ID           uint64         `gorm:"primaryKey" json:"id"`
	ProjectID    uint64         `gorm:"index;not null" json:"project_id"`
	Project      *Project       `gorm:"constraint:OnDelete:CASCADE" json:"project,omitempty"`
	CategoryID   *uint64        `gorm:"index" json:"category_id,omitempty"`
	Category     *Category      `gorm:"constraint:OnDelete:SET NULL" json:"category,omitempty"`
	HostID       *uint64        `gorm:"index" json:"host_id,omitempty"`
	Host         *User          `gorm:"constraint:OnDelete:SET NULL" json:"host,omitempty"`
	Assignees    []User         `gorm:"many2many:ticket_assignees" json:"assignees"`
	Participants []User         `gorm:"many2many:ticket_participants" json:"participants"`
	Name         string         `gorm:"type:varchar(200);not null" json:"name"`
	Status       TicketStatus   `gorm:"type:varchar(16);index;not null;default:open" json:"status"`
	Priority     TicketPriority `gorm:"type:varchar(16);index;not null;default:none" json:"priority"`
	Type         TicketType     `gorm:"type:varchar(16);index;not null;default:misc" json:"type"`
	Description  string         `gorm:"type:text" json:"description"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// IsHost reports whether userID created the ticket.
func (t *Ticket) IsHost(userID uint64) bool {
	return t.HostID != nil && *t.HostID == userID
}

// TicketAssignee and TicketParticipant are the join rows of the ticket many2many sets.
type TicketAssignee struct {
	TicketID uint64 `gorm:"primaryKey"`
	UserID   uint64 `gorm:"primaryKey"`
}

func (TicketAssignee) TableName() string { return "ticket_assignees" }

type TicketParticipant struct {
	TicketID uint64 `gorm:"primaryKey"`
	UserID   uint64 `gorm:"primaryKey"`
}

func (TicketParticipant) TableName() string { return "ticket_participants" }

// TicketHistory is a snapshot of a ticket's fields taken before an update. Rows are never modified.
type TicketHistory struct {
	ID          uint64         `gorm:"primaryKey" json:"id"`
	TicketID    uint64         `gorm:"index;not null" json:"ticket_id"`
	UpdatedByID *uint64        `gorm:"index" json:"updated_by_id,omitempty"`
	UpdatedBy   *User          `gorm:"constraint:OnDelete:SET NULL" json:"updated_by,omitempty"`
	Name        string         `gorm:"type:varchar(200);not null" json:"name"`
	Status      TicketStatus   `gorm:"type:varchar(16);not null" json:"status"`
	Priority    TicketPriority `gorm:"type:varchar(16);not null" json:"priority"`
	Type        TicketType     `gorm:"type:varchar(16);not null" json:"type"`
	Description string         `gorm:"type:text" json:"description"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (TicketHistory) TableName() string { return "ticket_history" }

type Message struct {
	ID       uint64 `gorm:"primaryKey" json:"id"`
	TicketID uint64 `gorm:"index;not null" json:"ticket_id"`
	UserID   uint64 `gorm:"index;not null" json:"user_id"`
	User     *User  `gorm:"constraint:OnDelete:CASCADE" json:"user,omitempty"`
	Body     string `gorm:"type:text;not null" json:"body"`
	BodyHTML string `gorm:"-" json:"body_html,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

type Attachment struct {
	ID       uint64 `gorm:"primaryKey" json:"id"`
	TicketID uint64 `gorm:"index;not null" json:"ticket_id"`
	Name     string `gorm:"type:varchar(255);not null;default:''" json:"name"`
	File     string `gorm:"type:varchar(255);not null" json:"file"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
