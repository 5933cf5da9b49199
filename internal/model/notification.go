package model

import "time"

type NotificationType string

const (
	NotificationCreated NotificationType = "created"
	NotificationUpdated NotificationType = "updated"
)

const (
	MessageTicketCreated = "Your ticket has been created"
	MessageTicketUpdated = "Your ticket has been updated"
)

type Notification struct {
	ID          uint64           `gorm:"primaryKey" json:"id"`
	RecipientID *uint64          `gorm:"index" json:"recipient_id,omitempty"`
	TicketID    *uint64          `gorm:"index" json:"ticket_id,omitempty"`
	Ticket      *Ticket          `gorm:"constraint:OnDelete:SET NULL" json:"ticket,omitempty"`
	Message     string           `gorm:"type:text;not null" json:"message"`
	Type        NotificationType `gorm:"type:varchar(15)" json:"type"`
	IsRead      bool             `gorm:"not null;default:false;index" json:"is_read"`

	CreatedAt time.Time `json:"created_at"`
}

// All lists every model in dependency order, for AutoMigrate in tests and tooling.
func All() []interface{} {
	return []interface{}{
		&User{}, &Profile{}, &Project{}, &Category{}, &Ticket{},
		&TicketAssignee{}, &TicketParticipant{}, &TicketHistory{},
		&Message{}, &Attachment{}, &Notification{},
	}
}
