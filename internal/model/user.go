package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin          Role = "admin"
	RoleDeveloper      Role = "developer"
	RoleProjectManager Role = "project_manager"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleDeveloper, RoleProjectManager:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// ParseRole accepts "Project Manager" as well as "project_manager".
func ParseRole(s string) (Role, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.Join(strings.Fields(strings.ReplaceAll(v, "-", " ")), "_")
	r := Role(v)
	return r, r.IsValid()
}

const DefaultAvatar = "default.jpg"

type User struct {
	ID           uint64   `gorm:"primaryKey" json:"id"`
	Username     string   `gorm:"type:varchar(150);uniqueIndex;not null" json:"username"`
	Email        string   `gorm:"type:varchar(254)" json:"email"`
	PasswordHash string   `gorm:"type:varchar(255);not null" json:"-"`
	Role         Role     `gorm:"type:varchar(20);not null" json:"role"`
	Profile      *Profile `gorm:"constraint:OnDelete:CASCADE" json:"profile,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Profile struct {
	ID     uint64 `gorm:"primaryKey" json:"id"`
	UserID uint64 `gorm:"uniqueIndex;not null" json:"user_id"`
	Bio    string `gorm:"type:text" json:"bio"`
	Avatar string `gorm:"type:varchar(255);not null;default:default.jpg" json:"avatar"`
}

type Project struct {
	ID          uint64  `gorm:"primaryKey" json:"id"`
	Name        string  `gorm:"type:varchar(30);not null" json:"name"`
	Description string  `gorm:"type:varchar(200)" json:"description"`
	OwnerID     *uint64 `gorm:"index" json:"owner_id,omitempty"`
	Owner       *User   `gorm:"constraint:OnDelete:SET NULL" json:"owner,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
