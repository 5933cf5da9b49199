package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/psds-microservice/issue-tracker/internal/auth"
	"github.com/psds-microservice/issue-tracker/internal/database"
	"github.com/psds-microservice/issue-tracker/internal/errs"
	"github.com/psds-microservice/issue-tracker/internal/model"
)

type RegisterInput struct {
	Username string `json:"username" validate:"required,max=150"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"required"`
}

type UpdateProfileInput struct {
	Username *string `json:"username" validate:"omitempty,min=1,max=150"`
	Email    *string `json:"email" validate:"omitempty,email,max=254"`
	Bio      *string `json:"bio"`
	Avatar   *string `json:"avatar" validate:"omitempty,max=255"`
}

// ProfileView is what a user sees on their own profile page.
type ProfileView struct {
	User            *model.User    `json:"user"`
	CreatedTickets  []model.Ticket `json:"created_tickets"`
	AssignedTickets []model.Ticket `json:"assigned_tickets"`
}

type UserService struct {
	db     *gorm.DB
	tx     *database.TxManager
	hasher auth.PasswordHasher
	log    *slog.Logger
}

func NewUserService(db *gorm.DB, tx *database.TxManager, hasher auth.PasswordHasher, log *slog.Logger) *UserService {
	return &UserService{db: db, tx: tx, hasher: hasher, log: log}
}

// Register creates the account and its profile together.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	role, ok := model.ParseRole(in.Role)
	if !ok {
		return nil, errs.NewValidation("invalid role", in.Role)
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	u := &model.User{Username: in.Username, Email: in.Email, PasswordHash: hash, Role: role}
	err = s.tx.Run(ctx, func(ctx context.Context) error {
		db := database.Conn(ctx, s.db)
		var n int64
		if err := db.Model(&model.User{}).Where("username = ?", u.Username).Count(&n).Error; err != nil {
			return fmt.Errorf("check username: %w", err)
		}
		if n > 0 {
			return errs.ErrUsernameTaken
		}
		if err := db.Omit(clause.Associations).Create(u).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errs.ErrUsernameTaken
			}
			return fmt.Errorf("create user: %w", err)
		}
		profile := &model.Profile{UserID: u.ID, Avatar: model.DefaultAvatar}
		if err := db.Create(profile).Error; err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
		u.Profile = profile
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// Authenticate checks a username and password. Any mismatch is reported the same way.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	var u model.User
	err := database.Conn(ctx, s.db).Where("username = ?", strings.TrimSpace(username)).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := s.hasher.Verify(password, u.PasswordHash); err != nil {
		return nil, errs.ErrInvalidCredentials
	}
	return &u, nil
}

func (s *UserService) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	var u model.User
	if err := database.Conn(ctx, s.db).Preload("Profile").First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

func (s *UserService) Profile(ctx context.Context, actor *model.User) (*ProfileView, error) {
	if actor == nil {
		return nil, errs.ErrUnauthenticated
	}
	u, err := s.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	db := database.Conn(ctx, s.db)
	view := &ProfileView{User: u, CreatedTickets: []model.Ticket{}, AssignedTickets: []model.Ticket{}}
	if err := db.Preload("Project").Where("host_id = ?", u.ID).Order(ticketOrder).Find(&view.CreatedTickets).Error; err != nil {
		return nil, fmt.Errorf("list created tickets: %w", err)
	}
	err = db.Preload("Project").
		Where("EXISTS (SELECT 1 FROM ticket_assignees ta WHERE ta.ticket_id = tickets.id AND ta.user_id = ?)", u.ID).
		Order(ticketOrder).
		Find(&view.AssignedTickets).Error
	if err != nil {
		return nil, fmt.Errorf("list assigned tickets: %w", err)
	}
	return view, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, actor *model.User, in UpdateProfileInput) (*model.User, error) {
	if actor == nil {
		return nil, errs.ErrUnauthenticated
	}
	if in.Username != nil {
		trimmed := strings.TrimSpace(*in.Username)
		in.Username = &trimmed
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	err := s.tx.Run(ctx, func(ctx context.Context) error {
		db := database.Conn(ctx, s.db)
		var u model.User
		if err := db.First(&u, actor.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrUserNotFound
			}
			return fmt.Errorf("load user: %w", err)
		}
		if in.Username != nil && *in.Username != u.Username {
			var n int64
			if err := db.Model(&model.User{}).Where("username = ? AND id <> ?", *in.Username, u.ID).Count(&n).Error; err != nil {
				return fmt.Errorf("check username: %w", err)
			}
			if n > 0 {
				return errs.ErrUsernameTaken
			}
			u.Username = *in.Username
		}
		if in.Email != nil {
			u.Email = strings.TrimSpace(*in.Email)
		}
		if err := db.Omit(clause.Associations).Save(&u).Error; err != nil {
			return fmt.Errorf("save user: %w", err)
		}

		var p model.Profile
		if err := db.Where(model.Profile{UserID: u.ID}).Attrs(model.Profile{Avatar: model.DefaultAvatar}).FirstOrCreate(&p).Error; err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		if in.Bio != nil {
			p.Bio = *in.Bio
		}
		if in.Avatar != nil && strings.TrimSpace(*in.Avatar) != "" {
			p.Avatar = strings.TrimSpace(*in.Avatar)
		}
		if err := db.Save(&p).Error; err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, actor.ID)
}

// List returns users whose username, email or role contains query.
func (s *UserService) List(ctx context.Context, query string) ([]model.User, error) {
	q := database.Conn(ctx, s.db).Preload("Profile").Order("username")
	if query = strings.TrimSpace(query); query != "" {
		p := containsPattern(query)
		q = q.Where(ilike("username")+" OR "+ilike("email")+" OR "+ilike("role"), p, p, p)
	}
	items := []model.User{}
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return items, nil
}
