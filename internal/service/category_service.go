package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/psds-microservice/issue-tracker/internal/database"
	"github.com/psds-microservice/issue-tracker/internal/errs"
	"github.com/psds-microservice/issue-tracker/internal/model"
)

type CategoryService struct {
	db *gorm.DB
}

func NewCategoryService(db *gorm.DB) *CategoryService {
	return &CategoryService{db: db}
}

// Resolve returns the category called name, creating it if needed. A blank name means no
// category and yields nil.
func (s *CategoryService) Resolve(ctx context.Context, name string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(name) > 200 {
		return nil, errs.NewValidation("category must be at most 200 characters")
	}
	db := database.Conn(ctx, s.db)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&model.Category{Name: name}).Error
	if err != nil {
		return nil, fmt.Errorf("upsert category: %w", err)
	}
	var c model.Category
	if err := db.Where("name = ?", name).First(&c).Error; err != nil {
		return nil, fmt.Errorf("load category: %w", err)
	}
	return &c, nil
}

// List returns categories whose name contains q, alphabetically.
func (s *CategoryService) List(ctx context.Context, q string) ([]model.Category, error) {
	items := []model.Category{}
	db := database.Conn(ctx, s.db).Order("name")
	if q = strings.TrimSpace(q); q != "" {
		db = db.Where(ilike("name"), containsPattern(q))
	}
	if err := db.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return items, nil
}
