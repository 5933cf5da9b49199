package service

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// PageSize is the fixed page size of every listing.
const PageSize = 5

type Page[T any] struct {
	Items       []T   `json:"items"`
	Number      int   `json:"page"`
	NumPages    int   `json:"num_pages"`
	Total       int64 `json:"total"`
	HasNext     bool  `json:"has_next"`
	HasPrevious bool  `json:"has_previous"`
}

// paginate counts base, clamps page into [1, NumPages] and loads that page ordered by order.
// base must carry only filters; ordering is applied after the count.
func paginate[T any](base *gorm.DB, page int, order string, preloads ...string) (*Page[T], error) {
	q := base.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	numPages := int((total + PageSize - 1) / PageSize)
	if numPages < 1 {
		numPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > numPages {
		page = numPages
	}
	find := q.Order(order).Offset((page - 1) * PageSize).Limit(PageSize)
	for _, p := range preloads {
		find = find.Preload(p)
	}
	items := make([]T, 0, PageSize)
	if err := find.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	return &Page[T]{
		Items:       items,
		Number:      page,
		NumPages:    numPages,
		Total:       total,
		HasNext:     page < numPages,
		HasPrevious: page > 1,
	}, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a lowercase LIKE pattern matching s anywhere.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}

// ilike is a portable case-insensitive substring condition for column.
func ilike(column string) string {
	return "LOWER(" + column + `) LIKE ? ESCAPE '\'`
}
