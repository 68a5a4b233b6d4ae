package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/course-commerce-api/internal/dto"
	"github.com/noah-isme/course-commerce-api/internal/models"
	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
)

const catalogCachePrefix = "catalog:"

type courseCatalog interface {
	ListPublished(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type catalogPage struct {
	Courses []models.Course   `json:"courses"`
	Page    models.Pagination `json:"page"`
}

// CatalogService serves the public course catalog through the Redis cache.
// Concurrent misses for the same key share one database read.
type CatalogService struct {
	courses courseCatalog
	cache   *CacheService
	logger  *zap.Logger
	group   singleflight.Group
}

func NewCatalogService(courses courseCatalog, cache *CacheService, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{courses: courses, cache: cache, logger: logger}
}

// List returns one page of published courses.
func (s *CatalogService) List(ctx context.Context, q dto.CourseListQuery) ([]models.Course, *models.Pagination, error) {
	filter := models.CourseFilter{
		Category: strings.TrimSpace(q.Category),
		Search:   strings.TrimSpace(q.Search),
		Page:     q.Page,
		PageSize: q.PageSize,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	key := fmt.Sprintf("%slist:%s:%s:%d:%d", catalogCachePrefix,
		strings.ToLower(filter.Category), strings.ToLower(filter.Search), filter.Page, filter.PageSize)

	var cached catalogPage
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached.Courses, &cached.Page, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		courses, total, err := s.courses.ListPublished(ctx, filter)
		if err != nil {
			return nil, err
		}
		page := catalogPage{
			Courses: courses,
			Page:    models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total},
		}
		_ = s.cache.Set(ctx, key, page, 0)
		return page, nil
	})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := v.(catalogPage)
	return page.Courses, &page.Page, nil
}

// Get returns a published course with its module tree.
func (s *CatalogService) Get(ctx context.Context, id string) (*models.Course, error) {
	key := catalogCachePrefix + "course:" + id

	var cached models.Course
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		course, err := s.courses.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !course.Published {
			return nil, sql.ErrNoRows
		}
		_ = s.cache.Set(ctx, key, course, 0)
		return course, nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	course := *v.(*models.Course)
	return &course, nil
}

// Invalidate drops every cached catalog entry.
func (s *CatalogService) Invalidate(ctx context.Context) error {
	if err := s.cache.Invalidate(ctx, catalogCachePrefix+"*"); err != nil {
		s.logger.Warn("catalog cache invalidate failed", zap.Error(err))
		return err
	}
	return nil
}
