package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/course-commerce-api/internal/models"
)

const courseColumns = `id, title, category, price, currency, published, updated_at`

// CourseRepository reads the course catalog.
type CourseRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewCourseRepository(db *sqlx.DB, logger *zap.Logger) *CourseRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseRepository{db: db, logger: logger}
}

// ListPublished returns published courses without their module tree.
func (r *CourseRepository) ListPublished(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	conditions := []string{"published = TRUE"}
	args := []interface{}{}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("LOWER(title) LIKE $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM courses WHERE "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}

	page, size := normalisePage(filter.Page, filter.PageSize)
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf("SELECT %s FROM courses WHERE %s ORDER BY title ASC LIMIT $%d OFFSET $%d",
		courseColumns, where, len(args)-1, len(args))

	var rows []models.Course
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	courses := make([]models.Course, 0, len(rows))
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			r.logger.Warn("quarantined course row", zap.String("course_id", rows[i].ID), zap.Error(err))
			continue
		}
		courses = append(courses, rows[i])
	}
	return courses, total, nil
}

// FindByID loads a course with ordered modules and videos. It returns
// sql.ErrNoRows when absent or malformed.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	var course models.Course
	if err := r.db.GetContext(ctx, &course, "SELECT "+courseColumns+" FROM courses WHERE id = $1", id); err != nil {
		return nil, err
	}

	var modules []models.Module
	const moduleQuery = `SELECT id, course_id, position, title, unlock_policy
FROM course_modules WHERE course_id = $1 ORDER BY position ASC`
	if err := r.db.SelectContext(ctx, &modules, moduleQuery, id); err != nil {
		return nil, fmt.Errorf("list course modules: %w", err)
	}

	if len(modules) > 0 {
		ids := make([]string, len(modules))
		for i := range modules {
			ids[i] = modules[i].ID
		}
		var videos []models.Video
		const videoQuery = `SELECT id, module_id, position, title, duration_seconds, access_key
FROM course_videos WHERE module_id = ANY($1) ORDER BY module_id, position ASC`
		if err := r.db.SelectContext(ctx, &videos, videoQuery, pq.Array(ids)); err != nil {
			return nil, fmt.Errorf("list course videos: %w", err)
		}
		byModule := make(map[string][]models.Video, len(modules))
		for _, v := range videos {
			byModule[v.ModuleID] = append(byModule[v.ModuleID], v)
		}
		for i := range modules {
			modules[i].Videos = byModule[modules[i].ID]
		}
	}
	course.Modules = modules

	if err := course.Validate(); err != nil {
		r.logger.Warn("quarantined course row", zap.String("course_id", id), zap.Error(err))
		return nil, sql.ErrNoRows
	}
	return &course, nil
}

func normalisePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}
