package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/internal/realtime"
)

const syncPageSize = 100

// SyncSource loads realtime snapshots straight from the repositories.
type SyncSource struct {
	courses     *CourseRepository
	enrollments *EnrollmentRepository
	progress    *ProgressRepository
}

func NewSyncSource(courses *CourseRepository, enrollments *EnrollmentRepository, progress *ProgressRepository) *SyncSource {
	return &SyncSource{courses: courses, enrollments: enrollments, progress: progress}
}

// Fetch implements realtime.Source. Per-user collections require a userId
// filter; remaining filters are applied in memory.
func (s *SyncSource) Fetch(ctx context.Context, q realtime.Query) ([]realtime.Record, error) {
	var out []realtime.Record
	switch q.Collection {
	case models.CollectionCourses:
		filter := models.CourseFilter{Category: q.Filters["category"], PageSize: syncPageSize}
		for page := 1; ; page++ {
			filter.Page = page
			rows, total, err := s.courses.ListPublished(ctx, filter)
			if err != nil {
				return nil, err
			}
			for i := range rows {
				out = append(out, &rows[i])
			}
			if len(rows) == 0 || page*syncPageSize >= total {
				break
			}
		}
	case models.CollectionEnrollments:
		userID := q.Filters["userId"]
		if userID == "" {
			return nil, fmt.Errorf("enrollments query requires userId")
		}
		rows, err := s.enrollments.ListByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			out = append(out, &rows[i])
		}
	case models.CollectionProgress:
		userID := q.Filters["userId"]
		if userID == "" {
			return nil, fmt.Errorf("progress query requires userId")
		}
		rows, err := s.progress.ListByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			out = append(out, &rows[i])
		}
	default:
		return nil, fmt.Errorf("unknown collection %q", q.Collection)
	}

	filtered := make([]realtime.Record, 0, len(out))
	for _, r := range out {
		if q.Matches(r) {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}
