package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/internal/realtime"
)

func TestSyncSourceEnrollmentsFilteredByStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	src := NewSyncSource(NewCourseRepository(db, nil), NewEnrollmentRepository(db, nil), NewProgressRepository(db, nil))

	now := time.Now()
	rows := sqlmock.NewRows(enrollmentCols).
		AddRow("enr-1", "user-1", "course-1", "SUCCESS", int64(100), nil, nil, nil, 1, nil, now, now, now).
		AddRow("enr-2", "user-1", "course-2", "PENDING", int64(0), nil, nil, nil, 1, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE user_id = $1")).
		WithArgs("user-1").
		WillReturnRows(rows)

	records, err := src.Fetch(context.Background(), realtime.Query{
		Collection: models.CollectionEnrollments,
		Filters:    map[string]string{"userId": "user-1", "status": "SUCCESS"},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "enr-1", records[0].RecordID())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncSourceCoursesPagesThroughCatalog(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	src := NewSyncSource(NewCourseRepository(db, nil), NewEnrollmentRepository(db, nil), NewProgressRepository(db, nil))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM courses")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE published = TRUE ORDER BY title")).
		WithArgs(syncPageSize, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "category", "price", "currency", "published", "updated_at"}).
			AddRow("course-1", "Go", "backend", int64(10000), "IDR", true, time.Now()))

	records, err := src.Fetch(context.Background(), realtime.Query{Collection: models.CollectionCourses})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncSourceRejectsUnscopedQueries(t *testing.T) {
	src := NewSyncSource(nil, nil, nil)
	_, err := src.Fetch(context.Background(), realtime.Query{Collection: models.CollectionProgress})
	require.Error(t, err)
	_, err = src.Fetch(context.Background(), realtime.Query{Collection: "payments"})
	require.Error(t, err)
}
