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
)

var courseCols = []string{"id", "title", "category", "price", "currency", "published", "updated_at"}

func TestCourseRepositoryFindByIDBuildsTree(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE id = $1")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows(courseCols).AddRow("course-1", "Go", "programming", int64(10000), "IDR", true, time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("FROM course_modules WHERE course_id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_id", "position", "title", "unlock_policy"}).
			AddRow("m1", "course-1", 0, "Intro", "none").
			AddRow("m2", "course-1", 1, "Advanced", "completePrevious"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM course_videos WHERE module_id = ANY($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "module_id", "position", "title", "duration_seconds", "access_key"}).
			AddRow("v1", "m1", 0, "Hello", 100, "videos/v1.mp4").
			AddRow("v2", "m2", 0, "Channels", 200, nil))

	course, err := repo.FindByID(context.Background(), "course-1")
	require.NoError(t, err)
	require.Len(t, course.Modules, 2)
	assert.Equal(t, models.UnlockCompletePrevious, course.Modules[1].UnlockPolicy)
	require.Len(t, course.Modules[0].Videos, 1)
	require.NotNil(t, course.Modules[0].Videos[0].AccessKey)
	assert.Nil(t, course.Modules[1].Videos[0].AccessKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryListPublished(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM courses WHERE published = TRUE AND category = $1")).
		WithArgs("programming").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY title ASC LIMIT $2 OFFSET $3")).
		WithArgs("programming", 20, 0).
		WillReturnRows(sqlmock.NewRows(courseCols).
			AddRow("course-1", "Go", "programming", int64(10000), "IDR", true, time.Now()).
			AddRow("course-2", "Broken", "programming", int64(-5), "IDR", true, time.Now()))

	courses, total, err := repo.ListPublished(context.Background(), models.CourseFilter{Category: "programming"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, courses, 1)
	assert.Equal(t, "course-1", courses[0].ID)
}
