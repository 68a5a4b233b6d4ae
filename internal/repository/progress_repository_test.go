package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-commerce-api/internal/models"
)

func TestProgressRepositoryFind(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewProgressRepository(db, nil)

	rows := sqlmock.NewRows([]string{"id", "user_id", "course_id", "modules", "completion_percentage", "version", "updated_at"}).
		AddRow("pr-1", "user-1", "course-1", []byte(`{"m1":{"v1":{"watchedSeconds":80,"totalSeconds":100,"completionPercentage":80}}}`), 50, int64(3), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM progress WHERE user_id = $1 AND course_id = $2")).
		WithArgs("user-1", "course-1").
		WillReturnRows(rows)

	rec, err := repo.Find(context.Background(), "user-1", "course-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Version)
	v, ok := rec.Modules.Video("m1", "v1")
	require.True(t, ok)
	assert.True(t, v.Complete())
}

func TestProgressRepositoryFindQuarantinesBadJSONRange(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewProgressRepository(db, nil)

	rows := sqlmock.NewRows([]string{"id", "user_id", "course_id", "modules", "completion_percentage", "version", "updated_at"}).
		AddRow("pr-1", "user-1", "course-1", []byte(`{"m1":{"v1":{"watchedSeconds":-4}}}`), 0, int64(1), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM progress")).WillReturnRows(rows)

	_, err := repo.Find(context.Background(), "user-1", "course-1")
	assert.ErrorIs(t, err, ErrProgressQuarantined)
	var q *QuarantinedProgress
	require.ErrorAs(t, err, &q)
	assert.Equal(t, "pr-1", q.ID)
	assert.Equal(t, int64(1), q.Version)
}

func TestProgressRepositoryFindQuarantinesUndecodableJSON(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewProgressRepository(db, nil)

	rows := sqlmock.NewRows([]string{"id", "user_id", "course_id", "modules", "completion_percentage", "version", "updated_at"}).
		AddRow("pr-1", "user-1", "course-1", []byte(`{"m1":`), 0, int64(4), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM progress")).WillReturnRows(rows)

	_, err := repo.Find(context.Background(), "user-1", "course-1")
	var q *QuarantinedProgress
	require.ErrorAs(t, err, &q)
	assert.Equal(t, int64(4), q.Version)
}

func TestProgressRepositoryFindMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewProgressRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM progress")).WillReturnError(sql.ErrNoRows)

	_, err := repo.Find(context.Background(), "user-1", "course-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestProgressRepositorySaveInsertAndConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewProgressRepository(db, nil)

	rec := &models.ProgressRecord{ID: "pr-1", UserID: "user-1", CourseID: "course-1", Modules: models.ModuleProgress{}}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO progress")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Save(context.Background(), rec))
	assert.Equal(t, int64(1), rec.Version)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE progress SET modules = $2")).
		WithArgs("pr-1", sqlmock.AnyArg(), 0, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Save(context.Background(), rec), ErrVersionConflict)
	assert.Equal(t, int64(1), rec.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}
