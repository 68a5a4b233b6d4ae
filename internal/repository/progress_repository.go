package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-commerce-api/internal/models"
)

const progressColumns = `id, user_id, course_id, modules, completion_percentage, version, updated_at`

// ProgressRepository stores per-course progress documents with optimistic versioning.
type ProgressRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewProgressRepository(db *sqlx.DB, logger *zap.Logger) *ProgressRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressRepository{db: db, logger: logger}
}

// ErrProgressQuarantined marks a stored row that failed to decode or
// validate. Use errors.As with *QuarantinedProgress to get its identity.
var ErrProgressQuarantined = errors.New("progress row quarantined")

// QuarantinedProgress identifies a stored row that cannot be used. Saving a
// record with the same ID and Version replaces it.
type QuarantinedProgress struct {
	ID      string
	Version int64
	Cause   error
}

func (e *QuarantinedProgress) Error() string {
	return fmt.Sprintf("progress %s quarantined: %v", e.ID, e.Cause)
}

func (e *QuarantinedProgress) Unwrap() error { return ErrProgressQuarantined }

// progressRow keeps modules undecoded so a bad document does not fail the scan.
type progressRow struct {
	ID                   string    `db:"id"`
	UserID               string    `db:"user_id"`
	CourseID             string    `db:"course_id"`
	Modules              []byte    `db:"modules"`
	CompletionPercentage int       `db:"completion_percentage"`
	Version              int64     `db:"version"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func (row progressRow) decode() (*models.ProgressRecord, error) {
	rec := &models.ProgressRecord{
		ID:                   row.ID,
		UserID:               row.UserID,
		CourseID:             row.CourseID,
		CompletionPercentage: row.CompletionPercentage,
		Version:              row.Version,
		UpdatedAt:            row.UpdatedAt,
	}
	var src interface{}
	if row.Modules != nil {
		src = row.Modules
	}
	if err := rec.Modules.Scan(src); err != nil {
		return nil, &QuarantinedProgress{ID: row.ID, Version: row.Version, Cause: err}
	}
	if err := rec.Validate(); err != nil {
		return nil, &QuarantinedProgress{ID: row.ID, Version: row.Version, Cause: err}
	}
	return rec, nil
}

// Find returns the record for (user, course), sql.ErrNoRows, or a
// *QuarantinedProgress when the stored row is unusable.
func (r *ProgressRepository) Find(ctx context.Context, userID, courseID string) (*models.ProgressRecord, error) {
	var row progressRow
	query := "SELECT " + progressColumns + " FROM progress WHERE user_id = $1 AND course_id = $2"
	if err := r.db.GetContext(ctx, &row, query, userID, courseID); err != nil {
		return nil, err
	}
	rec, err := row.decode()
	if err != nil {
		r.logger.Warn("quarantined progress row", zap.String("progress_id", row.ID), zap.Error(err))
		return nil, err
	}
	return rec, nil
}

func (r *ProgressRepository) ListByUser(ctx context.Context, userID string) ([]models.ProgressRecord, error) {
	var rows []progressRow
	query := "SELECT " + progressColumns + " FROM progress WHERE user_id = $1 ORDER BY updated_at DESC"
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	out := make([]models.ProgressRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].decode()
		if err != nil {
			r.logger.Warn("quarantined progress row", zap.String("progress_id", rows[i].ID), zap.Error(err))
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Save writes rec if the stored version still equals rec.Version (0 means
// the record must not exist yet). On success rec.Version is advanced.
func (r *ProgressRepository) Save(ctx context.Context, rec *models.ProgressRecord) error {
	var (
		res sql.Result
		err error
	)
	if rec.Version == 0 {
		res, err = r.db.ExecContext(ctx, `INSERT INTO progress (id, user_id, course_id, modules, completion_percentage, version, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, NOW()) ON CONFLICT (user_id, course_id) DO NOTHING`,
			rec.ID, rec.UserID, rec.CourseID, rec.Modules, rec.CompletionPercentage)
	} else {
		res, err = r.db.ExecContext(ctx, `UPDATE progress SET modules = $2, completion_percentage = $3, version = version + 1,
updated_at = NOW() WHERE id = $1 AND version = $4`,
			rec.ID, rec.Modules, rec.CompletionPercentage, rec.Version)
	}
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save progress rows: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	rec.Version++
	return nil
}
