package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-commerce-api/internal/dto"
	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/internal/realtime"
	"github.com/noah-isme/course-commerce-api/internal/repository"
	"github.com/noah-isme/course-commerce-api/pkg/certificate"
	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
	"github.com/noah-isme/course-commerce-api/pkg/storage"
)

const progressSaveAttempts = 3

type progressStore interface {
	Find(ctx context.Context, userID, courseID string) (*models.ProgressRecord, error)
	Save(ctx context.Context, rec *models.ProgressRecord) error
}

type enrollmentChecker interface {
	FindSuccess(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
}

type certificateRenderer interface {
	Render(data certificate.Data) ([]byte, error)
}

type documentStore interface {
	Save(name string, data []byte) (string, error)
	Load(name string) ([]byte, error)
}

// ProgressDeps wires a ProgressTracker.
type ProgressDeps struct {
	Progress    progressStore
	Enrollments enrollmentChecker
	Courses     courseReader
	Signer      storage.URLSigner
	Renderer    certificateRenderer
	Documents   documentStore
	Sync        recordMutator
	IssuerName  string
	Validator   *validator.Validate
	Logger      *zap.Logger
}

// ProgressTracker records video watch progress and derives module and course
// completion and module unlocking from it.
type ProgressTracker struct {
	deps      ProgressDeps
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

func NewProgressTracker(deps ProgressDeps) *ProgressTracker {
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.IssuerName == "" {
		deps.IssuerName = "Course Commerce Academy"
	}
	return &ProgressTracker{deps: deps, validator: deps.Validator, logger: deps.Logger, now: time.Now}
}

// RecordWatch stores a watch event. Progress never moves backwards: an event
// with fewer watched seconds than already stored is acknowledged with
// Ignored set and nothing is written.
func (s *ProgressTracker) RecordWatch(ctx context.Context, userID string, req dto.WatchRequest) (*dto.WatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid watch payload")
	}
	course, err := s.enrolledCourse(ctx, userID, req.CourseID)
	if err != nil {
		return nil, err
	}
	moduleIdx := course.ModuleIndex(req.ModuleID)
	if moduleIdx < 0 || !moduleHasVideo(course.Modules[moduleIdx], req.VideoID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "video not found in module")
	}

	for attempt := 0; attempt < progressSaveAttempts; attempt++ {
		rec, err := s.load(ctx, userID, course.ID)
		if err != nil {
			return nil, err
		}
		if !IsModuleUnlocked(course, moduleIdx, rec.Modules) {
			return nil, appErrors.Clone(appErrors.ErrModuleLocked, "")
		}

		current, seen := rec.Modules.Video(req.ModuleID, req.VideoID)
		if seen && req.WatchedSeconds < current.WatchedSeconds {
			return s.watchResult(course, rec, req.ModuleID, current, true), nil
		}

		next := applyWatch(current, req.WatchedSeconds, req.TotalSeconds, s.now().UTC())
		if rec.Modules[req.ModuleID] == nil {
			rec.Modules[req.ModuleID] = map[string]models.VideoProgress{}
		}
		rec.Modules[req.ModuleID][req.VideoID] = next
		rec.CompletionPercentage = CourseCompletion(course, rec.Modules)

		err = s.save(ctx, rec)
		if errors.Is(err, repository.ErrVersionConflict) {
			s.logger.Debug("progress version conflict, re-reading",
				zap.String("user_id", userID), zap.String("course_id", course.ID), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save progress")
		}
		return s.watchResult(course, rec, req.ModuleID, next, false), nil
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "progress is being updated concurrently, please retry")
}

func (s *ProgressTracker) save(ctx context.Context, rec *models.ProgressRecord) error {
	if s.deps.Sync == nil {
		return s.deps.Progress.Save(ctx, rec)
	}
	_, err := s.deps.Sync.Mutate(ctx, realtime.Mutation{
		Collection: models.CollectionProgress,
		Op:         realtime.OpUpsert,
		Record:     rec.Clone(),
		Fields:     map[string]string{"userId": rec.UserID, "courseId": rec.CourseID},
		Commit: func(ctx context.Context) (realtime.Record, error) {
			if err := s.deps.Progress.Save(ctx, rec); err != nil {
				return nil, err
			}
			return rec.Clone(), nil
		},
	})
	return err
}

func (s *ProgressTracker) watchResult(course *models.Course, rec *models.ProgressRecord, moduleID string, video models.VideoProgress, ignored bool) *dto.WatchResult {
	return &dto.WatchResult{
		Ignored:          ignored,
		Video:            video,
		ModuleCompletion: ModuleCompletion(course.Modules[course.ModuleIndex(moduleID)], rec.Modules),
		CourseCompletion: CourseCompletion(course, rec.Modules),
	}
}

// Overview lists every module with its completion and lock state.
func (s *ProgressTracker) Overview(ctx context.Context, userID, courseID string) (*dto.CourseProgressOverview, error) {
	course, err := s.enrolledCourse(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}

	out := &dto.CourseProgressOverview{
		CourseID:             course.ID,
		CompletionPercentage: CourseCompletion(course, rec.Modules),
		Modules:              make([]dto.ModuleOverview, 0, len(course.Modules)),
	}
	if rec.Version > 0 {
		updated := rec.UpdatedAt
		out.UpdatedAt = &updated
	}
	for i, module := range course.Modules {
		pct := ModuleCompletion(module, rec.Modules)
		out.Modules = append(out.Modules, dto.ModuleOverview{
			ModuleID:             module.ID,
			Title:                module.Title,
			Position:             module.Position,
			CompletionPercentage: pct,
			Complete:             pct == 100,
			Unlocked:             IsModuleUnlocked(course, i, rec.Modules),
		})
	}
	return out, nil
}

// VideoAccess exchanges a video's access key for a signed playback URL.
func (s *ProgressTracker) VideoAccess(ctx context.Context, userID, courseID, videoID string) (*dto.VideoAccessResponse, error) {
	course, err := s.enrolledCourse(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	moduleIdx, video := course.FindVideo(videoID)
	if video == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "video not found")
	}
	rec, err := s.load(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	if !IsModuleUnlocked(course, moduleIdx, rec.Modules) {
		return nil, appErrors.Clone(appErrors.ErrModuleLocked, "")
	}
	if video.AccessKey == nil || *video.AccessKey == "" || s.deps.Signer == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "video has no playable source")
	}

	signed, err := s.deps.Signer.SignURL(*video.AccessKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign video url")
	}
	return &dto.VideoAccessResponse{VideoID: video.ID, URL: signed.URL, ExpiresAt: signed.ExpiresAt}, nil
}

// Certificate returns the completion certificate PDF, rendering and storing
// it on first request.
func (s *ProgressTracker) Certificate(ctx context.Context, actor Actor, courseID string) ([]byte, string, error) {
	course, err := s.enrolledCourse(ctx, actor.UserID, courseID)
	if err != nil {
		return nil, "", err
	}
	rec, err := s.load(ctx, actor.UserID, courseID)
	if err != nil {
		return nil, "", err
	}
	if CourseCompletion(course, rec.Modules) < 100 {
		return nil, "", appErrors.Clone(appErrors.ErrCourseIncomplete, "finish every module to unlock the certificate")
	}

	filename := fmt.Sprintf("certificate-%s.pdf", course.ID)
	key := fmt.Sprintf("%s/%s.pdf", course.ID, actor.UserID)
	if s.deps.Documents != nil {
		if data, err := s.deps.Documents.Load(key); err == nil {
			return data, filename, nil
		}
	}
	if s.deps.Renderer == nil {
		return nil, "", appErrors.Clone(appErrors.ErrInternal, "certificates are not configured")
	}

	recipient := actor.Email
	if recipient == "" {
		recipient = actor.UserID
	}
	serial := uuid.NewSHA1(uuid.NameSpaceURL, []byte(actor.UserID+"|"+course.ID)).String()
	pdf, err := s.deps.Renderer.Render(certificate.Data{
		SerialNumber: serial,
		Recipient:    recipient,
		CourseTitle:  course.Title,
		Issuer:       s.deps.IssuerName,
		CompletedAt:  rec.UpdatedAt,
	})
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate")
	}
	if s.deps.Documents != nil {
		if _, err := s.deps.Documents.Save(key, pdf); err != nil {
			s.logger.Warn("store certificate failed", zap.String("key", key), zap.Error(err))
		}
	}
	s.logger.Info("certificate issued", zap.String("user_id", actor.UserID), zap.String("course_id", course.ID), zap.String("serial", serial))
	return pdf, filename, nil
}

func (s *ProgressTracker) enrolledCourse(ctx context.Context, userID, courseID string) (*models.Course, error) {
	if _, err := s.deps.Enrollments.FindSuccess(ctx, userID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	course, err := s.deps.Courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// load returns the stored record or a fresh unsaved one.
func (s *ProgressTracker) load(ctx context.Context, userID, courseID string) (*models.ProgressRecord, error) {
	rec, err := s.deps.Progress.Find(ctx, userID, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.ProgressRecord{ID: uuid.NewString(), UserID: userID, CourseID: courseID, Modules: models.ModuleProgress{}}, nil
	}
	var quarantined *repository.QuarantinedProgress
	if errors.As(err, &quarantined) {
		// Start over on the unusable row; the next save replaces it under
		// its stored version.
		s.logger.Warn("resetting quarantined progress",
			zap.String("progress_id", quarantined.ID), zap.String("user_id", userID), zap.String("course_id", courseID))
		return &models.ProgressRecord{
			ID: quarantined.ID, UserID: userID, CourseID: courseID, Modules: models.ModuleProgress{}, Version: quarantined.Version,
		}, nil
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load progress")
	}
	if rec.Modules == nil {
		rec.Modules = models.ModuleProgress{}
	}
	return rec, nil
}

// applyWatch folds a watch event into the stored progress. Completion is
// rounded to the nearest percent, clamped to [0, 100] and never decreases.
func applyWatch(prev models.VideoProgress, watched, total int, now time.Time) models.VideoProgress {
	next := models.VideoProgress{
		WatchedSeconds: watched,
		TotalSeconds:   total,
		CompletedAt:    prev.CompletedAt,
	}
	next.CompletionPercentage = watchPercentage(watched, total)
	if prev.CompletionPercentage > next.CompletionPercentage {
		next.CompletionPercentage = prev.CompletionPercentage
	}
	if next.Complete() && next.CompletedAt == nil {
		next.CompletedAt = &now
	}
	return next
}

func watchPercentage(watched, total int) int {
	if total <= 0 {
		return 0
	}
	pct := int(math.Round(float64(watched) / float64(total) * 100))
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// ModuleCompletion is the share of the module's videos that are complete,
// so a module is complete exactly when it reports 100. Empty modules are
// complete.
func ModuleCompletion(module models.Module, progress models.ModuleProgress) int {
	if len(module.Videos) == 0 {
		return 100
	}
	done := 0
	for _, v := range module.Videos {
		if vp, ok := progress.Video(module.ID, v.ID); ok && vp.Complete() {
			done++
		}
	}
	return int(math.Round(float64(done) * 100 / float64(len(module.Videos))))
}

// CourseCompletion averages the module percentages.
func CourseCompletion(course *models.Course, progress models.ModuleProgress) int {
	if len(course.Modules) == 0 {
		return 0
	}
	sum := 0
	for _, m := range course.Modules {
		sum += ModuleCompletion(m, progress)
	}
	return int(math.Round(float64(sum) / float64(len(course.Modules))))
}

// IsModuleUnlocked applies the module's unlock policy. The first module is
// always open; completePrevious requires the module right before it to be
// complete.
func IsModuleUnlocked(course *models.Course, index int, progress models.ModuleProgress) bool {
	if index <= 0 {
		return index == 0
	}
	if index >= len(course.Modules) {
		return false
	}
	if course.Modules[index].UnlockPolicy != models.UnlockCompletePrevious {
		return true
	}
	return ModuleCompletion(course.Modules[index-1], progress) == 100
}

func moduleHasVideo(module models.Module, videoID string) bool {
	for _, v := range module.Videos {
		if v.ID == videoID {
			return true
		}
	}
	return false
}
