package dto

import (
	"time"

	"github.com/noah-isme/course-commerce-api/internal/models"
)

// WatchRequest reports playback progress for one video.
type WatchRequest struct {
	CourseID       string `json:"courseId" validate:"required"`
	ModuleID       string `json:"moduleId" validate:"required"`
	VideoID        string `json:"videoId" validate:"required"`
	WatchedSeconds int    `json:"watchedSeconds" validate:"gte=0"`
	TotalSeconds   int    `json:"totalSeconds" validate:"gt=0"`
}

// WatchResult reports the stored state after a watch event. Ignored is set
// when the event would have moved progress backwards.
type WatchResult struct {
	Ignored          bool                 `json:"ignored"`
	Video            models.VideoProgress `json:"video"`
	ModuleCompletion int                  `json:"moduleCompletion"`
	CourseCompletion int                  `json:"courseCompletion"`
}

// ModuleOverview is one module as the learner sees it.
type ModuleOverview struct {
	ModuleID             string `json:"moduleId"`
	Title                string `json:"title"`
	Position             int    `json:"position"`
	CompletionPercentage int    `json:"completionPercentage"`
	Complete             bool   `json:"complete"`
	Unlocked             bool   `json:"unlocked"`
}

// CourseProgressOverview is the learner's progress through a course.
type CourseProgressOverview struct {
	CourseID             string           `json:"courseId"`
	CompletionPercentage int              `json:"completionPercentage"`
	Modules              []ModuleOverview `json:"modules"`
	UpdatedAt            *time.Time       `json:"updatedAt,omitempty"`
}

// VideoAccessResponse carries a short-lived playback URL.
type VideoAccessResponse struct {
	VideoID   string    `json:"videoId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
