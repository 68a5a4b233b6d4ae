package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// VideoCompleteThreshold is the watch percentage at which a video counts as done.
const VideoCompleteThreshold = 80

// VideoProgress tracks one video for one user.
type VideoProgress struct {
	WatchedSeconds       int        `json:"watchedSeconds"`
	TotalSeconds         int        `json:"totalSeconds"`
	CompletionPercentage int        `json:"completionPercentage"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
}

func (v VideoProgress) Complete() bool {
	return v.CompletionPercentage >= VideoCompleteThreshold
}

// ModuleProgress maps moduleID -> videoID -> progress. Stored as JSONB.
type ModuleProgress map[string]map[string]VideoProgress

func (m ModuleProgress) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *ModuleProgress) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = ModuleProgress{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported progress type %T", src)
	}
	out := ModuleProgress{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode progress: %w", err)
	}
	*m = out
	return nil
}

// Video returns the stored progress for one video.
func (m ModuleProgress) Video(moduleID, videoID string) (VideoProgress, bool) {
	videos, ok := m[moduleID]
	if !ok {
		return VideoProgress{}, false
	}
	v, ok := videos[videoID]
	return v, ok
}

// ProgressRecord is a user's progress through one course.
type ProgressRecord struct {
	ID                   string         `db:"id" json:"id"`
	UserID               string         `db:"user_id" json:"userId"`
	CourseID             string         `db:"course_id" json:"courseId"`
	Modules              ModuleProgress `db:"modules" json:"modules"`
	CompletionPercentage int            `db:"completion_percentage" json:"completionPercentage"`
	Version              int64          `db:"version" json:"version"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updatedAt"`
}

// Clone deep-copies the record so callers can mutate it freely.
func (p *ProgressRecord) Clone() *ProgressRecord {
	if p == nil {
		return nil
	}
	out := *p
	out.Modules = make(ModuleProgress, len(p.Modules))
	for mid, videos := range p.Modules {
		copied := make(map[string]VideoProgress, len(videos))
		for vid, vp := range videos {
			copied[vid] = vp
		}
		out.Modules[mid] = copied
	}
	return &out
}
