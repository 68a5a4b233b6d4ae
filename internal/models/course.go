package models

import "time"

// UnlockPolicy decides when a module becomes accessible.
type UnlockPolicy string

const (
	UnlockNone             UnlockPolicy = "none"
	UnlockCompletePrevious UnlockPolicy = "completePrevious"
)

// Course is a purchasable catalog entry. Price is in minor currency units.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	Category  string    `db:"category" json:"category"`
	Price     int64     `db:"price" json:"price"`
	Currency  string    `db:"currency" json:"currency"`
	Published bool      `db:"published" json:"published"`
	Modules   []Module  `db:"-" json:"modules"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Module is an ordered group of videos inside a course.
type Module struct {
	ID           string       `db:"id" json:"id"`
	CourseID     string       `db:"course_id" json:"courseId"`
	Position     int          `db:"position" json:"position"`
	Title        string       `db:"title" json:"title"`
	UnlockPolicy UnlockPolicy `db:"unlock_policy" json:"unlockPolicy"`
	Videos       []Video      `db:"-" json:"videos"`
}

// Video belongs to a module. AccessKey is never serialised; it is exchanged
// for a signed URL once the caller is authorised.
type Video struct {
	ID              string  `db:"id" json:"id"`
	ModuleID        string  `db:"module_id" json:"moduleId"`
	Position        int     `db:"position" json:"position"`
	Title           string  `db:"title" json:"title"`
	DurationSeconds int     `db:"duration_seconds" json:"durationSeconds"`
	AccessKey       *string `db:"access_key" json:"-"`
}

// ModuleIndex returns the position of moduleID in c.Modules, or -1.
func (c *Course) ModuleIndex(moduleID string) int {
	for i := range c.Modules {
		if c.Modules[i].ID == moduleID {
			return i
		}
	}
	return -1
}

// FindVideo locates a video and the index of its module.
func (c *Course) FindVideo(videoID string) (moduleIdx int, video *Video) {
	for i := range c.Modules {
		for j := range c.Modules[i].Videos {
			if c.Modules[i].Videos[j].ID == videoID {
				return i, &c.Modules[i].Videos[j]
			}
		}
	}
	return -1, nil
}

// CourseFilter narrows catalog listings.
type CourseFilter struct {
	Category string
	Search   string
	Page     int
	PageSize int
}
