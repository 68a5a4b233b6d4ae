package models

import "strconv"

// Collection names shared by the store and the change feed.
const (
	CollectionCourses     = "courses"
	CollectionEnrollments = "enrollments"
	CollectionProgress    = "progress"
)

func (c *Course) RecordID() string { return c.ID }

func (c *Course) Field(name string) string {
	switch name {
	case "category":
		return c.Category
	case "published":
		return strconv.FormatBool(c.Published)
	}
	return ""
}

func (e *Enrollment) RecordID() string { return e.ID }

func (e *Enrollment) Field(name string) string {
	switch name {
	case "userId":
		return e.UserID
	case "courseId":
		return e.CourseID
	case "status":
		return string(e.Status)
	}
	return ""
}

func (p *ProgressRecord) RecordID() string { return p.ID }

func (p *ProgressRecord) Field(name string) string {
	switch name {
	case "userId":
		return p.UserID
	case "courseId":
		return p.CourseID
	}
	return ""
}
