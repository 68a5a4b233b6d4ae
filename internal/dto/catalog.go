package dto

// CourseListQuery mirrors the catalog query string.
type CourseListQuery struct {
	Category string `form:"category"`
	Search   string `form:"q"`
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}
