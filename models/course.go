package models

import (
	"time"

	"fknsrs.biz/p/coursevideos/internal/sqlbuilderutil"
)

var (
	CourseTable *sqlbuilderutil.Table
)

func init() {
	CourseTable = sqlbuilderutil.MustMakeTable(Course{})
}

type Course struct {
	ID          int `sql:",table:courses"`
	CreatedAt   time.Time
	CourseKey   string
	DisplayName string
}
