// Package coursestore answers the one question the video manager has about
// courses: does this course exist, and what is it called.
package coursestore

import (
	"context"
	"fmt"

	"fknsrs.biz/p/coursevideos/models"
)

var (
	ErrCourseNotFound = fmt.Errorf("course not found")
)

type Store interface {
	GetCourse(ctx context.Context, courseKey string) (*models.Course, error)
}
