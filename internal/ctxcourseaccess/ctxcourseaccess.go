package ctxcourseaccess

import (
	"context"
	"net/http"

	"fknsrs.biz/p/coursevideos/internal/courseaccess"
	"fknsrs.biz/p/coursevideos/models"
)

// context registration

var checkerKey int

func WithChecker(ctx context.Context, c courseaccess.Checker) context.Context {
	return context.WithValue(ctx, &checkerKey, c)
}

// GetChecker falls back to denying everything when no checker was registered.
func GetChecker(ctx context.Context) courseaccess.Checker {
	if v := ctx.Value(&checkerKey); v != nil {
		return v.(courseaccess.Checker)
	}

	return courseaccess.DenyAll{}
}

// middleware

func Register(c courseaccess.Checker) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithChecker(r.Context(), c)))
	}
}

// main interface

func HasCourseAccess(r *http.Request, course models.CourseKey) bool {
	return GetChecker(r.Context()).HasCourseAccess(r, course)
}
