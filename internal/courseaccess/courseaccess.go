// Package courseaccess decides whether a request may see or change a
// course's videos. Real policy lives elsewhere; these checkers cover running
// the service on its own.
package courseaccess

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"fknsrs.biz/p/coursevideos/models"
)

type Checker interface {
	HasCourseAccess(r *http.Request, course models.CourseKey) bool
}

type AllowAll struct{}

func (AllowAll) HasCourseAccess(r *http.Request, course models.CourseKey) bool { return true }

type DenyAll struct{}

func (DenyAll) HasCourseAccess(r *http.Request, course models.CourseKey) bool { return false }

// BearerToken grants access to every course to requests carrying the
// configured token in an "authorization: bearer ..." header.
type BearerToken struct {
	token []byte
}

func NewBearerToken(token string) *BearerToken {
	return &BearerToken{token: []byte(token)}
}

func (b *BearerToken) HasCourseAccess(r *http.Request, course models.CourseKey) bool {
	if len(b.token) == 0 {
		return false
	}

	scheme, token, ok := strings.Cut(r.Header.Get("authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), b.token) == 1
}

// FromToken returns AllowAll for an empty token.
func FromToken(token string) Checker {
	if token == "" {
		return AllowAll{}
	}

	return NewBearerToken(token)
}
