package ctxvideolibrary

import (
	"context"
	"fmt"
	"net/http"

	"fknsrs.biz/p/coursevideos/internal/videolibrary"
)

var (
	ErrNoLibrary = fmt.Errorf("ctxvideolibrary: no library found in context")
)

// context registration

var libraryKey int

func WithLibrary(ctx context.Context, l *videolibrary.Library) context.Context {
	return context.WithValue(ctx, &libraryKey, l)
}

func GetLibrary(ctx context.Context) *videolibrary.Library {
	if v := ctx.Value(&libraryKey); v != nil {
		return v.(*videolibrary.Library)
	}

	return nil
}

func MustGetLibrary(ctx context.Context) *videolibrary.Library {
	l := GetLibrary(ctx)
	if l == nil {
		panic(ErrNoLibrary)
	}

	return l
}

// middleware

func Register(l *videolibrary.Library) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithLibrary(r.Context(), l)))
	}
}
