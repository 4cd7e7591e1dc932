// Package ctxconfig carries the process config through request and worker
// contexts.
package ctxconfig

import (
	"context"
	"net/http"

	"fknsrs.biz/p/coursevideos/internal/config"
)

const DefaultUploadMaxMemory = 32 << 20

var configKey int

func WithConfig(ctx context.Context, c config.Config) context.Context {
	return context.WithValue(ctx, &configKey, c)
}

// GetConfig returns the zero config if none was registered.
func GetConfig(ctx context.Context) config.Config {
	if v, ok := ctx.Value(&configKey).(config.Config); ok {
		return v
	}

	return config.Config{}
}

// UploadMaxMemory is how much of a multipart upload to buffer in memory,
// falling back to DefaultUploadMaxMemory when unset.
func UploadMaxMemory(ctx context.Context) int64 {
	if n := GetConfig(ctx).UploadMaxMemory; n > 0 {
		return int64(n)
	}

	return DefaultUploadMaxMemory
}

func Register(c config.Config) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithConfig(r.Context(), c)))
	}
}
