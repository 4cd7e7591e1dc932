// Package ctxhttpclient carries the outbound http client and the user agent
// it should announce, so handlers and workers share one cached transport.
package ctxhttpclient

import (
	"context"
	"net/http"
)

var (
	httpClientKey int
	userAgentKey  int
)

func WithHTTPClient(ctx context.Context, httpClient *http.Client) context.Context {
	return context.WithValue(ctx, &httpClientKey, httpClient)
}

func GetHTTPClient(ctx context.Context) *http.Client {
	if v := ctx.Value(&httpClientKey); v != nil {
		return v.(*http.Client)
	}

	return http.DefaultClient
}

func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, &userAgentKey, userAgent)
}

func GetUserAgent(ctx context.Context) string {
	if v, ok := ctx.Value(&userAgentKey).(string); ok {
		return v
	}

	return ""
}

// Do sends req with the client from the request's context. A user agent from
// the context is added unless req already has one.
func Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if ua := GetUserAgent(ctx); ua != "" && req.Header.Get("user-agent") == "" {
		req.Header.Set("user-agent", ua)
	}

	return GetHTTPClient(ctx).Do(req)
}

func Register(httpClient *http.Client, userAgent string) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		ctx := WithHTTPClient(r.Context(), httpClient)
		if userAgent != "" {
			ctx = WithUserAgent(ctx, userAgent)
		}

		next(rw, r.WithContext(ctx))
	}
}
