// Package ctxlogger carries a logrus logger through request and worker
// contexts, and logs the start and end of every http request.
//
// Other middleware and handlers decorate the request log lines with hooks.
// Every request gets an id, taken from an incoming x-request-id header when
// there is one, which is echoed back and attached to every line logged
// through the request's context.
package ctxlogger

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const RequestIDHeader = "x-request-id"

var (
	loggerKey    int
	hooksKey     int
	requestIDKey int
)

func WithLogger(ctx context.Context, l logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, &loggerKey, l)
}

func GetLogger(ctx context.Context) logrus.FieldLogger {
	if v := ctx.Value(&loggerKey); v != nil {
		return v.(logrus.FieldLogger)
	}

	return logrus.StandardLogger()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, &requestIDKey, id)
}

// GetRequestID is empty outside of a logged request.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(&requestIDKey).(string); ok {
		return v
	}

	return ""
}

type Hook interface {
	Before(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger
	After(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger
}

type HookFunc func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger

// HookPair is a Hook built from two optional functions.
type HookPair struct {
	BeforeFunc HookFunc
	AfterFunc  HookFunc
}

func NewHookPair(beforeFunc, afterFunc HookFunc) *HookPair {
	return &HookPair{BeforeFunc: beforeFunc, AfterFunc: afterFunc}
}

func (p *HookPair) Before(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
	return p.BeforeFunc.apply(rw, r, l)
}

func (p *HookPair) After(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
	return p.AfterFunc.apply(rw, r, l)
}

func (fn HookFunc) apply(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
	if fn == nil {
		return l
	}

	return fn(rw, r, l)
}

// hookList is shared by pointer, so hooks added further down the chain are
// still seen by Log once the handler returns.
type hookList []Hook

func getHookList(ctx context.Context) *hookList {
	if v := ctx.Value(&hooksKey); v != nil {
		return v.(*hookList)
	}

	return nil
}

func AddHook(ctx context.Context, hook Hook) context.Context {
	hooks := getHookList(ctx)
	if hooks == nil {
		hooks = &hookList{}
		ctx = context.WithValue(ctx, &hooksKey, hooks)
	}

	*hooks = append(*hooks, hook)

	return ctx
}

func AddHookPair(ctx context.Context, beforeFunc, afterFunc HookFunc) context.Context {
	return AddHook(ctx, NewHookPair(beforeFunc, afterFunc))
}

// AddFields attaches fields to the "http request finished" line. Handlers use
// it for things only they know, like which course a request was for.
func AddFields(ctx context.Context, fields logrus.Fields) context.Context {
	return AddHookPair(ctx, nil, func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
		return l.WithFields(fields)
	})
}

func Register(l logrus.FieldLogger) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		ctx := context.WithValue(r.Context(), &hooksKey, &hookList{})
		next(rw, r.WithContext(WithLogger(ctx, l)))
	}
}

func Log() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		rw.Header().Set(RequestIDHeader, requestID)

		ctx := WithRequestID(r.Context(), requestID)

		base := GetLogger(ctx).WithField("http.request_id", requestID)
		ctx = WithLogger(ctx, base)
		r = r.WithContext(ctx)

		var l logrus.FieldLogger = base.WithFields(logrus.Fields{
			"http.method":     r.Method,
			"http.path":       r.URL.String(),
			"http.host":       r.Host,
			"http.referer":    r.Header.Get("referer"),
			"http.user_agent": r.Header.Get("user-agent"),
		})

		hooks := getHookList(ctx)
		if hooks != nil {
			for _, hook := range *hooks {
				l = hook.Before(rw, r, l)
			}
		}

		defer func() {
			if nrw, ok := rw.(interface {
				Status() int
				Size() int
			}); ok {
				l = l.WithFields(logrus.Fields{
					"http.status_code":   nrw.Status(),
					"http.response_size": nrw.Size(),
				})
			}

			if hooks != nil {
				for _, hook := range *hooks {
					l = hook.After(rw, r, l)
				}
			}

			l.Info("http request finished")
		}()

		l.Info("http request started")

		next(rw, r)
	}
}
