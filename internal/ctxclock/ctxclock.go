// Package ctxclock carries the time source through request and worker
// contexts, so anything that stamps records can be driven by a fixed clock
// in tests.
package ctxclock

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/coursevideos/internal/ctxlogger"
)

var (
	ErrNoTimesLeft = fmt.Errorf("ctxclock: no times left")
	ErrNoClock     = fmt.Errorf("ctxclock: no clock found in context")
)

type Clock interface {
	Now() (time.Time, error)
}

var clockKey int

func WithClock(ctx context.Context, c Clock) context.Context {
	if c == nil {
		c = NewRealClock()
	}

	return context.WithValue(ctx, &clockKey, c)
}

func GetClock(ctx context.Context) Clock {
	if c, ok := ctx.Value(&clockKey).(Clock); ok {
		return c
	}

	return nil
}

func Now(ctx context.Context) (time.Time, error) {
	if c := GetClock(ctx); c != nil {
		return c.Now()
	}

	return time.Time{}, fmt.Errorf("ctxclock.Now: %w", ErrNoClock)
}

// NowOrReal is Now, falling back to the wall clock when the context has no
// clock or the clock fails.
func NowOrReal(ctx context.Context) time.Time {
	if t, err := Now(ctx); err == nil {
		return t
	}

	return time.Now()
}

func Register(c Clock) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithClock(r.Context(), c)))
	}
}

// AddLoggerHooks adds the request start and end times to the request log
// lines, plus the time taken once the response is done.
func AddLoggerHooks() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		var start time.Time

		stamp := func(r *http.Request, l logrus.FieldLogger, field string) (time.Time, logrus.FieldLogger) {
			now, err := Now(r.Context())
			if err != nil {
				l.WithError(err).Warnf("clock middleware could not get %s", field)
				return time.Time{}, l
			}

			return now, l.WithField(field, now.Format(time.RFC3339))
		}

		next(rw, r.WithContext(ctxlogger.AddHookPair(
			r.Context(),
			func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
				start, l = stamp(r, l, "http.request_start")
				return l
			},
			func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
				end, l := stamp(r, l, "http.response_end")
				if !start.IsZero() && !end.IsZero() {
					l = l.WithField("http.duration", end.Sub(start).String())
				}

				return l
			},
		)))
	}
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() (time.Time, error)

func (fn ClockFunc) Now() (time.Time, error) { return fn() }

func NewRealClock() Clock {
	return ClockFunc(func() (time.Time, error) { return time.Now(), nil })
}

func NewStaticClock(t time.Time) Clock {
	return ClockFunc(func() (time.Time, error) { return t, nil })
}

// ManualClock stays put until it is moved with Set or Advance.
type ManualClock struct {
	m sync.Mutex
	t time.Time
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{t: t}
}

func (c *ManualClock) Now() (time.Time, error) {
	c.m.Lock()
	defer c.m.Unlock()

	return c.t, nil
}

func (c *ManualClock) Set(t time.Time) {
	c.m.Lock()
	defer c.m.Unlock()

	c.t = t
}

func (c *ManualClock) Advance(d time.Duration) {
	c.m.Lock()
	defer c.m.Unlock()

	c.t = c.t.Add(d)
}

type TestClockResult struct {
	Time  time.Time
	Error error
}

// NewTestClock hands out results in order, then fails with ErrNoTimesLeft.
func NewTestClock(results []TestClockResult) Clock {
	var m sync.Mutex

	return ClockFunc(func() (time.Time, error) {
		m.Lock()
		defer m.Unlock()

		if len(results) == 0 {
			return time.Time{}, fmt.Errorf("ctxclock.TestClock.Now: %w", ErrNoTimesLeft)
		}

		r := results[0]
		results = results[1:]

		return r.Time, r.Error
	})
}
