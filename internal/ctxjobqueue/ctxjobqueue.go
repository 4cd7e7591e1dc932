// Package ctxjobqueue makes the background worker reachable from request
// handlers, so they can queue jobs inside their own transactions.
package ctxjobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"fknsrs.biz/p/coursevideos/internal/jobqueue"
)

var (
	ErrNoWorker = fmt.Errorf("ctxjobqueue: no worker found in context")
)

var workerKey int

func WithWorker(ctx context.Context, w *jobqueue.Worker) context.Context {
	return context.WithValue(ctx, &workerKey, w)
}

// GetWorker returns nil if no worker was registered.
func GetWorker(ctx context.Context) *jobqueue.Worker {
	if w, ok := ctx.Value(&workerKey).(*jobqueue.Worker); ok {
		return w
	}

	return nil
}

func Register(w *jobqueue.Worker) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithWorker(r.Context(), w)))
	}
}

// RunNow queues job on the worker in ctx, or brings forward a matching job
// that is waiting to be retried. It reports false if a matching job is
// already due or running. Changes only become visible when tx commits.
func RunNow(ctx context.Context, tx *sql.Tx, job *jobqueue.Job) (bool, error) {
	w := GetWorker(ctx)
	if w == nil {
		return false, ErrNoWorker
	}

	queued, err := w.RunNow(ctx, tx, job)
	if err != nil {
		return false, fmt.Errorf("ctxjobqueue.RunNow: %w", err)
	}

	return queued, nil
}
