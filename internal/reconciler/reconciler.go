// Package reconciler runs background jobs that catch video listings that have
// drifted from the filesystem, for instance after files were copied into a
// course directory by hand.
package reconciler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/coursevideos/internal/ctxclock"
	"fknsrs.biz/p/coursevideos/internal/ctxdb"
	"fknsrs.biz/p/coursevideos/internal/ctxlogger"
	"fknsrs.biz/p/coursevideos/internal/jobqueue"
	"fknsrs.biz/p/coursevideos/internal/queuenames"
	"fknsrs.biz/p/coursevideos/internal/videolibrary"
	"fknsrs.biz/p/coursevideos/models"
)

// WorkerFunction reconciles the course named in the job payload. With a
// non-zero interval each successful run schedules the next one.
func WorkerFunction(lib *videolibrary.Library, interval time.Duration) jobqueue.WorkerFunction {
	return func(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
		courseKey, _, err := jobqueue.ParsePayload(j.Payload)
		if err != nil {
			return "", fmt.Errorf("reconciler: could not parse payload: %w", err)
		}

		course, err := models.ParseCourseKey(courseKey)
		if err != nil {
			return "", fmt.Errorf("reconciler: %w", err)
		}

		dropped, err := lib.Reconcile(ctx, course)
		if err != nil {
			return "", fmt.Errorf("reconciler: %w", err)
		}

		if interval > 0 {
			if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
				return w.Add(ctx, tx, &jobqueue.Job{
					QueueName: queuenames.CourseVideoReconcile,
					Payload:   j.Payload,
					RunAfter:  ctxclock.NowOrReal(ctx).Add(interval),
				})
			}); err != nil {
				return "", fmt.Errorf("reconciler: could not schedule next run: %w", err)
			}
		}

		if dropped {
			ctxlogger.GetLogger(ctx).WithField("course", course.String()).Info("cached video listing was stale and has been dropped")
			return "listing changed; cache dropped", nil
		}

		return "listing unchanged", nil
	}
}

// Seed makes sure every course has a reconcile job waiting.
func Seed(ctx context.Context, w *jobqueue.Worker, courses []models.Course) error {
	added := 0

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, c := range courses {
			ok, err := w.AddIfNotPending(ctx, tx, &jobqueue.Job{
				QueueName: queuenames.CourseVideoReconcile,
				Payload:   c.CourseKey,
			})
			if err != nil {
				return err
			}

			if ok {
				added++
			}
		}

		return nil
	}); err != nil {
		return fmt.Errorf("reconciler.Seed: %w", err)
	}

	ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"courses": len(courses),
		"added":   added,
	}).Info("seeded reconcile jobs")

	return nil
}
