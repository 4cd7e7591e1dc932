package ctxjobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"fknsrs.biz/p/sorm"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fknsrs.biz/p/coursevideos/internal/ctxclock"
	"fknsrs.biz/p/coursevideos/internal/ctxdb"
	"fknsrs.biz/p/coursevideos/internal/jobqueue"
)

func init() {
	sorm.SetParameterPrefix("?")
}

func TestRunNowWithoutWorker(t *testing.T) {
	queued, err := RunNow(context.Background(), nil, &jobqueue.Job{QueueName: "q", Payload: "x"})
	assert.ErrorIs(t, err, ErrNoWorker)
	assert.False(t, queued)
}

func TestRunNow(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "jobs.db"))
	r.NoError(err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	clock := ctxclock.NewManualClock(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))

	ctx := ctxclock.WithClock(ctxdb.WithDB(context.Background(), db), clock)
	r.NoError(jobqueue.Migrate(ctx, db))

	var calls int
	w := jobqueue.NewWorker(map[string]jobqueue.WorkerFunction{
		"q": func(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
			calls++
			if calls == 1 {
				return "", fmt.Errorf("directory unavailable")
			}
			return "ok", nil
		},
	})
	ctx = WithWorker(ctx, w)
	a.Equal(w, GetWorker(ctx))

	runNow := func() bool {
		var queued bool
		r.NoError(ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
			var err error
			queued, err = RunNow(ctx, tx, &jobqueue.Job{QueueName: "q", Payload: "org/course/run", FailureDelay: time.Hour})
			return err
		}))
		return queued
	}

	a.True(runNow())
	a.False(runNow(), "the job is already due")

	clock.Advance(time.Second)
	ran, err := w.RunOnce(ctx)
	r.NoError(err)
	a.True(ran)
	a.Equal(1, calls)

	clock.Advance(time.Second)
	_, err = w.RunOnce(ctx)
	a.ErrorIs(err, jobqueue.ErrNoPendingJobs, "the failed job waits out its delay")

	a.True(runNow(), "the waiting job is brought forward")

	clock.Advance(time.Second)
	ran, err = w.RunOnce(ctx)
	r.NoError(err)
	a.True(ran)
	a.Equal(2, calls)
}
