package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/mattn/go-sqlite3"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/coursevideos/internal/ctxclock"
	"fknsrs.biz/p/coursevideos/internal/ctxdb"
	"fknsrs.biz/p/coursevideos/internal/ctxlogger"
)

var (
	ErrWorkerExists       = fmt.Errorf("worker already exists")
	ErrWorkerDoesNotExist = fmt.Errorf("worker does not exist")
	ErrNoPendingJobs      = fmt.Errorf("no pending jobs")
)

const (
	defaultAttempts  = 5
	reserveFor       = time.Minute * 5
	reserveRetries   = 25
	idlePollInterval = time.Second * 30
)

type WorkerFunction func(ctx context.Context, w *Worker, j *Job) (string, error)

// Worker runs jobs from the queues it has functions for. Adding a job wakes
// a running worker straight away; otherwise it polls.
type Worker struct {
	l    sync.RWMutex
	wake chan struct{}
	m    map[string]WorkerFunction
}

func NewWorker(workerFunctions map[string]WorkerFunction) *Worker {
	m := make(map[string]WorkerFunction, len(workerFunctions))
	for k, v := range workerFunctions {
		m[k] = v
	}

	return &Worker{wake: make(chan struct{}, 1), m: m}
}

func (w *Worker) function(queueName string) (WorkerFunction, bool) {
	w.l.RLock()
	defer w.l.RUnlock()

	fn, ok := w.m[queueName]
	return fn, ok
}

func (w *Worker) Register(queueName string, workerFunction WorkerFunction) error {
	if err := w.RegisterAll(map[string]WorkerFunction{queueName: workerFunction}); err != nil {
		return fmt.Errorf("jobqueue.Worker.Register: %w", err)
	}

	return nil
}

// RegisterAll adds every function or none of them.
func (w *Worker) RegisterAll(workers map[string]WorkerFunction) error {
	w.l.Lock()
	defer w.l.Unlock()

	existing := lo.Filter(lo.Keys(workers), func(queueName string, _ int) bool {
		_, ok := w.m[queueName]
		return ok
	})
	if len(existing) > 0 {
		sort.Strings(existing)
		return fmt.Errorf("jobqueue.Worker.RegisterAll: %v: %w", existing, ErrWorkerExists)
	}

	for queueName, fn := range workers {
		w.m[queueName] = fn
	}

	return nil
}

func (w *Worker) GetQueueNames() []string {
	w.l.RLock()
	defer w.l.RUnlock()

	queueNames := lo.Keys(w.m)
	sort.Strings(queueNames)

	return queueNames
}

func (w *Worker) Add(ctx context.Context, tx *sql.Tx, job *Job) error {
	if _, ok := w.function(job.QueueName); !ok {
		return fmt.Errorf("jobqueue.Worker.Add: %q: %w", job.QueueName, ErrWorkerDoesNotExist)
	}

	now := ctxclock.NowOrReal(ctx)

	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	if job.FailureDelay == 0 {
		job.FailureDelay = DefaultFailureDelay
	}
	if job.AttemptsRemaining == 0 {
		job.AttemptsRemaining = defaultAttempts
	}

	if err := sorm.CreateRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.Worker.Add: could not create job record: %w", err)
	}

	w.Trigger()

	return nil
}

// AddIfNotPending adds job unless an unfinished job with the same queue name
// and payload already exists. It reports whether the job was added.
func (w *Worker) AddIfNotPending(ctx context.Context, tx *sql.Tx, job *Job) (bool, error) {
	pending, err := findPending(ctx, tx, job.QueueName, job.Payload)
	if err != nil {
		return false, fmt.Errorf("jobqueue.Worker.AddIfNotPending: %w", err)
	}

	if pending != nil {
		return false, nil
	}

	if err := w.Add(ctx, tx, job); err != nil {
		return false, fmt.Errorf("jobqueue.Worker.AddIfNotPending: %w", err)
	}

	return true, nil
}

// RunNow makes sure job runs at the next opportunity. An unfinished job with
// the same queue name and payload that is waiting out a failure delay is
// brought forward, otherwise job is added. It reports false when a matching
// job is already due or running.
func (w *Worker) RunNow(ctx context.Context, tx *sql.Tx, job *Job) (bool, error) {
	pending, err := findPending(ctx, tx, job.QueueName, job.Payload)
	if err != nil {
		return false, fmt.Errorf("jobqueue.Worker.RunNow: %w", err)
	}

	if pending == nil {
		if err := w.Add(ctx, tx, job); err != nil {
			return false, fmt.Errorf("jobqueue.Worker.RunNow: %w", err)
		}

		return true, nil
	}

	now := ctxclock.NowOrReal(ctx)

	if pending.ReservedUntil != nil && pending.ReservedUntil.After(now) {
		return false, nil
	}
	if !pending.RunAfter.After(now) {
		return false, nil
	}

	pending.RunAfter = now
	if err := sorm.SaveRecord(ctx, tx, pending); err != nil {
		return false, fmt.Errorf("jobqueue.Worker.RunNow: could not save job record: %w", err)
	}

	*job = *pending

	w.Trigger()

	return true, nil
}

// Trigger wakes a running worker. It never blocks.
func (w *Worker) Trigger() {
	select {
	case w.wake <- struct{}{}:
	default:
		// a wakeup is already pending
	}
}

func isBusy(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked)
}

func (w *Worker) reserveNext(ctx context.Context) (*Job, error) {
	var job *Job

	for attempt := 0; ; attempt++ {
		err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
			var err error
			job, err = findNextAndReserve(ctx, tx, w.GetQueueNames(), ctxclock.NowOrReal(ctx), reserveFor)
			return err
		})
		if err == nil {
			return job, nil
		}

		if !isBusy(err) || attempt >= reserveRetries {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(rand.Int63n(int64(time.Millisecond * 500)))):
		}
	}
}

// RunOnce runs the next due job, if there is one. Failed and panicking jobs
// are put back with one fewer attempt until they run out.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.reserveNext(ctx)
	if err != nil {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: could not find/reserve job: %w", err)
	}

	if job == nil {
		return false, ErrNoPendingJobs
	}

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"job_queue_name": job.QueueName,
		"job_id":         job.ID,
		"job_payload":    job.Payload,
	})

	fn, ok := w.function(job.QueueName)
	if !ok {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: %q: %w", job.QueueName, ErrWorkerDoesNotExist)
	}

	l.Info("found pending job, running function")

	var errorMessage string
	outputMessage, err := runWorkerFunction(ctxlogger.WithLogger(ctx, l), w, job, fn)
	if err != nil {
		errorMessage = err.Error()
	}

	l.WithFields(logrus.Fields{"error_message": errorMessage, "output_message": outputMessage}).Info("finished job")

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		return finish(ctx, tx, job, ctxclock.NowOrReal(ctx), errorMessage, outputMessage)
	}); err != nil {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: could not finish job: %w", err)
	}

	return true, nil
}

func runWorkerFunction(ctx context.Context, w *Worker, job *Job, fn WorkerFunction) (output string, err error) {
	defer func() {
		if v := recover(); v != nil {
			if e, ok := v.(error); ok {
				err = fmt.Errorf("jobqueue.runWorkerFunction: panic: %w", e)
			} else {
				err = fmt.Errorf("jobqueue.runWorkerFunction: panic: %v", v)
			}
		}
	}()

	return fn(ctx, w, job)
}

// Run works through due jobs until ctx is done. After an idle pass or an
// error it waits for a wakeup or the poll interval.
func (w *Worker) Run(ctx context.Context) error {
	delay := time.Duration(0)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		case <-w.wake:
		}

		ran, err := w.RunOnce(ctx)
		switch {
		case err != nil && !errors.Is(err, ErrNoPendingJobs):
			ctxlogger.GetLogger(ctx).WithError(err).Error("could not run job")
			delay = idlePollInterval
		case ran:
			delay = 0
		default:
			delay = idlePollInterval
		}
	}
}
