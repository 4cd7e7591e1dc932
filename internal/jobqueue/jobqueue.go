// Package jobqueue is a small persistent job queue kept in the sqlite database.
// Jobs are reserved for a while before they run, and failed jobs are retried
// after their failure delay until they run out of attempts.
//
// Each attempt appends one entry to both ErrorMessages and OutputMessages,
// so the two lists line up by attempt.
package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/samber/lo"

	"fknsrs.biz/p/coursevideos/internal/sqltypes"
)

// ParsePayload splits a payload of the form "subject?key=value" into the
// subject and its parameters.
func ParsePayload(s string) (string, url.Values, error) {
	subject, query, ok := strings.Cut(s, "?")
	if !ok {
		return subject, url.Values{}, nil
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		return subject, url.Values{}, fmt.Errorf("jobqueue.ParsePayload: %w", err)
	}

	return subject, params, nil
}

const (
	DefaultFailureDelay = time.Second * 5
)

const createJobsTable = `create table if not exists jobs (
  id integer primary key autoincrement,
  created_at datetime not null,
  queue_name text not null,
  payload text not null,
  run_after datetime not null,
  failure_delay integer not null,
  attempts_remaining integer not null,
  reserved_at datetime,
  reserved_until datetime,
  finished_at datetime,
  error_messages text not null default '[]',
  output_messages text not null default '[]'
)`

const createJobsIndex = `create index if not exists jobs_pending on jobs (queue_name, finished_at, run_after)`

func Migrate(ctx context.Context, db *sql.DB) error {
	for _, q := range []string{createJobsTable, createJobsIndex} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("jobqueue.Migrate: %w", err)
		}
	}

	return nil
}

type Job struct {
	ID                int `sql:",table:jobs"`
	CreatedAt         time.Time
	QueueName         string
	Payload           string
	RunAfter          time.Time
	FailureDelay      time.Duration
	AttemptsRemaining int
	ReservedAt        *time.Time
	ReservedUntil     *time.Time
	FinishedAt        *time.Time
	ErrorMessages     sqltypes.JSONStringSlice
	OutputMessages    sqltypes.JSONStringSlice
}

// findFirst is FindFirstWhere with a missing row reported as a nil job.
func findFirst(ctx context.Context, db sorm.Querier, where string, args ...interface{}) (*Job, error) {
	var job Job
	if err := sorm.FindFirstWhere(ctx, db, &job, where, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return &job, nil
}

// findNext picks the oldest due job on the given queues that isn't held by
// a live reservation.
func findNext(ctx context.Context, db sorm.Querier, queueNames []string, now time.Time) (*Job, error) {
	if len(queueNames) == 0 {
		return nil, nil
	}

	args := lo.Map(queueNames, func(queueName string, _ int) interface{} { return queueName })
	placeholders := lo.Map(queueNames, func(_ string, i int) string { return fmt.Sprintf("?%d", i+1) })
	args = append(args, now)

	where := fmt.Sprintf(
		"where queue_name in (%s) and run_after < ?%[2]d and (reserved_until is null or reserved_until < ?%[2]d) and finished_at is null order by run_after asc",
		strings.Join(placeholders, ", "),
		len(args),
	)

	job, err := findFirst(ctx, db, where, args...)
	if err != nil {
		return nil, fmt.Errorf("jobqueue.findNext: could not find pending job record: %w", err)
	}

	return job, nil
}

func findPending(ctx context.Context, db sorm.Querier, queueName, payload string) (*Job, error) {
	job, err := findFirst(ctx, db, "where queue_name = ? and payload = ? and finished_at is null", queueName, payload)
	if err != nil {
		return nil, fmt.Errorf("jobqueue.findPending: %w", err)
	}

	return job, nil
}

func reserve(ctx context.Context, tx *sql.Tx, job *Job, now time.Time, reserveDuration time.Duration) error {
	if job.ReservedUntil != nil && job.ReservedUntil.After(now) {
		return fmt.Errorf("jobqueue.reserve: can't reserve a job with a non-expired reservation")
	}
	if job.FinishedAt != nil {
		return fmt.Errorf("jobqueue.reserve: can't reserve a job that has already finished")
	}

	if reserveDuration == 0 {
		reserveDuration = reserveFor
	}

	reservedUntil := now.Add(reserveDuration)
	job.ReservedAt = &now
	job.ReservedUntil = &reservedUntil

	if err := sorm.SaveRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.reserve: could not save job record: %w", err)
	}

	return nil
}

func findNextAndReserve(ctx context.Context, tx *sql.Tx, queueNames []string, now time.Time, reserveDuration time.Duration) (*Job, error) {
	j, err := findNext(ctx, tx, queueNames, now)
	if err != nil {
		return nil, fmt.Errorf("jobqueue.findNextAndReserve: could not find next job: %w", err)
	}

	if j == nil {
		return nil, nil
	}

	if err := reserve(ctx, tx, j, now, reserveDuration); err != nil {
		return nil, fmt.Errorf("jobqueue.findNextAndReserve: could not reserve job: %w", err)
	}

	return j, nil
}

func finish(ctx context.Context, tx *sql.Tx, job *Job, now time.Time, errorMessage, outputMessage string) error {
	if job.FinishedAt != nil {
		return fmt.Errorf("jobqueue.finish: can't finish a job that has already finished")
	}

	job.ErrorMessages = append(job.ErrorMessages, errorMessage)
	job.OutputMessages = append(job.OutputMessages, outputMessage)
	job.ReservedAt = nil
	job.ReservedUntil = nil

	switch {
	case errorMessage != "" && job.AttemptsRemaining > 0:
		job.AttemptsRemaining--
		job.RunAfter = now.Add(job.FailureDelay)
	default:
		// succeeded, or failed with no attempts left
		job.FinishedAt = &now
	}

	if err := sorm.SaveRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.finish: could not save job record: %w", err)
	}

	return nil
}
