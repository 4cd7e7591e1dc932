// Package sqlitelogger is a database/sql driver wrapper that logs each
// statement with its arguments inlined, its duration and the calling stack.
package sqlitelogger

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/samber/lo"
	proxy "github.com/shogo82148/go-sql-proxy"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/coursevideos/internal/ctxclock"
	"fknsrs.biz/p/coursevideos/internal/ctxlogger"
	"fknsrs.biz/p/coursevideos/internal/stackutil"
)

var (
	ErrCancelLogging = fmt.Errorf("cancel logging")
)

// Stats describes one driver call. Stack is captured before the call, so
// filters can drop queries by caller before any timing happens.
type Stats struct {
	Start    time.Time
	Duration time.Duration
	Stack    []runtime.Frame

	query     string
	queryText string
	queryArgs []driver.NamedValue
}

// Query is the statement with its arguments inlined, built on first use.
func (s *Stats) Query() string {
	if s.query == "" && s.queryText != "" {
		s.query = printQuery(s.queryText, s.queryArgs)
	}
	return s.query
}

type Filter interface {
	PreCollection(ctx context.Context, stats *Stats) error
	PreLogging(ctx context.Context, stats *Stats) error
	HideStackFrame(ctx context.Context, index int, frame runtime.Frame) (bool, error)
}

type operation struct {
	prefix  string
	message string
}

var (
	opPrepare  = operation{"sql.prepare", "sql prepare"}
	opExec     = operation{"sql.exec", "sql exec"}
	opQuery    = operation{"sql.query", "sql query"}
	opBegin    = operation{"sql.tx_begin", "sql tx begin"}
	opCommit   = operation{"sql.tx_commit", "sql tx commit"}
	opRollback = operation{"sql.tx_rollback", "sql tx rollback"}
)

type queryLogger struct {
	filters []Filter
}

// begin returns nil stats when a filter cancels logging. The proxy hands
// them back to finish untouched.
func (q *queryLogger) begin(ctx context.Context, stmt *proxy.Stmt, args []driver.NamedValue) (interface{}, error) {
	stats := &Stats{
		Start: ctxclock.NowOrReal(ctx),
		Stack: stackutil.GetStack(100, 2),
	}

	if stmt != nil {
		stats.queryText = stmt.QueryString
		stats.queryArgs = args
	}

	for _, filter := range q.filters {
		if err := filter.PreCollection(ctx, stats); err != nil {
			if errors.Is(err, ErrCancelLogging) {
				return nil, nil
			}

			return nil, fmt.Errorf("sqlitelogger: %w", err)
		}
	}

	return stats, nil
}

func (q *queryLogger) finish(ctx context.Context, callErr error, qctx interface{}, op operation) error {
	if callErr != nil {
		return callErr
	}

	stats, _ := qctx.(*Stats)
	if stats == nil {
		return nil
	}

	stats.Duration = ctxclock.NowOrReal(ctx).Sub(stats.Start)

	for _, filter := range q.filters {
		if err := filter.PreLogging(ctx, stats); err != nil {
			if errors.Is(err, ErrCancelLogging) {
				return nil
			}

			return fmt.Errorf("sqlitelogger: %w", err)
		}
	}

	fields := logrus.Fields{
		op.prefix + ".start":    stats.Start.Format(time.RFC3339),
		op.prefix + ".duration": stats.Duration,
		op.prefix + ".content":  stats.Query(),
	}

	if err := q.addStackFields(ctx, fields, op.prefix, stats.Stack); err != nil {
		return err
	}

	ctxlogger.GetLogger(ctx).WithFields(fields).Info(op.message)

	return nil
}

func (q *queryLogger) addStackFields(ctx context.Context, fields logrus.Fields, prefix string, stack []runtime.Frame) error {
	for index, frame := range stack {
		hidden, err := q.hidden(ctx, index, frame)
		if err != nil {
			return fmt.Errorf("sqlitelogger: %w", err)
		}

		if !hidden {
			fields[fmt.Sprintf("%s.stack.%02d", prefix, index)] = stackutil.FormatStackFrame(frame)
		}
	}

	return nil
}

func (q *queryLogger) hidden(ctx context.Context, index int, frame runtime.Frame) (bool, error) {
	for _, filter := range q.filters {
		hide, err := filter.HideStackFrame(ctx, index, frame)
		if err != nil || hide {
			return hide, err
		}
	}

	return false, nil
}

// New wraps a driver so that every statement and transaction boundary is
// logged through the logger in the call's context.
func New(name string, wrapped driver.Driver, filters ...Filter) driver.Driver {
	q := &queryLogger{filters: filters}

	return proxy.NewProxyContext(wrapped, &proxy.HooksContext{
		PrePrepare: func(ctx context.Context, stmt *proxy.Stmt) (interface{}, error) {
			return q.begin(ctx, stmt, nil)
		},
		PostPrepare: func(ctx context.Context, qctx interface{}, stmt *proxy.Stmt, err error) error {
			return q.finish(ctx, err, qctx, opPrepare)
		},
		PreExec: func(ctx context.Context, stmt *proxy.Stmt, args []driver.NamedValue) (interface{}, error) {
			return q.begin(ctx, stmt, args)
		},
		PostExec: func(ctx context.Context, qctx interface{}, stmt *proxy.Stmt, args []driver.NamedValue, _ driver.Result, err error) error {
			return q.finish(ctx, err, qctx, opExec)
		},
		PreQuery: func(ctx context.Context, stmt *proxy.Stmt, args []driver.NamedValue) (interface{}, error) {
			return q.begin(ctx, stmt, args)
		},
		PostQuery: func(ctx context.Context, qctx interface{}, stmt *proxy.Stmt, args []driver.NamedValue, _ driver.Rows, err error) error {
			return q.finish(ctx, err, qctx, opQuery)
		},
		PreBegin: func(ctx context.Context, conn *proxy.Conn) (interface{}, error) {
			return q.begin(ctx, nil, nil)
		},
		PostBegin: func(ctx context.Context, qctx interface{}, conn *proxy.Conn, err error) error {
			return q.finish(ctx, err, qctx, opBegin)
		},
		PreCommit: func(ctx context.Context, tx *proxy.Tx) (interface{}, error) {
			return q.begin(ctx, nil, nil)
		},
		PostCommit: func(ctx context.Context, qctx interface{}, tx *proxy.Tx, err error) error {
			return q.finish(ctx, err, qctx, opCommit)
		},
		PreRollback: func(ctx context.Context, tx *proxy.Tx) (interface{}, error) {
			return q.begin(ctx, nil, nil)
		},
		PostRollback: func(ctx context.Context, qctx interface{}, tx *proxy.Tx, err error) error {
			return q.finish(ctx, err, qctx, opRollback)
		},
	})
}

// BasicFilter covers the common cases: a slow-query threshold, hiding
// frames from noisy packages, and silencing queries made by given functions.
type BasicFilter struct {
	CancelAll                bool
	LogSlowerThan            time.Duration
	IgnorePackageStackFrames []string
	IgnoreFunctionQueries    []string
	PreCollectionFunc        func(ctx context.Context, stats *Stats) error
	PreLoggingFunc           func(ctx context.Context, stats *Stats) error
}

func (b *BasicFilter) PreCollection(ctx context.Context, stats *Stats) error {
	if b.CancelAll {
		return ErrCancelLogging
	}

	if lo.SomeBy(stats.Stack, func(frame runtime.Frame) bool {
		return lo.Contains(b.IgnoreFunctionQueries, frame.Function)
	}) {
		return ErrCancelLogging
	}

	if b.PreCollectionFunc != nil {
		return b.PreCollectionFunc(ctx, stats)
	}

	return nil
}

func (b *BasicFilter) PreLogging(ctx context.Context, stats *Stats) error {
	if b.CancelAll {
		return ErrCancelLogging
	}

	if b.LogSlowerThan != 0 && stats.Duration < b.LogSlowerThan {
		return ErrCancelLogging
	}

	if b.PreLoggingFunc != nil {
		return b.PreLoggingFunc(ctx, stats)
	}

	return nil
}

func (b *BasicFilter) HideStackFrame(ctx context.Context, index int, frame runtime.Frame) (bool, error) {
	return lo.SomeBy(b.IgnorePackageStackFrames, func(packageName string) bool {
		return strings.HasPrefix(frame.Function, packageName+".")
	}), nil
}

var placeholderPattern = regexp.MustCompile(`\?([0-9]*)`)

// printQuery inlines arguments into a query for logging. Both numbered (?1)
// and bare (?) sqlite placeholders are understood.
func printQuery(sqlString string, args []driver.NamedValue) string {
	next := 0

	return strings.Join(strings.Fields(placeholderPattern.ReplaceAllStringFunc(sqlString, func(s string) string {
		i := next + 1
		if len(s) > 1 {
			n, err := strconv.Atoi(s[1:])
			if err != nil {
				return s
			}
			i = n
		}
		next = i

		if i < 1 || i > len(args) {
			return s
		}

		return formatValue(args[i-1].Value)
	})), " ")
}

func formatValue(v driver.Value) string {
	switch e := v.(type) {
	case nil:
		return "NULL"
	case bool:
		return strconv.FormatBool(e)
	case int64:
		return strconv.FormatInt(e, 10)
	case float64:
		return strconv.FormatFloat(e, 'f', -1, 64)
	case time.Time:
		return "'" + e.Format(time.RFC3339Nano) + "'"
	case []byte:
		return quoteIfPrintable(string(e))
	case string:
		return quoteIfPrintable(e)
	default:
		return quoteIfPrintable(fmt.Sprintf("%v", e))
	}
}

func quoteIfPrintable(s string) string {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return fmt.Sprintf("[%d bytes of binary data]", len(s))
		}
	}

	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
