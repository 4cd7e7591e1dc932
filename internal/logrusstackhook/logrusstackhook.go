// Package logrusstackhook attaches the caller's stack to log entries at
// chosen levels, one field per frame: stack.00 is the innermost frame that
// survives filtering.
package logrusstackhook

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/coursevideos/internal/stackutil"
)

// FilterFunc returns false for frames that should be left out.
type FilterFunc func(frame runtime.Frame) bool

func RemovePathsContaining(values []string) FilterFunc {
	return func(frame runtime.Frame) bool {
		return !lo.SomeBy(values, func(v string) bool { return strings.Contains(frame.File, v) })
	}
}

func RemoveFunctionsContaining(values []string) FilterFunc {
	return func(frame runtime.Frame) bool {
		return !lo.SomeBy(values, func(v string) bool { return strings.Contains(frame.Function, v) })
	}
}

func CombineFilters(a ...FilterFunc) FilterFunc {
	return func(frame runtime.Frame) bool {
		return lo.EveryBy(a, func(fn FilterFunc) bool { return fn(frame) })
	}
}

var (
	DefaultLevels = []logrus.Level{logrus.DebugLevel, logrus.TraceLevel}
	DefaultFilter = CombineFilters(
		RemovePathsContaining([]string{"github.com/sirupsen/logrus"}),
		RemoveFunctionsContaining([]string{"logrusstackhook.(*StackHook)", "runtime.goexit"}),
	)
)

const (
	defaultKeyPrefix = "stack"
	maxDepth         = 25
)

type StackHook struct {
	levels    []logrus.Level
	filter    FilterFunc
	keyPrefix string
}

// NewStackHook uses DefaultLevels and DefaultFilter for nil arguments.
func NewStackHook(levels []logrus.Level, filter FilterFunc) *StackHook {
	if levels == nil {
		levels = DefaultLevels
	}

	if filter == nil {
		filter = DefaultFilter
	}

	return &StackHook{levels: levels, filter: filter, keyPrefix: defaultKeyPrefix}
}

func (h *StackHook) Levels() []logrus.Level { return h.levels }

func (h *StackHook) Fire(e *logrus.Entry) error {
	frames := lo.Filter(stackutil.GetStack(maxDepth, 0), func(frame runtime.Frame, _ int) bool {
		return h.filter(frame)
	})

	for i, frame := range frames {
		e.Data[fmt.Sprintf("%s.%02d", h.keyPrefix, i)] = stackutil.FormatStackFrame(frame)
	}

	return nil
}
