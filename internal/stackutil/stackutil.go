// Package stackutil captures and prints call stacks for log output.
package stackutil

import (
	"fmt"
	"runtime"
)

// GetStack returns up to depth frames, starting at the caller of GetStack
// once skip further frames have been dropped.
func GetStack(depth, skip int) []runtime.Frame {
	pc := make([]uintptr, depth)

	// 0 is runtime.Callers itself and 1 is GetStack
	n := runtime.Callers(skip+2, pc)
	if n == 0 {
		return []runtime.Frame{}
	}

	frames := runtime.CallersFrames(pc[:n])

	a := make([]runtime.Frame, 0, n)
	for {
		frame, more := frames.Next()
		a = append(a, frame)
		if !more {
			break
		}
	}

	return a
}

func FormatStackFrame(f runtime.Frame) string {
	return fmt.Sprintf("%s:%d: %s", f.File, f.Line, f.Function)
}
