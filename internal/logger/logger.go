// Package logger provides the crawl's verbose logging. Messages go to
// stderr only when --verbose is set, so a normal mirroring run stays
// quiet while an operator can follow pagination, retries and
// checkpoint recovery.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
)

// SetVerbose toggles verbose output.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// SetOutput redirects log output, primarily for tests. Defaults to
// os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// Debug logs request-level detail: module calls, listing indexes.
func Debug(format string, args ...any) {
	emit("DEBUG", format, args...)
}

// Info logs crawl progress: resume points, recoveries, page counts.
func Info(format string, args ...any) {
	emit("INFO", format, args...)
}

// Warn logs recoverable trouble: retries, rate limiting, pages skipped
// for this pass.
func Warn(format string, args ...any) {
	emit("WARN", format, args...)
}

func emit(level, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if !verbose {
		return
	}
	fmt.Fprintf(output, "["+level+"] "+format+"\n", args...)
}
