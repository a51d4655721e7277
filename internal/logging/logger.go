package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Logger tags every line with the component that emitted it, so interleaved
// output from the HTTP server, the queue consumer and the tile pipeline can
// be told apart. Request-scoped context travels in the message itself (the
// "[Request <id>]" convention); trailing arguments are rendered as key=value
// pairs.
type Logger struct {
	prefix string
	logger *log.Logger
}

// NewLogger returns a Logger for the named component, writing to stdout.
func NewLogger(prefix string) *Logger {
	return newLogger(prefix, os.Stdout)
}

func newLogger(prefix string, w io.Writer) *Logger {
	return &Logger{
		prefix: prefix,
		logger: log.New(w, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
	}
}

// Info logs routine pipeline progress.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.emit("INFO", msg, keysAndValues)
}

// Warn logs conditions the pipeline recovers from or ignores.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.emit("WARN", msg, keysAndValues)
}

// Error logs failures that surface to the caller.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.emit("ERROR", msg, keysAndValues)
}

// Debug logs detail useful only when chasing a specific request.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.emit("DEBUG", msg, keysAndValues)
}

func (l *Logger) emit(level, msg string, kv []interface{}) {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	if len(kv)%2 != 0 {
		// A dangling key still gets printed rather than silently dropped.
		fmt.Fprintf(&b, " %v=?", kv[len(kv)-1])
	}
	l.logger.Printf("[%s] %s%s", level, msg, b.String())
}
