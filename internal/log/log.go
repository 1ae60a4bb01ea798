// Package log provides leveled diagnostic logging controlled by the debug_level option.
// Reports meant for the user go to stdout elsewhere; everything here goes to stderr.
package log

import (
	golog "log"
	"os"
	"sync/atomic"
)

var (
	verbosity atomic.Int64
	logger    = golog.New(os.Stderr, "", golog.LstdFlags)
)

// SetVerbosity sets the highest level that Logf still prints.
func SetVerbosity(v int) {
	verbosity.Store(int64(v))
}

// V reports whether messages at level v are printed.
func V(v int) bool {
	return int64(v) <= verbosity.Load()
}

func Logf(v int, msg string, args ...interface{}) {
	if V(v) {
		logger.Printf(msg, args...)
	}
}

func Errorf(msg string, args ...interface{}) {
	logger.Printf("ERROR: "+msg, args...)
}

// Fatalf prints the message and exits with status 1.
func Fatalf(msg string, args ...interface{}) {
	logger.Fatalf("FATAL: "+msg, args...)
}
