// Package stack turns the call stack captured for an operation into a source
// location used to deduplicate findings.
package stack

import (
	"errors"
	"fmt"
	"strings"

	"github.com/divergentdave/alice/internal/oplog"
)

var (
	ErrNoStack = errors.New("no stack captured")
	ErrNoFrame = errors.New("every frame belongs to the syscall path")
)

// UnknownPrefix starts the location of operations whose stack cannot be resolved.
const UnknownPrefix = "Unknown (stacktraces not traversable for finding static vulnerabilities):"

// Frames whose names match any of these belong to syscall plumbing or to the
// tracer itself, not to the application.
var (
	skipSrcFiles   = []string{"syscall-template"}
	skipBinaries   = []string{"/libc", "/ld-linux", "/libpthread"}
	skipFunctions  = []string{"output_stacktrace", "syscall.Syscall", "syscall.RawSyscall", "runtime.syscall"}
	anonymousSpace = strings.NewReplacer("(anonymous namespace)", "()")
)

// Resolve returns the location of the first application frame, scanning
// from the frame closest to the system call outwards.
func Resolve(frames []oplog.StackFrame) (string, error) {
	if len(frames) == 0 {
		return "", ErrNoStack
	}
	for _, f := range frames {
		if skipped(f) {
			continue
		}
		fn := anonymousSpace.Replace(f.FuncName)
		if f.SrcFile == "" {
			return fmt.Sprintf("%s:%#x[%s]", f.BinaryFile, f.RawAddr, fn), nil
		}
		return fmt.Sprintf("%s:%d[%s]", f.SrcFile, f.SrcLine, fn), nil
	}
	return "", ErrNoFrame
}

func skipped(f oplog.StackFrame) bool {
	return containsAny(f.SrcFile, skipSrcFiles) ||
		containsAny(f.BinaryFile, skipBinaries) ||
		containsAny(f.FuncName, skipFunctions)
}

func containsAny(s string, subs []string) bool {
	if s == "" {
		return false
	}
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Location is Resolve with the fallback for unresolvable stacks applied.
// It never fails.
func Location(mop *oplog.Mop) string {
	if mop == nil {
		return UnknownPrefix + "?"
	}
	loc, err := Resolve(mop.Stack)
	if err != nil {
		return UnknownPrefix + mop.ID
	}
	return loc
}
