// Package phperr implements error mapping: translating PHP-side stack
// traces into the host's conventions and surfacing the two error kinds
// callers see (InterpreterError, InterpreterExitError).
package phperr

import (
	"fmt"
	"strconv"
	"strings"
)

// StackFrame is one parsed line of a PHP stack trace.
type StackFrame struct {
	Index    int
	File     string
	Line     int
	Function string
}

func (f StackFrame) String() string {
	if f.File == "" {
		return fmt.Sprintf("#%d %s", f.Index, f.Function)
	}
	if f.Line > 0 {
		return fmt.Sprintf("#%d %s(%d): %s", f.Index, f.File, f.Line, f.Function)
	}
	return fmt.Sprintf("#%d %s: %s", f.Index, f.File, f.Function)
}

// ParseTrace parses a PHP-formatted stack trace (lines of the form
// "#<index> <location>: <info>"). Parsing is line-oriented; a malformed
// line stops parsing and returns the frames collected so far, never an
// error, since a best-effort trace beats none.
func ParseTrace(trace string) []StackFrame {
	lines := strings.Split(strings.ReplaceAll(trace, "\r\n", "\n"), "\n")
	frames := make([]StackFrame, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		frame, ok := parseFrameLine(line)
		if !ok {
			break
		}
		frames = append(frames, frame)
	}
	return frames
}

func parseFrameLine(line string) (StackFrame, bool) {
	if len(line) == 0 || line[0] != '#' {
		return StackFrame{}, false
	}
	rest := line[1:]

	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return StackFrame{}, false
	}
	idxStr, remainder := rest[:sp], rest[sp+1:]
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return StackFrame{}, false
	}

	location, info, ok := strings.Cut(remainder, ": ")
	if !ok {
		// No location part (e.g. "#1 {main}"): the remainder is the info.
		return StackFrame{Index: idx, Function: remainder}, true
	}

	file, lineNo := parseLocation(location)
	return StackFrame{Index: idx, File: file, Line: lineNo, Function: info}, true
}

// parseLocation splits "<file>(<lineno>)" or a bare file path.
func parseLocation(loc string) (file string, line int) {
	if strings.HasSuffix(loc, ")") {
		if open := strings.LastIndexByte(loc, '('); open >= 0 {
			if n, err := strconv.Atoi(loc[open+1 : len(loc)-1]); err == nil {
				return loc[:open], n
			}
		}
	}
	return loc, 0
}

// InterpreterError is raised when a PHP-side exception was thrown while
// executing a requested operation.
type InterpreterError struct {
	Message    string
	File       string
	Line       int
	PHPTrace   string
	hostTrace  []byte
	parsed     []StackFrame
}

// NewInterpreterError builds an InterpreterError from the 4-tuple
// [file, line, message, trace] carried by a reverse ERROR record, combined
// with the host-side stack trace captured at operation submission time.
func NewInterpreterError(file string, line int, message, trace string, hostTrace []byte) *InterpreterError {
	return &InterpreterError{
		Message:   message,
		File:      file,
		Line:      line,
		PHPTrace:  trace,
		hostTrace: hostTrace,
		parsed:    ParseTrace(trace),
	}
}

func (e *InterpreterError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s in %s:%d", e.Message, e.File, e.Line)
	}
	return e.Message
}

// Frames returns the parsed PHP stack trace.
func (e *InterpreterError) Frames() []StackFrame { return e.parsed }

// Stack synthesizes a host-style stack trace: the PHP frames, each
// rewritten with the "#N " marker replaced by "    at ", followed by the
// host trace captured when the operation was submitted.
func (e *InterpreterError) Stack() string {
	var b strings.Builder
	b.WriteString(e.Error())
	for _, f := range e.parsed {
		b.WriteString("\n    at ")
		if f.File != "" {
			fmt.Fprintf(&b, "%s (%s:%d)", f.Function, f.File, f.Line)
		} else {
			b.WriteString(f.Function)
		}
	}
	if len(e.hostTrace) > 0 {
		b.WriteByte('\n')
		b.Write(e.hostTrace)
	}
	return b.String()
}

// InterpreterExitError is raised when the PHP process terminated, or the
// control channel closed unexpectedly.
type InterpreterExitError struct {
	ExitCode int
}

// UnknownExitCode is reported when the process's exit status could not be
// observed (failure policy).
const UnknownExitCode = -1

func (e *InterpreterExitError) Error() string {
	if e.ExitCode == UnknownExitCode {
		return "interpreter exited: unknown exit code"
	}
	return fmt.Sprintf("interpreter exited with code %d", e.ExitCode)
}

// InvalidUsageError marks a static misuse of the proxy API, raised
// synchronously and never crossing the wire.
type InvalidUsageError struct {
	Reason string
}

func (e *InvalidUsageError) Error() string { return "invalid bridge usage: " + e.Reason }
