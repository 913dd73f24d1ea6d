package compiler

import (
	"fmt"
	"strings"
)

// ServerError is an infrastructure failure of the compilation service:
// serverErrors in the reply, a transport error, a non-2xx status, or a body
// that is not JSON. It aborts only the affected target.
type ServerError struct {
	Messages []string // serverErrors entries
	Status   int      // HTTP status, when not 2xx
	Body     string   // raw body, when it could not be used
	Err      error
}

func (e *ServerError) Error() string {
	switch {
	case len(e.Messages) > 0:
		return "compilation service error: " + strings.Join(e.Messages, "; ")
	case e.Status != 0:
		return fmt.Sprintf("compilation service returned HTTP %d", e.Status)
	case e.Err != nil:
		return "compilation service: " + e.Err.Error()
	default:
		return "compilation service error"
	}
}

func (e *ServerError) Unwrap() error { return e.Err }

// FatalError means the service rejected the input, or accepted it without
// returning code. It terminates the process with a non-zero status once
// in-flight targets finish.
type FatalError struct {
	Diagnostics []Diagnostic
	Reason      string
}

func (e *FatalError) Error() string {
	if len(e.Diagnostics) == 0 {
		return "fatal compilation error: " + e.Reason
	}
	d := e.Diagnostics[0]
	msg := fmt.Sprintf("fatal compilation error: %s", d.Message())
	if n := len(e.Diagnostics); n > 1 {
		msg += fmt.Sprintf(" (and %d more)", n-1)
	}
	return msg
}

// EmptyOutputError means the service reported success without usable size
// statistics. No file is written.
type EmptyOutputError struct{}

func (e *EmptyOutputError) Error() string {
	return "compilation produced no output"
}
