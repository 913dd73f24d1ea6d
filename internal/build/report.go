package build

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/G33kDude/pxt-blockly/internal/compiler"
	"github.com/G33kDude/pxt-blockly/internal/i18n"
)

// Report buffers one task's console output so blocks from concurrent
// tasks never interleave.
type Report struct {
	buf bytes.Buffer
}

// Printf appends formatted text.
func (r *Report) Printf(format string, args ...any) {
	fmt.Fprintf(&r.buf, format, args...)
}

// Println appends a line.
func (r *Report) Println(args ...any) {
	fmt.Fprintln(&r.buf, args...)
}

// Write implements io.Writer.
func (r *Report) Write(p []byte) (int, error) {
	return r.buf.Write(p)
}

// Len returns the number of buffered bytes.
func (r *Report) Len() int { return r.buf.Len() }

// String returns the buffered text.
func (r *Report) String() string { return r.buf.String() }

// WriteTo drains the buffer into w.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	return r.buf.WriteTo(w)
}

// MissingOutputError lists expected outputs that a pipeline step did not
// create.
type MissingOutputError struct {
	Files []string
}

func (e *MissingOutputError) Error() string {
	return "failed to create " + strings.Join(e.Files, ", ")
}

// writeError prints a classified message for err. names maps compiler
// diagnostics back to submitted fragments.
func writeError(r *Report, target string, err error, names []string) {
	var (
		server *compiler.ServerError
		fatal  *compiler.FatalError
		empty  *compiler.EmptyOutputError
		step   *i18n.StepError
	)

	switch {
	case errors.As(err, &server):
		switch {
		case len(server.Messages) > 0:
			for _, msg := range server.Messages {
				r.Printf("SERVER ERROR: %s\n", target)
				r.Println(msg)
			}
		case server.Body != "" && server.Status == 0:
			r.Printf("ERROR: Could not parse JSON for %s.  Raw data:\n", target)
			r.Println(server.Body)
		case server.Status != 0:
			r.Printf("SERVER ERROR: %s\n", target)
			r.Printf("HTTP %d\n", server.Status)
			if body := strings.TrimSpace(server.Body); body != "" {
				r.Println(body)
			}
		default:
			r.Printf("SERVER ERROR: %s\n", target)
			r.Println(server.Err)
		}

	case errors.As(err, &fatal):
		if len(fatal.Diagnostics) == 0 {
			r.Printf("FATAL ERROR: %s\n", fatal.Reason)
			return
		}
		for _, d := range fatal.Diagnostics {
			compiler.WriteDiagnostic(r, "FATAL ERROR", d, names)
		}

	case errors.As(err, &empty):
		r.Printf("UNKNOWN ERROR: %s\n", target)

	case errors.As(err, &step):
		r.Printf("Error running %s: %v\n", step.Step, step.Err)
		if out := strings.TrimSpace(step.Output); out != "" {
			r.Println(out)
		}

	default:
		r.Printf("ERROR: %s\n", target)
		r.Println(err)
	}
}
