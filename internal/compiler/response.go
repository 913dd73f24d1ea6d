package compiler

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Response is the service's JSON reply. Exactly one of ServerErrors,
// Errors, or the success fields is meaningful; see Err.
type Response struct {
	ServerErrors []ServerMessage `json:"serverErrors,omitempty"`
	Errors       []Diagnostic    `json:"errors,omitempty"`
	Warnings     []Diagnostic    `json:"warnings,omitempty"`
	CompiledCode *string         `json:"compiledCode,omitempty"`
	Statistics   *Statistics     `json:"statistics,omitempty"`
}

// ServerMessage is one entry of serverErrors.
type ServerMessage struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// Diagnostic is one compiler error or warning.
type Diagnostic struct {
	Type    string `json:"type,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"lineno"`
	Char    int    `json:"charno"`
	Source  string `json:"line,omitempty"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// Message returns the diagnostic text.
func (d Diagnostic) Message() string {
	if d.Error != "" {
		return d.Error
	}
	return d.Warning
}

// Statistics compares payload and compiled sizes in bytes.
type Statistics struct {
	OriginalSize   int `json:"originalSize"`
	CompressedSize int `json:"compressedSize"`
}

// Valid reports whether both sizes are positive.
func (s *Statistics) Valid() bool {
	return s != nil && s.OriginalSize > 0 && s.CompressedSize > 0
}

// Report renders the size change line, rounding half up.
func (s *Statistics) Report() string {
	originalKB := int(float64(s.OriginalSize)/1024 + 0.5)
	compressedKB := int(float64(s.CompressedSize)/1024 + 0.5)
	ratio := int(float64(s.CompressedSize)/float64(s.OriginalSize)*100 + 0.5)
	return fmt.Sprintf("Size changed from %d KB to %d KB (%d%%).", originalKB, compressedKB, ratio)
}

// Code returns the compiled code, or "" when absent.
func (r *Response) Code() string {
	if r.CompiledCode == nil {
		return ""
	}
	return *r.CompiledCode
}

// Err classifies the response. The tagged shapes are checked in order:
// serverErrors, errors, then the success fields.
func (r *Response) Err() error {
	if len(r.ServerErrors) > 0 {
		msgs := make([]string, len(r.ServerErrors))
		for i, m := range r.ServerErrors {
			msgs[i] = m.Error
		}
		return &ServerError{Messages: msgs}
	}
	if len(r.Errors) > 0 {
		return &FatalError{Diagnostics: r.Errors}
	}
	if r.CompiledCode == nil {
		return &FatalError{Reason: "Compiler did not return compiledCode."}
	}
	if !r.Statistics.Valid() {
		return &EmptyOutputError{}
	}
	return nil
}

// Succeeded reports whether the response reached the success branch, in
// which warnings are reported even if the output turns out unusable.
func (r *Response) Succeeded() bool {
	return len(r.ServerErrors) == 0 && len(r.Errors) == 0
}

// FileLookup maps a diagnostic file reference "Input_<n>" to the name of
// the n-th submitted fragment. Anything else resolves to "???".
func FileLookup(names []string, file string) string {
	rest, ok := strings.CutPrefix(file, "Input_")
	if !ok {
		return "???"
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 || n >= len(names) {
		return "???"
	}
	return names[n]
}

// WriteDiagnostic prints a labelled diagnostic followed, when it names a
// file, by the attributed location, the offending line, and a caret under
// the reported column.
func WriteDiagnostic(w io.Writer, label string, d Diagnostic, names []string) {
	fmt.Fprintln(w, label)
	fmt.Fprintln(w, d.Message())
	if d.File == "" {
		return
	}
	fmt.Fprintf(w, "%s at line %d:\n", FileLookup(names, d.File), d.Line)
	fmt.Fprintln(w, d.Source)
	fmt.Fprintln(w, strings.Repeat(" ", max(d.Char, 0))+"^")
}
