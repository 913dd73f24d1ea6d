// Package build runs build targets concurrently and folds their outcomes
// into a process exit status.
package build

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/G33kDude/pxt-blockly/internal/compiler"
	"github.com/G33kDude/pxt-blockly/internal/config"
	"github.com/G33kDude/pxt-blockly/internal/graph"
	"github.com/G33kDude/pxt-blockly/internal/i18n"
	"github.com/G33kDude/pxt-blockly/internal/parse"
)

// Severity ranks the outcome of a task.
type Severity int

const (
	OK Severity = iota
	// Warning outcomes are reported but do not affect the exit status.
	Warning
	// TargetFailed means the artifact was not produced; siblings continue.
	TargetFailed
	// Fatal means the input was rejected; the process exits non-zero once
	// in-flight tasks finish.
	Fatal
)

func (s Severity) String() string {
	switch s {
	case OK:
		return "ok"
	case Warning:
		return "warning"
	case TargetFailed:
		return "failed"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Exit statuses.
const (
	ExitOK           = 0
	ExitFatal        = 1
	ExitTargetFailed = 2
)

// Classify maps a task error to its severity.
func Classify(err error) Severity {
	if err == nil {
		return OK
	}

	var (
		fatal     *compiler.FatalError
		step      *i18n.StepError
		parseErr  *parse.ParseError
		missing   *MissingOutputError
		server    *compiler.ServerError
		empty     *compiler.EmptyOutputError
		cycle     *graph.CyclicDependencyError
		unresolve *graph.UnresolvedDependencyError
		dup       *graph.DuplicateProvideError
	)
	switch {
	case errors.As(err, &fatal), errors.As(err, &step):
		return Fatal
	case errors.As(err, &server), errors.As(err, &empty),
		errors.As(err, &cycle), errors.As(err, &unresolve), errors.As(err, &dup):
		return TargetFailed
	case errors.As(err, &parseErr), errors.As(err, &missing):
		return Warning
	default:
		return TargetFailed
	}
}

// Env holds the read-only inputs shared by every task. Tasks must not
// mutate it.
type Env struct {
	Config  *config.Config
	Version string
	Client  *compiler.Client
	Logger  *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Task produces one artifact (or one batch of artifacts, for the
// localization pipeline). Run writes its user-facing report to r.
type Task interface {
	Name() string
	Run(ctx context.Context, env *Env, r *Report) error
}

// Result is the outcome of one task.
type Result struct {
	Task     string
	Err      error
	Severity Severity
	Duration time.Duration
}

// ExitCode folds task results into a process exit status: 1 if any task
// was fatal, otherwise 2 if any target failed, otherwise 0.
func ExitCode(results []Result) int {
	code := ExitOK
	for _, r := range results {
		switch r.Severity {
		case Fatal:
			return ExitFatal
		case TargetFailed:
			code = ExitTargetFailed
		}
	}
	return code
}

// Orchestrator runs tasks concurrently. Each task's report is flushed to
// Out as one block when the task finishes.
type Orchestrator struct {
	Env  *Env
	Out  io.Writer
	Jobs int // maximum concurrent tasks; 0 means unlimited

	mu sync.Mutex
}

// Run starts every task and waits for all of them. A failing task never
// cancels its siblings.
func (o *Orchestrator) Run(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))

	var g errgroup.Group
	if o.Jobs > 0 {
		g.SetLimit(o.Jobs)
	}

	for i, t := range tasks {
		g.Go(func() error {
			start := time.Now()
			rep := &Report{}
			err := t.Run(ctx, o.Env, rep)
			o.flush(rep)

			sev := Classify(err)
			results[i] = Result{Task: t.Name(), Err: err, Severity: sev, Duration: time.Since(start)}
			o.logger().Debug("task finished",
				"task", t.Name(),
				"severity", sev.String(),
				"duration", results[i].Duration,
			)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (o *Orchestrator) flush(r *Report) {
	if r.Len() == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := r.WriteTo(o.Out); err != nil {
		o.logger().Error("writing report", "error", err)
	}
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Env == nil {
		return slog.Default()
	}
	return o.Env.logger()
}
