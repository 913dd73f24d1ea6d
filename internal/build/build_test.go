package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G33kDude/pxt-blockly/internal/compiler"
	"github.com/G33kDude/pxt-blockly/internal/config"
	"github.com/G33kDude/pxt-blockly/internal/graph"
	"github.com/G33kDude/pxt-blockly/internal/i18n"
	"github.com/G33kDude/pxt-blockly/internal/logging"
	"github.com/G33kDude/pxt-blockly/internal/parse"
	"github.com/G33kDude/pxt-blockly/internal/postprocess"
)

var fixture = map[string]string{
	"core/requires.js":  "goog.provide('Blockly.requires');\ngoog.require('Blockly');\ngoog.require('Blockly.Block');\n",
	"core/blockly.js":   "goog.provide('Blockly');\ngoog.require('goog.dom');\nBlockly.VERSION = 'uncompiled';\n",
	"core/block.js":     "goog.provide('Blockly.Block');\ngoog.require('Blockly');\ngoog.requireType('Blockly.Xml');\n",
	"core/colours.js":   "goog.provide('Blockly.Colours');\n",
	"core/constants.js": "goog.provide('Blockly.constants');\n",

	"closure/goog/base.js":    "var goog = goog || {};\n",
	"closure/goog/dom/dom.js": "goog.provide('goog.dom');\n",

	"blocks/math.js":  "Blockly.Blocks.math = {};\n",
	"blocks/logic.js": "Blockly.Blocks.logic = {};\n",

	"generators/javascript.js":       "Blockly.JavaScript = new Blockly.Generator('JavaScript');\n",
	"generators/javascript/math.js":  "Blockly.JavaScript.math = {};\n",
	"generators/javascript/logic.js": "Blockly.JavaScript.logic = {};\n",
}

func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range fixture {
		writeFile(t, dir, rel, content)
	}
	return dir
}

func newEnv(t *testing.T, dir string, handler http.HandlerFunc) *Env {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = dir
	cfg.SearchPaths = []string{"core", "closure/goog"}
	cfg.ClosurePrefixes = []string{"closure"}
	cfg.Generators = []string{"javascript"}

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logging.NewDiscardLogger()
	return &Env{
		Config:  cfg,
		Version: "1.2.3",
		Client:  compiler.NewClient(srv.URL+"/compile", 5*time.Second, logger),
		Logger:  logger,
	}
}

// compileRequest captures the fields of one compile request.
type compileRequest struct {
	closureLibrary bool
	code           []string
}

func respondJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func run(t *testing.T, env *Env, tasks ...Task) ([]Result, string) {
	t.Helper()
	var out bytes.Buffer
	o := &Orchestrator{Env: env, Out: &out}
	results := o.Run(context.Background(), tasks)
	return results, out.String()
}

func readArtifact(t *testing.T, env *Env, name string) string {
	t.Helper()
	data, err := os.ReadFile(env.Config.OutputPath(name))
	require.NoError(t, err)
	return string(data)
}

func coreTask(env *Env) Task {
	tasks, _ := Tasks(env.Config, []Group{Core})
	return tasks[1]
}

func blocksTask(env *Env) Task {
	tasks, _ := Tasks(env.Config, []Group{Core})
	return tasks[2]
}

func TestCompileSuccessWritesArtifact(t *testing.T) {
	t.Parallel()

	dir := newProject(t)
	requests := make(chan compileRequest, 1)
	env := newEnv(t, dir, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		requests <- compileRequest{
			closureLibrary: r.PostForm.Get("use_closure_library") == "true",
			code:           r.PostForm["js_code"],
		}
		respondJSON(`{
			"compiledCode": "var Blockly={Blocks:{}};\nBlockly.Blocks.logic={};",
			"statistics": {"originalSize": 1000, "compressedSize": 400}
		}`)(w, r)
	})

	results, out := run(t, env, blocksTask(env))

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, ExitOK, ExitCode(results))

	assert.Equal(t, postprocess.Header+"\nBlockly.Blocks.logic={};", readArtifact(t, env, BlocksFile))
	assert.Equal(t, "SUCCESS: blocks_compressed.js\nSize changed from 1 KB to 0 KB (40%).\n", out)

	req := <-requests
	assert.False(t, req.closureLibrary)
	require.Len(t, req.code, 5)
	assert.True(t, strings.HasPrefix(req.code[0], "\ngoog.provide('Blockly');\ngoog.provide('Blockly.Blocks');\n"))
	assert.Equal(t, []string{
		fixture["blocks/logic.js"],
		fixture["blocks/math.js"],
		fixture["core/colours.js"],
		fixture["core/constants.js"],
	}, req.code[1:])
}

func TestCoreCompressedPayload(t *testing.T) {
	t.Parallel()

	dir := newProject(t)
	requests := make(chan compileRequest, 1)
	env := newEnv(t, dir, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		requests <- compileRequest{
			closureLibrary: r.PostForm.Get("use_closure_library") == "true",
			code:           r.PostForm["js_code"],
		}
		respondJSON(`{"compiledCode":"x","statistics":{"originalSize":10,"compressedSize":5}}`)(w, r)
	})

	results, _ := run(t, env, coreTask(env))
	require.NoError(t, results[0].Err)

	req := <-requests
	assert.True(t, req.closureLibrary)
	// Closure files are resolved but left to the service.
	assert.Equal(t, []string{
		"goog.provide('Blockly');\ngoog.require('goog.dom');\nBlockly.VERSION = '1.2.3';\n",
		"goog.provide('Blockly.Block');\ngoog.require('Blockly');\n",
		fixture["core/requires.js"],
	}, req.code)
}

func TestCompileFatalErrorReportsCaret(t *testing.T) {
	t.Parallel()

	dir := newProject(t)
	env := newEnv(t, dir, respondJSON(`{
		"errors": [{"type":"JSC_PARSE_ERROR","file":"Input_0","lineno":3,"charno":5,"line":"Blockly.VERSION = ;","error":"Parse error. syntax error"}]
	}`))

	results, out := run(t, env, coreTask(env))

	var fatal *compiler.FatalError
	require.ErrorAs(t, results[0].Err, &fatal)
	assert.Equal(t, Fatal, results[0].Severity)
	assert.Equal(t, ExitFatal, ExitCode(results))
	assert.Equal(t, "FATAL ERROR\nParse error. syntax error\ncore/blockly.js at line 3:\nBlockly.VERSION = ;\n     ^\n", out)

	_, err := os.Stat(env.Config.OutputPath(CoreFile))
	assert.True(t, os.IsNotExist(err), "no artifact on fatal error")
}

func TestServerErrorDoesNotStopSiblings(t *testing.T) {
	t.Parallel()

	dir := newProject(t)
	env := newEnv(t, dir, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if strings.Contains(r.PostForm.Get("js_code"), "goog.provide('Blockly.Blocks')") {
			respondJSON(`{"serverErrors":[{"code":22,"error":"Too many compiles performed recently."}]}`)(w, r)
			return
		}
		respondJSON(`{"compiledCode":"var Blockly={};\nBlockly.utils.global={};\nBlockly.utils.string={};\nBlockly.JavaScript={};","statistics":{"originalSize":2048,"compressedSize":1024}}`)(w, r)
	})

	tasks, err := Tasks(env.Config, []Group{Generators})
	require.NoError(t, err)
	results, out := run(t, env, append([]Task{blocksTask(env)}, tasks...)...)

	require.Len(t, results, 2)
	assert.Equal(t, TargetFailed, results[0].Severity)
	assert.Equal(t, OK, results[1].Severity)
	assert.Equal(t, ExitTargetFailed, ExitCode(results))

	assert.Contains(t, out, "SERVER ERROR: blocks_compressed.js\nToo many compiles performed recently.\n")
	assert.Contains(t, out, "SUCCESS: javascript_compressed.js\nSize changed from 2 KB to 1 KB (50%).\n")
	assert.Equal(t, postprocess.Header+"\nBlockly.JavaScript={};", readArtifact(t, env, GeneratorFile("javascript")))

	_, statErr := os.Stat(env.Config.OutputPath(BlocksFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFatalLetsSiblingsFinish(t *testing.T) {
	t.Parallel()

	dir := newProject(t)
	env := newEnv(t, dir, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if r.PostForm.Get("use_closure_library") == "true" {
			respondJSON(`{"errors":[{"file":"Input_1","lineno":1,"charno":0,"line":"goog.provide('Blockly.Block');","error":"bad"}]}`)(w, r)
			return
		}
		respondJSON(`{"compiledCode":"ok();","statistics":{"originalSize":100,"compressedSize":50}}`)(w, r)
	})

	results, out := run(t, env, coreTask(env), blocksTask(env))

	assert.Equal(t, Fatal, results[0].Severity)
	assert.Equal(t, OK, results[1].Severity)
	assert.Equal(t, ExitFatal, ExitCode(results))
	assert.Contains(t, out, "core/block.js at line 1:\ngoog.provide('Blockly.Block');\n^\n")
	assert.Equal(t, postprocess.Header+"\nok();", readArtifact(t, env, BlocksFile))
}

func TestEmptyOutputWritesNothing(t *testing.T) {
	t.Parallel()

	dir := newProject(t)
	env := newEnv(t, dir, respondJSON(`{
		"compiledCode": "",
		"warnings": [{"file":"Input_2","lineno":4,"charno":2,"line":"  x;","warning":"Suspicious code."}],
		"statistics": {"originalSize": 0, "compressedSize": 0}
	}`))

	results, out := run(t, env, blocksTask(env))

	assert.Equal(t, TargetFailed, results[0].Severity)
	assert.Equal(t, "WARNING\nSuspicious code.\nblocks/math.js at line 4:\n  x;\n  ^\n\nUNKNOWN ERROR: blocks_compressed.js\n", out)
	_, err := os.Stat(env.Config.OutputPath(BlocksFile))
	assert.True(t, os.IsNotExist(err))
}

func TestInvalidJSONReportsRawBody(t *testing.T) {
	t.Parallel()

	dir := newProject(t)
	env := newEnv(t, dir, respondJSON(`Service Unavailable`))

	results, out := run(t, env, blocksTask(env))

	assert.Equal(t, TargetFailed, results[0].Severity)
	assert.Equal(t, "ERROR: Could not parse JSON for blocks_compressed.js.  Raw data:\nService Unavailable\n", out)
}

func TestUnresolvedRequirementFailsTarget(t *testing.T) {
	t.Parallel()

	dir := newProject(t)
	writeFile(t, dir, "core/block.js", "goog.provide('Blockly.Block');\ngoog.require('Blockly.Missing');\n")
	env := newEnv(t, dir, func(w http.ResponseWriter, r *http.Request) {
		t.Error("compile service must not be called")
	})

	results, out := run(t, env, coreTask(env))

	var unresolved *graph.UnresolvedDependencyError
	require.ErrorAs(t, results[0].Err, &unresolved)
	assert.Equal(t, TargetFailed, results[0].Severity)
	assert.Contains(t, out, "ERROR: blockly_compressed.js\n")
	assert.Contains(t, out, "Blockly.Missing")
}

func TestLoaderTask(t *testing.T) {
	t.Parallel()

	dir := newProject(t)
	env := newEnv(t, dir, func(w http.ResponseWriter, r *http.Request) {
		t.Error("loader must not call the compile service")
	})

	results, out := run(t, env, &LoaderTask{Output: UncompressedFile})
	require.NoError(t, results[0].Err)
	assert.Equal(t, "SUCCESS: blockly_uncompressed.js\n", out)

	got := readArtifact(t, env, UncompressedFile)
	assert.True(t, strings.HasPrefix(got, postprocess.Header+"\nthis.IS_NODE_JS"))

	lines := []string{
		"goog.addDependency('base.js', [], [], {});",
		"goog.addDependency('dom/dom.js', ['goog.dom'], [], {});",
		"goog.addDependency('../../core/blockly.js', ['Blockly'], ['goog.dom'], {});",
		"goog.addDependency('../../core/block.js', ['Blockly.Block'], ['Blockly'], {});",
		"goog.addDependency('../../core/colours.js', ['Blockly.Colours'], [], {});",
		"goog.addDependency('../../core/constants.js', ['Blockly.constants'], [], {});",
		"goog.addDependency('../../core/requires.js', ['Blockly.requires'], ['Blockly', 'Blockly.Block'], {});",
	}
	last := -1
	for _, line := range lines {
		i := strings.Index(got, line)
		require.GreaterOrEqual(t, i, 0, "missing %q", line)
		assert.Greater(t, i, last, "%q out of order", line)
		last = i
	}
	assert.Contains(t, got, "goog.require('Blockly.requires');")

	// A second run produces identical bytes.
	_, _ = run(t, env, &LoaderTask{Output: UncompressedFile})
	assert.Equal(t, got, readArtifact(t, env, UncompressedFile))
}

func TestLoaderCycle(t *testing.T) {
	t.Parallel()

	dir := newProject(t)
	writeFile(t, dir, "core/colours.js", "goog.provide('Blockly.Colours');\ngoog.require('Blockly.constants');\n")
	writeFile(t, dir, "core/constants.js", "goog.provide('Blockly.constants');\ngoog.require('Blockly.Colours');\n")
	env := newEnv(t, dir, http.NotFound)

	results, out := run(t, env, &LoaderTask{Output: UncompressedFile})

	var cycle *graph.CyclicDependencyError
	require.ErrorAs(t, results[0].Err, &cycle)
	assert.Equal(t, []string{"core/colours.js", "core/constants.js"}, cycle.Modules)
	assert.Contains(t, out, "core/colours.js, core/constants.js")
}

func TestGlobFilesLeadFirst(t *testing.T) {
	t.Parallel()

	dir := newProject(t)
	env := &Env{Config: config.Default()}
	env.Config.BaseDir = dir

	files, err := GlobFiles{
		Lead:     []string{"generators/javascript.js"},
		Patterns: []string{"generators/javascript/*.js", "generators/javascript.js"},
	}.Files(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"generators/javascript.js",
		"generators/javascript/logic.js",
		"generators/javascript/math.js",
	}, files)
}

func TestGlobFilesMissingLead(t *testing.T) {
	t.Parallel()

	env := &Env{Config: config.Default()}
	env.Config.BaseDir = t.TempDir()

	_, err := GlobFiles{Lead: []string{"generators/lua.js"}}.Files(context.Background(), env)
	require.Error(t, err)
}

func TestTasks(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	all, err := Tasks(cfg, AllGroups)
	require.NoError(t, err)
	var names []string
	for _, task := range all {
		names = append(names, task.Name())
	}
	assert.Equal(t, []string{
		"blockly_uncompressed.js",
		"blockly_compressed.js",
		"blocks_compressed.js",
		"javascript_compressed.js",
		"python_compressed.js",
		"php_compressed.js",
		"lua_compressed.js",
		"dart_compressed.js",
		"autohotkey_compressed.js",
		"langfiles",
	}, names)

	gens, err := Tasks(cfg, []Group{Generators, Generators})
	require.NoError(t, err)
	assert.Len(t, gens, len(cfg.Generators))

	cfg.BlocksRemove = "["
	_, err = Tasks(cfg, []Group{Core})
	require.Error(t, err)
}

func TestParseGroup(t *testing.T) {
	t.Parallel()

	g, err := ParseGroup("generators")
	require.NoError(t, err)
	assert.Equal(t, Generators, g)

	_, err = ParseGroup("accessible")
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want Severity
	}{
		{nil, OK},
		{&compiler.FatalError{Reason: "x"}, Fatal},
		{&i18n.StepError{Step: "i18n/js_to_json.py", Err: errors.New("exit 1")}, Fatal},
		{&compiler.ServerError{Messages: []string{"busy"}}, TargetFailed},
		{&compiler.EmptyOutputError{}, TargetFailed},
		{&graph.CyclicDependencyError{Modules: []string{"X", "Y"}}, TargetFailed},
		{&graph.UnresolvedDependencyError{Module: "A", Name: "b"}, TargetFailed},
		{&graph.DuplicateProvideError{Name: "b"}, TargetFailed},
		{fmt.Errorf("wrapped: %w", &compiler.FatalError{Reason: "x"}), Fatal},
		{&parse.ParseError{Path: "core/a.js", Err: errors.New("bad")}, Warning},
		{&MissingOutputError{Files: []string{"msg/js/xx.js"}}, Warning},
		{errors.New("disk full"), TargetFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitOK, ExitCode([]Result{{Severity: OK}, {Severity: Warning}}))
	assert.Equal(t, ExitTargetFailed, ExitCode([]Result{{Severity: OK}, {Severity: TargetFailed}}))
	assert.Equal(t, ExitFatal, ExitCode([]Result{{Severity: TargetFailed}, {Severity: Fatal}, {Severity: OK}}))
}

// blockingTask records how many tasks run at once.
type blockingTask struct {
	name    string
	running chan struct{}
	release chan struct{}
	err     error
}

func (b *blockingTask) Name() string { return b.name }

func (b *blockingTask) Run(_ context.Context, _ *Env, r *Report) error {
	b.running <- struct{}{}
	<-b.release
	r.Printf("%s line 1\n", b.name)
	r.Printf("%s line 2\n", b.name)
	return b.err
}

func TestOrchestratorRunsConcurrentlyWithoutInterleaving(t *testing.T) {
	t.Parallel()

	running := make(chan struct{}, 3)
	release := make(chan struct{})
	tasks := []Task{
		&blockingTask{name: "a", running: running, release: release},
		&blockingTask{name: "b", running: running, release: release, err: &compiler.FatalError{Reason: "x"}},
		&blockingTask{name: "c", running: running, release: release},
	}

	var out bytes.Buffer
	o := &Orchestrator{Env: &Env{Logger: logging.NewDiscardLogger()}, Out: &out}
	done := make(chan []Result)
	go func() { done <- o.Run(context.Background(), tasks) }()

	// All three must be in flight at the same time.
	for range tasks {
		select {
		case <-running:
		case <-time.After(5 * time.Second):
			t.Fatal("tasks did not start concurrently")
		}
	}
	close(release)
	results := <-done

	assert.Equal(t, []string{"a", "b", "c"}, []string{results[0].Task, results[1].Task, results[2].Task})
	assert.Equal(t, ExitFatal, ExitCode(results))
	for _, name := range []string{"a", "b", "c"} {
		assert.Contains(t, out.String(), name+" line 1\n"+name+" line 2\n")
	}
}

func TestWriteArtifactReplaces(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out", "a.js")
	require.NoError(t, writeArtifact(path, "first"))
	require.NoError(t, writeArtifact(path, "second"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not remain")
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
