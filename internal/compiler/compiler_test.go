package compiler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G33kDude/pxt-blockly/internal/assemble"
)

func testPayload() *assemble.Payload {
	return &assemble.Payload{Fragments: []assemble.Fragment{
		{Name: "core/a.js", Code: "var a = 1;\n"},
		{Name: "core/b.js", Code: "var b = a + 1;\n"},
	}}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/compile", 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func TestCompileRequestForm(t *testing.T) {
	t.Parallel()

	forms := make(chan url.Values, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/compile", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		forms <- r.PostForm
		respond(`{"compiledCode":"var a=1;","statistics":{"originalSize":10,"compressedSize":5}}`)(w, r)
	})

	_, err := c.Compile(context.Background(), testPayload(), Options{UseClosureLibrary: true})
	require.NoError(t, err)
	got := <-forms

	assert.Equal(t, "SIMPLE_OPTIMIZATIONS", got.Get("compilation_level"))
	assert.Equal(t, "true", got.Get("use_closure_library"))
	assert.Equal(t, "json", got.Get("output_format"))
	assert.Equal(t, []string{"compiled_code", "warnings", "errors", "statistics"}, got["output_info"])
	assert.Equal(t, "DEFAULT", got.Get("warning_level"))
	assert.Equal(t, []string{"var a = 1;\n", "var b = a + 1;\n"}, got["js_code"])
}

func TestFormWithoutClosureLibrary(t *testing.T) {
	t.Parallel()

	form := Form(testPayload(), Options{})
	_, ok := form["use_closure_library"]
	assert.False(t, ok)
}

func TestCompileSuccess(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, respond(`{
		"compiledCode": "var a=1;",
		"warnings": [{"type":"JSC_X","file":"Input_1","lineno":1,"charno":4,"line":"var b = a + 1;","warning":"suspicious"}],
		"statistics": {"originalSize": 1000, "compressedSize": 400}
	}`))

	resp, err := c.Compile(context.Background(), testPayload(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "var a=1;", resp.Code())
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, "suspicious", resp.Warnings[0].Message())
	assert.Equal(t, "Size changed from 1 KB to 0 KB (40%).", resp.Statistics.Report())
}

func TestCompileServerErrors(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, respond(`{"serverErrors":[{"code":22,"error":"Too many compiles"}]}`))

	_, err := c.Compile(context.Background(), testPayload(), Options{})
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"Too many compiles"}, se.Messages)
}

func TestCompileFatalErrors(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, respond(`{
		"errors": [{"type":"JSC_PARSE_ERROR","file":"Input_0","lineno":3,"charno":5,"line":"var x = ;","error":"Parse error."}],
		"compiledCode": ""
	}`))

	resp, err := c.Compile(context.Background(), testPayload(), Options{})
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	require.Len(t, fe.Diagnostics, 1)
	assert.Equal(t, 3, fe.Diagnostics[0].Line)
	assert.False(t, resp.Succeeded())
}

func TestCompileMissingCode(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, respond(`{"statistics":{"originalSize":10,"compressedSize":5}}`))

	_, err := c.Compile(context.Background(), testPayload(), Options{})
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "Compiler did not return compiledCode.")
}

func TestCompileEmptyStatistics(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"zero sizes": `{"compiledCode":"","statistics":{"originalSize":0,"compressedSize":0}}`,
		"missing":    `{"compiledCode":"x"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, respond(body))
			resp, err := c.Compile(context.Background(), testPayload(), Options{})
			var ee *EmptyOutputError
			require.ErrorAs(t, err, &ee)
			assert.True(t, resp.Succeeded())
		})
	}
}

func TestCompileInvalidJSON(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, respond(`<html>Service Unavailable</html>`))

	_, err := c.Compile(context.Background(), testPayload(), Options{})
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "<html>Service Unavailable</html>", se.Body)
}

func TestCompileHTTPStatus(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	_, err := c.Compile(context.Background(), testPayload(), Options{})
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Status)
	assert.Contains(t, se.Body, "quota exceeded")
}

func TestCompileTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c := NewClient(endpoint, time.Second, nil)
	_, err := c.Compile(context.Background(), testPayload(), Options{})
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.NotNil(t, se.Err)
}

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	c := NewClient("", 0, nil)
	assert.Equal(t, DefaultEndpoint, c.Endpoint())
	assert.Equal(t, DefaultTimeout, c.client.Timeout)
}

func TestFileLookup(t *testing.T) {
	t.Parallel()

	names := []string{"[goog.provide]", "blocks/logic.js"}
	tests := map[string]string{
		"Input_0":  "[goog.provide]",
		"Input_1":  "blocks/logic.js",
		"Input_2":  "???",
		"Input_x":  "???",
		"Input_-1": "???",
		"externs":  "???",
		"":         "???",
	}
	for file, want := range tests {
		assert.Equal(t, want, FileLookup(names, file), file)
	}
}

func TestWriteDiagnostic(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	WriteDiagnostic(&buf, "FATAL ERROR", Diagnostic{
		File:   "Input_0",
		Line:   3,
		Char:   5,
		Source: "var x = ;",
		Error:  "Parse error.",
	}, []string{"core/a.js"})

	assert.Equal(t, "FATAL ERROR\nParse error.\ncore/a.js at line 3:\nvar x = ;\n     ^\n", buf.String())
}

func TestWriteDiagnosticWithoutFile(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	WriteDiagnostic(&buf, "WARNING", Diagnostic{Warning: "global this"}, nil)
	assert.Equal(t, "WARNING\nglobal this\n", buf.String())
}

func TestStatisticsReport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		stats Statistics
		want  string
	}{
		{Statistics{1000, 400}, "Size changed from 1 KB to 0 KB (40%)."},
		{Statistics{2048000, 512000}, "Size changed from 2000 KB to 500 KB (25%)."},
		{Statistics{3000, 1000}, "Size changed from 3 KB to 1 KB (33%)."},
		{Statistics{1536, 1000}, "Size changed from 2 KB to 1 KB (65%)."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.stats.Report())
	}
}
