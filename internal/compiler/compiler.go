// Package compiler submits payloads to the Closure Compiler web service and
// classifies its responses.
package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/G33kDude/pxt-blockly/internal/assemble"
)

const (
	// DefaultEndpoint is the public Closure Compiler service.
	DefaultEndpoint = "https://closure-compiler.appspot.com/compile"
	// DefaultTimeout bounds a single compile request.
	DefaultTimeout = 2 * time.Minute

	maxBodySize = 64 << 20

	// CompilationLevel is the only optimization level requested.
	CompilationLevel = "SIMPLE_OPTIMIZATIONS"
)

// Options tunes one compile request.
type Options struct {
	// UseClosureLibrary lets the service supply Closure Library sources
	// excluded from the payload.
	UseClosureLibrary bool
}

// Client talks to the compilation service.
type Client struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewClient creates a client for endpoint. An empty endpoint selects
// DefaultEndpoint and a non-positive timeout selects DefaultTimeout.
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Endpoint returns the URL requests are posted to.
func (c *Client) Endpoint() string { return c.endpoint }

// Form encodes a payload as the service's URL-encoded request body.
// Fragments appear as js_code fields in payload order.
func Form(p *assemble.Payload, opts Options) url.Values {
	form := url.Values{}
	form.Set("compilation_level", CompilationLevel)
	if opts.UseClosureLibrary {
		form.Set("use_closure_library", "true")
	}
	form.Set("output_format", "json")
	for _, info := range []string{"compiled_code", "warnings", "errors", "statistics"} {
		form.Add("output_info", info)
	}
	form.Set("warning_level", "DEFAULT")
	for _, f := range p.Fragments {
		form.Add("js_code", f.Code)
	}
	return form
}

// Compile posts the payload and classifies the response. The parsed
// response is returned together with any classification error, so callers
// can still report warnings from a response that carried no usable output.
//
// Errors are *ServerError for transport failures, non-2xx statuses,
// unparseable bodies and serverErrors; *FatalError for rejected input or a
// missing compiledCode; *EmptyOutputError for missing or zero statistics.
func (c *Client) Compile(ctx context.Context, p *assemble.Payload, opts Options) (*Response, error) {
	body := Form(p, opts).Encode()

	c.logger.Debug("compiling",
		"endpoint", c.endpoint,
		"fragments", len(p.Fragments),
		"bytes", p.Size(),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ServerError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &ServerError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	c.logger.Debug("compile response",
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServerError{Status: resp.StatusCode, Body: string(data)}
	}

	return Decode(data)
}

// Decode parses and classifies a raw service response.
func Decode(data []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &ServerError{Body: string(data), Err: fmt.Errorf("could not parse JSON: %w", err)}
	}
	return &r, r.Err()
}
