// Package executor sends HTTP requests with a bounded retry on connection
// failures and timeouts.
//
// Every attempt gets the same timeout and attempts are separated by a constant
// delay. Once any HTTP response is received it is returned to the caller as-is,
// whatever its status code; error responses are never retried.
package executor

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"nbsync/internal/domain"
)

// Outcome is the tri-state result of an execution
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// OutcomeOf classifies an error returned by Do. A nil error, which includes
// error responses from the server, is a success at this layer.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, domain.ErrTransient):
		return OutcomeTransient
	default:
		return OutcomeFatal
	}
}

// Config holds retry settings
type Config struct {
	Attempts int
	Timeout  time.Duration
	Delay    time.Duration
}

// Request is a replayable HTTP request
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewJSONRequest encodes body as JSON. A nil body sends no payload.
func NewJSONRequest(method, url string, body any) (Request, error) {
	req := Request{Method: method, URL: url, Header: make(http.Header)}
	req.Header.Set("Accept", "application/json")
	if body == nil {
		return req, nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		return req, fmt.Errorf("encode %s %s: %w", method, url, err)
	}
	req.Body = data
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err returns an ApplicationError for non-2xx responses
func (r *Response) Err(req Request) error {
	if r.OK() {
		return nil
	}
	return &domain.ApplicationError{
		Method:     req.Method,
		URL:        req.URL,
		StatusCode: r.StatusCode,
		Body:       string(r.Body),
	}
}

// Decode unmarshals the JSON body into v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Executor runs requests against one remote API
type Executor struct {
	client *http.Client
	config Config
	log    zerolog.Logger
}

// New creates an executor around client. A nil client uses NewHTTPClient(true).
func New(client *http.Client, config Config, log zerolog.Logger) *Executor {
	if client == nil {
		client = NewHTTPClient(true)
	}
	if config.Attempts < 1 {
		config.Attempts = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Executor{client: client, config: config, log: log}
}

// NewHTTPClient builds a client; verifyTLS=false accepts self-signed certificates
func NewHTTPClient(verifyTLS bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	//nolint:gosec // self-signed certificates are common on hypervisors and firewalls
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !verifyTLS}
	return &http.Client{Transport: transport}
}

// Do executes req. It returns a Response for any received HTTP response,
// a *domain.TransientError when every attempt failed to get one, and a plain
// error for failures that retrying cannot fix.
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= e.config.Attempts; attempt++ {
		resp, err := e.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !Retryable(err) {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
		}

		lastErr = err
		e.log.Warn().
			Err(err).
			Str("method", req.Method).
			Str("url", req.URL).
			Int("attempt", attempt).
			Int("max_attempts", e.config.Attempts).
			Msg("Request failed")

		if attempt < e.config.Attempts && e.config.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.config.Delay):
			}
		}
	}

	return nil, &domain.TransientError{
		Op:       req.Method,
		URL:      req.URL,
		Attempts: e.config.Attempts,
		Err:      lastErr,
	}
}

func (e *Executor) attempt(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BodyError{StatusCode: resp.StatusCode, Err: err}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// BodyError reports a response whose body could not be read in full. The
// server has already handled the request, so it is never sent again.
type BodyError struct {
	StatusCode int
	Err        error
}

func (e *BodyError) Error() string {
	return fmt.Sprintf("read body of %d response: %v", e.StatusCode, e.Err)
}

func (e *BodyError) Unwrap() error { return e.Err }

// Retryable reports whether err is a connection establishment failure or a
// timeout, the only failures worth another attempt. Nothing that happens
// after a response arrived is retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var bodyErr *BodyError
	if errors.As(err, &bodyErr) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
