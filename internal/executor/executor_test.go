package executor

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbsync/internal/domain"
	"nbsync/internal/logger"
)

func newTestExecutor(attempts int, timeout time.Duration) *Executor {
	return New(http.DefaultClient, Config{Attempts: attempts, Timeout: timeout}, logger.NewTestLogger())
}

func TestDoSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 7}`))
	}))
	defer srv.Close()

	req, err := NewJSONRequest(http.MethodPost, srv.URL, map[string]any{"name": "x"})
	require.NoError(t, err)

	resp, err := newTestExecutor(3, time.Second).Do(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.NoError(t, resp.Err(req))

	var out struct{ ID int }
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, 7, out.ID)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, OutcomeSuccess, OutcomeOf(err))
}

func TestDoErrorResponseNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("database locked"))
	}))
	defer srv.Close()

	req, err := NewJSONRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := newTestExecutor(3, time.Second).Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var appErr *domain.ApplicationError
	require.ErrorAs(t, resp.Err(req), &appErr)
	assert.Equal(t, http.StatusInternalServerError, appErr.StatusCode)
	assert.Equal(t, "database locked", appErr.Body)
}

func TestDoTimeoutRetriedThenTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	req, err := NewJSONRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = newTestExecutor(3, 50*time.Millisecond).Do(context.Background(), req)
	require.Error(t, err)

	var transient *domain.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, 3, transient.Attempts)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, OutcomeTransient, OutcomeOf(err))
	assert.Equal(t, int32(3), calls.Load())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDoRecoversAfterTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	req, err := NewJSONRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := newTestExecutor(3, 100*time.Millisecond).Do(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	req, err := NewJSONRequest(http.MethodGet, "http://"+addr+"/api/", nil)
	require.NoError(t, err)

	_, err = newTestExecutor(2, time.Second).Do(context.Background(), req)
	var transient *domain.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, 2, transient.Attempts)
}

func TestDoMalformedURLIsFatal(t *testing.T) {
	req := Request{Method: http.MethodGet, URL: "http://[::1"}
	_, err := newTestExecutor(3, time.Second).Do(context.Background(), req)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrTransient))
	assert.Equal(t, OutcomeFatal, OutcomeOf(err))
}

func TestDoCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, err := NewJSONRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = newTestExecutor(5, time.Second).Do(ctx, req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(errors.New("x509: certificate signed by unknown authority")))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(&net.OpError{Op: "dial", Err: errors.New("no route to host")}))
	assert.True(t, Retryable(&net.DNSError{Err: "timeout", IsTimeout: true}))
	assert.False(t, Retryable(&net.DNSError{Err: "no such host", IsNotFound: true}))
	assert.True(t, Retryable(io.ErrUnexpectedEOF))
	assert.False(t, Retryable(&BodyError{StatusCode: http.StatusCreated, Err: io.ErrUnexpectedEOF}))
	assert.False(t, Retryable(&BodyError{StatusCode: http.StatusOK, Err: context.DeadlineExceeded}))
}

func TestDoTruncatedResponseNotResent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, buf, err := hj.Hijack()
		require.NoError(t, err)
		_, _ = buf.WriteString("HTTP/1.1 201 Created\r\nContent-Type: application/json\r\nContent-Length: 100\r\n\r\n{\"id\":")
		_ = buf.Flush()
		_ = conn.Close()
	}))
	defer srv.Close()

	req, err := NewJSONRequest(http.MethodPost, srv.URL+"/api/ipam/ip-addresses/", map[string]any{"address": "10.0.0.5/32"})
	require.NoError(t, err)

	resp, err := newTestExecutor(3, time.Second).Do(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, int32(1), calls.Load())

	var bodyErr *BodyError
	require.ErrorAs(t, err, &bodyErr)
	assert.Equal(t, http.StatusCreated, bodyErr.StatusCode)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, OutcomeFatal, OutcomeOf(err))
}
