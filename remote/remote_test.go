package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken = `s3cret`
	testDump  = "-- test\nINSERT INTO wp_options VALUES ('siteurl','https://example.com');\n"
)

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func newTestServer(t *testing.T, server *Server) *httptest.Server {
	t.Helper()
	if server.Token == `` {
		server.Token = testToken
	}
	s := httptest.NewServer(server)
	t.Cleanup(s.Close)
	return s
}

func newTestClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      testToken,
		BackOff:    zeroBackOff,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	}
}

func writeTestDump(t *testing.T) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), `dump.sql`)
	require.NoError(t, os.WriteFile(name, []byte(testDump), 0o600))
	return name
}

// flaky responds with status for the first n requests, then delegates to handler
func flaky(n int, status int, handler http.Handler) (http.Handler, *atomic.Int32) {
	var calls atomic.Int32
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if int(calls.Add(1)) <= n {
			http.Error(w, `unavailable`, status)
			return
		}
		handler.ServeHTTP(w, r)
	}), &calls
}

func TestClient_Send(t *testing.T) {
	dir := t.TempDir()
	var received []string
	s := newTestServer(t, &Server{
		Dir: dir,
		OnReceive: func(_ context.Context, name string) error {
			received = append(received, name)
			return nil
		},
	})

	ack, err := newTestClient(s.URL).Send(context.Background(), writeTestDump(t))
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(testDump))
	assert.Equal(t, hex.EncodeToString(sum[:]), ack.SHA256)
	assert.Equal(t, int64(len(testDump)), ack.Bytes)
	assert.True(t, strings.HasSuffix(ack.Name, `.sql`))

	b, err := os.ReadFile(filepath.Join(dir, ack.Name))
	require.NoError(t, err)
	assert.Equal(t, testDump, string(b))
	assert.Equal(t, []string{filepath.Join(dir, ack.Name)}, received)

	// no temporary files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestClient_Send_retry(t *testing.T) {
	for _, tc := range [...]struct {
		Name   string
		Status int
		Fails  int
		Calls  int32
		Err    int
	}{
		{Name: `unavailable then success`, Status: http.StatusServiceUnavailable, Fails: 2, Calls: 3},
		{Name: `too many requests then success`, Status: http.StatusTooManyRequests, Fails: 1, Calls: 2},
		{Name: `retries exhausted`, Status: http.StatusBadGateway, Fails: 10, Calls: 4, Err: http.StatusBadGateway},
		{Name: `unauthorized not retried`, Status: http.StatusUnauthorized, Fails: 10, Calls: 1, Err: http.StatusUnauthorized},
		{Name: `bad request not retried`, Status: http.StatusBadRequest, Fails: 10, Calls: 1, Err: http.StatusBadRequest},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			handler, calls := flaky(tc.Fails, tc.Status, &Server{Token: testToken, Dir: t.TempDir()})
			s := httptest.NewServer(handler)
			defer s.Close()

			ack, err := newTestClient(s.URL).Send(context.Background(), writeTestDump(t))
			assert.Equal(t, tc.Calls, calls.Load())
			if tc.Err != 0 {
				var statusErr *StatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, tc.Err, statusErr.StatusCode)
				assert.Nil(t, ack)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(len(testDump)), ack.Bytes)
		})
	}
}

func TestClient_Send_badToken(t *testing.T) {
	s := newTestServer(t, &Server{Dir: t.TempDir()})
	c := newTestClient(s.URL)
	c.Token = `wrong`
	_, err := c.Send(context.Background(), writeTestDump(t))
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.False(t, statusErr.Temporary())
}

func TestClient_Receive(t *testing.T) {
	var exports atomic.Int32
	server := &Server{Export: func(_ context.Context, w io.Writer) error {
		exports.Add(1)
		_, err := io.WriteString(w, testDump)
		return err
	}}
	handler, calls := flaky(1, http.StatusInternalServerError, server)
	server.Token = testToken
	s := httptest.NewServer(handler)
	defer s.Close()

	name := filepath.Join(t.TempDir(), `received.sql`)
	n, err := newTestClient(s.URL).Receive(context.Background(), name)
	require.NoError(t, err)
	assert.Equal(t, int64(len(testDump)), n)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), exports.Load())

	b, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, testDump, string(b))
}

func TestClient_Receive_truncated(t *testing.T) {
	var exports atomic.Int32
	s := newTestServer(t, &Server{Export: func(_ context.Context, w io.Writer) error {
		exports.Add(1)
		if _, err := io.WriteString(w, testDump); err != nil {
			return err
		}
		return errors.New(`source went away`)
	}})

	c := newTestClient(s.URL)
	c.MaxRetries = 1
	_, err := c.Receive(context.Background(), filepath.Join(t.TempDir(), `received.sql`))
	require.Error(t, err)
	assert.Equal(t, int32(2), exports.Load())
}

func TestClient_timeout(t *testing.T) {
	var calls atomic.Int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer s.Close()

	c := newTestClient(s.URL)
	c.Timeout = 50 * time.Millisecond
	c.MaxRetries = 1
	_, err := c.Receive(context.Background(), filepath.Join(t.TempDir(), `received.sql`))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handler, calls := flaky(100, http.StatusServiceUnavailable, http.NotFoundHandler())
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		handler.ServeHTTP(w, r)
	}))
	defer s.Close()

	_, err := newTestClient(s.URL).Send(ctx, writeTestDump(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestServer_rateLimit(t *testing.T) {
	s := newTestServer(t, &Server{
		Limiter: NewLimiter(2),
		Export: func(_ context.Context, w io.Writer) error {
			_, err := io.WriteString(w, testDump)
			return err
		},
	})

	get := func() *http.Response {
		req, err := http.NewRequest(http.MethodGet, s.URL+PathExport, nil)
		require.NoError(t, err)
		req.Header.Set(`Authorization`, `Bearer `+testToken)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, res.Body)
		require.NoError(t, res.Body.Close())
		return res
	}

	assert.Equal(t, http.StatusOK, get().StatusCode)
	assert.Equal(t, http.StatusOK, get().StatusCode)
	res := get()
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get(`Retry-After`))
}

func TestServer_routes(t *testing.T) {
	server := &Server{Token: testToken}
	for _, tc := range [...]struct {
		Name   string
		Method string
		Path   string
		Auth   string
		Status int
	}{
		{`no auth`, http.MethodGet, PathExport, ``, http.StatusUnauthorized},
		{`wrong scheme`, http.MethodGet, PathExport, `Basic ` + testToken, http.StatusUnauthorized},
		{`not found`, http.MethodGet, `/v1/other`, `Bearer ` + testToken, http.StatusNotFound},
		{`export method`, http.MethodPost, PathExport, `Bearer ` + testToken, http.StatusMethodNotAllowed},
		{`import method`, http.MethodGet, PathImport, `Bearer ` + testToken, http.StatusMethodNotAllowed},
		{`export unavailable`, http.MethodGet, PathExport, `Bearer ` + testToken, http.StatusNotImplemented},
		{`import unavailable`, http.MethodPost, PathImport, `Bearer ` + testToken, http.StatusNotImplemented},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			req := httptest.NewRequest(tc.Method, tc.Path, strings.NewReader(`SELECT 1;`))
			if tc.Auth != `` {
				req.Header.Set(`Authorization`, tc.Auth)
			}
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)
			assert.Equal(t, tc.Status, rec.Code)
		})
	}
}

func TestServer_noToken(t *testing.T) {
	rec := httptest.NewRecorder()
	(&Server{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathExport, nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_maxBytes(t *testing.T) {
	dir := t.TempDir()
	req := httptest.NewRequest(http.MethodPost, PathImport, strings.NewReader(testDump))
	req.Header.Set(`Authorization`, `Bearer `+testToken)
	rec := httptest.NewRecorder()
	(&Server{Token: testToken, Dir: dir, MaxBytes: 10}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
