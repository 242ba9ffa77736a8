package httpjson

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "wazuh" || pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"hits": 2})
	}))
	defer srv.Close()

	c := New(time.Second, WithAuth(Auth{Username: "wazuh", Password: "pw"}), WithRetries(3, time.Millisecond))
	var out map[string]int
	require.NoError(t, c.PostJSON(context.Background(), srv.URL, map[string]string{"event": "x"}, &out))
	assert.Equal(t, 2, out["hits"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(time.Second, WithRetries(5, time.Millisecond))
	err := c.PostJSON(context.Background(), srv.URL, nil, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "bad request", apiErr.Body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClientBearerAuthAndGet(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "Bearer token", req.Header.Get("Authorization"))
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"status":"ok"}`)),
			Header:     make(http.Header),
		}, nil
	})}

	c := New(time.Second, WithHTTPClient(hc), WithAuth(Auth{Bearer: "token"}))
	var out struct{ Status string }
	require.NoError(t, c.Do(context.Background(), http.MethodGet, "http://example/health", nil, &out))
	assert.Equal(t, "ok", out.Status)
}

func TestClientEmptyEndpoint(t *testing.T) {
	assert.Error(t, New(0).PostJSON(context.Background(), "", nil, nil))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "http://h/logtest", Join("http://h/", "logtest"))
	assert.Equal(t, "http://h/a/b", Join("http://h", "/a/b"))
	assert.Equal(t, "http://h", Join("http://h/", ""))
}
