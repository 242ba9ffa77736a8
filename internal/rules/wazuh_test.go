package rules

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wazuhServer(t *testing.T, respond func(event string) (int, any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/logtest", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)

		var req logtestRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, body := respond(req.Event)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestWazuh(url string) *WazuhClient {
	return NewWazuhClient(WazuhConfig{URL: url + "/", User: "admin", Password: "secret", Timeout: time.Second}, nil)
}

func TestWazuhConfirmsOnAnyAlertField(t *testing.T) {
	srv := wazuhServer(t, func(event string) (int, any) {
		switch event {
		case "total":
			return http.StatusOK, map[string]any{"total_alerts": 1}
		case "hits":
			return http.StatusOK, map[string]any{"hits": 3}
		case "data":
			return http.StatusOK, map[string]any{"data": []any{map[string]any{"rule": 5710}}}
		default:
			return http.StatusOK, map[string]any{"total_alerts": 0, "data": []any{}}
		}
	})
	w := newTestWazuh(srv.URL)
	ctx := context.Background()

	assert.True(t, w.Confirms(ctx, "total"))
	assert.True(t, w.Confirms(ctx, "hits"))
	assert.True(t, w.Confirms(ctx, "data"))
	assert.False(t, w.Confirms(ctx, "quiet"))
	assert.True(t, w.Enabled())
}

func TestWazuhErrorsCountAsNoAlert(t *testing.T) {
	srv := wazuhServer(t, func(string) (int, any) {
		return http.StatusForbidden, map[string]string{"error": "denied"}
	})
	assert.False(t, newTestWazuh(srv.URL).Confirms(context.Background(), "line"))

	unreachable := NewWazuhClient(WazuhConfig{URL: "http://127.0.0.1:1", User: "a", Password: "b", Timeout: 100 * time.Millisecond}, nil)
	assert.False(t, unreachable.Confirms(context.Background(), "line"))
}

func TestResolvePrefersWazuh(t *testing.T) {
	engine, err := Resolve(Settings{WazuhURL: "http://wazuh", WazuhUser: "u", WazuhPassword: "p"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "wazuh", engine.Name())
}

func TestResolveFallsBackToPassthrough(t *testing.T) {
	engine, err := Resolve(Settings{WazuhURL: "http://wazuh", SignaturePath: "does-not-exist.yaml"}, nil)
	require.NoError(t, err)
	assert.False(t, engine.Enabled())
	assert.True(t, engine.Confirms(context.Background(), "anything"))
}
