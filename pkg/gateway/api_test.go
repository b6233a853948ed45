package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nodebridge/relay/pkg/config"
	"github.com/nodebridge/relay/pkg/types"
)

type fakeFallback struct {
	configured bool
	resp       types.Response
}

func (f *fakeFallback) IsConfigured() bool { return f.configured }
func (f *fakeFallback) HealthCheck(ctx context.Context) (bool, string) {
	return f.configured, "fake"
}
func (f *fakeFallback) Execute(ctx context.Context, action string, params types.Params, confirmed bool) types.Response {
	return f.resp
}

func newTestAPI(t *testing.T, fallback FallbackExecutor) *API {
	t.Helper()
	store, err := OpenIdempotencyStore(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	session := NewSession("test-token")
	return NewAPI(session, store, fallback, config.GatewayConfig{})
}

func TestHandleActionRejectsMissingAction(t *testing.T) {
	api := newTestAPI(t, &fakeFallback{})
	req := httptest.NewRequest(http.MethodPost, "/action", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleActionRejectsIdempotencyKeyWithoutTaskID(t *testing.T) {
	api := newTestAPI(t, &fakeFallback{})
	body, _ := json.Marshal(map[string]any{"action": "git_status", "idempotency_key": "k1"})
	req := httptest.NewRequest(http.MethodPost, "/action", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleActionFallsBackToSSHWhenNoAgent(t *testing.T) {
	fallback := &fakeFallback{configured: true, resp: types.Response{Status: "success", Action: "git_status"}}
	api := newTestAPI(t, fallback)

	body, _ := json.Marshal(map[string]any{"action": "git_status"})
	req := httptest.NewRequest(http.MethodPost, "/action", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp types.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "success", resp.Status)
}

func TestHandleActionReturns503WhenNoAgentAndNoFallback(t *testing.T) {
	api := newTestAPI(t, &fakeFallback{configured: false})
	body, _ := json.Marshal(map[string]any{"action": "git_status"})
	req := httptest.NewRequest(http.MethodPost, "/action", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleActionReplaysIdempotentResult(t *testing.T) {
	fallback := &fakeFallback{configured: true, resp: types.Response{Status: "success", Action: "git_status", Result: &types.ExecResult{Stdout: "first"}}}
	api := newTestAPI(t, fallback)

	body, _ := json.Marshal(map[string]any{"action": "git_status", "task_id": "t1", "idempotency_key": "k1"})

	req1 := httptest.NewRequest(http.MethodPost, "/action", bytes.NewBuffer(body))
	w1 := httptest.NewRecorder()
	api.Router().ServeHTTP(w1, req1)
	require.Equal(t, http.StatusOK, w1.Code)

	fallback.resp = types.Response{Status: "success", Action: "git_status", Result: &types.ExecResult{Stdout: "second"}}

	req2 := httptest.NewRequest(http.MethodPost, "/action", bytes.NewBuffer(body))
	w2 := httptest.NewRecorder()
	api.Router().ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)

	var resp types.Response
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp))
	require.True(t, resp.IdempotentReplay)
	require.Equal(t, "first", resp.Result.Stdout)
}

// dialFakeWorker attaches a real websocket client to api's Session,
// standing in for the Worker leg so dispatch() takes the "agent
// connected" path instead of the SSH fallback path.
func dialFakeWorker(t *testing.T, api *API) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(api.session)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{}
	header.Set("Authorization", "Bearer test-token")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, api.session.IsConnected, time.Second, time.Millisecond)
	return conn
}

func TestHandleActionReturns200ForWorkerPolicyError(t *testing.T) {
	api := newTestAPI(t, &fakeFallback{})
	conn := dialFakeWorker(t, api)

	go func() {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req types.Request
		_ = json.Unmarshal(data, &req)
		_ = conn.WriteJSON(types.Response{
			Type:      "action_response",
			RequestID: req.RequestID,
			Action:    req.Action,
			Status:    "error",
			Error:     "Rate limit exceeded: 120 actions per 60s",
		})
	}()

	body, _ := json.Marshal(map[string]any{"action": "git_status"})
	req := httptest.NewRequest(http.MethodPost, "/action", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp types.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "error", resp.Status)
}

func TestHandleActionReturns504OnUpstreamTimeout(t *testing.T) {
	api := newTestAPI(t, &fakeFallback{})
	api.actionTimeout = 20 * time.Millisecond
	dialFakeWorker(t, api) // connected but never answers

	body, _ := json.Marshal(map[string]any{"action": "git_status"})
	req := httptest.NewRequest(http.MethodPost, "/action", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestHandleStatusReportsDisconnected(t *testing.T) {
	api := newTestAPI(t, &fakeFallback{})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, false, body["agent_connected"])
}
