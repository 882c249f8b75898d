package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motor-control/mcn/internal/auth"
	"github.com/motor-control/mcn/internal/command"
	"github.com/motor-control/mcn/internal/config"
	"github.com/motor-control/mcn/internal/drive"
	"github.com/motor-control/mcn/internal/logging"
	"github.com/motor-control/mcn/internal/metrics"
	"github.com/motor-control/mcn/internal/telemetry"
	"github.com/motor-control/mcn/internal/transport"
	"github.com/motor-control/mcn/internal/watchdog"
)

type stubState struct {
	snap command.Snapshot
}

func (s stubState) Snapshot() command.Snapshot { return s.snap }

func activeSnapshot() command.Snapshot {
	return command.Snapshot{
		State:       watchdog.Active,
		RemainingMs: 321,
		LastCommand: "FORWARD 120",
		Output: drive.MotorOutput{
			Left:  drive.SideOutput{Polarity: drive.PolarityForward, Duty: 120},
			Right: drive.SideOutput{Polarity: drive.PolarityForward, Duty: 120},
		},
		Driver: command.DriverInfo{ID: "fake", Model: "fake", Status: "online"},
	}
}

func newTestServer(t *testing.T, state StatePort, tel TelemetryPort, opts ...Option) *httptest.Server {
	t.Helper()
	s := NewServer(config.Default().API, state, tel, logging.NewNop(), opts...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, stubState{snap: activeSnapshot()}, nil, WithVersion("1.2.3"))

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, "ok", body["result"])
	assert.NotEmpty(t, body["correlationId"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "1.2.3", data["version"])
	assert.Equal(t, "active", data["watchdog"])
}

func TestHealthDegradedOnDriverFault(t *testing.T) {
	snap := activeSnapshot()
	snap.Driver.Status = "fault"
	srv := newTestServer(t, stubState{snap: snap}, nil)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	data := decode(t, resp)["data"].(map[string]any)
	assert.Equal(t, "degraded", data["status"])
}

func TestState(t *testing.T) {
	srv := newTestServer(t, stubState{snap: activeSnapshot()}, nil)

	resp, err := http.Get(srv.URL + "/api/v1/state")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := decode(t, resp)["data"].(map[string]any)
	assert.Equal(t, "active", data["state"])
	assert.Equal(t, "FORWARD 120", data["lastCommand"])
	assert.EqualValues(t, 321, data["remainingMs"])

	output := data["output"].(map[string]any)
	left := output["left"].(map[string]any)
	assert.Equal(t, "forward", left["polarity"])
	assert.EqualValues(t, 120, left["duty"])
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, stubState{}, nil)

	resp, err := http.Get(srv.URL + "/api/v1/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "error", body["result"])
	assert.Equal(t, CodeNotFound, body["code"])

	resp, err = http.Post(srv.URL+"/api/v1/state", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, CodeMethodNotAllowed, decode(t, resp)["code"])
}

func TestTelemetryDisabled(t *testing.T) {
	srv := newTestServer(t, stubState{}, nil)

	resp, err := http.Get(srv.URL + "/api/v1/telemetry")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, CodeUnavailable, decode(t, resp)["code"])
}

func TestTelemetryStream(t *testing.T) {
	hub := telemetry.NewHub(config.TelemetryConfig{
		HeartbeatInterval: time.Hour,
		EventBufferSize:   8,
		ClientBufferSize:  8,
	})
	t.Cleanup(hub.Stop)
	srv := newTestServer(t, stubState{}, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/telemetry", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream; charset=utf-8", resp.Header.Get("Content-Type"))

	first, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ready\n", first)
}

func TestHealthReportsTelemetryStats(t *testing.T) {
	hub := telemetry.NewHub(config.TelemetryConfig{
		HeartbeatInterval: time.Hour,
		EventBufferSize:   8,
		ClientBufferSize:  8,
	})
	t.Cleanup(hub.Stop)
	require.NoError(t, hub.Publish(telemetry.Event{Type: telemetry.EventCommand}))
	srv := newTestServer(t, stubState{snap: activeSnapshot()}, hub)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := decode(t, resp)["data"].(map[string]any)
	stats := data["telemetry"].(map[string]any)
	assert.Equal(t, float64(1), stats["lastEventId"])
	assert.Equal(t, float64(1), stats["buffered"])
	assert.Equal(t, float64(8), stats["bufferCapacity"])
	assert.Equal(t, float64(0), stats["clients"])
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.CommandApplied("FORWARD", false)
	srv := newTestServer(t, stubState{}, nil, WithMetrics(m.Handler()))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mcn_commands_total")
}

func TestWebSocketEndpoint(t *testing.T) {
	inbox := transport.NewInbox()
	ws := transport.NewWSHandler(64, false, inbox, logging.NewNop(), transport.Hooks{})
	t.Cleanup(func() { ws.Close() })
	srv := newTestServer(t, stubState{}, nil, WithWebSocket(ws))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/drive/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("STOP")))
	require.Eventually(t, func() bool {
		l, ok := inbox.Poll()
		return ok && l.Text == "STOP"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServerListenAndStop(t *testing.T) {
	cfg := config.Default().API
	cfg.Addr = "127.0.0.1:0"
	s := NewServer(cfg, stubState{snap: activeSnapshot()}, nil, logging.NewNop())
	require.NoError(t, s.Listen())

	done := make(chan error, 1)
	go func() { done <- s.Serve() }()

	resp, err := http.Get("http://" + s.Addr().String() + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestAuthProtectsStatusRoutes(t *testing.T) {
	const secret = "status-secret-0123456789"
	v, err := auth.NewVerifier(secret)
	require.NoError(t, err)
	m := metrics.New()
	srv := newTestServer(t, stubState{snap: activeSnapshot()}, nil,
		WithAuth(auth.NewMiddleware(v)), WithMetrics(m.Handler()))

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health stays open")

	resp, err = http.Get(srv.URL + "/api/v1/state")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := auth.Issue(secret, "dashboard", []string{auth.ScopeRead}, time.Minute, time.Now())
	require.NoError(t, err)

	get := func(path string) int {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusOK, get("/api/v1/state"))
	assert.Equal(t, http.StatusForbidden, get("/metrics"))
}
