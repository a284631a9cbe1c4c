package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-relay/internal/domain"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/journal"
	"github.com/nerrad567/gray-logic-relay/internal/metrics"
	"github.com/nerrad567/gray-logic-relay/internal/observe"
	"github.com/nerrad567/gray-logic-relay/internal/queue"
	"github.com/nerrad567/gray-logic-relay/internal/relay"
	"github.com/nerrad567/gray-logic-relay/internal/supervisor"
)

type fakeRelay struct {
	status relay.Status
}

func (f *fakeRelay) Status() relay.Status { return f.status }

type fakeMetrics struct {
	summary metrics.Summary
	err     error
}

func (f *fakeMetrics) Summary(context.Context) (metrics.Summary, error) {
	return f.summary, f.err
}

type fakeJournal struct {
	filter journal.Filter
	result *journal.ListResult
	err    error
}

func (f *fakeJournal) Append(context.Context, ...observe.Event) error { return nil }

func (f *fakeJournal) List(_ context.Context, filter journal.Filter) (*journal.ListResult, error) {
	f.filter = filter
	return f.result, f.err
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func connectedStatus() relay.Status {
	return relay.Status{
		Bus:     supervisor.Stats{Name: "bus", State: domain.StateConnected, Connects: 1},
		Chat:    supervisor.Stats{Name: "chat", State: domain.StateConnected, Connects: 1},
		Queues:  []queue.Depth{{ChatID: "12345", Len: 2}},
		Pending: 2,
	}
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testServer creates a Server over fakes.
func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()

	deps.Logger = testLogger()
	deps.Version = "test"
	if deps.Relay == nil {
		deps.Relay = &fakeRelay{status: connectedStatus()}
	}

	srv, err := New(deps)
	require.NoError(t, err)
	return srv
}

// startServer binds srv to a free local port and closes it after the test.
func startServer(t *testing.T, srv *Server) {
	t.Helper()
	srv.cfg = config.APIConfig{Enabled: true, Host: "127.0.0.1", Port: 0}
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Close() })
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	return serve(t, srv, http.MethodGet, path)
}

func serve(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v), "decoding response")
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_MissingDependencies(t *testing.T) {
	_, err := New(Deps{Relay: &fakeRelay{}})
	assert.ErrorIs(t, err, ErrMissingDependency, "without logger")

	_, err = New(Deps{Logger: testLogger()})
	assert.ErrorIs(t, err, ErrMissingDependency, "without relay")
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth_Connected(t *testing.T) {
	srv := testServer(t, Deps{})

	w := get(t, srv, "/api/v1/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	decode(t, w, &resp)
	assert.Equal(t, HealthResponse{
		Status:  "ok",
		Bus:     "connected",
		Chat:    "connected",
		Pending: 2,
		Version: "test",
	}, resp)
}

func TestHealth_Degraded(t *testing.T) {
	st := connectedStatus()
	st.Bus.State = domain.StateBackoff

	srv := testServer(t, Deps{Relay: &fakeRelay{status: st}})

	w := get(t, srv, "/api/v1/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	decode(t, w, &resp)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "backoff", resp.Bus)
}

func TestHealth_SinkChecks(t *testing.T) {
	var sawDeadline bool
	srv := testServer(t, Deps{Checks: map[string]HealthChecker{
		"journal": checkFunc(func(ctx context.Context) error {
			_, sawDeadline = ctx.Deadline()
			return nil
		}),
		"influxdb": checkFunc(func(context.Context) error {
			return errors.New("influxdb health check: connection refused")
		}),
	}})

	w := get(t, srv, "/api/v1/health")
	require.Equal(t, http.StatusOK, w.Code, "a failing sink must not fail the health check")

	var resp HealthResponse
	decode(t, w, &resp)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, map[string]string{
		"journal":  "ok",
		"influxdb": "influxdb health check: connection refused",
	}, resp.Checks)
	assert.True(t, sawDeadline, "checks run with a timeout")
}

func TestHealth_ChecksPassButBusDown(t *testing.T) {
	st := connectedStatus()
	st.Chat.State = domain.StateConnecting
	srv := testServer(t, Deps{
		Relay:  &fakeRelay{status: st},
		Checks: map[string]HealthChecker{"journal": checkFunc(func(context.Context) error { return nil })},
	})

	w := get(t, srv, "/api/v1/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	decode(t, w, &resp)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, map[string]string{"journal": "ok"}, resp.Checks)
}

// ─── Status Endpoint Tests ─────────────────────────────────────────

func TestStatus_WithMetrics(t *testing.T) {
	m := &fakeMetrics{summary: metrics.Summary{
		Translated: 10,
		Delivered:  8,
		Dropped:    map[string]int64{"queue_overflow": 2},
	}}
	srv := testServer(t, Deps{Metrics: m})

	w := get(t, srv, "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	decode(t, w, &resp)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, domain.StateConnected, resp.Relay.Bus.State)
	assert.Equal(t, []queue.Depth{{ChatID: "12345", Len: 2}}, resp.Relay.Queues)
	require.NotNil(t, resp.Events, "events summary missing")
	assert.Equal(t, int64(8), resp.Events.Delivered)
	assert.Equal(t, int64(2), resp.Events.Dropped["queue_overflow"])
}

func TestStatus_WithoutMetrics(t *testing.T) {
	srv := testServer(t, Deps{})

	w := get(t, srv, "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	decode(t, w, &resp)
	assert.NotContains(t, resp, "events")
}

func TestStatus_MetricsError(t *testing.T) {
	srv := testServer(t, Deps{Metrics: &fakeMetrics{err: errors.New("reader shut down")}})

	w := get(t, srv, "/api/v1/status")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// ─── Events Endpoint Tests ─────────────────────────────────────────

func TestEvents_JournalDisabled(t *testing.T) {
	srv := testServer(t, Deps{})

	w := get(t, srv, "/api/v1/events")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvents_PassesFilter(t *testing.T) {
	j := &fakeJournal{result: &journal.ListResult{
		Events: []observe.Event{{ID: "e1", Kind: observe.KindDropped, Reason: observe.ReasonQueueOverflow, ChatID: "12345"}},
		Total:  1,
		Limit:  10,
		Offset: 5,
	}}
	srv := testServer(t, Deps{Journal: j})

	w := get(t, srv, "/api/v1/events?kind=message_dropped&reason=queue_overflow&chat_id=12345&connection=chat&limit=10&offset=5")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, journal.Filter{
		Kind:       "message_dropped",
		Reason:     "queue_overflow",
		ChatID:     "12345",
		Connection: "chat",
		Limit:      10,
		Offset:     5,
	}, j.filter)

	var resp journal.ListResult
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "e1", resp.Events[0].ID)
}

func TestEvents_InvalidPaging(t *testing.T) {
	srv := testServer(t, Deps{Journal: &fakeJournal{result: &journal.ListResult{}}})

	for _, q := range []string{"limit=abc", "limit=-1", "offset=x"} {
		w := get(t, srv, "/api/v1/events?"+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestEvents_RepositoryError(t *testing.T) {
	srv := testServer(t, Deps{Journal: &fakeJournal{err: errors.New("disk I/O error")}})

	w := get(t, srv, "/api/v1/events")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// ─── Event Stream Tests ────────────────────────────────────────────

// streamFrame mirrors WSMessage with the payload left raw.
type streamFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

func dialStream(t *testing.T, srv *Server, query string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/api/v1/events/ws%s", srv.Addr(), query)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) streamFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f streamFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestEventStream_FiltersByKind(t *testing.T) {
	hub := NewHub(testLogger())
	srv := testServer(t, Deps{Hub: hub})
	startServer(t, srv)

	conn := dialStream(t, srv, "?kinds=message_dropped")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	msg := domain.ChatMessage{ChatID: "12345", Topic: "freezer/status", Seq: 7}
	hub.Record(context.Background(), observe.Delivered(msg, 1))
	hub.Record(context.Background(), observe.Dropped(observe.ReasonQueueOverflow, msg, 0, nil))

	f := readFrame(t, conn)
	assert.Equal(t, WSTypeEvent, f.Type)
	assert.Equal(t, string(observe.KindDropped), f.EventType)

	var e observe.Event
	require.NoError(t, json.Unmarshal(f.Payload, &e))
	assert.Equal(t, observe.ReasonQueueOverflow, e.Reason)
	assert.Equal(t, uint64(7), e.Seq)
}

func TestEventStream_SubscribeAndPing(t *testing.T) {
	hub := NewHub(testLogger())
	srv := testServer(t, Deps{Hub: hub})
	startServer(t, srv)

	conn := dialStream(t, srv, "?kinds=backoff")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Kinds: []observe.Kind{observe.KindConnect}},
	}))
	f := readFrame(t, conn)
	assert.Equal(t, WSTypeResponse, f.Type)
	assert.Equal(t, "1", f.ID)
	assert.JSONEq(t, `{"kinds":["connect","backoff"]}`, string(f.Payload))

	require.NoError(t, conn.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "2",
		Payload: WSSubscribePayload{Kinds: []observe.Kind{observe.KindBackoff}},
	}))
	f = readFrame(t, conn)
	assert.JSONEq(t, `{"kinds":["connect"]}`, string(f.Payload))

	hub.Record(context.Background(), observe.BackingOff(observe.ConnectionBus, 1, time.Second, nil))
	hub.Record(context.Background(), observe.Connected(observe.ConnectionBus))
	f = readFrame(t, conn)
	assert.Equal(t, string(observe.KindConnect), f.EventType)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "3"}))
	f = readFrame(t, conn)
	assert.Equal(t, WSTypePong, f.Type)
	assert.Equal(t, "3", f.ID)

	require.NoError(t, conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "4",
		Payload: WSSubscribePayload{Kinds: []observe.Kind{"message_received"}},
	}))
	f = readFrame(t, conn)
	assert.Equal(t, WSTypeError, f.Type)
	assert.Equal(t, "4", f.ID)
}

func TestEventStream_CloseDisconnectsClients(t *testing.T) {
	hub := NewHub(testLogger())
	srv := testServer(t, Deps{Hub: hub})
	startServer(t, srv)

	conn := dialStream(t, srv, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Close())
	assert.Zero(t, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Recording after close is a no-op.
	hub.Record(context.Background(), observe.Connected(observe.ConnectionChat))
}

func TestEventStream_Disabled(t *testing.T) {
	srv := testServer(t, Deps{})

	w := get(t, srv, "/api/v1/events/ws")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventStream_UnknownKind(t *testing.T) {
	srv := testServer(t, Deps{Hub: NewHub(testLogger())})

	w := get(t, srv, "/api/v1/events/ws?kinds=connect,message_received")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds("")
	require.NoError(t, err)
	assert.Equal(t, observe.Kinds(), kinds)

	kinds, err = parseKinds(" connect , message_dropped")
	require.NoError(t, err)
	assert.Equal(t, []observe.Kind{observe.KindConnect, observe.KindDropped}, kinds)

	_, err = parseKinds("connect,")
	assert.Error(t, err)
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv := testServer(t, Deps{})

	w := get(t, srv, "/api/v1/health")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv := testServer(t, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "healthcheck-1")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	assert.Equal(t, "healthcheck-1", w.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	srv := testServer(t, Deps{Relay: panickingRelay{}})

	w := get(t, srv, "/api/v1/health")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type panickingRelay struct{}

func (panickingRelay) Status() relay.Status { panic("status unavailable") }

func TestNotFound(t *testing.T) {
	srv := testServer(t, Deps{})

	w := get(t, srv, "/api/v1/devices")
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp Error
	decode(t, w, &resp)
	assert.Equal(t, ErrCodeNotFound, resp.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := testServer(t, Deps{})

	w := serve(t, srv, http.MethodPost, "/api/v1/status")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)

	var resp Error
	decode(t, w, &resp)
	assert.Equal(t, ErrCodeMethodNotAllowed, resp.Code)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Status)
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestStartAndClose(t *testing.T) {
	srv := testServer(t, Deps{})
	srv.cfg = config.APIConfig{Enabled: true, Host: "127.0.0.1", Port: 0}
	require.NoError(t, srv.Start(context.Background()))

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/api/v1/health", srv.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NoError(t, srv.Close())
}

func TestStart_PortInUse(t *testing.T) {
	first := testServer(t, Deps{})
	startServer(t, first)

	_, port, err := splitAddr(first.Addr())
	require.NoError(t, err)
	second := testServer(t, Deps{})
	second.cfg = config.APIConfig{Host: "127.0.0.1", Port: port}

	assert.ErrorIs(t, second.Start(context.Background()), ErrListenFailed)
}

func TestClose_NotStarted(t *testing.T) {
	srv := testServer(t, Deps{})
	assert.NoError(t, srv.Close())
}

func splitAddr(addr string) (string, int, error) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(p)
	return host, port, err
}
