package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"smartplanning/internal/agent"
	"smartplanning/internal/audit"
	"smartplanning/internal/autocorrect"
	"smartplanning/internal/gateway/handler"
	"smartplanning/internal/gateway/handler/rpc"
	"smartplanning/internal/gateway/run"
	artifactrepo "smartplanning/internal/repository/artifact"
	"smartplanning/internal/workspace"
)

type echoHandler struct{}

func (echoHandler) Handle(_ context.Context, req agent.Request) (agent.Response, error) {
	return agent.Response{Answer: "echo: " + req.Message, Agent: agent.NameChat}, nil
}

// heldRunner publishes a start event, then blocks until released.
type heldRunner struct {
	events  *run.EventBroker
	release chan struct{}
	mu      sync.Mutex
	active  map[string]string
}

func (h *heldRunner) Active(id string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.active[id]
	return r, ok
}

func (h *heldRunner) Run(ctx context.Context, req autocorrect.Request) (autocorrect.Result, error) {
	h.mu.Lock()
	h.active[req.SnapshotID] = req.RunID
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.active, req.SnapshotID)
		h.mu.Unlock()
	}()
	h.events.Publish(autocorrect.Event{RunID: req.RunID, SnapshotID: req.SnapshotID, State: autocorrect.StateLoading})
	select {
	case <-h.release:
	case <-ctx.Done():
		return autocorrect.Result{}, ctx.Err()
	}
	h.events.Publish(autocorrect.Event{RunID: req.RunID, SnapshotID: req.SnapshotID, State: autocorrect.StateFinished, Status: autocorrect.StatusDone})
	return autocorrect.Result{RunID: req.RunID, SnapshotID: req.SnapshotID, Status: autocorrect.StatusDone}, nil
}

type fixture struct {
	srv    *httptest.Server
	runner *heldRunner
	runs   *run.Service
	trace  *audit.TraceLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	broker := run.NewEventBroker()
	runner := &heldRunner{events: broker, release: make(chan struct{}), active: map[string]string{}}
	runs := run.New(runner, broker, nil)
	trace := audit.NewTraceLogger(workspace.New(artifactrepo.NewMemoryStore(), nil))
	chat := agent.NewService(echoHandler{}, agent.NewSessions(8, time.Minute), nil)

	mux := NewMux(Handlers{
		Chat:       handler.NewChatHandler(chat, nil),
		Correction: handler.NewCorrectionHandler(runs, nil),
		Stream:     handler.NewStreamHandler(broker, nil),
		Trace:      handler.NewTraceHandler(trace),
		RPC:        rpc.NewCorrectionHandler(runs),
	}, nil)
	srv := httptest.NewServer(mux)
	f := &fixture{srv: srv, runner: runner, runs: runs, trace: trace}
	t.Cleanup(func() {
		select {
		case <-runner.release:
		default:
			close(runner.release)
		}
		runs.Wait()
		srv.Close()
	})
	return f
}

func (f *fixture) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestChatEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, out := f.post(t, "/api/chat", map[string]string{"message": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "echo: hello", out["response"])
	assert.Equal(t, "chat", out["agent"])
	sessionID, _ := out["session_id"].(string)
	require.NotEmpty(t, sessionID)

	resp, out = f.post(t, "/api/chat", map[string]string{"message": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_argument", out["code"])

	resp, out = f.post(t, "/api/clear", map[string]string{"session_id": sessionID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["cleared"])

	resp, _ = f.post(t, "/api/clear", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCorrectionEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, out := f.post(t, "/api/snapshots/snap-1/correct", map[string]int{"max_iterations": 2})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	runID, _ := out["run_id"].(string)
	require.NotEmpty(t, runID)
	assert.Equal(t, run.StatusRunning, out["status"])

	resp, out = f.post(t, "/api/snapshots/snap-1/correct", map[string]int{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, runID, out["run_id"])

	resp, out = f.post(t, "/api/snapshots/snap-1/correct", map[string]int{"max_iterations": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	close(f.runner.release)
	f.runs.Wait()

	resp, out = f.get(t, "/api/snapshots/snap-1/runs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs, _ := out["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, "done", runs[0].(map[string]any)["status"])

	resp, _ = f.get(t, "/api/snapshots/other/runs?run_id="+runID)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.trace.Append(ctx, "snap-1", "run-a", "engine", "validate", map[string]any{"errors": 2})
	f.trace.Append(ctx, "snap-1", "run-b", "engine", "validate", nil)

	resp, out := f.get(t, "/debug/run-logs?snapshot_id=snap-1&run_id=run-a")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events, _ := out["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "validate", events[0].(map[string]any)["stage"])

	resp, out = f.get(t, "/debug/run-logs?snapshot_id=snap-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events, _ = out["events"].([]any)
	assert.Len(t, events, 2)

	resp, _ = f.get(t, "/debug/run-logs")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunStreamWebsocket(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/runs?snapshot_id=snap-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}
	assert.Equal(t, "subscribed", read()["type"])

	rec, err := f.runs.Start("snap-1", 0)
	require.NoError(t, err)
	first := read()
	assert.Equal(t, "event", first["type"])
	assert.Equal(t, rec.RunID, first["run_id"])

	close(f.runner.release)
	last := read()
	event, _ := last["event"].(map[string]any)
	assert.Equal(t, "done", event["status"])
}

func TestCorrectionServiceConnect(t *testing.T) {
	f := newFixture(t)

	start := connect.NewClient[structpb.Struct, structpb.Struct](http.DefaultClient, f.srv.URL+rpc.RunCorrectionProcedure)
	get := connect.NewClient[structpb.Struct, structpb.Struct](http.DefaultClient, f.srv.URL+rpc.GetRunProcedure)
	ctx := context.Background()

	req, err := structpb.NewStruct(map[string]any{"snapshot_id": "snap-1", "max_iterations": 3})
	require.NoError(t, err)
	resp, err := start.CallUnary(ctx, connect.NewRequest(req))
	require.NoError(t, err)
	runID := resp.Msg.GetFields()["run_id"].GetStringValue()
	require.NotEmpty(t, runID)

	_, err = start.CallUnary(ctx, connect.NewRequest(req))
	assert.Equal(t, connect.CodeAlreadyExists, connect.CodeOf(err))

	close(f.runner.release)
	f.runs.Wait()

	getReq, err := structpb.NewStruct(map[string]any{"run_id": runID})
	require.NoError(t, err)
	got, err := get.CallUnary(ctx, connect.NewRequest(getReq))
	require.NoError(t, err)
	assert.Equal(t, "done", got.Msg.GetFields()["status"].GetStringValue())

	missing, err := structpb.NewStruct(map[string]any{"run_id": "nope"})
	require.NoError(t, err)
	_, err = get.CallUnary(ctx, connect.NewRequest(missing))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = start.CallUnary(ctx, connect.NewRequest(&structpb.Struct{}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}
