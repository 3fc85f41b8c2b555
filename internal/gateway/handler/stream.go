package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"smartplanning/internal/autocorrect"
	"smartplanning/internal/gateway/run"
)

const (
	runWSWriteWait = 10 * time.Second
	runWSPongWait  = 60 * time.Second
	runWSPingEvery = (runWSPongWait * 9) / 10
	runWSQueueSize = 32
)

var runWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type runWSOutbound struct {
	Type       string             `json:"type"`
	SnapshotID string             `json:"snapshot_id,omitempty"`
	RunID      string             `json:"run_id,omitempty"`
	Event      *autocorrect.Event `json:"event,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// StreamHandler pushes correction events over a websocket.
type StreamHandler struct {
	events *run.EventBroker
	log    *zap.Logger
}

func NewStreamHandler(events *run.EventBroker, log *zap.Logger) *StreamHandler {
	return &StreamHandler{events: events, log: orNop(log)}
}

// HandleRunsWS serves /ws/runs?snapshot_id=&run_id=. The retained events of
// run_id are replayed before live events. Without snapshot_id every
// snapshot's events are streamed.
func (h *StreamHandler) HandleRunsWS(w http.ResponseWriter, r *http.Request) {
	snapshotID := queryParam(r, "snapshot_id")
	runID := queryParam(r, "run_id")

	conn, err := runWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(runWSPongWait)); err != nil {
		h.log.Warn("run ws set read deadline failed", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(runWSPongWait))
	})

	subCh, unsubscribe := h.events.Subscribe(snapshotID, runWSQueueSize)
	defer unsubscribe()

	writeCh := make(chan runWSOutbound, runWSQueueSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		ticker := time.NewTicker(runWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(runWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(runWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	pushRunWS(writeCh, runWSOutbound{Type: "subscribed", SnapshotID: snapshotID, RunID: runID})
	if runID != "" {
		for _, e := range h.events.Events(runID) {
			pushRunWS(writeCh, eventOutbound(e))
		}
	}

	// Reads only serve to notice the client closing the socket.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			<-writerDone
			return
		case e, ok := <-subCh:
			if !ok {
				cancel()
				<-writerDone
				return
			}
			if runID != "" && e.RunID != runID {
				continue
			}
			pushRunWS(writeCh, eventOutbound(e))
		}
	}
}

func eventOutbound(e autocorrect.Event) runWSOutbound {
	return runWSOutbound{Type: "event", SnapshotID: e.SnapshotID, RunID: e.RunID, Event: &e}
}

// pushRunWS queues out, dropping the oldest pending message when the writer
// falls behind.
func pushRunWS(writeCh chan runWSOutbound, out runWSOutbound) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
