package server

import (
	"net/http"

	"go.uber.org/zap"

	"smartplanning/internal/gateway/handler"
	"smartplanning/internal/gateway/handler/rpc"
	"smartplanning/internal/gateway/middleware"
)

// Handlers are the endpoint groups of the gateway.
type Handlers struct {
	Chat       *handler.ChatHandler
	Correction *handler.CorrectionHandler
	Stream     *handler.StreamHandler
	Trace      *handler.TraceHandler
	RPC        *rpc.CorrectionHandler
}

func NewMux(h Handlers, log *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	// RPC Handlers
	mux.Handle(rpc.NewCorrectionServiceHandler(h.RPC))

	// JSON API
	mux.HandleFunc("POST /api/chat", h.Chat.HandleChat)
	mux.HandleFunc("POST /api/clear", h.Chat.HandleClear)
	mux.HandleFunc("POST /api/snapshots/{id}/correct", h.Correction.HandleCorrect)
	mux.HandleFunc("GET /api/snapshots/{id}/runs", h.Correction.HandleRuns)
	mux.HandleFunc("GET /ws/runs", h.Stream.HandleRunsWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Debug Handlers
	mux.HandleFunc("/debug/run-logs", h.Trace.HandleRunLogs)

	// Middleware
	return middleware.CORS(middleware.Logging(log, mux))
}
