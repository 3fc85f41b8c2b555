package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"smartplanning/internal/gateway/config"
	"smartplanning/internal/gateway/handler"
	"smartplanning/internal/gateway/handler/rpc"
	"smartplanning/internal/gateway/run"
	"smartplanning/internal/gateway/server"
)

type App struct {
	log        *zap.Logger
	components *Components
	runs       *run.Service
	server     *server.Server
	stopWatch  context.CancelFunc
}

// New wires the gateway. Overrides are empty in production.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, o Overrides) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	broker := run.NewEventBroker()
	o.Observer = broker
	components, err := Build(ctx, cfg, log, o)
	if err != nil {
		return nil, fmt.Errorf("failed to build components: %w", err)
	}
	runs := run.New(components.Engine, broker, log.Named("runs"))

	watchCtx, stopWatch := context.WithCancel(context.Background())
	if err := components.Rules.Watch(watchCtx); err != nil {
		log.Warn("fix rules will not be reloaded", zap.Error(err))
	}

	// Routing & Server
	mux := server.NewMux(server.Handlers{
		Chat:       handler.NewChatHandler(components.Chat, log.Named("chat")),
		Correction: handler.NewCorrectionHandler(runs, log.Named("correction")),
		Stream:     handler.NewStreamHandler(broker, log.Named("stream")),
		Trace:      handler.NewTraceHandler(components.Trace),
		RPC:        rpc.NewCorrectionHandler(runs),
	}, log.Named("http"))

	return &App{
		log:        log,
		components: components,
		runs:       runs,
		server:     server.New(cfg.Port, mux, log),
		stopWatch:  stopWatch,
	}, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

// Shutdown stops accepting requests, cancels running corrections and closes
// the stores.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopWatch()
	return errors.Join(
		a.server.Shutdown(ctx),
		a.runs.Shutdown(ctx),
		a.components.Close(),
	)
}
