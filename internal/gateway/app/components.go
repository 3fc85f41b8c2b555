package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"smartplanning/internal/agent"
	"smartplanning/internal/audit"
	"smartplanning/internal/autocorrect"
	"smartplanning/internal/correction"
	"smartplanning/internal/extract"
	"smartplanning/internal/gateway/config"
	"smartplanning/internal/knowledge"
	"smartplanning/internal/llm"
	llmclient "smartplanning/internal/llmClient"
	"smartplanning/internal/mcp"
	"smartplanning/internal/planning"
	artifactrepo "smartplanning/internal/repository/artifact"
	"smartplanning/internal/snapshot"
	"smartplanning/internal/workspace"
)

// PlanningAPI is everything the application needs from the planning service.
type PlanningAPI interface {
	autocorrect.Planning
	mcp.Snapshots
}

// Overrides replace collaborators that are otherwise built from the config.
type Overrides struct {
	Planning PlanningAPI
	Store    artifactrepo.Store
	// LLM replaces the configured provider; set Heuristic to run without one.
	LLM       llmclient.LLMClient
	Heuristic bool
	Observer  autocorrect.Observer
}

// Components is the wired application, shared by the server and the CLI.
type Components struct {
	Planning  PlanningAPI
	Store     artifactrepo.Store
	Workspace *workspace.Accessor
	LLM       llmclient.LLMClient
	Rules     *correction.Rules
	Trace     *audit.TraceLogger
	Engine    *autocorrect.Engine
	Reporter  *audit.Reporter
	Knowledge *knowledge.Index
	Tools     *mcp.Registry
	Chat      *agent.Service

	log     *zap.Logger
	closers []io.Closer
}

// Build wires every component from cfg.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, o Overrides) (*Components, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Components{log: log}
	if err := c.build(ctx, cfg, o); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) build(ctx context.Context, cfg *config.Config, o Overrides) error {
	c.Planning = o.Planning
	if c.Planning == nil {
		client, err := planning.New(planning.Config{
			BaseURL:      cfg.Planning.BaseURL,
			Realm:        cfg.Planning.Realm,
			ClientID:     cfg.Planning.ClientID,
			ClientSecret: cfg.Planning.ClientSecret,
			Timeout:      cfg.Planning.Timeout,
		}, c.log.Named("planning"))
		if err != nil {
			return fmt.Errorf("planning client: %w", err)
		}
		c.Planning = client
	}

	c.Store = o.Store
	if c.Store == nil {
		store, closer, err := initArtifactStore(cfg, c.log)
		if err != nil {
			return err
		}
		c.Store = store
		c.addCloser(closer)
	}
	c.Workspace = workspace.New(c.Store, c.log.Named("workspace"))
	c.Trace = audit.NewTraceLogger(c.Workspace)

	if err := c.buildLLM(ctx, cfg, o); err != nil {
		return err
	}

	rules, err := correction.LoadRules(cfg.Correction.FixRulesPath, c.log.Named("rules"))
	if err != nil {
		return err
	}
	c.Rules = rules

	var generator correction.Generator = correction.NewHeuristicGenerator()
	if c.LLM != nil {
		generator = correction.NewLLMGenerator(c.LLM, rules, c.log.Named("generator"))
	}
	reference, err := loadReference(cfg.Correction)
	if err != nil {
		return err
	}
	engine, err := autocorrect.New(autocorrect.Deps{
		Planning:   c.Planning,
		Workspace:  c.Workspace,
		Generator:  generator,
		Identifier: extract.NewIdentifier(c.LLM, c.log.Named("identify")),
		Trace:      c.Trace,
		Observer:   o.Observer,
	}, autocorrect.Config{
		MaxIterations:    cfg.Correction.MaxIterations,
		StepTimeout:      cfg.Correction.StepTimeout,
		UseReferenceData: cfg.Correction.UseReferenceData,
		Reference:        reference,
	}, c.log.Named("autocorrect"))
	if err != nil {
		return err
	}
	c.Engine = engine
	c.Reporter = audit.NewReporter(c.LLM, c.Workspace, c.log.Named("report"))

	if err := c.openKnowledge(cfg.Knowledge); err != nil {
		return err
	}

	c.Tools = mcp.NewRegistry()
	mcp.RegisterDefaultTools(c.Tools, mcp.Host{
		Snapshots: c.Planning,
		Engine:    c.Engine,
		Workspace: c.Workspace,
		Reporter:  c.Reporter,
		Knowledge: c.Knowledge,
	})

	if c.LLM != nil {
		alog := c.log.Named("agent")
		agents := []agent.Agent{
			agent.NewChat(c.LLM, cfg.Agent, alog),
			agent.NewSP(c.LLM, c.Tools, cfg.Agent, alog),
		}
		if c.Knowledge != nil {
			agents = append(agents, agent.NewRAG(c.LLM, c.Knowledge, cfg.Agent, alog))
		}
		orch := agent.NewOrchestrator(c.LLM, cfg.Agent, alog, agents...)
		c.Chat = agent.NewService(orch, agent.NewSessions(agent.DefaultMaxSessions, agent.DefaultSessionTTL), alog)
	}
	return nil
}

// buildLLM leaves c.LLM nil when no provider is configured; the engine then
// runs with the heuristic generator.
func (c *Components) buildLLM(ctx context.Context, cfg *config.Config, o Overrides) error {
	if o.Heuristic {
		return nil
	}
	client := o.LLM
	if client == nil {
		var err error
		client, err = llmclient.New(ctx, llmclient.ProviderConfig{
			Provider:        cfg.LLM.Provider,
			Model:           cfg.LLM.Model,
			GeminiAPIKey:    cfg.LLM.GeminiAPIKey,
			OpenAIAPIKey:    cfg.LLM.OpenAIAPIKey,
			GroqAPIKey:      cfg.LLM.GroqAPIKey,
			AzureAPIKey:     cfg.LLM.AzureAPIKey,
			AzureEndpoint:   cfg.LLM.AzureEndpoint,
			AzureAPIVersion: cfg.LLM.AzureVersion,
			AzureDeployment: cfg.LLM.AzureDeploy,
		})
		if errors.Is(err, llmclient.ErrNoProvider) {
			c.log.Info("no llm provider configured; using heuristic corrections")
			return nil
		}
		if err != nil {
			return fmt.Errorf("llm client: %w", err)
		}
		c.addCloser(client)
	}
	var ledger llm.Middleware
	if cfg.LLM.UsageLedger != "" {
		ledger = llm.WithUsageLedger(cfg.LLM.UsageLedger)
	}
	c.LLM = llm.Wrap(client,
		llm.WithLogging(c.log.Named("llm")),
		llm.WithHook(c.Trace.Hook()),
		ledger,
		llm.Retry(cfg.LLM.RetryAttempts, 2*time.Second),
		llm.RateLimit(2, 4),
	)
	c.log.Info("llm provider ready", zap.String("provider", cfg.LLM.Provider), zap.String("client", c.LLM.Name()))
	return nil
}

func (c *Components) openKnowledge(cfg config.KnowledgeConfig) error {
	if cfg.DBPath == "" {
		return nil
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("knowledge index dir: %w", err)
		}
	}
	idx, err := knowledge.Open(cfg.DBPath, c.log.Named("knowledge"))
	if err != nil {
		return err
	}
	c.Knowledge = idx
	c.addCloser(idx)
	return nil
}

func loadReference(cfg config.CorrectionConfig) (*snapshot.Document, error) {
	if !cfg.UseReferenceData || cfg.ReferenceDataPath == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(cfg.ReferenceDataPath)
	if err != nil {
		return nil, fmt.Errorf("read reference data: %w", err)
	}
	doc, err := snapshot.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse reference data: %w", err)
	}
	return doc, nil
}

func (c *Components) addCloser(cl io.Closer) {
	if cl != nil {
		c.closers = append(c.closers, cl)
	}
}

// Close releases the stores, the knowledge index and the model client.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
