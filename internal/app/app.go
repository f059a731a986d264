// Package app wires the Storage Core, Embedding Service, Query Preprocessor,
// LLM Router, RAG Orchestrator, ingestion pipeline, and MCP host into one
// running process, and exposes the command-surface operations named in
// spec.md §6.1 as Go methods for a host shell to call.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/inkbound-tabletop/inkbound-core/internal/config"
	"github.com/inkbound-tabletop/inkbound-core/internal/entity"
	"github.com/inkbound-tabletop/inkbound-core/internal/events"
	"github.com/inkbound-tabletop/inkbound-core/internal/health"
	"github.com/inkbound-tabletop/inkbound-core/internal/mcp"
	"github.com/inkbound-tabletop/inkbound-core/internal/mcp/mcphost"
	"github.com/inkbound-tabletop/inkbound-core/internal/mcp/tools"
	"github.com/inkbound-tabletop/inkbound-core/internal/mcp/tools/ruleslookup"
	"github.com/inkbound-tabletop/inkbound-core/internal/observe"
	"github.com/inkbound-tabletop/inkbound-core/internal/resilience"
	"github.com/inkbound-tabletop/inkbound-core/pkg/embeddings"
	"github.com/inkbound-tabletop/inkbound-core/pkg/ingest"
	"github.com/inkbound-tabletop/inkbound-core/pkg/preprocess"
	providerembeddings "github.com/inkbound-tabletop/inkbound-core/pkg/provider/embeddings"
	"github.com/inkbound-tabletop/inkbound-core/pkg/provider/llm"
	"github.com/inkbound-tabletop/inkbound-core/pkg/provider/llm/anyllm"
	"github.com/inkbound-tabletop/inkbound-core/pkg/rag"
	"github.com/inkbound-tabletop/inkbound-core/pkg/router"
	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
)

// Providers holds the already-constructed provider instances an [App] is
// built from. A nil field means that stage's provider was not configured or
// failed to build — the app still starts, degraded per spec.md §5's startup
// ordering ("storage opens synchronously; LLM and embeddings are optional").
type Providers struct {
	LLM        llm.Provider
	Embeddings providerembeddings.Provider
}

// App is the running application: every component named in SPEC_FULL.md §0
// wired together, plus the chat-session bookkeeping and hot-reloadable
// preprocessing assets a long-lived process needs.
//
// The zero value is not usable; construct with [New].
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics
	bus     *events.Bus

	store    *storage.Store
	embedder *embeddings.Service

	dictStore *preprocess.Store
	preproc   atomic.Pointer[preprocess.Preprocessor]

	router       *router.Router
	costTracker  *router.CostTracker
	orchestrator *rag.Orchestrator
	pipeline     *ingest.Pipeline
	mcpHost      mcp.Host
	entities     entity.Store
	sessions     *SessionManager

	httpServer *http.Server

	reloadDone chan struct{}
	closeOnce  sync.Once
}

// New builds a fully wired [App] from cfg and providers. Storage failures are
// fatal; a nil LLM/embeddings provider is simply not registered, matching
// spec.md §5's bounded, non-strict startup ordering.
func New(ctx context.Context, cfg *config.Config, providers *Providers) (*App, error) {
	store, err := storage.NewStore(ctx, storage.Config{
		DSN:                 cfg.Memory.PostgresDSN,
		EmbeddingDimensions: cfg.Memory.EmbeddingDimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("app: open storage: %w", err)
	}
	if err := store.RebuildFulltextIndex(ctx); err != nil {
		return nil, fmt.Errorf("app: rebuild fulltext index: %w", err)
	}

	embedder := embeddings.NewService(providers.Embeddings)

	dict, err := preprocess.LoadDictionary(cfg.Preprocessing.DictionaryPath)
	if err != nil {
		return nil, fmt.Errorf("app: load dictionary: %w", err)
	}
	dictStore := preprocess.NewStore(dict)

	synonyms, err := preprocess.LoadSynonymTable(cfg.Preprocessing.SynonymsPath)
	if err != nil {
		return nil, fmt.Errorf("app: load synonyms: %w", err)
	}

	bus := events.NewBus()
	metrics := observe.DefaultMetrics()

	a := &App{
		cfg:        cfg,
		metrics:    metrics,
		bus:        bus,
		store:      store,
		embedder:   embedder,
		dictStore:  dictStore,
		entities:   entity.NewMemStore(),
		reloadDone: make(chan struct{}),
	}
	a.preproc.Store(preprocess.New(dictStore, synonyms))

	a.costTracker = router.NewCostTracker(store, router.BudgetConfig{
		DailyCapUSD:   cfg.Router.DailyCapUSD,
		MonthlyCapUSD: cfg.Router.MonthlyCapUSD,
	})
	a.router = router.New(
		strategyFor(cfg.Router.Strategy),
		router.WithBudget(a.costTracker),
		router.WithStateChangeHook(a.onProviderStateChange),
	)
	if providers.LLM != nil {
		a.router.RegisterProvider(cfg.Providers.LLM.Name, providers.LLM)
	}
	if p, ok := probeOllamaFallback(ctx, cfg.Providers.LLM.Name); ok {
		a.router.RegisterProvider("ollama", p)
		slog.Info("registered local provider via auto-discovery", "provider", "ollama")
	}

	a.orchestrator = rag.New(store, embedder, a.Preprocessor(), a.router, rag.Config{
		MaxContextChunks: cfg.Search.MaxContextChunks,
		MaxContextBytes:  cfg.Search.MaxContextBytes,
		Search:           storage.HybridSearchConfig{SemanticRatio: cfg.Search.VectorWeight},
	})

	a.pipeline = ingest.NewPipeline(store, embedder, ingest.WithProgress(a.onIngestProgress))

	host := mcphost.New()
	a.mcpHost = host
	if err := a.registerBuiltinTools(host); err != nil {
		return nil, fmt.Errorf("app: register builtin tools: %w", err)
	}
	for _, srv := range cfg.MCP.Servers {
		if err := host.RegisterServer(ctx, mcp.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}); err != nil {
			return nil, fmt.Errorf("app: register mcp server %q: %w", srv.Name, err)
		}
	}
	if err := host.Calibrate(ctx); err != nil {
		slog.Warn("app: mcp calibration failed, using declared latencies", "err", err)
	}

	a.sessions = NewSessionManager(store, metrics, bus)

	go a.watchPreprocessingFiles(cfg.Preprocessing)

	return a, nil
}

// Preprocessor returns the currently active [preprocess.Preprocessor],
// reflecting the most recent synonyms.toml reload.
func (a *App) Preprocessor() *preprocess.Preprocessor {
	return a.preproc.Load()
}

// Store exposes the Storage Core for callers that need direct access (e.g.
// get_library_item, list_library_items).
func (a *App) Store() *storage.Store { return a.store }

// Router exposes the LLM Router's live stats, e.g. for a status command.
func (a *App) Router() *router.Router { return a.router }

// Pipeline exposes the ingestion pipeline for ingest_document.
func (a *App) Pipeline() *ingest.Pipeline { return a.pipeline }

// Entities exposes the pre-session entity store for entity CRUD commands.
func (a *App) Entities() entity.Store { return a.entities }

// Sessions exposes the chat session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// MCPHost exposes the MCP host for tool enumeration/execution commands.
func (a *App) MCPHost() mcp.Host { return a.mcpHost }

// AnswerQuestion runs the RAG Orchestrator's non-streaming path and appends
// both sides of the exchange to the session's chat history.
func (a *App) AnswerQuestion(ctx context.Context, req rag.Request) (*rag.Response, error) {
	resp, err := a.orchestrator.Answer(ctx, req)
	if err != nil {
		return nil, err
	}
	a.sessions.recordExchange(ctx, req, resp)
	return resp, nil
}

// IngestDocument runs the two-phase ingestion pipeline for one file and
// publishes [events.IngestProgress] events as it advances.
func (a *App) IngestDocument(ctx context.Context, filePath string, meta ingest.Metadata) (storage.LibraryItem, error) {
	a.metrics.QueuedIngestJobs.Add(ctx, 1)
	defer a.metrics.QueuedIngestJobs.Add(ctx, -1)

	item, err := a.pipeline.Ingest(ctx, filePath, meta)
	if err != nil {
		a.metrics.RecordIngestError(ctx, "pipeline")
		return item, err
	}
	return item, nil
}

// Events returns the shared event bus.
func (a *App) Events() *events.Bus { return a.bus }

// Run starts the ambient HTTP server (health/readiness + Prometheus metrics)
// and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Server.ListenAddr == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	mux := http.NewServeMux()
	health.New(
		health.Checker{Name: "storage", Check: a.checkStorage},
		health.Checker{Name: "mcp_host", Check: a.checkMCPHost},
	).Register(mux)

	a.httpServer = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: observe.Middleware(a.metrics)(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	}
}

// Shutdown releases every resource acquired by [New]: the HTTP server, the
// preprocessing file watcher, the MCP host's server connections, and the
// Storage Core's connection pool.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	a.closeOnce.Do(func() {
		close(a.reloadDone)

		if a.httpServer != nil {
			if err := a.httpServer.Shutdown(ctx); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("app: shutdown http server: %w", err)
			}
		}
		if err := a.mcpHost.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("app: close mcp host: %w", err)
		}
		a.store.Close()
	})
	return firstErr
}

// checkStorage is a [health.Checker] probing the Storage Core with a cheap
// read query.
func (a *App) checkStorage(ctx context.Context) error {
	_, err := a.store.ListLibraryItems(ctx)
	return err
}

// checkMCPHost is a [health.Checker] confirming the MCP host still answers
// tool-discovery requests.
func (a *App) checkMCPHost(ctx context.Context) error {
	a.mcpHost.AvailableTools(mcp.BudgetFast)
	return nil
}

// onIngestProgress bridges [ingest.ProgressEvent] onto the event bus.
func (a *App) onIngestProgress(evt ingest.ProgressEvent) {
	a.bus.Publish(events.Event{
		Name: events.IngestProgress,
		Payload: events.IngestProgressPayload{
			LibraryItemID: evt.LibraryItemID,
			Phase:         evt.Phase,
			PagesDone:     evt.PagesDone,
			PagesTotal:    evt.TotalPages,
		},
	})
	if evt.Phase == "ready" {
		a.metrics.RecordChunksIngested(context.Background(), evt.Phase, int64(evt.TotalChunks))
	}
}

// onProviderStateChange bridges the router's circuit-breaker transitions
// onto the event bus.
func (a *App) onProviderStateChange(providerID string, from, to resilience.State) {
	a.bus.Publish(events.Event{
		Name: events.RouterProviderStateChanged,
		Payload: events.RouterProviderStateChangedPayload{
			ProviderID: providerID,
			From:       from.String(),
			To:         to.String(),
		},
	})
	if to == resilience.StateBroken {
		a.metrics.RecordProviderError(context.Background(), providerID, "circuit_broken")
	}
}

// registerBuiltinTools wires the rules-lookup MCP tool pair against the live
// Storage Core, Embedding Service, and Query Preprocessor.
func (a *App) registerBuiltinTools(host *mcphost.Host) error {
	for _, t := range ruleslookup.Tools(a.store, a.embedder, a.Preprocessor(), storage.HybridSearchConfig{SemanticRatio: a.cfg.Search.VectorWeight}) {
		if err := host.RegisterBuiltin(toBuiltinTool(t)); err != nil {
			return err
		}
	}
	return nil
}

// toBuiltinTool adapts a [tools.Tool] (the shared shape every built-in MCP
// tool package returns) to [mcphost.BuiltinTool].
func toBuiltinTool(t tools.Tool) mcphost.BuiltinTool {
	return mcphost.BuiltinTool{
		Definition:  t.Definition,
		Handler:     t.Handler,
		DeclaredP50: t.DeclaredP50,
		DeclaredMax: t.DeclaredMax,
	}
}

// strategyFor maps a validated [config.RouterConfig.Strategy] name to its
// [router.Strategy] implementation. cfg.Load has already rejected anything
// outside [config.ValidRouterStrategies], so the default case covers
// "priority" and the empty string (meaning "use the default").
func strategyFor(name string) router.Strategy {
	switch name {
	case "cost_optimized":
		return router.CostOptimizedStrategy{}
	case "latency_optimized":
		return router.LatencyOptimizedStrategy{}
	case "round_robin":
		return &router.RoundRobinStrategy{}
	case "random":
		return router.RandomStrategy{}
	default:
		return router.PriorityStrategy{}
	}
}

// ollamaProbeTimeout bounds the startup auto-discovery probe so an
// unreachable local Ollama install never delays boot.
const ollamaProbeTimeout = 2 * time.Second

// probeOllamaFallback implements the supplemented "provider health probing
// on startup" feature: if an Ollama instance answers at its default local
// endpoint and isn't already the configured provider, it is registered as
// a fallback candidate.
func probeOllamaFallback(ctx context.Context, configuredName string) (llm.Provider, bool) {
	if configuredName == "ollama" {
		return nil, false
	}

	p, err := anyllm.NewOllama("", anyllmlib.WithBaseURL("http://localhost:11434"))
	if err != nil {
		return nil, false
	}

	probeCtx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()
	if !p.HealthCheck(probeCtx) {
		return nil, false
	}
	return p, true
}

// watchPreprocessingFiles polls preprocessing.toml and synonyms.toml for
// edits and hot-swaps the active dictionary/preprocessor, mirroring
// [config.Watcher]'s "poll, diff, publish a new snapshot" pattern but
// applied to two plain asset files instead of the root config.
func (a *App) watchPreprocessingFiles(cfg config.PreprocessingConfig) {
	const interval = 5 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dictMod := modTime(cfg.DictionaryPath)
	synMod := modTime(cfg.SynonymsPath)

	for {
		select {
		case <-a.reloadDone:
			return
		case <-ticker.C:
			if m := modTime(cfg.DictionaryPath); !m.Equal(dictMod) {
				dictMod = m
				if dict, err := preprocess.LoadDictionary(cfg.DictionaryPath); err != nil {
					slog.Warn("app: failed to reload dictionary", "path", cfg.DictionaryPath, "err", err)
				} else {
					a.dictStore.Swap(dict)
					slog.Info("app: dictionary reloaded", "path", cfg.DictionaryPath)
				}
			}
			if m := modTime(cfg.SynonymsPath); !m.Equal(synMod) {
				synMod = m
				if syn, err := preprocess.LoadSynonymTable(cfg.SynonymsPath); err != nil {
					slog.Warn("app: failed to reload synonyms", "path", cfg.SynonymsPath, "err", err)
				} else {
					a.preproc.Store(preprocess.New(a.dictStore, syn))
					slog.Info("app: synonyms reloaded", "path", cfg.SynonymsPath)
				}
			}
		}
	}
}

// modTime returns path's modification time, or the zero time if it cannot
// be stat'd (e.g. not yet created).
func modTime(path string) time.Time {
	if path == "" {
		return time.Time{}
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
