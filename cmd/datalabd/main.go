package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flitsinc/datalab/internal/agents"
	"github.com/flitsinc/datalab/internal/api"
	"github.com/flitsinc/datalab/internal/config"
	"github.com/flitsinc/datalab/internal/llm"
	"github.com/flitsinc/datalab/internal/push"
	"github.com/flitsinc/datalab/internal/sandbox"
	"github.com/flitsinc/datalab/internal/session"
	"github.com/flitsinc/datalab/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal("create data dir", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.SandboxRoot, 0o755); err != nil {
		logger.Fatal("create sandbox root", zap.Error(err))
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	st := store.NewStore(db)
	sessions := session.NewManager(st)
	hub := push.NewHub()

	resolver := newResolver(cfg, st)
	executors := func() agents.CodeExecutor {
		return &sandbox.Runner{
			Root:      cfg.SandboxRoot,
			PythonBin: cfg.PythonBin,
			Logger:    logger,
		}
	}

	dispatcher := &agents.Dispatcher{
		Store:        st,
		Sessions:     sessions,
		Default:      &agents.DefaultAgent{Store: st, Resolver: resolver, Logger: logger},
		Notebook:     agents.NewNotebookAgent(st, sessions, resolver, executors, cfg.NotebookStepLimit, logger),
		Presentation: agents.NewPresentationAgent(st, sessions, resolver, cfg.PresentationStepLimit, logger),
		Hub:          hub,
		Logger:       logger,
	}

	apiServer := &api.Server{
		Store:      st,
		Sessions:   sessions,
		Dispatcher: dispatcher,
		Hub:        hub,
		Logger:     logger,
		StartedAt:  time.Now().UTC(),
		Info: api.DiagnosticsInfo{
			HTTPAddr:    cfg.HTTPAddr,
			DataDir:     cfg.DataDir,
			DBPath:      cfg.DBPath,
			SandboxRoot: cfg.SandboxRoot,
			LLMProvider: cfg.LLMProvider,
			LLMModel:    cfg.LLMModel,
		},
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	httpServer := &http.Server{
		Handler:           loggingMiddleware(logger, apiServer.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)
	group.Go(func() error {
		logger.Info("datalabd listening", zap.String("addr", listener.Addr().String()))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

// newResolver resolves each session's bound model, falling back to the
// configured default model for sessions that never picked one.
func newResolver(cfg config.Config, st *store.Store) llm.Resolver {
	apiKeys := map[string]string{
		"openai-responses": os.Getenv("OPENAI_API_KEY"),
		"openai":           os.Getenv("OPENAI_API_KEY"),
		"anthropic":        os.Getenv("ANTHROPIC_API_KEY"),
		"google":           os.Getenv("GEMINI_API_KEY"),
	}
	if cfg.LLMAPIKey != "" {
		apiKeys[cfg.LLMProvider] = cfg.LLMAPIKey
	}
	bound := &llm.StoreResolver{Store: st, APIKeys: apiKeys}

	return llm.ResolverFunc(func(ctx context.Context, sessionID string) (llm.Invoker, error) {
		invoker, err := bound.Resolve(ctx, sessionID)
		if err == nil || !errors.Is(err, llm.ErrNoModel) {
			return invoker, err
		}
		if cfg.LLMModel == "" || apiKeys[cfg.LLMProvider] == "" {
			return nil, err
		}
		return llm.NewClient(llm.Config{
			Provider: cfg.LLMProvider,
			Model:    cfg.LLMModel,
			APIKey:   apiKeys[cfg.LLMProvider],
		})
	})
}

func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
