package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/melify/peacemap/internal/classifier"
	"github.com/melify/peacemap/internal/engine"
	"github.com/melify/peacemap/internal/resilience"
	"github.com/melify/peacemap/internal/store"
	"github.com/melify/peacemap/pkg/claude"
)

// engineEnv holds the initialized store and engine shared by the serve,
// analyze, and batch commands.
type engineEnv struct {
	Store  store.Store
	Engine *engine.Engine
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine sets up the store and classifier and builds the engine.
// Callers should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	// Without an API key every analysis takes the heuristic path.
	var client claude.Client
	if cfg.Anthropic.Key != "" {
		client = claude.NewClient(claude.Config{
			APIKey:            cfg.Anthropic.Key,
			BaseURL:           cfg.Anthropic.BaseURL,
			RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
		})
	} else {
		zap.L().Warn("PEACEMAP_ANTHROPIC_KEY not set, classifier disabled, using heuristic fallback")
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.Classifier.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Classifier.MaxAttempts
	}
	cls := classifier.New(client, classifier.Config{
		Model:     cfg.Classifier.Model,
		MaxTokens: cfg.Classifier.MaxTokens,
		Timeout:   time.Duration(cfg.Classifier.TimeoutSecs) * time.Second,
		Retry:     retry,
	}, nil)

	eng := engine.New(cls, st, engine.Config{
		MaxConcurrent:     cfg.Batch.MaxConcurrent,
		InsightWindowDays: cfg.Insights.WindowDays,
	})

	return &engineEnv{Store: st, Engine: eng}, nil
}
