package app

import (
	"context"
	"fmt"
	"log/slog"

	"ReviewInsights/internal/config"
	"ReviewInsights/internal/infrastructure/dataset"
	"ReviewInsights/internal/infrastructure/llm"
	"ReviewInsights/internal/infrastructure/ml"
	"ReviewInsights/internal/infrastructure/storage"
	"ReviewInsights/internal/logging"
	"ReviewInsights/internal/ports"
	"ReviewInsights/internal/usecase"
)

// Application wires configs to use cases and owns the database handle.
type Application struct {
	cfg      config.Config
	store    *storage.SQLStore
	pipeline *usecase.Pipeline
}

// New opens the store and builds the pipeline from cfg.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns, baseLogger.With("component", "storage"))
	if err != nil {
		return nil, err
	}

	analyzer, err := newAnalyzer(cfg.Analysis)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	clock := usecase.RealClock{}
	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:   dataset.NewCSVSource(cfg.Pipeline.DatasetPath, baseLogger.With("component", "dataset")),
		Store:    store,
		Analyzer: analyzer,
		Pacer:    usecase.NewPacer(cfg.Pipeline.Interval, clock),
		Clock:    clock,
		Logger:   baseLogger.With("component", "pipeline"),
	})

	return &Application{cfg: cfg, store: store, pipeline: pipeline}, nil
}

func newAnalyzer(cfg config.AnalysisConfig) (ports.Analyzer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return llm.NewOpenAIAnalyzer(cfg, nil), nil
	case config.ProviderHTTP:
		return ml.NewClient(cfg.Endpoint, cfg.APIKey, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported analysis provider %q", cfg.Provider)
	}
}

// Run performs one full enrichment run with the configured bounds.
func (a *Application) Run(ctx context.Context) (usecase.RunReport, error) {
	return a.pipeline.Run(ctx, usecase.RunOptions{
		Rows:        a.cfg.Pipeline.Rows,
		MaxProducts: a.cfg.Pipeline.MaxProducts,
		Mode:        a.cfg.Pipeline.TransactionMode,
	})
}

// Resume continues an interrupted per-product run with the cap it was started with.
func (a *Application) Resume(ctx context.Context, runID string) (usecase.RunReport, error) {
	return a.pipeline.Resume(ctx, runID)
}

// Migrate applies the schema without running the pipeline.
func (a *Application) Migrate(ctx context.Context) error {
	return a.store.Migrate(ctx)
}

// Insights exposes the read side of the stores.
func (a *Application) Insights() ports.InsightReader {
	return a.store
}

// Close releases the database handle.
func (a *Application) Close() error {
	return a.store.Close()
}
