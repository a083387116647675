package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"ReviewInsights/internal/analysis"
	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/ports"
)

// PipelineDeps wires all driven adapters into the enrichment pipeline.
type PipelineDeps struct {
	Source   ports.ReviewSource
	Store    ports.ReviewStore
	Analyzer ports.Analyzer
	Pacer    *Pacer
	Clock    ports.Clock
	NewRunID func() string
	Logger   *slog.Logger
}

// Pipeline implements the review enrichment run.
type Pipeline struct {
	source   ports.ReviewSource
	store    ports.ReviewStore
	analyzer ports.Analyzer
	pacer    *Pacer
	clock    ports.Clock
	newRunID func() string
	logger   *slog.Logger
}

// RunOptions bounds a single run.
type RunOptions struct {
	Rows        int
	MaxProducts int
	Mode        domain.TxMode
}

// SkippedProduct records a product that produced no insight and why.
type SkippedProduct struct {
	ProductID string
	Reason    error
}

// RunReport summarizes a finished (or aborted) run.
type RunReport struct {
	RunID      string
	Mode       domain.TxMode
	State      domain.RunState
	RowsLoaded int
	Products   int
	Resumed    int
	Insights   []domain.ReviewInsight
	Skipped    []SkippedProduct
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		source:   deps.Source,
		store:    deps.Store,
		analyzer: deps.Analyzer,
		pacer:    deps.Pacer,
		clock:    deps.Clock,
		newRunID: deps.NewRunID,
		logger:   deps.Logger,
	}
	if p.clock == nil {
		p.clock = RealClock{}
	}
	if p.pacer == nil {
		p.pacer = NewPacer(0, p.clock)
	}
	if p.newRunID == nil {
		p.newRunID = uuid.NewString
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Run clears and reloads the raw store, then analyzes every enumerated product.
// Per-product capability and validation failures are recorded in the report and
// skipped; data source, authentication and persistence failures abort the run and
// discard its writes.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (RunReport, error) {
	if p.source == nil || p.store == nil || p.analyzer == nil {
		return RunReport{}, fmt.Errorf("pipeline is not fully configured")
	}
	if opts.Mode == "" {
		opts.Mode = domain.TxModeRun
	}

	run := &runState{
		record: domain.Run{
			ID:        p.newRunID(),
			Mode:        opts.Mode,
			Status:      domain.RunStatusRunning,
			MaxProducts: opts.MaxProducts,
			StartedAt:   p.clock.Now(),
		},
		report: RunReport{Mode: opts.Mode},
		logger: p.logger,
	}
	run.report.RunID = run.record.ID
	run.logger = p.logger.With("run_id", run.record.ID, "mode", string(opts.Mode))

	run.transition(domain.StateInitializing)
	if err := p.store.Migrate(ctx); err != nil {
		return p.fail(ctx, run, nil, fmt.Errorf("migrate schema: %w", err))
	}

	switch opts.Mode {
	case domain.TxModeRun:
		return p.runSingleTx(ctx, run, opts)
	case domain.TxModeProduct:
		return p.runPerProduct(ctx, run, opts, false)
	default:
		return p.fail(ctx, run, nil, fmt.Errorf("unsupported transaction mode %q", opts.Mode))
	}
}

// Resume continues an interrupted per-product run with the product cap it started
// with: the raw store it loaded is kept and products that already have an insight
// for the run are skipped.
func (p *Pipeline) Resume(ctx context.Context, runID string) (RunReport, error) {
	if p.store == nil || p.analyzer == nil {
		return RunReport{}, fmt.Errorf("pipeline is not fully configured")
	}

	var record domain.Run
	err := perCallScope{store: p.store}.do(ctx, func(tx ports.StoreTx) error {
		var err error
		record, err = tx.LoadRun(ctx, runID)
		return err
	})
	if err != nil {
		return RunReport{RunID: runID}, fmt.Errorf("load run: %w", err)
	}
	if record.Mode != domain.TxModeProduct {
		return RunReport{RunID: runID}, fmt.Errorf("run %s used transaction mode %q and cannot be resumed", runID, record.Mode)
	}
	if record.Status != domain.RunStatusRunning {
		return RunReport{RunID: runID}, fmt.Errorf("run %s is %s and cannot be resumed", runID, record.Status)
	}

	run := &runState{
		record: record,
		report: RunReport{RunID: runID, Mode: record.Mode, RowsLoaded: record.RowsLoaded},
		loaded: true,
		logger: p.logger.With("run_id", runID, "mode", string(record.Mode)),
	}
	run.logger.Info("resuming run", "rows_loaded", record.RowsLoaded)

	return p.runPerProduct(ctx, run, RunOptions{MaxProducts: record.MaxProducts, Mode: record.Mode}, true)
}

// runSingleTx keeps every write of the run in one transaction.
func (p *Pipeline) runSingleTx(ctx context.Context, run *runState, opts RunOptions) (RunReport, error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return p.fail(ctx, run, nil, err)
	}
	scope := sharedScope{tx: tx}

	if err := p.load(ctx, run, scope, opts.Rows, false); err != nil {
		return p.fail(ctx, run, tx, err)
	}
	if err := p.analyzeProducts(ctx, run, scope, opts.MaxProducts); err != nil {
		return p.fail(ctx, run, tx, err)
	}

	run.transition(domain.StateFinalizing)
	if err := p.finish(ctx, run, scope); err != nil {
		return p.fail(ctx, run, tx, err)
	}
	if err := tx.Commit(); err != nil {
		return p.fail(ctx, run, tx, err)
	}

	run.transition(domain.StateCommitted)
	return run.report, nil
}

// runPerProduct commits the load once and every insight in its own transaction.
// The previous contents are backed up with the load so a rollback can restore them.
func (p *Pipeline) runPerProduct(ctx context.Context, run *runState, opts RunOptions, resumed bool) (RunReport, error) {
	scope := perCallScope{store: p.store}

	if !resumed {
		if err := p.load(ctx, run, scope, opts.Rows, true); err != nil {
			return p.fail(ctx, run, nil, err)
		}
		run.loaded = true
	}

	if err := p.analyzeProducts(ctx, run, scope, opts.MaxProducts); err != nil {
		if ctx.Err() != nil && run.loaded {
			run.logger.Warn("run interrupted; committed insights are kept", "state", run.report.State, "error", err)
			return run.report, fmt.Errorf("run %s interrupted (resumable): %w", run.record.ID, err)
		}
		return p.fail(ctx, run, nil, err)
	}

	run.transition(domain.StateFinalizing)
	if err := scope.do(ctx, func(tx ports.StoreTx) error { return p.finish(ctx, run, sharedScope{tx: tx}) }); err != nil {
		return p.fail(ctx, run, nil, err)
	}

	run.transition(domain.StateCommitted)
	return run.report, nil
}

// load resets both stores and appends the dataset within one scope call. Runs
// still marked running lose their raw store here and are closed as superseded.
func (p *Pipeline) load(ctx context.Context, run *runState, scope txScope, rows int, backup bool) error {
	return scope.do(ctx, func(tx ports.StoreTx) error {
		if err := tx.SupersedeRuns(ctx, run.record.ID, p.clock.Now()); err != nil {
			return err
		}
		if backup {
			if err := tx.Backup(ctx); err != nil {
				return err
			}
		}
		if err := tx.Reset(ctx); err != nil {
			return err
		}

		run.transition(domain.StateLoading)
		reviews, err := p.source.Read(ctx, rows)
		if err != nil {
			return fmt.Errorf("load reviews: %w", err)
		}
		if err := tx.AppendReviews(ctx, reviews); err != nil {
			return err
		}

		run.record.RowsLoaded = len(reviews)
		run.report.RowsLoaded = len(reviews)
		run.logger.Info("raw reviews loaded", "rows", len(reviews))

		return tx.SaveRun(ctx, run.record)
	})
}

// analyzeProducts walks products in enumeration order. The returned error is
// always run-level; product-level failures are recorded on the report.
func (p *Pipeline) analyzeProducts(ctx context.Context, run *runState, scope txScope, maxProducts int) error {
	run.transition(domain.StateEnumerating)

	var (
		ids  []string
		done map[string]bool
	)
	err := scope.do(ctx, func(tx ports.StoreTx) error {
		var err error
		if ids, err = tx.ProductIDs(ctx, maxProducts); err != nil {
			return err
		}
		done, err = tx.InsightProducts(ctx, run.record.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("enumerate products: %w", err)
	}

	run.report.Products = len(ids)
	run.logger.Info("products enumerated", "count", len(ids))

	for i, productID := range ids {
		run.transition(domain.StatePerProduct)
		log := run.logger.With("product_id", productID)

		if done[productID] {
			run.report.Resumed++
			log.Info("insight already stored for run")
			continue
		}

		log.Info("processing product", "position", i+1, "total", len(ids))
		insight, err := p.analyzeProduct(ctx, run, scope, productID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if domain.IsFatal(err) {
				return fmt.Errorf("product %s: %w", productID, err)
			}
			log.Warn("product skipped", "error", err)
			run.report.Skipped = append(run.report.Skipped, SkippedProduct{ProductID: productID, Reason: err})
			continue
		}
		if insight == nil {
			continue
		}

		if err := scope.do(ctx, func(tx ports.StoreTx) error { return tx.SaveInsight(ctx, *insight) }); err != nil {
			return fmt.Errorf("store insight for %s: %w", productID, err)
		}
		run.report.Insights = append(run.report.Insights, *insight)
		log.Info("insight stored", "summary_date", insight.SummaryDate.Format("2006-01-02"))
	}

	return nil
}

// analyzeProduct returns a nil insight when the product has no reviews.
func (p *Pipeline) analyzeProduct(ctx context.Context, run *runState, scope txScope, productID string) (*domain.ReviewInsight, error) {
	var reviews []domain.RawReview
	err := scope.do(ctx, func(tx ports.StoreTx) error {
		var err error
		reviews, err = tx.ProductReviews(ctx, productID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch reviews: %w", err)
	}
	if len(reviews) == 0 {
		run.logger.Info("product has no reviews", "product_id", productID)
		return nil, nil
	}

	texts := make([]string, len(reviews))
	for i, r := range reviews {
		texts[i] = r.Text
	}

	if err := p.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	raw, err := p.analyzer.Analyze(ctx, texts)
	p.pacer.Done()
	if err != nil {
		return nil, fmt.Errorf("analyze %d reviews: %w", len(texts), err)
	}

	sentiment, err := analysis.ParseInsight(raw)
	if err != nil {
		return nil, err
	}

	return &domain.ReviewInsight{
		ProductID:   productID,
		RunID:       run.record.ID,
		SummaryDate: domain.LatestDate(reviews),
		PositivePct: sentiment.PositivePct,
		NeutralPct:  sentiment.NeutralPct,
		NegativePct: sentiment.NegativePct,
		TopPraise:   sentiment.TopPraise,
		TopIssue:    sentiment.TopIssue,
	}, nil
}

func (p *Pipeline) finish(ctx context.Context, run *runState, scope txScope) error {
	run.record.Status = domain.RunStatusCommitted
	run.record.FinishedAt = p.clock.Now()
	return scope.do(ctx, func(tx ports.StoreTx) error {
		if err := tx.DropBackup(ctx); err != nil {
			return err
		}
		return tx.SaveRun(ctx, run.record)
	})
}

// fail rolls the run back. With an open transaction the rollback discards every
// write; once a per-product load has been committed the backup taken with it is
// restored instead.
func (p *Pipeline) fail(ctx context.Context, run *runState, tx ports.StoreTx, cause error) (RunReport, error) {
	cleanupCtx := context.WithoutCancel(ctx)

	if tx != nil {
		if err := tx.Rollback(); err != nil {
			run.logger.Error("rollback failed", "error", err)
		}
	}

	run.record.Status = domain.RunStatusRolledBack
	run.record.FinishedAt = p.clock.Now()
	run.record.Error = cause.Error()

	err := perCallScope{store: p.store}.do(cleanupCtx, func(tx ports.StoreTx) error {
		if run.loaded {
			if err := tx.RestoreBackup(cleanupCtx); err != nil {
				return err
			}
			if err := tx.DropBackup(cleanupCtx); err != nil {
				return err
			}
		}
		return tx.SaveRun(cleanupCtx, run.record)
	})
	if err != nil {
		run.logger.Error("recording rollback failed", "error", err)
	}

	run.report.Insights = nil
	run.transition(domain.StateRolledBack)
	run.logger.Error("run rolled back", "error", cause)
	return run.report, fmt.Errorf("run %s rolled back: %w", run.record.ID, cause)
}

type runState struct {
	record domain.Run
	report RunReport
	loaded bool
	logger *slog.Logger
}

func (r *runState) transition(state domain.RunState) {
	if r.report.State == state {
		return
	}
	r.report.State = state
	r.logger.Info("state transition", "state", string(state))
}

// txScope decides which transaction a group of store calls runs in.
type txScope interface {
	do(ctx context.Context, fn func(tx ports.StoreTx) error) error
}

// sharedScope runs every call inside one caller-owned transaction.
type sharedScope struct {
	tx ports.StoreTx
}

func (s sharedScope) do(_ context.Context, fn func(tx ports.StoreTx) error) error {
	return fn(s.tx)
}

// perCallScope gives every call its own transaction.
type perCallScope struct {
	store ports.ReviewStore
}

func (s perCallScope) do(ctx context.Context, fn func(tx ports.StoreTx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
