package ports

import (
	"context"
	"time"

	"ReviewInsights/internal/domain"
)

// ReviewSource reads normalized reviews from the raw dataset.
type ReviewSource interface {
	Read(ctx context.Context, limit int) ([]domain.RawReview, error)
}

// Analyzer sends one product's review texts to the text-analysis capability and
// returns its raw textual answer.
type Analyzer interface {
	Analyze(ctx context.Context, texts []string) (string, error)
}

// ReviewStore opens transactions over the Raw Store and Insight Store.
type ReviewStore interface {
	Migrate(ctx context.Context) error
	Begin(ctx context.Context) (StoreTx, error)
}

// StoreTx groups store operations that commit or roll back together.
type StoreTx interface {
	Reset(ctx context.Context) error
	AppendReviews(ctx context.Context, reviews []domain.RawReview) error
	ProductIDs(ctx context.Context, limit int) ([]string, error)
	ProductReviews(ctx context.Context, productID string) ([]domain.RawReview, error)
	SaveInsight(ctx context.Context, insight domain.ReviewInsight) error
	InsightProducts(ctx context.Context, runID string) (map[string]bool, error)

	Backup(ctx context.Context) error
	RestoreBackup(ctx context.Context) error
	DropBackup(ctx context.Context) error

	SaveRun(ctx context.Context, run domain.Run) error
	LoadRun(ctx context.Context, runID string) (domain.Run, error)
	SupersedeRuns(ctx context.Context, runID string, at time.Time) error

	Commit() error
	Rollback() error
}

// InsightReader serves the read contract used by dashboards.
type InsightReader interface {
	ListProducts(ctx context.Context) ([]string, error)
	LatestInsight(ctx context.Context, productID string) (domain.ReviewInsight, bool, error)
	RatingTrend(ctx context.Context, productID string, since time.Time) ([]domain.DailyRating, error)
}

// Clock abstracts time so pacing can be tested without real delays.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}
