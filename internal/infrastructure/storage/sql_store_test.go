package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/logging"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()

	ctx := context.Background()
	store, err := Open(ctx, DialectSQLite, filepath.Join(t.TempDir(), "reviews.db"), 0, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleReviews() []domain.RawReview {
	return []domain.RawReview{
		{ProductID: "B001E4KFG0", UserID: "A3SGXH7AUHU8GW", Score: 5, Summary: "Good Quality Dog Food", Text: "I have bought several", ReviewDate: time.Unix(1303862400, 0).UTC()},
		{ProductID: "B00813GRG4", UserID: "A1D87F6ZCVE5NK", Score: 1, Summary: "Not as Advertised", Text: "Product arrived labeled", ReviewDate: time.Unix(1346976000, 0).UTC()},
		{ProductID: "A123", UserID: "U1", Score: 4, Summary: "ok", Text: "fine", ReviewDate: time.Date(2012, time.March, 5, 10, 0, 0, 0, time.UTC)},
		{ProductID: "A123", UserID: "U2", Score: 2, Summary: "meh", Text: "slow", ReviewDate: time.Date(2012, time.March, 5, 18, 30, 0, 0, time.UTC)},
		{ProductID: "A123", UserID: "U3", Score: 3, Summary: "fine", Text: "average", ReviewDate: time.Date(2012, time.March, 7, 9, 0, 0, 0, time.UTC)},
	}
}

func loadReviews(t *testing.T, store *SQLStore, reviews []domain.RawReview) {
	t.Helper()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Reset(ctx))
	require.NoError(t, tx.AppendReviews(ctx, reviews))
	require.NoError(t, tx.Commit())
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestAppendAndEnumerate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	loadReviews(t, store, sampleReviews())

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	ids, err := tx.ProductIDs(ctx, 0)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"A123", "B001E4KFG0", "B00813GRG4"}, ids); diff != "" {
		t.Fatalf("product ids (-want +got):\n%s", diff)
	}

	capped, err := tx.ProductIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A123", "B001E4KFG0"}, capped)

	reviews, err := tx.ProductReviews(ctx, "A123")
	require.NoError(t, err)
	if diff := cmp.Diff(sampleReviews()[2:], reviews); diff != "" {
		t.Fatalf("product reviews (-want +got):\n%s", diff)
	}

	none, err := tx.ProductReviews(ctx, "B999")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAppendReviewsBatches(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	reviews := make([]domain.RawReview, insertBatchSize*2+7)
	for i := range reviews {
		reviews[i] = domain.RawReview{ProductID: "P", UserID: "U", Score: 3, ReviewDate: time.Unix(int64(1300000000+i), 0).UTC()}
	}
	loadReviews(t, store, reviews)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	got, err := tx.ProductReviews(ctx, "P")
	require.NoError(t, err)
	require.Len(t, got, len(reviews))
	assert.True(t, got[len(got)-1].ReviewDate.Equal(reviews[len(reviews)-1].ReviewDate))
}

func TestResetRestoresIdenticalRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	snapshot := func() []string {
		rows, err := store.db.QueryContext(ctx, `SELECT id || ':' || product_id || ':' || user_id FROM reviews ORDER BY id`)
		require.NoError(t, err)
		defer rows.Close()
		var out []string
		for rows.Next() {
			var s string
			require.NoError(t, rows.Scan(&s))
			out = append(out, s)
		}
		require.NoError(t, rows.Err())
		return out
	}

	loadReviews(t, store, sampleReviews())
	first := snapshot()
	loadReviews(t, store, sampleReviews())
	second := snapshot()

	require.Len(t, first, len(sampleReviews()))
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("reload changed reviews (-first +second):\n%s", diff)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	loadReviews(t, store, sampleReviews())

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Reset(ctx))
	require.NoError(t, tx.AppendReviews(ctx, sampleReviews()[:1]))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())

	products, err := store.ListProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A123", "B001E4KFG0", "B00813GRG4"}, products)
}

func TestInsightsPerRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	loadReviews(t, store, sampleReviews())

	older := domain.ReviewInsight{
		ProductID: "A123", RunID: "run-1", SummaryDate: day(2012, time.March, 5),
		PositivePct: 50, NeutralPct: 30, NegativePct: 20, TopPraise: "taste", TopIssue: "price",
	}
	newer := domain.ReviewInsight{
		ProductID: "A123", RunID: "run-2", SummaryDate: time.Date(2012, time.March, 7, 9, 0, 0, 0, time.UTC),
		PositivePct: 80, NeutralPct: 15, NegativePct: 5, TopPraise: "fast shipping", TopIssue: "packaging",
	}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveInsight(ctx, older))
	require.NoError(t, tx.SaveInsight(ctx, newer))
	// same product and run again is ignored
	dup := newer
	dup.TopIssue = "changed"
	require.NoError(t, tx.SaveInsight(ctx, dup))

	done, err := tx.InsightProducts(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"A123": true}, done)
	require.NoError(t, tx.Commit())

	latest, ok, err := store.LatestInsight(ctx, "A123")
	require.NoError(t, err)
	require.True(t, ok)
	newer.SummaryDate = day(2012, time.March, 7)
	if diff := cmp.Diff(newer, latest); diff != "" {
		t.Fatalf("latest insight (-want +got):\n%s", diff)
	}

	_, ok, err = store.LatestInsight(ctx, "B999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRatingTrend(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	loadReviews(t, store, sampleReviews())

	trend, err := store.RatingTrend(ctx, "A123", day(2012, time.January, 1))
	require.NoError(t, err)

	want := []domain.DailyRating{
		{Day: day(2012, time.March, 5), AvgScore: 3, ReviewCount: 2},
		{Day: day(2012, time.March, 7), AvgScore: 3, ReviewCount: 1},
	}
	if diff := cmp.Diff(want, trend); diff != "" {
		t.Fatalf("trend (-want +got):\n%s", diff)
	}

	trend, err = store.RatingTrend(ctx, "A123", day(2012, time.March, 6))
	require.NoError(t, err)
	require.Len(t, trend, 1)
	assert.Equal(t, 1, trend[0].ReviewCount)
}

func TestRunRecords(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, time.October, 18, 9, 0, 0, 0, time.UTC)
	run := domain.Run{ID: "run-1", Mode: domain.TxModeProduct, Status: domain.RunStatusRunning, RowsLoaded: 5, MaxProducts: 7, StartedAt: started}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveRun(ctx, run))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	got, err := tx.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.Status, got.Status)
	assert.Equal(t, run.Mode, got.Mode)
	assert.Equal(t, 5, got.RowsLoaded)
	assert.Equal(t, 7, got.MaxProducts)
	assert.True(t, got.StartedAt.Equal(started))
	assert.True(t, got.FinishedAt.IsZero())

	run.Status = domain.RunStatusCommitted
	run.FinishedAt = started.Add(time.Minute)
	require.NoError(t, tx.SaveRun(ctx, run))
	got, err = tx.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCommitted, got.Status)
	assert.True(t, got.FinishedAt.Equal(run.FinishedAt))

	_, err = tx.LoadRun(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrRunNotFound)
	require.NoError(t, tx.Rollback())
}

func TestParseDay(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"2012-03-05", "2012-03-05T00:00:00Z"} {
		got, err := parseDay(in)
		require.NoError(t, err)
		assert.Equal(t, day(2012, time.March, 5), got)
	}
	_, err := parseDay("03/05")
	require.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a.db?_time_format=sqlite&_pragma=busy_timeout(5000)", sqliteDSN("a.db"))
	assert.Equal(t, "a.db?mode=rwc&_time_format=sqlite&_pragma=busy_timeout(5000)", sqliteDSN("a.db?mode=rwc"))
	assert.Equal(t, "a.db?_time_format=sqlite", sqliteDSN("a.db?_time_format=sqlite"))
}

func TestSupersedeRuns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, time.October, 18, 10, 0, 0, 0, time.UTC)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	for _, run := range []domain.Run{
		{ID: "old", Mode: domain.TxModeProduct, Status: domain.RunStatusRunning, StartedAt: at.Add(-time.Hour)},
		{ID: "done", Mode: domain.TxModeRun, Status: domain.RunStatusCommitted, StartedAt: at.Add(-2 * time.Hour), FinishedAt: at.Add(-time.Hour)},
		{ID: "new", Mode: domain.TxModeProduct, Status: domain.RunStatusRunning, StartedAt: at},
	} {
		require.NoError(t, tx.SaveRun(ctx, run))
	}
	require.NoError(t, tx.SupersedeRuns(ctx, "new", at))

	old, err := tx.LoadRun(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRolledBack, old.Status)
	assert.Equal(t, "superseded by run new", old.Error)
	assert.True(t, old.FinishedAt.Equal(at))

	done, err := tx.LoadRun(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCommitted, done.Status)

	current, err := tx.LoadRun(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, current.Status)
}

func TestBackupRestoresPreviousContents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	loadReviews(t, store, sampleReviews())

	previous := domain.ReviewInsight{
		ProductID: "A123", RunID: "run-1", SummaryDate: day(2012, time.March, 7),
		PositivePct: 50, NeutralPct: 30, NegativePct: 20, TopPraise: "taste", TopIssue: "price",
	}
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveInsight(ctx, previous))
	require.NoError(t, tx.Commit())

	ids := func() []string {
		rows, err := store.db.QueryContext(ctx, `SELECT id || ':' || product_id FROM reviews ORDER BY id`)
		require.NoError(t, err)
		defer rows.Close()
		var out []string
		for rows.Next() {
			var s string
			require.NoError(t, rows.Scan(&s))
			out = append(out, s)
		}
		require.NoError(t, rows.Err())
		return out
	}
	before := ids()

	// back up, then replace with a different load and a new insight
	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Backup(ctx))
	require.NoError(t, tx.Reset(ctx))
	require.NoError(t, tx.AppendReviews(ctx, sampleReviews()[:1]))
	require.NoError(t, tx.SaveInsight(ctx, domain.ReviewInsight{ProductID: "B001E4KFG0", RunID: "run-2", SummaryDate: day(2011, time.April, 27)}))
	require.NoError(t, tx.Commit())

	products, err := store.ListProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"B001E4KFG0"}, products)

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.RestoreBackup(ctx))
	require.NoError(t, tx.DropBackup(ctx))
	require.NoError(t, tx.Commit())

	if diff := cmp.Diff(before, ids()); diff != "" {
		t.Fatalf("restored reviews (-want +got):\n%s", diff)
	}
	latest, ok, err := store.LatestInsight(ctx, "A123")
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(previous, latest); diff != "" {
		t.Fatalf("restored insight (-want +got):\n%s", diff)
	}
	_, ok, err = store.LatestInsight(ctx, "B001E4KFG0")
	require.NoError(t, err)
	assert.False(t, ok)

	// new rows continue after the restored ids
	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AppendReviews(ctx, sampleReviews()[:1]))
	require.NoError(t, tx.Commit())
	after := ids()
	require.Len(t, after, len(before)+1)
	assert.Equal(t, fmt.Sprintf("%d:B001E4KFG0", len(before)+1), after[len(after)-1])

	// a dropped backup restores to empty stores
	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.RestoreBackup(ctx))
	require.NoError(t, tx.Commit())
	products, err = store.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestPlaceholderFormatPerDialect(t *testing.T) {
	t.Parallel()

	since := day(2012, time.January, 1)

	query, args, err := NewSQLStore(nil, DialectPostgres, nil).ratingTrendQuery("A123", since)
	require.NoError(t, err)
	assert.Contains(t, query, "product_id = $1")
	assert.Contains(t, query, "review_date >= $2")
	assert.Contains(t, query, "(review_date AT TIME ZONE 'UTC')::date AS day")
	assert.Contains(t, query, "GROUP BY (review_date AT TIME ZONE 'UTC')::date")
	assert.Equal(t, []any{"A123", since}, args)

	query, _, err = NewSQLStore(nil, DialectSQLite, nil).ratingTrendQuery("A123", since)
	require.NoError(t, err)
	assert.Contains(t, query, "product_id = ?")
	assert.Contains(t, query, "date(review_date) AS day")
	assert.NotContains(t, query, "$1")
}
