package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/ports"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	insertBatchSize = 500
)

//go:embed migrations/*/*.sql
var migrationFS embed.FS

var (
	reviewColumns  = []string{"product_id", "user_id", "score", "summary", "text", "review_date"}
	insightColumns = []string{"product_id", "run_id", "summary_date", "positive_pct", "neutral_pct", "negative_pct", "top_praise", "top_issue"}
	runColumns     = []string{"run_id", "tx_mode", "status", "rows_loaded", "max_products", "started_at", "finished_at", "error"}
)

// SQLStore persists reviews, insights and run records in Postgres or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect string
	sb      sq.StatementBuilderType
	logger  *slog.Logger
}

var _ ports.ReviewStore = (*SQLStore)(nil)
var _ ports.InsightReader = (*SQLStore)(nil)

// Open connects to the database and validates the connection.
func Open(ctx context.Context, dialect, dsn string, maxOpenConns int, logger *slog.Logger) (*SQLStore, error) {
	switch dialect {
	case DialectPostgres:
	case DialectSQLite:
		dsn = sqliteDSN(dsn)
		// one writer; every statement of a run goes through one connection
		maxOpenConns = 1
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(15 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	return NewSQLStore(db, dialect, logger), nil
}

// NewSQLStore wires an existing sql.DB.
func NewSQLStore(db *sql.DB, dialect string, logger *slog.Logger) *SQLStore {
	var format sq.PlaceholderFormat = sq.Question
	if dialect == DialectPostgres {
		format = sq.Dollar
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(format),
		logger:  logger,
	}
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema for the store dialect in lexical order.
// Every statement is idempotent, so Migrate runs before each pipeline run.
func (s *SQLStore) Migrate(ctx context.Context) error {
	dir := "migrations/" + s.dialect
	entries, err := migrationFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := migrationFS.ReadFile(dir + "/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		for _, stmt := range strings.Split(string(raw), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return persistErr("exec migration "+name, err)
			}
		}
		s.logger.DebugContext(ctx, "migration applied", "migration", name, "dialect", s.dialect)
	}
	return nil
}

// Begin opens a transaction over both stores.
func (s *SQLStore) Begin(ctx context.Context) (ports.StoreTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("begin transaction", err)
	}
	return &sqlTx{tx: tx, sb: s.sb, dialect: s.dialect}, nil
}

// ListProducts returns every product id with at least one review.
func (s *SQLStore) ListProducts(ctx context.Context) ([]string, error) {
	return productIDs(ctx, s.db, s.sb, 0)
}

// LatestInsight returns the insight with the most recent summary date for a product.
func (s *SQLStore) LatestInsight(ctx context.Context, productID string) (domain.ReviewInsight, bool, error) {
	query, args, err := s.sb.
		Select(insightColumns...).
		From("review_insights").
		Where(sq.Eq{"product_id": productID}).
		OrderBy("summary_date DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.ReviewInsight{}, false, fmt.Errorf("build latest insight query: %w", err)
	}

	var (
		insight       domain.ReviewInsight
		praise, issue sql.NullString
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&insight.ProductID,
		&insight.RunID,
		&insight.SummaryDate,
		&insight.PositivePct,
		&insight.NeutralPct,
		&insight.NegativePct,
		&praise,
		&issue,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReviewInsight{}, false, nil
	}
	if err != nil {
		return domain.ReviewInsight{}, false, persistErr("query latest insight", err)
	}
	insight.SummaryDate = domain.TruncateDay(insight.SummaryDate)
	insight.TopPraise = praise.String
	insight.TopIssue = issue.String
	return insight, true, nil
}

// RatingTrend aggregates average score and review count per day since the given time.
func (s *SQLStore) RatingTrend(ctx context.Context, productID string, since time.Time) ([]domain.DailyRating, error) {
	query, args, err := s.ratingTrendQuery(productID, since)
	if err != nil {
		return nil, fmt.Errorf("build rating trend query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("query rating trend", err)
	}

	var trend []domain.DailyRating
	for rows.Next() {
		var (
			day    string
			rating domain.DailyRating
		)
		if err := rows.Scan(&day, &rating.AvgScore, &rating.ReviewCount); err != nil {
			_ = rows.Close()
			return nil, persistErr("scan rating trend", err)
		}
		rating.Day, err = parseDay(day)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		trend = append(trend, rating)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, persistErr("rating trend rows", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, persistErr("close rows", closeErr)
	}

	return trend, nil
}

// ratingTrendQuery groups reviews by their UTC calendar day in both dialects.
func (s *SQLStore) ratingTrendQuery(productID string, since time.Time) (string, []any, error) {
	day := "date(review_date)"
	if s.dialect == DialectPostgres {
		day = "(review_date AT TIME ZONE 'UTC')::date"
	}

	return s.sb.
		Select(day+" AS day", "AVG(score)", "COUNT(*)").
		From("reviews").
		Where(sq.And{
			sq.Eq{"product_id": productID},
			sq.GtOrEq{"review_date": since.UTC()},
		}).
		GroupBy(day).
		OrderBy("day").
		ToSql()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func productIDs(ctx context.Context, q queryer, sb sq.StatementBuilderType, limit int) ([]string, error) {
	builder := sb.Select("product_id").Distinct().From("reviews").OrderBy("product_id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build product query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("query products", err)
	}

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, persistErr("scan product id", err)
		}
		ids = append(ids, id)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, persistErr("product rows", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, persistErr("close rows", closeErr)
	}

	return ids, nil
}

// parseDay accepts both the SQLite text form and the RFC 3339 form database/sql
// produces when a Postgres DATE is scanned into a string.
func parseDay(value string) (time.Time, error) {
	if len(value) < len("2006-01-02") {
		return time.Time{}, fmt.Errorf("parse day %q: too short", value)
	}
	day, err := time.Parse("2006-01-02", value[:len("2006-01-02")])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", value, err)
	}
	return day, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_time_format=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_time_format=sqlite&_pragma=busy_timeout(5000)"
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}
