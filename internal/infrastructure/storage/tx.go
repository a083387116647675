package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/ports"
)

type sqlTx struct {
	tx      *sql.Tx
	sb      sq.StatementBuilderType
	dialect string
}

var _ ports.StoreTx = (*sqlTx)(nil)

// Reset empties both stores and restarts their id sequences so that reloading the
// same input yields identical rows.
func (t *sqlTx) Reset(ctx context.Context) error {
	var stmts []string
	switch t.dialect {
	case DialectPostgres:
		stmts = []string{`TRUNCATE TABLE review_insights, reviews RESTART IDENTITY`}
	default:
		stmts = []string{
			`DELETE FROM review_insights`,
			`DELETE FROM reviews`,
			`DELETE FROM sqlite_sequence WHERE name IN ('reviews', 'review_insights')`,
		}
	}

	for _, stmt := range stmts {
		if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
			return persistErr("reset stores", err)
		}
	}
	return nil
}

// AppendReviews inserts reviews in batches, preserving input order.
func (t *sqlTx) AppendReviews(ctx context.Context, reviews []domain.RawReview) error {
	for start := 0; start < len(reviews); start += insertBatchSize {
		end := min(start+insertBatchSize, len(reviews))

		builder := t.sb.Insert("reviews").Columns(reviewColumns...)
		for _, r := range reviews[start:end] {
			builder = builder.Values(r.ProductID, r.UserID, r.Score, r.Summary, r.Text, r.ReviewDate.UTC())
		}

		query, args, err := builder.ToSql()
		if err != nil {
			return fmt.Errorf("build review insert: %w", err)
		}
		if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
			return persistErr("insert reviews", err)
		}
	}
	return nil
}

// ProductIDs lists distinct product ids in lexicographic order; limit <= 0 means all.
func (t *sqlTx) ProductIDs(ctx context.Context, limit int) ([]string, error) {
	return productIDs(ctx, t.tx, t.sb, limit)
}

// ProductReviews returns a product's reviews in load order.
func (t *sqlTx) ProductReviews(ctx context.Context, productID string) ([]domain.RawReview, error) {
	query, args, err := t.sb.
		Select(reviewColumns...).
		From("reviews").
		Where(sq.Eq{"product_id": productID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build product reviews query: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("query product reviews", err)
	}

	var reviews []domain.RawReview
	for rows.Next() {
		var (
			r             domain.RawReview
			summary, text sql.NullString
			score         sql.NullFloat64
			reviewDate    sql.NullTime
		)
		if err := rows.Scan(&r.ProductID, &r.UserID, &score, &summary, &text, &reviewDate); err != nil {
			_ = rows.Close()
			return nil, persistErr("scan review", err)
		}
		r.Score = score.Float64
		r.Summary = summary.String
		r.Text = text.String
		if reviewDate.Valid {
			r.ReviewDate = reviewDate.Time.UTC()
		}
		reviews = append(reviews, r)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, persistErr("review rows", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, persistErr("close rows", closeErr)
	}

	return reviews, nil
}

// SaveInsight inserts an insight; a second insert for the same product and run is a no-op.
func (t *sqlTx) SaveInsight(ctx context.Context, insight domain.ReviewInsight) error {
	query, args, err := t.sb.
		Insert("review_insights").
		Columns(insightColumns...).
		Values(
			insight.ProductID,
			insight.RunID,
			domain.TruncateDay(insight.SummaryDate),
			insight.PositivePct,
			insight.NeutralPct,
			insight.NegativePct,
			insight.TopPraise,
			insight.TopIssue,
		).
		Suffix("ON CONFLICT (product_id, run_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insight insert: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return persistErr("insert insight", err)
	}
	return nil
}

// InsightProducts returns the products that already have an insight for the run.
func (t *sqlTx) InsightProducts(ctx context.Context, runID string) (map[string]bool, error) {
	query, args, err := t.sb.
		Select("product_id").
		From("review_insights").
		Where(sq.Eq{"run_id": runID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insight products query: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("query insight products", err)
	}

	result := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, persistErr("scan product id", err)
		}
		result[id] = true
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, persistErr("insight rows", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, persistErr("close rows", closeErr)
	}

	return result, nil
}

// Backup copies the current reviews and insights aside, replacing any older copy.
func (t *sqlTx) Backup(ctx context.Context) error {
	if err := t.DropBackup(ctx); err != nil {
		return err
	}
	if err := t.copyRows(ctx, "reviews", "reviews_backup", reviewColumns); err != nil {
		return persistErr("back up reviews", err)
	}
	if err := t.copyRows(ctx, "review_insights", "review_insights_backup", insightColumns); err != nil {
		return persistErr("back up insights", err)
	}
	return nil
}

// RestoreBackup replaces both stores with the rows saved by Backup, ids included.
func (t *sqlTx) RestoreBackup(ctx context.Context) error {
	if err := t.Reset(ctx); err != nil {
		return err
	}
	if err := t.copyRows(ctx, "reviews_backup", "reviews", reviewColumns); err != nil {
		return persistErr("restore reviews", err)
	}
	if err := t.copyRows(ctx, "review_insights_backup", "review_insights", insightColumns); err != nil {
		return persistErr("restore insights", err)
	}

	if t.dialect == DialectPostgres {
		// explicit ids do not advance the identity sequences
		for _, table := range []string{"reviews", "review_insights"} {
			stmt := fmt.Sprintf(`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE(MAX(id), 0) + 1, false) FROM %[1]s`, table)
			if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
				return persistErr("restore "+table+" sequence", err)
			}
		}
	}
	return nil
}

// DropBackup discards the rows saved by Backup.
func (t *sqlTx) DropBackup(ctx context.Context) error {
	for _, table := range []string{"review_insights_backup", "reviews_backup"} {
		if _, err := t.tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return persistErr("clear "+table, err)
		}
	}
	return nil
}

func (t *sqlTx) copyRows(ctx context.Context, from, to string, columns []string) error {
	cols := "id, " + strings.Join(columns, ", ")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ORDER BY id", to, cols, cols, from)
	_, err := t.tx.ExecContext(ctx, stmt)
	return err
}

// SupersedeRuns marks every other run still in progress as rolled back. Their
// raw store is about to be replaced, so they can no longer be resumed.
func (t *sqlTx) SupersedeRuns(ctx context.Context, runID string, at time.Time) error {
	query, args, err := t.sb.
		Update("pipeline_runs").
		Set("status", string(domain.RunStatusRolledBack)).
		Set("finished_at", at.UTC()).
		Set("error", "superseded by run "+runID).
		Where(sq.And{
			sq.Eq{"status": string(domain.RunStatusRunning)},
			sq.NotEq{"run_id": runID},
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run supersede: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return persistErr("supersede runs", err)
	}
	return nil
}

// SaveRun inserts or updates the run audit record.
func (t *sqlTx) SaveRun(ctx context.Context, run domain.Run) error {
	var finished any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC()
	}

	query, args, err := t.sb.
		Insert("pipeline_runs").
		Columns(runColumns...).
		Values(run.ID, string(run.Mode), string(run.Status), run.RowsLoaded, run.MaxProducts, run.StartedAt.UTC(), finished, run.Error).
		Suffix(`ON CONFLICT (run_id) DO UPDATE SET
			status = excluded.status,
			rows_loaded = excluded.rows_loaded,
			max_products = excluded.max_products,
			finished_at = excluded.finished_at,
			error = excluded.error`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run upsert: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return persistErr("save run", err)
	}
	return nil
}

// LoadRun reads a run audit record; domain.ErrRunNotFound if absent.
func (t *sqlTx) LoadRun(ctx context.Context, runID string) (domain.Run, error) {
	query, args, err := t.sb.
		Select(runColumns...).
		From("pipeline_runs").
		Where(sq.Eq{"run_id": runID}).
		ToSql()
	if err != nil {
		return domain.Run{}, fmt.Errorf("build run query: %w", err)
	}

	var (
		run          domain.Run
		mode, status string
		finished     sql.NullTime
	)
	err = t.tx.QueryRowContext(ctx, query, args...).Scan(&run.ID, &mode, &status, &run.RowsLoaded, &run.MaxProducts, &run.StartedAt, &finished, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("run %s: %w", runID, domain.ErrRunNotFound)
	}
	if err != nil {
		return domain.Run{}, persistErr("query run", err)
	}

	run.Mode = domain.TxMode(mode)
	run.Status = domain.RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	if finished.Valid {
		run.FinishedAt = finished.Time.UTC()
	}
	return run, nil
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

// Rollback discards the transaction; rolling back a finished transaction is not an error.
func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return persistErr("rollback", err)
	}
	return nil
}
