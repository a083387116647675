package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/ports"
)

// Source column names of the raw review export.
const (
	colProductID = "ProductId"
	colUserID    = "UserId"
	colScore     = "Score"
	colSummary   = "Summary"
	colText      = "Text"
	colTime      = "Time"
)

var requiredColumns = []string{colProductID, colUserID, colScore, colSummary, colText, colTime}

// CSVSource reads reviews from a CSV export with a header row.
type CSVSource struct {
	path   string
	logger *slog.Logger
}

var _ ports.ReviewSource = (*CSVSource)(nil)

// NewCSVSource wires a dataset path.
func NewCSVSource(path string, logger *slog.Logger) *CSVSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVSource{path: path, logger: logger}
}

// Read parses up to limit rows. Fewer rows than requested is not an error.
// Every row is parsed before returning so callers never see a partial batch.
func (s *CSVSource) Read(ctx context.Context, limit int) ([]domain.RawReview, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w: %w", domain.ErrDataSource, err)
	}
	defer f.Close()

	reviews, err := Parse(ctx, f, limit)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", s.path, err)
	}

	if len(reviews) < limit {
		s.logger.Info("dataset shorter than requested", "path", s.path, "requested", limit, "read", len(reviews))
	}
	return reviews, nil
}

// Parse reads a CSV stream with a header row into reviews.
func Parse(ctx context.Context, r io.Reader, limit int) ([]domain.RawReview, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty dataset", domain.ErrDataSource)
		}
		return nil, fmt.Errorf("%w: read header: %w", domain.ErrDataSource, err)
	}

	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	reviews := make([]domain.RawReview, 0, max(limit, 0))
	for line := 2; limit <= 0 || len(reviews) < limit; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrDataSource, err)
		}

		review, err := toReview(record, index)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", domain.ErrDataSource, line, err)
		}
		reviews = append(reviews, review)
	}

	return reviews, nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", domain.ErrDataSource, strings.Join(missing, ", "))
	}
	return index, nil
}

func toReview(record []string, index map[string]int) (domain.RawReview, error) {
	field := func(col string) string {
		return record[index[col]]
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(field(colScore)), 64)
	if err != nil {
		return domain.RawReview{}, fmt.Errorf("parse %s: %w", colScore, err)
	}

	epoch, err := strconv.ParseInt(strings.TrimSpace(field(colTime)), 10, 64)
	if err != nil {
		return domain.RawReview{}, fmt.Errorf("parse %s: %w", colTime, err)
	}

	productID := strings.TrimSpace(field(colProductID))
	if productID == "" {
		return domain.RawReview{}, fmt.Errorf("empty %s", colProductID)
	}

	return domain.RawReview{
		ProductID:  productID,
		UserID:     strings.TrimSpace(field(colUserID)),
		Score:      score,
		Summary:    field(colSummary),
		Text:       field(colText),
		ReviewDate: time.Unix(epoch, 0).UTC(),
	}, nil
}
