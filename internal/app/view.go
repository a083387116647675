package app

import (
	"context"
	"fmt"
	"time"

	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/ports"
)

const (
	noAnalysis  = "No analysis available."
	trendWindow = 365 * 24 * time.Hour
)

// ProductView is the dashboard payload for one product.
type ProductView struct {
	ProductID             string                `json:"productId"`
	SentimentDistribution SentimentDistribution `json:"sentimentDistribution"`
	TopPraise             string                `json:"topPraise"`
	TopIssue              string                `json:"topIssue"`
	SummaryDate           string                `json:"summaryDate,omitempty"`
	RatingTrend           []TrendPoint          `json:"ratingTrend"`
}

type SentimentDistribution struct {
	Positive float64 `json:"positive"`
	Neutral  float64 `json:"neutral"`
	Negative float64 `json:"negative"`
}

type TrendPoint struct {
	Date        string  `json:"date"`
	AvgScore    float64 `json:"avgScore"`
	ReviewCount int     `json:"reviewCount"`
}

// BuildProductView combines the latest insight with the rating trend of the
// year before now. A product without insight gets zero percentages and the
// placeholder texts.
func BuildProductView(ctx context.Context, reader ports.InsightReader, productID string, now time.Time) (ProductView, error) {
	view := ProductView{
		ProductID:   productID,
		TopPraise:   noAnalysis,
		TopIssue:    noAnalysis,
		RatingTrend: []TrendPoint{},
	}

	insight, ok, err := reader.LatestInsight(ctx, productID)
	if err != nil {
		return ProductView{}, fmt.Errorf("latest insight: %w", err)
	}
	if ok {
		view.SentimentDistribution = SentimentDistribution{
			Positive: insight.PositivePct,
			Neutral:  insight.NeutralPct,
			Negative: insight.NegativePct,
		}
		view.TopPraise = insight.TopPraise
		view.TopIssue = insight.TopIssue
		view.SummaryDate = insight.SummaryDate.Format(time.DateOnly)
	}

	since := domain.TruncateDay(now.Add(-trendWindow))
	trend, err := reader.RatingTrend(ctx, productID, since)
	if err != nil {
		return ProductView{}, fmt.Errorf("rating trend: %w", err)
	}
	for _, day := range trend {
		view.RatingTrend = append(view.RatingTrend, TrendPoint{
			Date:        day.Day.Format(time.DateOnly),
			AvgScore:    day.AvgScore,
			ReviewCount: day.ReviewCount,
		})
	}

	return view, nil
}
