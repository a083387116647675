package domain

import "time"

// RawReview is a single customer review as loaded from the raw dataset.
type RawReview struct {
	ProductID  string
	UserID     string
	Score      float64
	Summary    string
	Text       string
	ReviewDate time.Time
}

// ReviewInsight is one dated sentiment summary produced for a product by a run.
type ReviewInsight struct {
	ProductID   string
	RunID       string
	SummaryDate time.Time
	PositivePct float64
	NeutralPct  float64
	NegativePct float64
	TopPraise   string
	TopIssue    string
}

// DailyRating aggregates review scores for one calendar day.
type DailyRating struct {
	Day         time.Time
	AvgScore    float64
	ReviewCount int
}

// LatestDate returns the most recent review date of the batch truncated to a UTC calendar day.
func LatestDate(reviews []RawReview) time.Time {
	var latest time.Time
	for _, r := range reviews {
		if r.ReviewDate.After(latest) {
			latest = r.ReviewDate
		}
	}
	return TruncateDay(latest)
}

// TruncateDay drops the time-of-day component in UTC.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
