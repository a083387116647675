// Package analysis renders capability prompts and validates capability output.
package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"

	"ReviewInsights/internal/domain"
)

const fence = "```"

// Sentiment is a validated capability answer for one product.
type Sentiment struct {
	PositivePct float64
	NeutralPct  float64
	NegativePct float64
	TopPraise   string
	TopIssue    string
}

// Breakdown is the percentage split inside a Response.
type Breakdown struct {
	PositivePct *float64 `json:"positive_pct" jsonschema:"title=positive_pct,description=Share of positive reviews in percent."`
	NeutralPct  *float64 `json:"neutral_pct" jsonschema:"title=neutral_pct,description=Share of neutral reviews in percent."`
	NegativePct *float64 `json:"negative_pct" jsonschema:"title=negative_pct,description=Share of negative reviews in percent."`
}

// Response is the wire shape the capability is asked to produce. Pointer fields
// let the validator tell an absent field from a zero value.
type Response struct {
	SentimentBreakdown *Breakdown `json:"sentiment_breakdown" jsonschema:"title=sentiment_breakdown,description=Percentages of positive neutral and negative reviews."`
	TopPraise          *string    `json:"top_praise" jsonschema:"title=top_praise,description=Short summary of the most common positive point."`
	TopIssue           *string    `json:"top_issue" jsonschema:"title=top_issue,description=Short summary of the most common negative point."`
}

// ValidationKind classifies why a capability answer was rejected.
type ValidationKind string

const (
	KindEmpty             ValidationKind = "empty"
	KindUnterminatedFence ValidationKind = "unterminated_fence"
	KindInvalidJSON       ValidationKind = "invalid_json"
	KindWrongType         ValidationKind = "wrong_type"
	KindMissingField      ValidationKind = "missing_field"
)

// ValidationError is returned by ParseInsight. It matches domain.ErrMalformedResponse.
type ValidationError struct {
	Kind   ValidationKind
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%v: %s", domain.ErrMalformedResponse, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Is(target error) bool {
	return target == domain.ErrMalformedResponse
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ParseInsight turns raw capability text into a Sentiment. Numeric values are
// returned exactly as decoded.
func ParseInsight(raw string) (Sentiment, error) {
	body, err := UnwrapFence(raw)
	if err != nil {
		return Sentiment{}, err
	}
	if body == "" {
		return Sentiment{}, &ValidationError{Kind: KindEmpty}
	}

	var resp Response
	if err := json.Unmarshal(jsonc.ToJSON([]byte(body)), &resp); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Sentiment{}, &ValidationError{Kind: KindWrongType, Detail: typeErr.Field, Err: err}
		}
		return Sentiment{}, &ValidationError{Kind: KindInvalidJSON, Err: err}
	}

	if missing := missingFields(resp); len(missing) > 0 {
		return Sentiment{}, &ValidationError{Kind: KindMissingField, Detail: strings.Join(missing, ", ")}
	}

	return Sentiment{
		PositivePct: *resp.SentimentBreakdown.PositivePct,
		NeutralPct:  *resp.SentimentBreakdown.NeutralPct,
		NegativePct: *resp.SentimentBreakdown.NegativePct,
		TopPraise:   *resp.TopPraise,
		TopIssue:    *resp.TopIssue,
	}, nil
}

// UnwrapFence removes a markdown code fence around the payload. Text without a
// leading fence is returned trimmed; a leading fence without a closing one is an error.
func UnwrapFence(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, fence) {
		return s, nil
	}

	lines := strings.Split(s, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[len(lines)-1]) != fence {
		return "", &ValidationError{Kind: KindUnterminatedFence}
	}

	// first line is the opening fence with an optional language tag
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n")), nil
}

func missingFields(resp Response) []string {
	var missing []string
	if resp.SentimentBreakdown == nil {
		missing = append(missing, "sentiment_breakdown")
	} else {
		if resp.SentimentBreakdown.PositivePct == nil {
			missing = append(missing, "sentiment_breakdown.positive_pct")
		}
		if resp.SentimentBreakdown.NeutralPct == nil {
			missing = append(missing, "sentiment_breakdown.neutral_pct")
		}
		if resp.SentimentBreakdown.NegativePct == nil {
			missing = append(missing, "sentiment_breakdown.negative_pct")
		}
	}
	if resp.TopPraise == nil {
		missing = append(missing, "top_praise")
	}
	if resp.TopIssue == nil {
		missing = append(missing, "top_issue")
	}
	return missing
}
