package usage

import (
	"context"
	"errors"
	"strings"
	"time"
)

// QueryParams filters ledger queries. Zero values mean "no filter".
type QueryParams struct {
	// Since is the inclusive lower bound on entry timestamps
	Since time.Time
	// Model restricts the summary to a single model
	Model string
}

// ModelUsage aggregates ledger entries for one model.
type ModelUsage struct {
	Model            string `json:"model"`
	Requests         int64  `json:"requests"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// Summary aggregates ledger entries overall and per model.
type Summary struct {
	Requests         int64        `json:"requests"`
	PromptTokens     int64        `json:"prompt_tokens"`
	CompletionTokens int64        `json:"completion_tokens"`
	TotalTokens      int64        `json:"total_tokens"`
	Models           []ModelUsage `json:"models"`
}

// Reader provides read access to the usage ledger.
type Reader interface {
	// Summary returns totals for entries matching params, models sorted by name.
	Summary(ctx context.Context, params QueryParams) (*Summary, error)
}

// summarize folds per-model rows into a Summary.
func summarize(models []ModelUsage) *Summary {
	s := &Summary{Models: models}
	if s.Models == nil {
		s.Models = []ModelUsage{}
	}
	for _, m := range s.Models {
		s.Requests += m.Requests
		s.PromptTokens += m.PromptTokens
		s.CompletionTokens += m.CompletionTokens
		s.TotalTokens += m.TotalTokens
	}
	return s
}

// ParseQueryParams builds query filters from user input. since may be an
// RFC 3339 timestamp or a duration relative to now (e.g. "24h").
func ParseQueryParams(since, model string, now time.Time) (QueryParams, error) {
	params := QueryParams{Model: strings.TrimSpace(model)}
	since = strings.TrimSpace(since)
	if since == "" {
		return params, nil
	}
	if ts, err := time.Parse(time.RFC3339, since); err == nil {
		params.Since = ts
		return params, nil
	}
	d, err := time.ParseDuration(since)
	if err != nil || d < 0 {
		return params, errors.New("since must be an RFC 3339 timestamp or a non-negative duration")
	}
	params.Since = now.Add(-d)
	return params, nil
}
