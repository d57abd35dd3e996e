package ai

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedResponse is returned when the model output cannot be parsed
// into an Enrichment.
var ErrMalformedResponse = errors.New("malformed AI response")

// Config selects the model used for one enrichment call. ConfigID is
// recorded alongside results so outputs can be traced to a configuration.
type Config struct {
	Model       string
	ConfigID    int64
	Temperature float64
}

// Enrichment is the structured output of the AI adapter. ImpactScore holds
// whatever the model returned (number, numeric string, or junk); use
// CoerceImpactScore to read it.
type Enrichment struct {
	CategoryCode string `json:"category_code"`
	SubTypeCode  string `json:"sub_type_code"`
	CompanyName  string `json:"company_name"`
	Ticker       string `json:"ticker"`
	Exchange     string `json:"exchange"`
	CountryCode  string `json:"country_code"`
	Headline     string `json:"headline"`
	Summary      string `json:"summary"`
	Sentiment    string `json:"sentiment"`
	LanguageCode string `json:"language_code"`
	URL          string `json:"url"`
	ImpactScore  any    `json:"impact_score"`
}

// Enricher turns free text into an Enrichment.
type Enricher interface {
	Enrich(ctx context.Context, text string, cfg Config) (*Enrichment, error)
}

// CoerceImpactScore converts a loosely typed impact score to an int.
// Numbers truncate toward zero and booleans count as 0 or 1. Strings must
// hold an integer: "5" is 5 but "5.7" and "1e3" are 0. Anything else,
// including numbers outside the int range, yields 0.
func CoerceImpactScore(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case float64:
		if math.IsNaN(n) || n >= math.MaxInt || n < math.MinInt {
			return 0
		}
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return CoerceImpactScore(f)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return 0
}

// parseEnrichment extracts the JSON object from a model response.
func parseEnrichment(response string) (*Enrichment, error) {
	text := extractJSON(response)
	var e Enrichment
	if err := json.Unmarshal([]byte(text), &e); err != nil {
		return nil, errors.Join(ErrMalformedResponse, err)
	}
	if strings.TrimSpace(e.Headline) == "" && strings.TrimSpace(e.Summary) == "" {
		return nil, errors.Join(ErrMalformedResponse, errors.New("no headline or summary"))
	}
	return &e, nil
}

// extractJSON attempts to extract JSON from a text response that might contain extra text
func extractJSON(text string) string {
	// Find first { and last }
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// truncateText truncates text to maxLen characters
func truncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
