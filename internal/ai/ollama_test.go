package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ollamaServer answers /api/generate with the given model response text.
func ollamaServer(t *testing.T, response string, gotReq *map[string]any) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if gotReq != nil {
			json.NewDecoder(r.Body).Decode(gotReq)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		line, _ := json.Marshal(map[string]any{
			"model":    "test-model",
			"response": response,
			"done":     true,
		})
		fmt.Fprintf(w, "%s\n", line)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestOllamaEnrich(t *testing.T) {
	var req map[string]any
	ts := ollamaServer(t, `Sure! {"headline":"X grows","summary":"profit up","ticker":"X","impact_score":"7"}`, &req)

	enricher, err := NewOllamaEnricher(ts.URL, nil)
	if err != nil {
		t.Fatalf("NewOllamaEnricher: %v", err)
	}
	got, err := enricher.Enrich(context.Background(), "Company X reports 20% profit growth", Config{Model: "test-model", Temperature: 0.1})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if got.Headline != "X grows" || got.Summary != "profit up" || got.Ticker != "X" {
		t.Errorf("unexpected enrichment %+v", got)
	}
	if CoerceImpactScore(got.ImpactScore) != 7 {
		t.Errorf("impact = %v", got.ImpactScore)
	}

	if req["model"] != "test-model" {
		t.Errorf("request model = %v", req["model"])
	}
	prompt, _ := req["prompt"].(string)
	if !strings.Contains(prompt, "Company X reports 20% profit growth") {
		t.Errorf("prompt does not contain message text: %q", prompt)
	}
}

func TestOllamaEnrichMalformed(t *testing.T) {
	ts := ollamaServer(t, "I cannot help with that.", nil)
	enricher, _ := NewOllamaEnricher(ts.URL, nil)
	_, err := enricher.Enrich(context.Background(), "text", Config{Model: "m"})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestOllamaEnrichServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, `{"error":"model not loaded"}`)
	}))
	defer ts.Close()

	enricher, _ := NewOllamaEnricher(ts.URL, nil)
	if _, err := enricher.Enrich(context.Background(), "text", Config{Model: "m"}); err == nil {
		t.Error("expected error from failing server")
	}
}

func TestCoerceImpactScore(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{"5", 5},
		{" 8 ", 8},
		{"+3", 3},
		{"6.9", 0},
		{"5.7", 0},
		{"1e3", 0},
		{"not-a-number", 0},
		{"", 0},
		{float64(4), 4},
		{5.7, 5},
		{-2.5, -2},
		{1e300, 0},
		{math.Inf(1), 0},
		{math.NaN(), 0},
		{json.Number("3"), 3},
		{json.Number("2.5"), 2},
		{nil, 0},
		{true, 1},
		{false, 0},
		{[]any{1}, 0},
	}
	for _, tt := range tests {
		if got := CoerceImpactScore(tt.in); got != tt.want {
			t.Errorf("CoerceImpactScore(%#v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseEnrichment(t *testing.T) {
	e, err := parseEnrichment("```json\n{\"headline\":\"h\",\"impact_score\":9}\n```")
	if err != nil {
		t.Fatalf("parseEnrichment: %v", err)
	}
	if e.Headline != "h" || CoerceImpactScore(e.ImpactScore) != 9 {
		t.Errorf("unexpected %+v", e)
	}

	if _, err := parseEnrichment(`{"category_code":"X"}`); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("empty headline and summary should be malformed, got %v", err)
	}
}

func TestTruncateText(t *testing.T) {
	if got := truncateText("héllo", 10); got != "héllo" {
		t.Errorf("short text changed: %q", got)
	}
	if got := truncateText("héllo", 2); got != "hé..." {
		t.Errorf("truncated = %q", got)
	}
}
