// Package similarity scores how likely two news records describe the same
// story. Everything here is pure: no I/O, no shared state.
package similarity

import (
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultThreshold is the combined score at or above which two records are
// treated as duplicates.
const DefaultThreshold = 0.60

const (
	headlineWeight = 0.4
	contentWeight  = 0.4
	entityWeight   = 0.2
)

// Record is the subset of a news item the scorer looks at. An empty field
// means the field is absent.
type Record struct {
	Headline    string
	Summary     string
	CompanyName string
	Ticker      string
}

// Breakdown is a combined score together with its components.
type Breakdown struct {
	Headline float64 `json:"headline"`
	Content  float64 `json:"content"`
	Entity   float64 `json:"entity"`
	Score    float64 `json:"score"`
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "from": {}, "as": {},
	"is": {}, "was": {}, "are": {}, "were": {}, "been": {}, "be": {}, "have": {},
	"has": {}, "had": {}, "do": {}, "does": {}, "did": {}, "will": {}, "would": {},
	"should": {}, "could": {}, "may": {}, "might": {}, "must": {}, "can": {},
}

// Leading digit required so a bare comma is never reported as a number.
var numberPattern = regexp.MustCompile(`\d[\d,]*\.?\d*`)

func normalizeHeadline(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// HeadlineSimilarity returns the longest-matching-blocks ratio of the two
// normalized headlines, or 0 if either is empty.
func HeadlineSimilarity(a, b string) float64 {
	a, b = normalizeHeadline(a), normalizeHeadline(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	// The matcher's junk heuristic depends on argument order.
	if b < a {
		a, b = b, a
	}
	return difflib.NewMatcher(splitChars(a), splitChars(b)).Ratio()
}

func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// ContentSimilarity is the Jaccard index of the two summaries' word sets
// after stop-word removal.
func ContentSimilarity(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	common := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			common++
		}
	}
	union := len(wa) + len(wb) - common
	return float64(common) / float64(union)
}

// ExtractNumbers returns the set of numeric substrings in text with
// grouping commas removed.
func ExtractNumbers(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, m := range numberPattern.FindAllString(text, -1) {
		n := strings.ReplaceAll(m, ",", "")
		n = strings.TrimSuffix(n, ".")
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// EntitySimilarity averages the company, ticker and number checks that apply
// to both records. It is 0 when none apply.
func EntitySimilarity(a, b Record) float64 {
	var sum float64
	checks := 0

	if a.CompanyName != "" && b.CompanyName != "" {
		checks++
		if strings.EqualFold(a.CompanyName, b.CompanyName) {
			sum++
		}
	}
	if a.Ticker != "" && b.Ticker != "" {
		checks++
		if strings.EqualFold(a.Ticker, b.Ticker) {
			sum++
		}
	}

	na := ExtractNumbers(a.Headline + " " + a.Summary)
	nb := ExtractNumbers(b.Headline + " " + b.Summary)
	if len(na) > 0 && len(nb) > 0 {
		checks++
		common := 0
		for n := range na {
			if _, ok := nb[n]; ok {
				common++
			}
		}
		sum += float64(common) / float64(max(len(na), len(nb)))
	}

	if checks == 0 {
		return 0
	}
	return sum / float64(checks)
}

// Combined scores a pair of records.
func Combined(a, b Record) Breakdown {
	bd := Breakdown{
		Headline: HeadlineSimilarity(a.Headline, b.Headline),
		Content:  ContentSimilarity(a.Summary, b.Summary),
		Entity:   EntitySimilarity(a, b),
	}
	bd.Score = headlineWeight*bd.Headline + contentWeight*bd.Content + entityWeight*bd.Entity
	return bd
}

// IsDuplicate reports whether the combined score reaches threshold.
func IsDuplicate(a, b Record, threshold float64) (bool, float64) {
	score := Combined(a, b).Score
	return score >= threshold, score
}
