package dedup

import (
	"context"
	"strings"

	"github.com/matthewjhunter/newsdesk/internal/storage"
)

// Verdict is a scoring outcome for one message.
type Verdict struct {
	Decision string
	Score    float64
}

// Scorer assigns a decision and score to a unique message.
type Scorer interface {
	Score(ctx context.Context, msg storage.RawMessage) (Verdict, error)
}

// Decisions produced by RuleScorer.
const (
	DecisionKeep = "keep"
	DecisionDrop = storage.DecisionDrop
)

// RuleScorer scores messages with keyword and length rules. Messages shorter
// than MinWords or containing a drop keyword are dropped; each keep keyword
// found raises the score.
type RuleScorer struct {
	MinWords     int
	DropKeywords []string
	KeepKeywords []string
}

const (
	baseScore    = 0.5
	keywordBoost = 0.1
)

func (r *RuleScorer) Score(_ context.Context, msg storage.RawMessage) (Verdict, error) {
	text := strings.ToLower(msg.CombinedText)
	words := strings.Fields(text)
	if len(words) < r.MinWords {
		return Verdict{Decision: DecisionDrop, Score: 0}, nil
	}
	for _, kw := range r.DropKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return Verdict{Decision: DecisionDrop, Score: 0}, nil
		}
	}

	score := baseScore
	for _, kw := range r.KeepKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			score += keywordBoost
		}
	}
	if score > 1 {
		score = 1
	}
	return Verdict{Decision: DecisionKeep, Score: score}, nil
}
