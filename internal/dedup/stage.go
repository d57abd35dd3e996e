// Package dedup flags duplicate raw messages and scores the unique ones.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/matthewjhunter/newsdesk/internal/metrics"
	"github.com/matthewjhunter/newsdesk/internal/similarity"
	"github.com/matthewjhunter/newsdesk/internal/storage"
)

// Store is the storage the stage reads and advances.
type Store interface {
	QueryUndeduplicated(ctx context.Context, limit int) ([]storage.RawMessage, error)
	QueryRecentWindow(ctx context.Context, since time.Time) ([]storage.RawMessage, error)
	MarkDeduplicated(ctx context.Context, rawID int64, isDuplicate bool) error
	QueryUnscored(ctx context.Context, limit int) ([]storage.RawMessage, error)
	ScoreRaw(ctx context.Context, rawID int64, decision string, score float64) (int64, error)
}

// Options configures a Stage. Zero values fall back to defaults.
type Options struct {
	Threshold float64
	Window    time.Duration
	BatchSize int
	Logger    *slog.Logger
	Metrics   *metrics.PipelineMetrics
}

// Result counts what one run did.
type Result struct {
	Checked    int `json:"checked"`
	Duplicates int `json:"duplicates"`
	Scored     int `json:"scored"`
	Dropped    int `json:"dropped"`
	Errors     int `json:"errors"`
}

// Stage runs the duplicate check followed by scoring.
type Stage struct {
	store  Store
	scorer Scorer
	opts   Options
	log    *slog.Logger
}

func NewStage(store Store, scorer Scorer, opts Options) *Stage {
	if opts.Threshold <= 0 {
		opts.Threshold = similarity.DefaultThreshold
	}
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{store: store, scorer: scorer, opts: opts, log: logger.With("component", "dedup")}
}

// Run processes one batch of each pass. Every item commits on its own, so
// cancellation between items loses nothing; the current item stays in its
// prior state. Per-item failures are logged and counted, not returned.
func (s *Stage) Run(ctx context.Context) (*Result, error) {
	result := &Result{}
	if err := s.deduplicate(ctx, result); err != nil {
		return result, err
	}
	if err := s.score(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Stage) deduplicate(ctx context.Context, result *Result) error {
	pending, err := s.store.QueryUndeduplicated(ctx, s.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("query undeduplicated: %w", err)
	}

	for _, msg := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		dup, matchID, score, err := s.check(ctx, msg)
		if err != nil {
			s.log.Warn("duplicate check failed", "raw_id", msg.RawID, "error", err)
			result.Errors++
			continue
		}
		if err := s.store.MarkDeduplicated(ctx, msg.RawID, dup); err != nil {
			s.log.Warn("mark deduplicated failed", "raw_id", msg.RawID, "error", err)
			result.Errors++
			continue
		}
		result.Checked++
		s.opts.Metrics.RecordDedup(dup)
		if dup {
			result.Duplicates++
			s.log.Debug("duplicate", "raw_id", msg.RawID, "matches", matchID, "score", score)
		}
	}
	return nil
}

// check compares msg against the recent window and returns the first match
// at or above the threshold.
func (s *Stage) check(ctx context.Context, msg storage.RawMessage) (bool, int64, float64, error) {
	window, err := s.store.QueryRecentWindow(ctx, msg.ReceivedAt.Add(-s.opts.Window))
	if err != nil {
		return false, 0, 0, err
	}
	rec := RecordFromRaw(msg)
	for _, other := range window {
		if other.RawID == msg.RawID {
			continue
		}
		if dup, score := similarity.IsDuplicate(rec, RecordFromRaw(other), s.opts.Threshold); dup {
			return true, other.RawID, score, nil
		}
	}
	return false, 0, 0, nil
}

func (s *Stage) score(ctx context.Context, result *Result) error {
	unscored, err := s.store.QueryUnscored(ctx, s.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("query unscored: %w", err)
	}

	for _, msg := range unscored {
		if err := ctx.Err(); err != nil {
			return err
		}
		verdict, err := s.scorer.Score(ctx, msg)
		if err != nil {
			s.log.Warn("scoring failed", "raw_id", msg.RawID, "error", err)
			result.Errors++
			continue
		}
		if _, err := s.store.ScoreRaw(ctx, msg.RawID, verdict.Decision, verdict.Score); err != nil {
			s.log.Warn("store score failed", "raw_id", msg.RawID, "error", err)
			result.Errors++
			continue
		}
		result.Scored++
		if strings.EqualFold(verdict.Decision, storage.DecisionDrop) {
			result.Dropped++
		}
		s.opts.Metrics.RecordScore(strings.ToLower(verdict.Decision))
	}
	return nil
}

// RecordFromRaw views a raw message as a similarity record: the first line
// is the headline and the whole text is the summary.
func RecordFromRaw(msg storage.RawMessage) similarity.Record {
	text := strings.TrimSpace(msg.CombinedText)
	headline, _, _ := strings.Cut(text, "\n")
	return similarity.Record{
		Headline: strings.TrimSpace(headline),
		Summary:  text,
	}
}
