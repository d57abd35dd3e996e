package storage

import (
	"context"
	"time"
)

// RawStore is the capture side of the pipeline.
type RawStore interface {
	InsertRaw(ctx context.Context, msg RawMessage) (int64, error)
	MarkDeduplicated(ctx context.Context, rawID int64, isDuplicate bool) error
	MarkScored(ctx context.Context, rawID int64) error
	QueryUndeduplicated(ctx context.Context, limit int) ([]RawMessage, error)
	QueryUnscored(ctx context.Context, limit int) ([]RawMessage, error)
	QueryRecentWindow(ctx context.Context, since time.Time) ([]RawMessage, error)
	GetRaw(ctx context.Context, rawID int64) (*RawMessage, error)
}

// ScoringStore holds scoring outcomes.
type ScoringStore interface {
	InsertScore(ctx context.Context, item ScoredItem) (int64, error)
	ScoreRaw(ctx context.Context, rawID int64, decision string, score float64) (int64, error)
	GetScoredItem(ctx context.Context, newsID int64) (*ScoredItem, error)
}

// QueueStore is the enrichment queue. ClaimBatch is the only operation that
// must be safe under concurrent callers.
type QueueStore interface {
	SyncQueue(ctx context.Context, limit int) (int, error)
	ClaimBatch(ctx context.Context, n int) ([]int64, error)
	CompleteEnrichment(ctx context.Context, e *EnrichedNews) error
	MarkFailed(ctx context.Context, newsID int64, reason string) error
	ReleaseClaim(ctx context.Context, newsID int64) error
}

// FinalStore is the client-facing store.
type FinalStore interface {
	UpsertFinal(ctx context.Context, f FinalRecord) error
	GetFinalNews(ctx context.Context, limit, offset int, search string) ([]FinalRecord, int, error)
}

// SettingsStore holds operator toggles and prompt overrides.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

var (
	_ RawStore      = (*Store)(nil)
	_ ScoringStore  = (*Store)(nil)
	_ QueueStore    = (*Store)(nil)
	_ FinalStore    = (*Store)(nil)
	_ SettingsStore = (*Store)(nil)
)
