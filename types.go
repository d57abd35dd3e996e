package newsdesk

import (
	"log/slog"

	"github.com/matthewjhunter/newsdesk/internal/ai"
	"github.com/matthewjhunter/newsdesk/internal/dedup"
	"github.com/matthewjhunter/newsdesk/internal/metrics"
	"github.com/matthewjhunter/newsdesk/internal/pipeline"
	"github.com/matthewjhunter/newsdesk/internal/publish"
	"github.com/matthewjhunter/newsdesk/internal/storage"
)

// EngineConfig configures the newsdesk engine.
type EngineConfig struct {
	Config *storage.Config // nil means storage.DefaultConfig()
	DBPath string          // overrides Config.Database.Path when set

	Logger  *slog.Logger
	Metrics *metrics.PipelineMetrics

	// Enricher replaces the Ollama adapter, Scorer the keyword rules.
	Enricher ai.Enricher
	Scorer   dedup.Scorer
	// Broadcaster receives news events in addition to the websocket hub
	// and MQTT.
	Broadcaster publish.Broadcaster

	ReadOnly bool // when true, skip capture, AI and workers
}

// NewsItem is one published news record.
type NewsItem = publish.NewsItem

// Backlog holds the per-stage pending counts.
type Backlog = storage.Backlog

// RecentEnrichment is one row of the enrichment feed.
type RecentEnrichment = storage.RecentEnrichment

// WorkerStatus is a snapshot of one enrichment worker.
type WorkerStatus = pipeline.StatusSnapshot

// NewsPage is one page of final news.
type NewsPage struct {
	Items      []NewsItem `json:"news"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalPages int        `json:"total_pages"`
}

// CaptureResult summarizes a capture pass.
type CaptureResult struct {
	ChannelsTotal   int `json:"channels_total"`
	ChannelsErrored int `json:"channels_errored"`
	NewListings     int `json:"new_listings"`
	Extracted       int `json:"extracted"`
	Empty           int `json:"empty"`
}

// DedupResult summarizes a dedup and scoring pass.
type DedupResult struct {
	Checked    int `json:"checked"`
	Duplicates int `json:"duplicates"`
	Scored     int `json:"scored"`
	Dropped    int `json:"dropped"`
	Errors     int `json:"errors"`
}

// EnrichResult summarizes a drain of the AI queue.
type EnrichResult struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Released  int `json:"released"`
}

// CycleResult is the outcome of one full pipeline pass.
type CycleResult struct {
	Capture     CaptureResult `json:"capture"`
	Dedup       DedupResult   `json:"dedup"`
	Queued      int           `json:"queued"`
	SyncSkipped bool          `json:"sync_skipped,omitempty"`
	Enrich      EnrichResult  `json:"enrich"`
	Errors      []string      `json:"errors,omitempty"`
}
