package newsdesk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/matthewjhunter/newsdesk/internal/ai"
	"github.com/matthewjhunter/newsdesk/internal/capture"
	"github.com/matthewjhunter/newsdesk/internal/dedup"
	"github.com/matthewjhunter/newsdesk/internal/metrics"
	"github.com/matthewjhunter/newsdesk/internal/pipeline"
	"github.com/matthewjhunter/newsdesk/internal/publish"
	"github.com/matthewjhunter/newsdesk/internal/scheduler"
	"github.com/matthewjhunter/newsdesk/internal/storage"
)

// maxPageSize caps NewsPage requests.
const maxPageSize = 100

// Engine is the public API for the newsdesk pipeline. It wraps storage, the
// capture and dedup stages, the enrichment worker pool and publication.
type Engine struct {
	store   *storage.Store
	config  *storage.Config
	logger  *slog.Logger
	log     *slog.Logger
	metrics *metrics.PipelineMetrics

	fetcher   *capture.Fetcher
	extractor *capture.Extractor
	dedup     *dedup.Stage
	hub       *publish.Hub
	mqtt      *publish.MQTTBroadcaster
	pool      *pipeline.Pool

	enrichMu sync.Mutex // one queue drain at a time
}

// NewEngine opens the database and assembles the pipeline. Nothing contacts
// Ollama or the MQTT broker's subscribers until a stage runs; the broker
// connection itself is made here when configured.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	config := cfg.Config
	if config == nil {
		config = storage.DefaultConfig()
	}
	if cfg.DBPath != "" {
		config.Database.Path = cfg.DBPath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	e := &Engine{
		store:   store,
		config:  config,
		logger:  logger,
		log:     logger.With("component", "engine"),
		metrics: cfg.Metrics,
		hub:     publish.NewHub(logger),
	}
	if cfg.ReadOnly {
		return e, nil
	}

	enricher := cfg.Enricher
	if enricher == nil {
		prompts := ai.NewPromptLoader(store, config.Prompts.Enrichment)
		ollama, err := ai.NewOllamaEnricher(config.Ollama.BaseURL, prompts)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("create AI adapter: %w", err)
		}
		enricher = ollama
	}
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = &dedup.RuleScorer{
			MinWords:     config.Scoring.MinWords,
			DropKeywords: config.Scoring.DropKeywords,
			KeepKeywords: config.Scoring.KeepKeywords,
		}
	}

	broadcasters := publish.Multi{e.hub}
	if config.MQTT.Broker != "" {
		mq, err := publish.NewMQTTBroadcaster(publish.MQTTConfig{
			Broker:   config.MQTT.Broker,
			ClientID: config.MQTT.ClientID,
			Username: config.MQTT.Username,
			Password: config.MQTT.Password,
			Topic:    config.MQTT.Topic,
		}, logger)
		if err != nil {
			e.log.Warn("mqtt disabled", "error", err)
		} else {
			e.mqtt = mq
			broadcasters = append(broadcasters, mq)
		}
	}
	if cfg.Broadcaster != nil {
		broadcasters = append(broadcasters, cfg.Broadcaster)
	}
	publisher := publish.NewPublisher(store, broadcasters, logger, cfg.Metrics)

	e.fetcher = capture.NewFetcher(store, logger)
	e.extractor = capture.NewExtractor(store, logger, cfg.Metrics)
	e.dedup = dedup.NewStage(store, scorer, dedup.Options{
		Threshold: config.Dedup.Threshold,
		Window:    config.Dedup.Window,
		BatchSize: config.Dedup.BatchSize,
		Logger:    logger,
		Metrics:   cfg.Metrics,
	})
	e.pool = pipeline.NewPool(config.Worker.Count, store, enricher, publisher, pipeline.Options{
		AI: ai.Config{
			Model:       config.Ollama.Model,
			ConfigID:    config.Ollama.ConfigID,
			Temperature: config.Ollama.Temperature,
		},
		BatchSize:           config.Worker.BatchSize,
		AdapterTimeout:      config.Worker.AdapterTimeout,
		FailMissingUpstream: config.Worker.FailMissingUpstream,
		Logger:              logger,
		Metrics:             cfg.Metrics,
	})
	return e, nil
}

var errReadOnly = errors.New("engine is read-only")

func (e *Engine) writable() error {
	if e.pool == nil {
		return errReadOnly
	}
	return nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() *storage.Config { return e.config }

// Hub returns the websocket hub that receives every published record.
func (e *Engine) Hub() *publish.Hub { return e.hub }

// Capture fetches every configured channel and extracts new listings into
// raw messages.
func (e *Engine) Capture(ctx context.Context) (*CaptureResult, error) {
	if err := e.writable(); err != nil {
		return nil, err
	}
	result := &CaptureResult{}
	if len(e.config.Capture.Channels) > 0 {
		stats, err := e.fetcher.FetchAll(ctx, e.config.Capture.Channels)
		result.ChannelsTotal = stats.ChannelsTotal
		result.ChannelsErrored = stats.ChannelsErrored
		result.NewListings = stats.NewListings
		if err != nil {
			return result, err
		}
	}
	stats, err := e.extractor.Extract(ctx, e.config.Capture.BatchSize)
	if stats != nil {
		result.Extracted = stats.Raw
		result.Empty = stats.Empty
	}
	if err != nil {
		return result, fmt.Errorf("extract: %w", err)
	}
	return result, nil
}

// IngestMessage stores one already-extracted message as raw input,
// bypassing channel capture.
func (e *Engine) IngestMessage(ctx context.Context, chatID, text, sourceURL string, receivedAt time.Time) (int64, error) {
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	id, err := e.store.InsertRaw(ctx, storage.RawMessage{
		ChatID:       chatID,
		CombinedText: text,
		SourceURL:    sourceURL,
		ReceivedAt:   receivedAt,
	})
	if err != nil {
		return 0, err
	}
	e.metrics.RecordRawIngested(chatID)
	return id, nil
}

// Deduplicate flags duplicates among new raw messages and scores the rest.
func (e *Engine) Deduplicate(ctx context.Context) (*DedupResult, error) {
	if err := e.writable(); err != nil {
		return nil, err
	}
	r, err := e.dedup.Run(ctx)
	if r == nil {
		return nil, err
	}
	return &DedupResult{
		Checked:    r.Checked,
		Duplicates: r.Duplicates,
		Scored:     r.Scored,
		Dropped:    r.Dropped,
		Errors:     r.Errors,
	}, err
}

// SyncQueue copies newly scored, non-dropped items into the AI queue. It
// runs regardless of the sync toggle; RunCycle and the scheduler honour it.
func (e *Engine) SyncQueue(ctx context.Context) (int, error) {
	if err := e.writable(); err != nil {
		return 0, err
	}
	n, err := e.store.SyncQueue(ctx, e.config.Queue.SyncLimit)
	if err != nil {
		return n, err
	}
	e.metrics.RecordQueueSynced(n)
	if n > 0 {
		e.log.Info("synced items to AI queue", "count", n)
	}
	return n, nil
}

// Enrich drains the AI queue with the worker pool.
func (e *Engine) Enrich(ctx context.Context) (*EnrichResult, error) {
	if err := e.writable(); err != nil {
		return nil, err
	}
	e.enrichMu.Lock()
	defer e.enrichMu.Unlock()

	r, err := e.pool.Run(ctx)
	return &EnrichResult{
		Claimed:   r.Claimed,
		Completed: r.Completed,
		Failed:    r.Failed,
		Skipped:   r.Skipped,
		Released:  r.Released,
	}, err
}

// RunCycle runs every stage once in pipeline order. A failing stage is
// recorded and the cycle moves on; only cancellation stops it early.
func (e *Engine) RunCycle(ctx context.Context) (*CycleResult, error) {
	if err := e.writable(); err != nil {
		return nil, err
	}
	result := &CycleResult{}
	note := func(stage string, err error) {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", stage, err))
		e.log.Warn("stage failed", "stage", stage, "error", err)
	}

	if c, err := e.Capture(ctx); err != nil {
		note("capture", err)
	} else {
		result.Capture = *c
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if d, err := e.Deduplicate(ctx); err != nil {
		note("dedup", err)
	} else {
		result.Dedup = *d
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if e.store.SyncEnabled(ctx) {
		n, err := e.SyncQueue(ctx)
		if err != nil {
			note("sync", err)
		}
		result.Queued = n
	} else {
		result.SyncSkipped = true
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	r, err := e.Enrich(ctx)
	if r != nil {
		result.Enrich = *r
	}
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		note("enrich", err)
	}
	return result, nil
}

// Scheduler returns a scheduler with one job per stage on the configured
// schedules. An empty schedule leaves that stage unscheduled. The sync job
// only runs while news sync is enabled.
func (e *Engine) Scheduler() (*scheduler.Scheduler, error) {
	if err := e.writable(); err != nil {
		return nil, err
	}
	sched, err := scheduler.New(e.config.Schedule.Timezone, 0, e.logger)
	if err != nil {
		return nil, err
	}
	jobs := []struct {
		name     string
		schedule string
		fn       scheduler.Job
		guard    scheduler.Guard
	}{
		{"capture", e.config.Schedule.Capture, func(ctx context.Context) error {
			_, err := e.Capture(ctx)
			return err
		}, nil},
		{"dedup", e.config.Schedule.Dedup, func(ctx context.Context) error {
			_, err := e.Deduplicate(ctx)
			return err
		}, nil},
		{"sync", e.config.Schedule.Sync, func(ctx context.Context) error {
			_, err := e.SyncQueue(ctx)
			return err
		}, e.store.SyncEnabled},
		{"enrich", e.config.Schedule.Enrich, func(ctx context.Context) error {
			_, err := e.Enrich(ctx)
			return err
		}, nil},
		{"backlog", "@every 1m", func(ctx context.Context) error {
			e.Backlog(ctx)
			return nil
		}, nil},
	}
	for _, j := range jobs {
		if j.schedule == "" {
			continue
		}
		if err := sched.AddJob(j.name, j.schedule, j.fn, j.guard); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// Backlog reports pending counts per stage and refreshes the backlog
// gauges.
func (e *Engine) Backlog(ctx context.Context) Backlog {
	b := e.store.GetBacklog(ctx)
	e.metrics.SetBacklog(b.Counts)
	return b
}

// RecentEnrichments returns the newest final records with their
// enrichment details.
func (e *Engine) RecentEnrichments(ctx context.Context, limit int) ([]RecentEnrichment, error) {
	if limit <= 0 {
		limit = 20
	}
	return e.store.GetRecentEnrichments(ctx, limit)
}

// FinalNews returns published news, newest first, optionally filtered by a
// search term matched against headline, summary, company and ticker.
func (e *Engine) FinalNews(ctx context.Context, limit, offset int, search string) ([]NewsItem, int, error) {
	records, total, err := e.store.GetFinalNews(ctx, limit, offset, search)
	if err != nil {
		return nil, 0, err
	}
	items := make([]NewsItem, len(records))
	for i, r := range records {
		items[i] = publish.ItemFromFinal(r)
	}
	return items, total, nil
}

// NewsPage returns a 1-based page of final news. pageSize is clamped to
// [1, 100] and defaults to 20. An empty result still has one page.
func (e *Engine) NewsPage(ctx context.Context, page, pageSize int, search string) (*NewsPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	items, total, err := e.FinalNews(ctx, pageSize, (page-1)*pageSize, search)
	if err != nil {
		return nil, err
	}
	totalPages := 1
	if total > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return &NewsPage{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// SyncEnabled reports whether scheduled queue sync is on.
func (e *Engine) SyncEnabled(ctx context.Context) bool {
	return e.store.SyncEnabled(ctx)
}

// SetSyncEnabled turns scheduled queue sync on or off.
func (e *Engine) SetSyncEnabled(ctx context.Context, enabled bool) error {
	if err := e.store.SetSyncEnabled(ctx, enabled); err != nil {
		return err
	}
	e.log.Info("news sync toggled", "enabled", enabled)
	return nil
}

// WorkerStatus returns a snapshot of every enrichment worker.
func (e *Engine) WorkerStatus() []WorkerStatus {
	if e.pool == nil {
		return nil
	}
	return e.pool.Statuses()
}

// ImportOPML adds the OPML file's feeds to the capture channels and returns
// how many were new. Callers persist the config themselves.
func (e *Engine) ImportOPML(path string) (int, error) {
	channels, err := capture.ParseOPML(path)
	if err != nil {
		return 0, err
	}
	merged, added := capture.MergeChannels(e.config.Capture.Channels, channels)
	e.config.Capture.Channels = merged
	return added, nil
}

// Close shuts down publication and closes the database.
func (e *Engine) Close() error {
	e.hub.Close()
	if e.mqtt != nil {
		e.mqtt.Close()
	}
	return e.store.Close()
}
