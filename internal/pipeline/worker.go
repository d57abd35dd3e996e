// Package pipeline runs the enrichment stage: workers claim queue items,
// send their text through the AI adapter, persist the result and hand it
// to the publisher.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matthewjhunter/newsdesk/internal/ai"
	"github.com/matthewjhunter/newsdesk/internal/metrics"
	"github.com/matthewjhunter/newsdesk/internal/storage"
)

// Outcome is the result of processing one queue item.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkipped leaves the item PROCESSING because its upstream
	// scoring or raw row is missing.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeReleased returns the item to PENDING after cancellation.
	OutcomeReleased Outcome = "released"
)

// commitTimeout bounds writes made after the caller's context is gone.
const commitTimeout = 10 * time.Second

// Store is the storage the worker needs.
type Store interface {
	storage.QueueStore
	GetScoredItem(ctx context.Context, newsID int64) (*storage.ScoredItem, error)
	GetRaw(ctx context.Context, rawID int64) (*storage.RawMessage, error)
}

// Publisher receives every successfully persisted enrichment. It must not
// return errors; publication failures are its own concern.
type Publisher interface {
	Publish(ctx context.Context, e *storage.EnrichedNews)
}

// Options configures a worker.
type Options struct {
	AI                  ai.Config
	BatchSize           int
	AdapterTimeout      time.Duration
	FailMissingUpstream bool
	Logger              *slog.Logger
	Metrics             *metrics.PipelineMetrics
}

// Worker processes queue items one at a time, oldest first.
type Worker struct {
	id        string
	store     Store
	enricher  ai.Enricher
	publisher Publisher
	opts      Options
	log       *slog.Logger
	status    *Status
}

// NewWorker creates a worker. publisher may be nil.
func NewWorker(store Store, enricher ai.Enricher, publisher Publisher, opts Options) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Worker{
		id:        id,
		store:     store,
		enricher:  enricher,
		publisher: publisher,
		opts:      opts,
		log:       logger.With("component", "worker", "worker_id", id),
		status:    newStatus(id),
	}
}

func (w *Worker) ID() string { return w.id }

// Status returns the worker's live status.
func (w *Worker) Status() *Status { return w.status }

// Start marks the worker as running. Stop marks it stopped.
func (w *Worker) Start() { w.status.start() }
func (w *Worker) Stop()  { w.status.stop() }

// ClaimBatch claims up to n PENDING items for this worker.
func (w *Worker) ClaimBatch(ctx context.Context, n int) ([]int64, error) {
	w.status.set(StateClaiming, 0)
	ids, err := w.store.ClaimBatch(ctx, n)
	w.status.set(StateIdle, 0)
	if err != nil {
		return ids, fmt.Errorf("claim batch: %w", err)
	}
	return ids, nil
}

// RunOnce claims one batch and processes it in claim order. Items left
// unprocessed because ctx was cancelled are released back to PENDING.
// It returns the outcomes and the number of items claimed.
func (w *Worker) RunOnce(ctx context.Context) (map[Outcome]int, int, error) {
	outcomes := make(map[Outcome]int)
	if err := ctx.Err(); err != nil {
		return outcomes, 0, nil
	}
	ids, err := w.ClaimBatch(ctx, w.opts.BatchSize)
	if err != nil {
		for _, id := range ids {
			outcomes[w.release(ctx, id)]++
		}
		return outcomes, len(ids), err
	}

	for i, id := range ids {
		if ctx.Err() != nil {
			for _, rest := range ids[i:] {
				outcomes[w.release(ctx, rest)]++
			}
			break
		}
		outcomes[w.ProcessOne(ctx, id)]++
	}
	return outcomes, len(ids), nil
}

// ProcessOne enriches a claimed item. The caller must have claimed newsID;
// ProcessOne never claims.
func (w *Worker) ProcessOne(ctx context.Context, newsID int64) Outcome {
	log := w.log.With("news_id", newsID)
	w.status.set(StateEnriching, newsID)

	scored, err := w.store.GetScoredItem(ctx, newsID)
	if err != nil {
		return w.abort(ctx, newsID, fmt.Errorf("lookup scoring row: %w", err), 0)
	}
	if scored == nil {
		return w.missingUpstream(ctx, log, newsID, "scoring row missing")
	}
	raw, err := w.store.GetRaw(ctx, scored.RawID)
	if err != nil {
		return w.abort(ctx, newsID, fmt.Errorf("lookup raw %d: %w", scored.RawID, err), 0)
	}
	if raw == nil {
		return w.missingUpstream(ctx, log, newsID, fmt.Sprintf("raw row %d missing", scored.RawID))
	}

	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if w.opts.AdapterTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, w.opts.AdapterTimeout)
	}
	start := time.Now()
	result, err := w.enricher.Enrich(callCtx, raw.CombinedText, w.opts.AI)
	latency := time.Since(start)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("adapter timed out after %s: %w", w.opts.AdapterTimeout, err)
		}
		return w.abort(ctx, newsID, err, latency)
	}

	enriched := buildEnriched(newsID, raw, result, latency, w.opts.AI)

	// The adapter call succeeded; commit even if ctx is cancelled meanwhile.
	commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer commitCancel()
	if err := w.store.CompleteEnrichment(commitCtx, enriched); err != nil {
		return w.fail(commitCtx, newsID, fmt.Errorf("persist enrichment: %w", err), latency)
	}
	log.Info("enriched", "latency_ms", enriched.LatencyMS, "impact_score", enriched.ImpactScore)

	if w.publisher != nil {
		w.status.set(StatePublishing, newsID)
		w.publisher.Publish(commitCtx, enriched)
	}
	w.opts.Metrics.RecordEnrichment(string(OutcomeCompleted), latency)
	w.status.record(OutcomeCompleted, "")
	return OutcomeCompleted
}

// abort handles a processing error: a cancelled run releases the item,
// anything else fails it.
func (w *Worker) abort(ctx context.Context, newsID int64, err error, latency time.Duration) Outcome {
	if ctx.Err() != nil {
		return w.release(ctx, newsID)
	}
	return w.fail(ctx, newsID, err, latency)
}

func (w *Worker) fail(ctx context.Context, newsID int64, cause error, latency time.Duration) Outcome {
	reason := cause.Error()
	w.log.Warn("enrichment failed", "news_id", newsID, "error", reason)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := w.store.MarkFailed(writeCtx, newsID, reason); err != nil {
		w.log.Error("mark failed", "news_id", newsID, "error", err)
	}
	w.opts.Metrics.RecordEnrichment(string(OutcomeFailed), latency)
	w.status.record(OutcomeFailed, reason)
	return OutcomeFailed
}

func (w *Worker) release(ctx context.Context, newsID int64) Outcome {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := w.store.ReleaseClaim(writeCtx, newsID); err != nil {
		w.log.Error("release claim", "news_id", newsID, "error", err)
	} else {
		w.log.Info("released claim after cancellation", "news_id", newsID)
	}
	w.opts.Metrics.RecordEnrichment(string(OutcomeReleased), 0)
	w.status.record(OutcomeReleased, "")
	return OutcomeReleased
}

// missingUpstream leaves the item PROCESSING for an operator unless
// FailMissingUpstream is set.
func (w *Worker) missingUpstream(ctx context.Context, log *slog.Logger, newsID int64, what string) Outcome {
	if w.opts.FailMissingUpstream {
		return w.fail(ctx, newsID, errors.New(what), 0)
	}
	log.Warn("skipping item, left PROCESSING", "reason", what)
	w.opts.Metrics.RecordEnrichment(string(OutcomeSkipped), 0)
	w.status.record(OutcomeSkipped, what)
	return OutcomeSkipped
}

// buildEnriched maps adapter output onto the stored record. The original
// message URL wins over one the model extracted.
func buildEnriched(newsID int64, raw *storage.RawMessage, r *ai.Enrichment, latency time.Duration, cfg ai.Config) *storage.EnrichedNews {
	url := strings.TrimSpace(raw.SourceURL)
	if url == "" {
		url = strings.TrimSpace(r.URL)
	}
	return &storage.EnrichedNews{
		NewsID:       newsID,
		ReceivedDate: raw.ReceivedAt,
		CategoryCode: strings.TrimSpace(r.CategoryCode),
		SubTypeCode:  strings.TrimSpace(r.SubTypeCode),
		CompanyName:  strings.TrimSpace(r.CompanyName),
		Ticker:       strings.TrimSpace(r.Ticker),
		Exchange:     strings.TrimSpace(r.Exchange),
		CountryCode:  strings.TrimSpace(r.CountryCode),
		Headline:     strings.TrimSpace(r.Headline),
		Summary:      strings.TrimSpace(r.Summary),
		Sentiment:    strings.TrimSpace(r.Sentiment),
		LanguageCode: strings.TrimSpace(r.LanguageCode),
		URL:          url,
		ImpactScore:  ai.CoerceImpactScore(r.ImpactScore),
		LatencyMS:    latency.Milliseconds(),
		AIModel:      cfg.Model,
		AIConfigID:   cfg.ConfigID,
	}
}
