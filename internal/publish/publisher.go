package publish

import (
	"context"
	"log/slog"

	"github.com/matthewjhunter/newsdesk/internal/metrics"
	"github.com/matthewjhunter/newsdesk/internal/storage"
)

// FinalStore is where published records land.
type FinalStore interface {
	UpsertFinal(ctx context.Context, f storage.FinalRecord) error
}

// Publisher copies enriched records into the final store and broadcasts
// them. Failures are logged and counted; they never reach the caller, whose
// enrichment is already committed.
type Publisher struct {
	store       FinalStore
	broadcaster Broadcaster
	log         *slog.Logger
	metrics     *metrics.PipelineMetrics
}

// NewPublisher creates a publisher. broadcaster, logger and m may be nil.
func NewPublisher(store FinalStore, broadcaster Broadcaster, logger *slog.Logger, m *metrics.PipelineMetrics) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:       store,
		broadcaster: broadcaster,
		log:         logger.With("component", "publish"),
		metrics:     m,
	}
}

// Publish upserts the final record and, only if that succeeded, broadcasts
// it.
func (p *Publisher) Publish(ctx context.Context, e *storage.EnrichedNews) {
	final := storage.FinalFromEnriched(e)
	if err := p.store.UpsertFinal(ctx, final); err != nil {
		p.log.Error("final store sync failed", "news_id", e.NewsID, "error", err)
		p.metrics.RecordPublishFailure("final")
		return
	}
	p.log.Info("synced to final store", "news_id", e.NewsID)

	if p.broadcaster == nil {
		return
	}
	if err := p.broadcaster.Broadcast(ctx, NewNewsEvent(final)); err != nil {
		p.log.Warn("broadcast failed", "news_id", e.NewsID, "error", err)
		p.metrics.RecordPublishFailure("broadcast")
	}
}
