package capture

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/matthewjhunter/newsdesk/internal/metrics"
	"github.com/matthewjhunter/newsdesk/internal/storage"
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// ExtractStore is the storage the extractor reads and advances.
type ExtractStore interface {
	QueryUnextracted(ctx context.Context, limit int) ([]storage.Listing, error)
	ExtractListing(ctx context.Context, listingID int64, msg storage.RawMessage) (int64, error)
}

// ExtractStats summarizes one extraction pass.
type ExtractStats struct {
	Listings int `json:"listings"`
	Raw      int `json:"raw"`
	Empty    int `json:"empty"`
	Errors   int `json:"errors"`
}

// Extractor turns channel listings into raw messages.
type Extractor struct {
	store   ExtractStore
	policy  *bluemonday.Policy
	log     *slog.Logger
	metrics *metrics.PipelineMetrics
}

func NewExtractor(store ExtractStore, logger *slog.Logger, m *metrics.PipelineMetrics) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	policy := bluemonday.StrictPolicy()
	policy.AddSpaceWhenStrippingTag(true)
	return &Extractor{
		store:   store,
		policy:  policy,
		log:     logger.With("component", "extract"),
		metrics: m,
	}
}

// Extract processes up to limit unextracted listings, oldest first.
func (e *Extractor) Extract(ctx context.Context, limit int) (*ExtractStats, error) {
	if limit <= 0 {
		limit = 100
	}
	listings, err := e.store.QueryUnextracted(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query unextracted: %w", err)
	}

	stats := &ExtractStats{}
	for _, l := range listings {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Listings++
		msg := e.RawFromListing(l)
		rawID, err := e.store.ExtractListing(ctx, l.ListingID, msg)
		if err != nil {
			e.log.Warn("extract failed", "listing_id", l.ListingID, "error", err)
			stats.Errors++
			continue
		}
		if rawID == 0 {
			stats.Empty++
			continue
		}
		stats.Raw++
		e.metrics.RecordRawIngested(l.ChatID)
	}
	return stats, nil
}

// RawFromListing builds the raw message for a listing. The title becomes
// the first line; HTML is stripped from both parts.
func (e *Extractor) RawFromListing(l storage.Listing) storage.RawMessage {
	title := e.plainText(l.Title)
	body := e.plainText(l.Body)

	var text string
	switch {
	case title == "":
		text = body
	case body == "":
		text = title
	case strings.HasPrefix(body, title):
		text = body
	default:
		text = title + "\n" + body
	}

	msg := storage.RawMessage{
		ChatID:       l.ChatID,
		CombinedText: text,
		SourceURL:    strings.TrimSpace(l.URL),
	}
	if msg.SourceURL == "" {
		msg.SourceURL = FirstURL(text)
	}
	if l.PostedAt != nil {
		msg.ReceivedAt = l.PostedAt.UTC()
	}
	return msg
}

func (e *Extractor) plainText(s string) string {
	s = html.UnescapeString(e.policy.Sanitize(s))
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// FirstURL returns the first http(s) URL in text, or "".
func FirstURL(text string) string {
	return strings.TrimRight(urlPattern.FindString(text), ".,;:!?)\"'")
}
