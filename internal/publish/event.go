// Package publish writes enriched news to the final store and fans each new
// record out to live subscribers.
package publish

import (
	"context"
	"time"

	"github.com/matthewjhunter/newsdesk/internal/storage"
)

const (
	EventType    = "news_update"
	EventNewNews = "new_news"
)

// NewsItem is the client-facing JSON shape of a final record.
type NewsItem struct {
	NewsID       int64  `json:"news_id"`
	ReceivedDate string `json:"received_date"`
	Headline     string `json:"headline"`
	Summary      string `json:"summary"`
	CompanyName  string `json:"company_name"`
	Ticker       string `json:"ticker"`
	Exchange     string `json:"exchange"`
	CountryCode  string `json:"country_code"`
	Sentiment    string `json:"sentiment"`
	URL          string `json:"url"`
	ImpactScore  int    `json:"impact_score"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// ItemFromFinal converts a stored record, formatting timestamps as RFC3339.
func ItemFromFinal(f storage.FinalRecord) NewsItem {
	return NewsItem{
		NewsID:       f.NewsID,
		ReceivedDate: formatTime(f.ReceivedDate),
		Headline:     f.Headline,
		Summary:      f.Summary,
		CompanyName:  f.CompanyName,
		Ticker:       f.Ticker,
		Exchange:     f.Exchange,
		CountryCode:  f.CountryCode,
		Sentiment:    f.Sentiment,
		URL:          f.URL,
		ImpactScore:  f.ImpactScore,
		CreatedAt:    formatTime(f.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Event is the envelope sent to live subscribers.
type Event struct {
	Type  string   `json:"type"`
	Event string   `json:"event"`
	Data  NewsItem `json:"data"`
}

// NewNewsEvent wraps a freshly published record.
func NewNewsEvent(f storage.FinalRecord) Event {
	return Event{Type: EventType, Event: EventNewNews, Data: ItemFromFinal(f)}
}

// Broadcaster delivers events to live subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev Event) error
}
