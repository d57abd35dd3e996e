// Package capture pulls channel messages into the listing table and
// extracts them into raw messages for the pipeline.
package capture

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/matthewjhunter/newsdesk/internal/storage"
)

const userAgent = "newsdesk/1.0"

// ListingStore receives channel messages.
type ListingStore interface {
	InsertListing(ctx context.Context, l storage.Listing) (bool, error)
}

// cacheHeaders are the validators from a channel's last 200 response.
type cacheHeaders struct {
	etag         string
	lastModified string
}

// Fetcher reads channel feeds with conditional requests. Validators are
// kept in memory per channel URL.
type Fetcher struct {
	parser *gofeed.Parser
	client *http.Client
	store  ListingStore
	log    *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheHeaders
}

// NewFetcher creates a new channel fetcher
func NewFetcher(store ListingStore, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	return &Fetcher{
		parser: parser,
		client: &http.Client{},
		store:  store,
		log:    logger.With("component", "capture"),
		cache:  make(map[string]cacheHeaders),
	}
}

// FetchResult holds the outcome of a conditional channel fetch.
type FetchResult struct {
	Feed         *gofeed.Feed // nil when NotModified is true
	ETag         string
	LastModified string
	NotModified  bool // server returned 304
}

// FetchChannel fetches and parses one channel feed. Stored validators are
// sent as If-None-Match / If-Modified-Since; a 304 skips parsing.
func (f *Fetcher) FetchChannel(ctx context.Context, ch storage.Channel) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ch.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", ch.URL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	f.mu.Lock()
	cached := f.cache[ch.URL]
	f.mu.Unlock()
	if cached.etag != "" {
		req.Header.Set("If-None-Match", cached.etag)
	}
	if cached.lastModified != "" {
		req.Header.Set("If-Modified-Since", cached.lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channel %s: %w", ch.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &FetchResult{NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("channel %s returned status %d", ch.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel %s: %w", ch.URL, err)
	}
	parsed, err := f.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel %s: %w", ch.URL, err)
	}

	result := &FetchResult{
		Feed:         parsed,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	if result.ETag != "" || result.LastModified != "" {
		f.mu.Lock()
		f.cache[ch.URL] = cacheHeaders{etag: result.ETag, lastModified: result.LastModified}
		f.mu.Unlock()
	}
	return result, nil
}

// StoreListings records every feed item as a channel listing. Items the
// channel already listed are ignored.
func (f *Fetcher) StoreListings(ctx context.Context, chatID string, feed *gofeed.Feed) (int, error) {
	stored := 0
	for _, item := range feed.Items {
		msgID := strings.TrimSpace(item.GUID)
		if msgID == "" {
			msgID = strings.TrimSpace(item.Link)
		}
		if msgID == "" {
			msgID = strings.TrimSpace(item.Title)
		}
		if msgID == "" {
			continue
		}

		l := storage.Listing{
			ChatID:      chatID,
			SourceMsgID: msgID,
			Title:       item.Title,
			Body:        item.Description,
			URL:         item.Link,
		}
		if item.Content != "" {
			l.Body = item.Content
		}
		if item.PublishedParsed != nil {
			l.PostedAt = item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			l.PostedAt = item.UpdatedParsed
		}

		inserted, err := f.store.InsertListing(ctx, l)
		if err != nil {
			return stored, err
		}
		if inserted {
			stored++
		}
	}
	return stored, nil
}

// FetchStats summarizes a FetchAll run.
type FetchStats struct {
	ChannelsTotal       int `json:"channels_total"`
	ChannelsDownloaded  int `json:"channels_downloaded"`
	ChannelsNotModified int `json:"channels_not_modified"`
	ChannelsErrored     int `json:"channels_errored"`
	NewListings         int `json:"new_listings"`
}

// FetchAll fetches every channel and lists new messages. A failing channel
// is logged and skipped.
func (f *Fetcher) FetchAll(ctx context.Context, channels []storage.Channel) (*FetchStats, error) {
	stats := &FetchStats{ChannelsTotal: len(channels)}
	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		chatID := ch.Name
		if chatID == "" {
			chatID = ch.URL
		}

		// Add timeout per channel
		chCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		result, err := f.FetchChannel(chCtx, ch)
		cancel()
		if err != nil {
			f.log.Warn("channel fetch failed", "channel", chatID, "error", err)
			stats.ChannelsErrored++
			continue
		}
		if result.NotModified {
			stats.ChannelsNotModified++
			continue
		}
		stats.ChannelsDownloaded++

		stored, err := f.StoreListings(ctx, chatID, result.Feed)
		if err != nil {
			f.log.Warn("storing listings failed", "channel", chatID, "error", err)
		}
		stats.NewListings += stored
	}
	return stats, nil
}

// OPML structures for parsing
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Body    OPMLBody `xml:"body"`
}

type OPMLBody struct {
	Outlines []OPMLOutline `xml:"outline"`
}

type OPMLOutline struct {
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	Type     string        `xml:"type,attr"`
	XMLURL   string        `xml:"xmlUrl,attr"`
	HTMLURL  string        `xml:"htmlUrl,attr"`
	Outlines []OPMLOutline `xml:"outline"`
}

// ParseOPML reads channel definitions from an OPML file, flattening
// folders. Duplicate URLs are returned once.
func ParseOPML(opmlPath string) ([]storage.Channel, error) {
	data, err := os.ReadFile(opmlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read OPML file: %w", err)
	}
	var opml OPML
	if err := xml.Unmarshal(data, &opml); err != nil {
		return nil, fmt.Errorf("failed to parse OPML: %w", err)
	}

	seen := make(map[string]bool)
	var channels []storage.Channel
	var walk func(outlines []OPMLOutline)
	walk = func(outlines []OPMLOutline) {
		for _, o := range outlines {
			if o.XMLURL != "" && !seen[o.XMLURL] {
				seen[o.XMLURL] = true
				name := o.Title
				if name == "" {
					name = o.Text
				}
				if name == "" {
					name = o.XMLURL
				}
				channels = append(channels, storage.Channel{Name: name, URL: o.XMLURL})
			}
			if len(o.Outlines) > 0 {
				walk(o.Outlines)
			}
		}
	}
	walk(opml.Body.Outlines)
	return channels, nil
}

// MergeChannels appends the channels from add whose URL is not already in
// existing and returns the result with the number added.
func MergeChannels(existing, add []storage.Channel) ([]storage.Channel, int) {
	have := make(map[string]bool, len(existing))
	for _, ch := range existing {
		have[ch.URL] = true
	}
	added := 0
	for _, ch := range add {
		if have[ch.URL] {
			continue
		}
		have[ch.URL] = true
		existing = append(existing, ch)
		added++
	}
	return existing, added
}
