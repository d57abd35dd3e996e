package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// DisplayTimeFormat is the timestamp layout of the read APIs.
const DisplayTimeFormat = "2006-01-02 15:04:05"

// fuzzyNameThreshold is the Jaro-Winkler score above which a search token
// matches a ticker or company name.
const fuzzyNameThreshold = 0.8

const finalColumns = `news_id, received_date, headline, summary, company_name, ticker,
	exchange, country_code, sentiment, url, impact_score, created_at`

// UpsertFinal writes the client-facing record, replacing an earlier copy
// of the same news_id.
func (s *Store) UpsertFinal(ctx context.Context, f FinalRecord) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO final_news (`+finalColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(news_id) DO UPDATE SET
			received_date = excluded.received_date,
			headline = excluded.headline,
			summary = excluded.summary,
			company_name = excluded.company_name,
			ticker = excluded.ticker,
			exchange = excluded.exchange,
			country_code = excluded.country_code,
			sentiment = excluded.sentiment,
			url = excluded.url,
			impact_score = excluded.impact_score`,
		f.NewsID, f.ReceivedDate.UTC(), nullString(f.Headline), nullString(f.Summary),
		nullString(f.CompanyName), nullString(f.Ticker), nullString(f.Exchange),
		nullString(f.CountryCode), nullString(f.Sentiment), nullString(f.URL),
		f.ImpactScore, f.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert final news %d: %w", f.NewsID, err)
	}
	return nil
}

// searchFilter builds the WHERE clause for a free-text search. Tokens are
// AND-combined; each token matches a substring of headline, summary, ticker
// or company name, or fuzzily matches ticker or company name.
func searchFilter(search string) sq.Sqlizer {
	tokens := strings.Fields(search)
	if len(tokens) == 0 {
		return nil
	}
	and := sq.And{}
	for _, tok := range tokens {
		pattern := "%" + tok + "%"
		lower := strings.ToLower(tok)
		and = append(and, sq.Or{
			sq.Like{"headline": pattern},
			sq.Like{"summary": pattern},
			sq.Like{"ticker": pattern},
			sq.Like{"company_name": pattern},
			sq.Expr("jaro_winkler_similarity(lower(ticker), ?) > ?", lower, fuzzyNameThreshold),
			sq.Expr("jaro_winkler_similarity(lower(company_name), ?) > ?", lower, fuzzyNameThreshold),
		})
	}
	return and
}

// GetFinalNews pages through the final store, newest first, and returns the
// page together with the total number of matching rows.
func (s *Store) GetFinalNews(ctx context.Context, limit, offset int, search string) ([]FinalRecord, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	countQ := sq.Select("COUNT(*)").From("final_news")
	pageQ := sq.Select(finalColumns).From("final_news").
		OrderBy("created_at DESC", "news_id DESC").
		Limit(uint64(limit)).Offset(uint64(offset))
	if where := searchFilter(search); where != nil {
		countQ = countQ.Where(where)
		pageQ = pageQ.Where(where)
	}

	countSQL, countArgs, err := countQ.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count final news: %w", err)
	}

	pageSQL, pageArgs, err := pageQ.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build page query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, pageSQL, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query final news: %w", err)
	}
	defer rows.Close()

	var items []FinalRecord
	for rows.Next() {
		f, err := scanFinal(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *f)
	}
	return items, total, rows.Err()
}

// GetFinal returns one final record, or nil, nil.
func (s *Store) GetFinal(ctx context.Context, newsID int64) (*FinalRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+finalColumns+" FROM final_news WHERE news_id = ?", newsID)
	if err != nil {
		return nil, fmt.Errorf("failed to get final news %d: %w", newsID, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanFinal(rows)
}

func scanFinal(rows *sql.Rows) (*FinalRecord, error) {
	var f FinalRecord
	var received sql.NullTime
	var headline, summary, company, ticker, exchange, country, sentiment, url sql.NullString
	if err := rows.Scan(&f.NewsID, &received, &headline, &summary, &company, &ticker,
		&exchange, &country, &sentiment, &url, &f.ImpactScore, &f.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan final news: %w", err)
	}
	f.ReceivedDate = received.Time
	f.Headline, f.Summary = headline.String, summary.String
	f.CompanyName, f.Ticker, f.Exchange = company.String, ticker.String, exchange.String
	f.CountryCode, f.Sentiment, f.URL = country.String, sentiment.String, url.String
	return &f, nil
}

// RecentEnrichment is one row of the recent-activity feed, with timestamps
// already formatted for display.
type RecentEnrichment struct {
	FinalID     int64  `json:"final_id"`
	ProcessedAt string `json:"processed_at"`
	Headline    string `json:"headline"`
	Category    string `json:"category"`
	Sentiment   string `json:"sentiment"`
	ImpactScore int    `json:"impact_score"`
	AIModel     string `json:"ai_model"`
	Latency     int64  `json:"latency"`
	Summary     string `json:"summary"`
	URL         string `json:"url"`
}

// GetRecentEnrichments lists the newest enriched records.
func (s *Store) GetRecentEnrichments(ctx context.Context, limit int) ([]RecentEnrichment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT news_id, created_at, headline, category_code, sentiment, impact_score,
			ai_model, latency_ms, summary, url
		 FROM news_ai ORDER BY created_at DESC, news_id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent enrichments: %w", err)
	}
	defer rows.Close()

	var out []RecentEnrichment
	for rows.Next() {
		var r RecentEnrichment
		var created sql.NullTime
		var headline, category, sentiment, model, summary, url sql.NullString
		if err := rows.Scan(&r.FinalID, &created, &headline, &category, &sentiment,
			&r.ImpactScore, &model, &r.Latency, &summary, &url); err != nil {
			return nil, fmt.Errorf("failed to scan enrichment: %w", err)
		}
		if created.Valid {
			r.ProcessedAt = created.Time.UTC().Format(DisplayTimeFormat)
		}
		r.Headline, r.Category, r.Sentiment = headline.String, category.String, sentiment.String
		r.AIModel, r.Summary, r.URL = model.String, summary.String, url.String
		out = append(out, r)
	}
	return out, rows.Err()
}
