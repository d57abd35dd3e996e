package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// DefaultSyncLimit caps how many scored items one sync pass enqueues.
const DefaultSyncLimit = 100

// SyncQueue enqueues scored items that are neither enriched nor queued yet,
// oldest scored_at first, skipping "drop" decisions. It is idempotent and
// returns the number of rows actually inserted.
func (s *Store) SyncQueue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultSyncLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT score_id FROM news_scoring
		 WHERE (decision IS NULL OR lower(decision) != ?)
		   AND score_id NOT IN (SELECT news_id FROM news_ai)
		   AND score_id NOT IN (SELECT news_id FROM ai_queue)
		 ORDER BY scored_at ASC, score_id ASC
		 LIMIT ?`,
		DecisionDrop, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to find unqueued scores: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan score id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	inserted := 0
	for _, id := range ids {
		now := s.now()
		result, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO ai_queue (news_id, status, retries, created_at, updated_at)
			 VALUES (?, ?, 0, ?, ?)`,
			id, StatusPending, now, now,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to enqueue news %d: %w", id, err)
		}
		if n, _ := result.RowsAffected(); n == 1 {
			inserted++
		}
	}
	return inserted, nil
}

// ClaimBatch moves up to n of the oldest PENDING entries to PROCESSING and
// returns their ids in claim order. Each claim is a conditional update, so
// concurrent claimers never receive the same id.
func (s *Store) ClaimBatch(ctx context.Context, n int) ([]int64, error) {
	if n <= 0 {
		n = 1
	}
	var claimed []int64
	for len(claimed) < n {
		candidates, err := s.pendingIDs(ctx, n-len(claimed))
		if err != nil {
			return claimed, err
		}
		if len(candidates) == 0 {
			break
		}
		for _, id := range candidates {
			result, err := s.db.ExecContext(ctx,
				"UPDATE ai_queue SET status = ?, updated_at = ? WHERE news_id = ? AND status = ?",
				StatusProcessing, s.now(), id, StatusPending,
			)
			if err != nil {
				return claimed, fmt.Errorf("failed to claim news %d: %w", id, err)
			}
			if affected, _ := result.RowsAffected(); affected == 1 {
				claimed = append(claimed, id)
			}
		}
	}
	return claimed, nil
}

func (s *Store) pendingIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT news_id FROM ai_queue WHERE status = ? ORDER BY created_at ASC, news_id ASC LIMIT ?",
		StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending queue entries: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CompleteEnrichment persists the enriched record and marks the queue entry
// COMPLETED in a single transaction. The entry must be PROCESSING.
func (s *Store) CompleteEnrichment(ctx context.Context, e *EnrichedNews) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"UPDATE ai_queue SET status = ?, error_log = NULL, updated_at = ? WHERE news_id = ? AND status = ?",
			StatusCompleted, s.now(), e.NewsID, StatusProcessing,
		)
		if err != nil {
			return fmt.Errorf("failed to complete queue entry %d: %w", e.NewsID, err)
		}
		if affected, _ := result.RowsAffected(); affected != 1 {
			return fmt.Errorf("complete news %d: %w", e.NewsID, ErrNotClaimed)
		}

		var configID any
		if e.AIConfigID != 0 {
			configID = e.AIConfigID
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO news_ai (news_id, received_date, category_code, sub_type_code,
				company_name, ticker, exchange, country_code, headline, summary, sentiment,
				language_code, url, impact_score, latency_ms, ai_model, ai_config_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.NewsID, e.ReceivedDate.UTC(), nullString(e.CategoryCode), nullString(e.SubTypeCode),
			nullString(e.CompanyName), nullString(e.Ticker), nullString(e.Exchange),
			nullString(e.CountryCode), nullString(e.Headline), nullString(e.Summary),
			nullString(e.Sentiment), nullString(e.LanguageCode), nullString(e.URL),
			e.ImpactScore, e.LatencyMS, nullString(e.AIModel), configID, e.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert enriched news %d: %w", e.NewsID, err)
		}
		return nil
	})
}

// MarkFailed moves a PROCESSING entry to FAILED, bumps its retry counter
// and records the reason.
func (s *Store) MarkFailed(ctx context.Context, newsID int64, reason string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE ai_queue SET status = ?, retries = retries + 1, error_log = ?, updated_at = ? WHERE news_id = ? AND status = ?",
		StatusFailed, reason, s.now(), newsID, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to mark news %d failed: %w", newsID, err)
	}
	if affected, _ := result.RowsAffected(); affected != 1 {
		return fmt.Errorf("mark news %d failed: %w", newsID, ErrNotClaimed)
	}
	return nil
}

// ReleaseClaim returns a PROCESSING entry to PENDING. Used only for claims
// whose work never committed because the run was cancelled.
func (s *Store) ReleaseClaim(ctx context.Context, newsID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE ai_queue SET status = ?, updated_at = ? WHERE news_id = ? AND status = ?",
		StatusPending, s.now(), newsID, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to release news %d: %w", newsID, err)
	}
	return nil
}

// GetQueueEntry returns the queue row for newsID, or nil, nil.
func (s *Store) GetQueueEntry(ctx context.Context, newsID int64) (*QueueEntry, error) {
	var q QueueEntry
	var errLog sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT news_id, status, retries, error_log, created_at, updated_at FROM ai_queue WHERE news_id = ?",
		newsID,
	).Scan(&q.NewsID, &q.Status, &q.Retries, &errLog, &q.CreatedAt, &q.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry %d: %w", newsID, err)
	}
	q.ErrorLog = errLog.String
	return &q, nil
}

// GetEnriched returns the enriched record for newsID, or nil, nil.
func (s *Store) GetEnriched(ctx context.Context, newsID int64) (*EnrichedNews, error) {
	var e EnrichedNews
	var received sql.NullTime
	var configID sql.NullInt64
	var cat, sub, company, ticker, exchange, country, headline, summary, sentiment, lang, url, model sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT news_id, received_date, category_code, sub_type_code, company_name, ticker,
			exchange, country_code, headline, summary, sentiment, language_code, url,
			impact_score, latency_ms, ai_model, ai_config_id, created_at
		 FROM news_ai WHERE news_id = ?`,
		newsID,
	).Scan(&e.NewsID, &received, &cat, &sub, &company, &ticker, &exchange, &country,
		&headline, &summary, &sentiment, &lang, &url, &e.ImpactScore, &e.LatencyMS,
		&model, &configID, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enriched news %d: %w", newsID, err)
	}
	e.ReceivedDate = received.Time
	e.CategoryCode, e.SubTypeCode = cat.String, sub.String
	e.CompanyName, e.Ticker, e.Exchange = company.String, ticker.String, exchange.String
	e.CountryCode, e.Headline, e.Summary = country.String, headline.String, summary.String
	e.Sentiment, e.LanguageCode, e.URL = sentiment.String, lang.String, url.String
	e.AIModel, e.AIConfigID = model.String, configID.Int64
	return &e, nil
}
