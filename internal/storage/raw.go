package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const rawColumns = `raw_id, chat_id, combined_text, source_url, received_at,
	is_deduplicated, is_duplicate, is_scored`

// InsertRaw stores a captured message and returns its raw_id. Text is
// trimmed and must be non-empty; a zero ReceivedAt becomes now.
func (s *Store) InsertRaw(ctx context.Context, msg RawMessage) (int64, error) {
	text := strings.TrimSpace(msg.CombinedText)
	if text == "" {
		return 0, ErrEmptyText
	}
	received := msg.ReceivedAt
	if received.IsZero() {
		received = s.now()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_messages (chat_id, combined_text, source_url, received_at)
		 VALUES (?, ?, ?, ?)`,
		strings.TrimSpace(msg.ChatID), text, nullString(msg.SourceURL), received.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert raw message: %w", err)
	}
	return result.LastInsertId()
}

// MarkDeduplicated records the dedup verdict for a raw message.
func (s *Store) MarkDeduplicated(ctx context.Context, rawID int64, isDuplicate bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE raw_messages SET is_deduplicated = 1, is_duplicate = ? WHERE raw_id = ?",
		isDuplicate, rawID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark raw %d deduplicated: %w", rawID, err)
	}
	return nil
}

// MarkScored flags a raw message as scored. Duplicates are never flagged.
func (s *Store) MarkScored(ctx context.Context, rawID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE raw_messages SET is_scored = 1 WHERE raw_id = ? AND is_duplicate = 0",
		rawID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark raw %d scored: %w", rawID, err)
	}
	return nil
}

// InsertScore writes a scoring outcome. A zero ScoreID lets the database
// assign one; the assigned or given id is returned.
func (s *Store) InsertScore(ctx context.Context, item ScoredItem) (int64, error) {
	return insertScore(ctx, s.db, item, s.now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertScore(ctx context.Context, db execer, item ScoredItem, now time.Time) (int64, error) {
	scoredAt := item.ScoredAt
	if scoredAt.IsZero() {
		scoredAt = now
	}
	var id any
	if item.ScoreID != 0 {
		id = item.ScoreID
	}
	result, err := db.ExecContext(ctx,
		"INSERT INTO news_scoring (score_id, raw_id, decision, score, scored_at) VALUES (?, ?, ?, ?, ?)",
		id, item.RawID, nullString(item.Decision), item.Score, scoredAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert score for raw %d: %w", item.RawID, err)
	}
	if item.ScoreID != 0 {
		return item.ScoreID, nil
	}
	return result.LastInsertId()
}

// ScoreRaw writes the score and flags the raw message in one transaction,
// so a crash never leaves a scored row behind an unscored message.
func (s *Store) ScoreRaw(ctx context.Context, rawID int64, decision string, score float64) (int64, error) {
	var scoreID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		scoreID, err = insertScore(ctx, tx, ScoredItem{RawID: rawID, Decision: decision, Score: score}, s.now())
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE raw_messages SET is_scored = 1 WHERE raw_id = ? AND is_duplicate = 0", rawID,
		); err != nil {
			return fmt.Errorf("failed to mark raw %d scored: %w", rawID, err)
		}
		return nil
	})
	return scoreID, err
}

// QueryUndeduplicated returns raw messages awaiting the duplicate check,
// oldest first.
func (s *Store) QueryUndeduplicated(ctx context.Context, limit int) ([]RawMessage, error) {
	return s.queryRaw(ctx,
		"SELECT "+rawColumns+" FROM raw_messages WHERE is_deduplicated = 0 ORDER BY raw_id LIMIT ?",
		limit,
	)
}

// QueryUnscored returns unique, deduplicated messages that have no score yet.
func (s *Store) QueryUnscored(ctx context.Context, limit int) ([]RawMessage, error) {
	return s.queryRaw(ctx,
		`SELECT `+rawColumns+` FROM raw_messages
		 WHERE is_deduplicated = 1 AND is_duplicate = 0 AND is_scored = 0
		 ORDER BY raw_id LIMIT ?`,
		limit,
	)
}

// QueryRecentWindow returns the comparison set for duplicate detection:
// deduplicated, non-duplicate messages received at or after since.
func (s *Store) QueryRecentWindow(ctx context.Context, since time.Time) ([]RawMessage, error) {
	return s.queryRaw(ctx,
		`SELECT `+rawColumns+` FROM raw_messages
		 WHERE is_deduplicated = 1 AND is_duplicate = 0 AND received_at >= ?
		 ORDER BY received_at`,
		since.UTC(),
	)
}

// GetRaw looks up a raw message. Returns nil, nil when absent.
func (s *Store) GetRaw(ctx context.Context, rawID int64) (*RawMessage, error) {
	rows, err := s.queryRaw(ctx, "SELECT "+rawColumns+" FROM raw_messages WHERE raw_id = ?", rawID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// GetScoredItem looks up a scoring row by its id. Returns nil, nil when absent.
func (s *Store) GetScoredItem(ctx context.Context, newsID int64) (*ScoredItem, error) {
	var item ScoredItem
	var decision sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT score_id, raw_id, decision, score, scored_at FROM news_scoring WHERE score_id = ?",
		newsID,
	).Scan(&item.ScoreID, &item.RawID, &decision, &item.Score, &item.ScoredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scored item %d: %w", newsID, err)
	}
	item.Decision = decision.String
	return &item, nil
}

func (s *Store) queryRaw(ctx context.Context, query string, args ...any) ([]RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw messages: %w", err)
	}
	defer rows.Close()

	var msgs []RawMessage
	for rows.Next() {
		var m RawMessage
		var sourceURL sql.NullString
		if err := rows.Scan(&m.RawID, &m.ChatID, &m.CombinedText, &sourceURL, &m.ReceivedAt,
			&m.IsDeduplicated, &m.IsDuplicate, &m.IsScored); err != nil {
			return nil, fmt.Errorf("failed to scan raw message: %w", err)
		}
		m.SourceURL = sourceURL.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
