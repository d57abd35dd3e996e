package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// InsertListing records a channel message. Returns false when the channel
// already listed this message.
func (s *Store) InsertListing(ctx context.Context, l Listing) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO channel_listing (chat_id, source_msg_id, title, body, url, posted_at, listed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ChatID, l.SourceMsgID, nullString(l.Title), nullString(l.Body), nullString(l.URL),
		l.PostedAt, s.now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert listing %s/%s: %w", l.ChatID, l.SourceMsgID, err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// QueryUnextracted returns listings not yet copied to the raw store.
func (s *Store) QueryUnextracted(ctx context.Context, limit int) ([]Listing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT listing_id, chat_id, source_msg_id, title, body, url, posted_at, is_extracted, listed_at
		 FROM channel_listing WHERE is_extracted = 0 ORDER BY listing_id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		var l Listing
		var title, body, url sql.NullString
		var posted sql.NullTime
		if err := rows.Scan(&l.ListingID, &l.ChatID, &l.SourceMsgID, &title, &body, &url,
			&posted, &l.IsExtracted, &l.ListedAt); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		l.Title, l.Body, l.URL = title.String, body.String, url.String
		if posted.Valid {
			t := posted.Time
			l.PostedAt = &t
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ExtractListing inserts msg into the raw store and flags the listing as
// extracted in one transaction. Listings with no usable text are flagged
// without producing a raw row; rawID is 0 in that case.
func (s *Store) ExtractListing(ctx context.Context, listingID int64, msg RawMessage) (int64, error) {
	var rawID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if text := strings.TrimSpace(msg.CombinedText); text != "" {
			received := msg.ReceivedAt
			if received.IsZero() {
				received = s.now()
			}
			result, err := tx.ExecContext(ctx,
				`INSERT INTO raw_messages (chat_id, combined_text, source_url, received_at)
				 VALUES (?, ?, ?, ?)`,
				strings.TrimSpace(msg.ChatID), text, nullString(msg.SourceURL), received.UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert raw message: %w", err)
			}
			if rawID, err = result.LastInsertId(); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE channel_listing SET is_extracted = 1 WHERE listing_id = ?", listingID,
		); err != nil {
			return fmt.Errorf("failed to flag listing %d: %w", listingID, err)
		}
		return nil
	})
	return rawID, err
}
