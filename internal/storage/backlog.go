package storage

import (
	"context"
	"encoding/json"
	"sort"
)

// Backlog keys, in pipeline order.
const (
	BacklogListingUnextracted = "listing_unextracted"
	BacklogRawUndeduplicated  = "raw_undeduplicated"
	BacklogRawUnscored        = "raw_unscored"
	BacklogAIPending          = "ai_pending"
	BacklogFinalTotal         = "final_total"
)

var backlogQueries = []struct {
	key   string
	query string
}{
	{BacklogListingUnextracted, "SELECT COUNT(*) FROM channel_listing WHERE is_extracted = 0"},
	{BacklogRawUndeduplicated, "SELECT COUNT(*) FROM raw_messages WHERE is_deduplicated = 0"},
	{BacklogRawUnscored, "SELECT COUNT(*) FROM raw_messages WHERE is_deduplicated = 1 AND is_scored = 0 AND is_duplicate = 0"},
	{BacklogAIPending, "SELECT COUNT(*) FROM ai_queue WHERE status = 'PENDING'"},
	{BacklogFinalTotal, "SELECT COUNT(*) FROM final_news"},
}

// Backlog holds per-stage pending counts. A stage whose count failed has an
// entry in Errors instead of Counts.
type Backlog struct {
	Counts map[string]int64
	Errors map[string]string
}

// Keys returns the stage keys in pipeline order.
func (b Backlog) Keys() []string {
	keys := make([]string, 0, len(backlogQueries))
	for _, q := range backlogQueries {
		keys = append(keys, q.key)
	}
	return keys
}

// MarshalJSON flattens the backlog into {"raw_unscored": 3, "ai_pending_error": "..."}.
func (b Backlog) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(b.Counts)+len(b.Errors))
	for k, v := range b.Counts {
		flat[k] = v
	}
	keys := make([]string, 0, len(b.Errors))
	for k := range b.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		flat[k+"_error"] = b.Errors[k]
	}
	return json.Marshal(flat)
}

// GetBacklog counts the pending work of every stage. Each count is isolated:
// a failing query marks only its own key. It never returns an error.
func (s *Store) GetBacklog(ctx context.Context) Backlog {
	b := Backlog{Counts: make(map[string]int64), Errors: make(map[string]string)}
	for _, q := range backlogQueries {
		var n int64
		if err := s.db.QueryRowContext(ctx, q.query).Scan(&n); err != nil {
			b.Errors[q.key] = err.Error()
			continue
		}
		b.Counts[q.key] = n
	}
	return b
}
