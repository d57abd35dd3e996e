package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	// Deterministic, strictly increasing clock.
	var mu sync.Mutex
	clock := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return store, func() { store.Close() }
}

// seedScored inserts a raw message and its score, returning the news id.
func seedScored(t *testing.T, s *Store, text, decision string) int64 {
	t.Helper()
	ctx := context.Background()
	rawID, err := s.InsertRaw(ctx, RawMessage{ChatID: "chan", CombinedText: text, SourceURL: "https://example.com/" + text})
	if err != nil {
		t.Fatalf("InsertRaw failed: %v", err)
	}
	if err := s.MarkDeduplicated(ctx, rawID, false); err != nil {
		t.Fatalf("MarkDeduplicated failed: %v", err)
	}
	id, err := s.ScoreRaw(ctx, rawID, decision, 0.5)
	if err != nil {
		t.Fatalf("ScoreRaw failed: %v", err)
	}
	return id
}

func TestNewStore(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	if store.db == nil {
		t.Fatal("Database connection is nil")
	}
	if !store.SyncEnabled(context.Background()) {
		t.Error("news sync should be enabled by default")
	}
}

func TestInsertRawValidation(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.InsertRaw(ctx, RawMessage{ChatID: "c", CombinedText: "   "}); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}

	id, err := store.InsertRaw(ctx, RawMessage{ChatID: " c ", CombinedText: "  hello world  "})
	if err != nil {
		t.Fatalf("InsertRaw failed: %v", err)
	}
	raw, err := store.GetRaw(ctx, id)
	if err != nil || raw == nil {
		t.Fatalf("GetRaw: %v %v", raw, err)
	}
	if raw.CombinedText != "hello world" || raw.ChatID != "c" {
		t.Errorf("unexpected raw: %+v", raw)
	}
	if raw.ReceivedAt.IsZero() {
		t.Error("received_at should default to now")
	}
	if raw.IsDeduplicated || raw.IsDuplicate || raw.IsScored {
		t.Errorf("new raw should have no flags: %+v", raw)
	}

	missing, err := store.GetRaw(ctx, 9999)
	if err != nil || missing != nil {
		t.Errorf("missing raw: got %v, %v", missing, err)
	}
}

func TestRawFlagsAndWindows(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	oldID, _ := store.InsertRaw(ctx, RawMessage{ChatID: "c", CombinedText: "old", ReceivedAt: base.Add(-48 * time.Hour)})
	keepID, _ := store.InsertRaw(ctx, RawMessage{ChatID: "c", CombinedText: "keep", ReceivedAt: base})
	dupID, _ := store.InsertRaw(ctx, RawMessage{ChatID: "c", CombinedText: "dup", ReceivedAt: base})

	pending, err := store.QueryUndeduplicated(ctx, 10)
	if err != nil || len(pending) != 3 {
		t.Fatalf("QueryUndeduplicated: %d rows, err %v", len(pending), err)
	}

	store.MarkDeduplicated(ctx, oldID, false)
	store.MarkDeduplicated(ctx, keepID, false)
	store.MarkDeduplicated(ctx, dupID, true)

	window, err := store.QueryRecentWindow(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("QueryRecentWindow: %v", err)
	}
	if len(window) != 1 || window[0].RawID != keepID {
		t.Errorf("window = %+v, want only keep", window)
	}

	unscored, _ := store.QueryUnscored(ctx, 10)
	if len(unscored) != 2 {
		t.Errorf("unscored = %d, want 2 (duplicates excluded)", len(unscored))
	}

	// Duplicates never become scored.
	store.MarkScored(ctx, dupID)
	dup, _ := store.GetRaw(ctx, dupID)
	if dup.IsScored {
		t.Error("duplicate was flagged scored")
	}

	if _, err := store.ScoreRaw(ctx, keepID, "keep", 0.7); err != nil {
		t.Fatalf("ScoreRaw: %v", err)
	}
	keep, _ := store.GetRaw(ctx, keepID)
	if !keep.IsScored {
		t.Error("ScoreRaw did not flag raw as scored")
	}
}

func TestInsertScoreExplicitID(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	id, err := store.InsertScore(ctx, ScoredItem{ScoreID: 42, RawID: 7, Decision: "keep", Score: 0.9})
	if err != nil || id != 42 {
		t.Fatalf("InsertScore = %d, %v", id, err)
	}
	item, err := store.GetScoredItem(ctx, 42)
	if err != nil || item == nil {
		t.Fatalf("GetScoredItem: %v %v", item, err)
	}
	if item.RawID != 7 || item.Decision != "keep" || item.Score != 0.9 {
		t.Errorf("unexpected item %+v", item)
	}
}

func TestSyncQueueIdempotent(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	seedScored(t, store, "one", "keep")
	seedScored(t, store, "two", "")

	n, err := store.SyncQueue(ctx, 100)
	if err != nil || n != 2 {
		t.Fatalf("first sync = %d, %v; want 2", n, err)
	}
	n, err = store.SyncQueue(ctx, 100)
	if err != nil || n != 0 {
		t.Fatalf("second sync = %d, %v; want 0", n, err)
	}
}

func TestSyncQueueExcludesDrop(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for _, d := range []string{"drop", "DROP", "Drop"} {
		seedScored(t, store, "dropped-"+d, d)
	}
	keepID := seedScored(t, store, "kept", "keep")

	n, err := store.SyncQueue(ctx, 100)
	if err != nil || n != 1 {
		t.Fatalf("sync = %d, %v; want 1", n, err)
	}
	q, _ := store.GetQueueEntry(ctx, keepID)
	if q == nil || q.Status != StatusPending || q.Retries != 0 {
		t.Errorf("queue entry = %+v", q)
	}
}

func TestSyncQueueLimitAndOrder(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, seedScored(t, store, "item"+string(rune('a'+i)), "keep"))
	}
	n, _ := store.SyncQueue(ctx, 2)
	if n != 2 {
		t.Fatalf("limited sync = %d, want 2", n)
	}
	claimed, _ := store.ClaimBatch(ctx, 5)
	if len(claimed) != 2 || claimed[0] != ids[0] || claimed[1] != ids[1] {
		t.Errorf("claimed %v, want oldest scored first %v", claimed, ids[:2])
	}
}

func TestSyncQueueSkipsEnriched(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	id := seedScored(t, store, "already", "keep")
	// An enriched row without a queue row (e.g. restored from backup).
	if _, err := store.db.Exec("INSERT INTO news_ai (news_id, headline) VALUES (?, 'h')", id); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.SyncQueue(ctx, 100); n != 0 {
		t.Errorf("sync = %d, want 0 for already-enriched item", n)
	}
}

func TestClaimBatchOrderAndExclusivity(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	a := seedScored(t, store, "a", "keep")
	b := seedScored(t, store, "b", "keep")
	store.SyncQueue(ctx, 100)

	first, err := store.ClaimBatch(ctx, 1)
	if err != nil || len(first) != 1 || first[0] != a {
		t.Fatalf("first claim = %v, %v; want [%d]", first, err, a)
	}
	second, _ := store.ClaimBatch(ctx, 5)
	if len(second) != 1 || second[0] != b {
		t.Fatalf("second claim = %v, want [%d]", second, b)
	}
	third, _ := store.ClaimBatch(ctx, 5)
	if len(third) != 0 {
		t.Errorf("third claim = %v, want none", third)
	}
	q, _ := store.GetQueueEntry(ctx, a)
	if q.Status != StatusProcessing {
		t.Errorf("status = %s, want PROCESSING", q.Status)
	}
}

func TestConcurrentClaimsNeverOverlap(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	const items = 40
	for i := 0; i < items; i++ {
		seedScored(t, store, strings.Repeat("x", i+1), "keep")
	}
	if n, err := store.SyncQueue(ctx, 100); err != nil || n != items {
		t.Fatalf("sync = %d, %v", n, err)
	}

	var mu sync.Mutex
	seen := make(map[int64]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ids, err := store.ClaimBatch(ctx, 3)
				if err != nil {
					t.Errorf("ClaimBatch: %v", err)
					return
				}
				if len(ids) == 0 {
					return
				}
				mu.Lock()
				for _, id := range ids {
					seen[id]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != items {
		t.Errorf("claimed %d distinct items, want %d", len(seen), items)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("news %d claimed %d times", id, n)
		}
	}
}

func TestCompleteAndFail(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	ok := seedScored(t, store, "ok", "keep")
	bad := seedScored(t, store, "bad", "keep")
	store.SyncQueue(ctx, 100)
	store.ClaimBatch(ctx, 2)

	err := store.CompleteEnrichment(ctx, &EnrichedNews{
		NewsID: ok, Headline: "h", Summary: "s", ImpactScore: 5, LatencyMS: 12, AIModel: "m", AIConfigID: 3,
		ReceivedDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CompleteEnrichment: %v", err)
	}
	q, _ := store.GetQueueEntry(ctx, ok)
	if q.Status != StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", q.Status)
	}
	e, _ := store.GetEnriched(ctx, ok)
	if e == nil || e.ImpactScore != 5 || e.AIConfigID != 3 || e.LatencyMS != 12 {
		t.Errorf("enriched = %+v", e)
	}

	// A finished entry cannot be completed or failed again.
	if err := store.CompleteEnrichment(ctx, &EnrichedNews{NewsID: ok}); !errors.Is(err, ErrNotClaimed) {
		t.Errorf("second complete: got %v, want ErrNotClaimed", err)
	}
	if err := store.MarkFailed(ctx, ok, "late"); !errors.Is(err, ErrNotClaimed) {
		t.Errorf("fail after complete: got %v, want ErrNotClaimed", err)
	}
	q, _ = store.GetQueueEntry(ctx, ok)
	if q.Status != StatusCompleted || q.Retries != 0 {
		t.Errorf("completed entry changed: %+v", q)
	}

	if err := store.MarkFailed(ctx, bad, "adapter down"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	q, _ = store.GetQueueEntry(ctx, bad)
	if q.Status != StatusFailed || q.Retries != 1 || q.ErrorLog != "adapter down" {
		t.Errorf("failed entry = %+v", q)
	}
	if e, _ := store.GetEnriched(ctx, bad); e != nil {
		t.Error("failed item has an enriched row")
	}
}

func TestReleaseClaim(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	id := seedScored(t, store, "r", "keep")
	store.SyncQueue(ctx, 100)
	store.ClaimBatch(ctx, 1)

	if err := store.ReleaseClaim(ctx, id); err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}
	q, _ := store.GetQueueEntry(ctx, id)
	if q.Status != StatusPending || q.Retries != 0 {
		t.Errorf("released entry = %+v", q)
	}

	// Pending entries are not claimed, so they cannot fail.
	if err := store.MarkFailed(ctx, id, "x"); !errors.Is(err, ErrNotClaimed) {
		t.Errorf("MarkFailed on PENDING: got %v, want ErrNotClaimed", err)
	}

	// Release never touches finished entries.
	store.ClaimBatch(ctx, 1)
	store.MarkFailed(ctx, id, "x")
	store.ReleaseClaim(ctx, id)
	q, _ = store.GetQueueEntry(ctx, id)
	if q.Status != StatusFailed {
		t.Errorf("release changed a FAILED entry to %s", q.Status)
	}
}

func seedFinal(t *testing.T, s *Store, id int64, headline, company, ticker string) {
	t.Helper()
	err := s.UpsertFinal(context.Background(), FinalRecord{
		NewsID: id, Headline: headline, Summary: "summary of " + headline,
		CompanyName: company, Ticker: ticker, ReceivedDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("UpsertFinal: %v", err)
	}
}

func TestGetFinalNewsSearch(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	seedFinal(t, store, 1, "Infosys wins large deal", "Infosys Ltd", "INFY")
	seedFinal(t, store, 2, "Reliance expands retail", "Reliance Industries", "RELIANCE")
	seedFinal(t, store, 3, "Markets close higher", "", "")

	items, total, err := store.GetFinalNews(ctx, 20, 0, "")
	if err != nil || total != 3 || len(items) != 3 {
		t.Fatalf("unfiltered = %d items, total %d, err %v", len(items), total, err)
	}
	if items[0].NewsID != 3 {
		t.Errorf("newest first: got %d", items[0].NewsID)
	}

	tests := []struct {
		search string
		want   []int64
	}{
		{"infosys", []int64{1}},
		{"RETAIL", []int64{2}},
		{"infy deal", []int64{1}},
		{"infy retail", nil},
		{"relianse", []int64{2}}, // fuzzy ticker match
		{"zzz", nil},
	}
	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			items, total, err := store.GetFinalNews(ctx, 20, 0, tt.search)
			if err != nil {
				t.Fatalf("GetFinalNews: %v", err)
			}
			var got []int64
			for _, it := range items {
				got = append(got, it.NewsID)
			}
			sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
			if total != len(tt.want) || len(got) != len(tt.want) {
				t.Fatalf("got %v (total %d), want %v", got, total, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}

	page, total, _ := store.GetFinalNews(ctx, 2, 2, "")
	if total != 3 || len(page) != 1 || page[0].NewsID != 1 {
		t.Errorf("paging: %+v total %d", page, total)
	}
}

func TestUpsertFinalReplaces(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	seedFinal(t, store, 9, "first", "", "")
	seedFinal(t, store, 9, "second", "", "")
	f, err := store.GetFinal(context.Background(), 9)
	if err != nil || f == nil || f.Headline != "second" {
		t.Errorf("GetFinal = %+v, %v", f, err)
	}
}

func TestGetRecentEnrichments(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for _, text := range []string{"a", "b"} {
		id := seedScored(t, store, text, "keep")
		store.SyncQueue(ctx, 100)
		store.ClaimBatch(ctx, 1)
		store.CompleteEnrichment(ctx, &EnrichedNews{NewsID: id, Headline: "h-" + text, CategoryCode: "EARN", LatencyMS: 40})
	}

	recent, err := store.GetRecentEnrichments(ctx, 50)
	if err != nil || len(recent) != 2 {
		t.Fatalf("recent = %d, %v", len(recent), err)
	}
	if recent[0].Headline != "h-b" {
		t.Errorf("newest first: got %s", recent[0].Headline)
	}
	if _, err := time.Parse(DisplayTimeFormat, recent[0].ProcessedAt); err != nil {
		t.Errorf("processed_at %q not in display format: %v", recent[0].ProcessedAt, err)
	}
	if recent[0].Category != "EARN" || recent[0].Latency != 40 {
		t.Errorf("unexpected row %+v", recent[0])
	}
}

func TestGetBacklog(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	store.InsertListing(ctx, Listing{ChatID: "c", SourceMsgID: "1", Title: "t"})
	store.InsertRaw(ctx, RawMessage{ChatID: "c", CombinedText: "fresh"})
	seedScored(t, store, "queued", "keep")
	store.SyncQueue(ctx, 100)

	b := store.GetBacklog(ctx)
	want := map[string]int64{
		BacklogListingUnextracted: 1,
		BacklogRawUndeduplicated:  1,
		BacklogRawUnscored:        0,
		BacklogAIPending:          1,
		BacklogFinalTotal:         0,
	}
	for k, v := range want {
		if b.Counts[k] != v {
			t.Errorf("%s = %d, want %d", k, b.Counts[k], v)
		}
	}
	if len(b.Errors) != 0 {
		t.Errorf("unexpected errors %v", b.Errors)
	}
}

func TestGetBacklogIsolatesFailures(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.db.Exec("DROP TABLE channel_listing"); err != nil {
		t.Fatal(err)
	}
	b := store.GetBacklog(ctx)
	if _, ok := b.Errors[BacklogListingUnextracted]; !ok {
		t.Error("missing listing error marker")
	}
	if len(b.Counts) != 4 {
		t.Errorf("other stages should still count, got %v", b.Counts)
	}

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	var flat map[string]any
	json.Unmarshal(data, &flat)
	if _, ok := flat["listing_unextracted_error"]; !ok {
		t.Errorf("flattened JSON missing error key: %s", data)
	}
	if _, ok := flat["final_total"]; !ok {
		t.Errorf("flattened JSON missing count key: %s", data)
	}
}

func TestSettings(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SetSyncEnabled(ctx, false); err != nil {
		t.Fatalf("SetSyncEnabled: %v", err)
	}
	v, _ := store.GetSetting(ctx, SettingNewsSyncEnabled)
	if v != "false" {
		t.Errorf("value = %q, want false", v)
	}
	if store.SyncEnabled(ctx) {
		t.Error("sync should be disabled")
	}
	// Hand-edited values are compared case-insensitively.
	store.SetSetting(ctx, SettingNewsSyncEnabled, " TRUE ")
	if !store.SyncEnabled(ctx) {
		t.Error("sync should be enabled by TRUE")
	}
	if v, err := store.GetSetting(ctx, "missing"); err != nil || v != "" {
		t.Errorf("missing setting = %q, %v", v, err)
	}
}

func TestListingExtraction(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	inserted, err := store.InsertListing(ctx, Listing{ChatID: "c", SourceMsgID: "m1", Title: "Title", Body: "Body"})
	if err != nil || !inserted {
		t.Fatalf("InsertListing = %v, %v", inserted, err)
	}
	again, _ := store.InsertListing(ctx, Listing{ChatID: "c", SourceMsgID: "m1"})
	if again {
		t.Error("duplicate listing inserted")
	}
	store.InsertListing(ctx, Listing{ChatID: "c", SourceMsgID: "m2"})

	listings, _ := store.QueryUnextracted(ctx, 10)
	if len(listings) != 2 {
		t.Fatalf("unextracted = %d, want 2", len(listings))
	}

	rawID, err := store.ExtractListing(ctx, listings[0].ListingID, RawMessage{ChatID: "c", CombinedText: "Title Body"})
	if err != nil || rawID == 0 {
		t.Fatalf("ExtractListing = %d, %v", rawID, err)
	}
	emptyID, err := store.ExtractListing(ctx, listings[1].ListingID, RawMessage{ChatID: "c"})
	if err != nil || emptyID != 0 {
		t.Errorf("empty extraction = %d, %v", emptyID, err)
	}
	if rest, _ := store.QueryUnextracted(ctx, 10); len(rest) != 0 {
		t.Errorf("listings left: %d", len(rest))
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	if err != nil || cfg.Queue.SyncLimit != 100 {
		t.Fatalf("defaults: %+v, %v", cfg, err)
	}

	for _, name := range []string{"c.yaml", "c.toml"} {
		path := filepath.Join(dir, name)
		want := DefaultConfig()
		want.Worker.Count = 4
		want.Worker.AdapterTimeout = 45 * time.Second
		want.Capture.Channels = []Channel{{Name: "markets", URL: "https://example.com/rss"}}
		if err := SaveConfig(want, path); err != nil {
			t.Fatalf("SaveConfig %s: %v", name, err)
		}
		got, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig %s: %v", name, err)
		}
		if got.Worker.Count != 4 || got.Worker.AdapterTimeout != 45*time.Second {
			t.Errorf("%s: worker = %+v", name, got.Worker)
		}
		if len(got.Capture.Channels) != 1 || got.Capture.Channels[0].Name != "markets" {
			t.Errorf("%s: channels = %+v", name, got.Capture.Channels)
		}
	}
}
