package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/matthewjhunter/newsdesk"
	"github.com/matthewjhunter/newsdesk/internal/ai"
	"github.com/matthewjhunter/newsdesk/internal/dedup"
	"github.com/matthewjhunter/newsdesk/internal/storage"
)

type stubEnricher struct{}

func (stubEnricher) Enrich(context.Context, string, ai.Config) (*ai.Enrichment, error) {
	return &ai.Enrichment{
		CategoryCode: "EARN",
		CompanyName:  "Company X",
		Ticker:       "X",
		Headline:     "X grows",
		Summary:      "profit up",
		ImpactScore:  7,
	}, nil
}

type keepAll struct{}

func (keepAll) Score(context.Context, storage.RawMessage) (dedup.Verdict, error) {
	return dedup.Verdict{Decision: dedup.DecisionKeep, Score: 0.9}, nil
}

func newTestServer(t *testing.T) *server {
	t.Helper()
	engine, err := newsdesk.NewEngine(newsdesk.EngineConfig{
		DBPath:   filepath.Join(t.TempDir(), "test.db"),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Enricher: stubEnricher{},
		Scorer:   keepAll{},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return newServer(engine, newPoller(engine, time.Minute))
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content blocks = %d, want 1", len(res.Content))
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want *mcp.TextContent", res.Content[0])
	}
	return text.Text
}

func ingest(t *testing.T, s *server, text string) {
	t.Helper()
	if _, err := s.engine.IngestMessage(context.Background(), "wire", text, "", time.Time{}); err != nil {
		t.Fatalf("IngestMessage: %v", err)
	}
}

func TestRunCycleThenSearch(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	ingest(t, s, "Company X reports 20% profit growth")

	res, _, err := s.handleRunCycle(ctx, nil, emptyInput{})
	if err != nil || res.IsError {
		t.Fatalf("run cycle: %v %s", err, resultText(t, res))
	}
	var cycle newsdesk.CycleResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &cycle); err != nil {
		t.Fatalf("decode cycle: %v", err)
	}
	if cycle.Queued != 1 || cycle.Enrich.Completed != 1 {
		t.Errorf("cycle = %+v", cycle)
	}

	search := "X"
	res, _, _ = s.handleNewsSearch(ctx, nil, newsSearchInput{Search: &search})
	var page newsdesk.NewsPage
	if err := json.Unmarshal([]byte(resultText(t, res)), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 1 || page.Items[0].Headline != "X grows" || page.Items[0].ImpactScore != 7 {
		t.Errorf("page = %+v", page)
	}

	res, _, _ = s.handleRecentEnrichments(ctx, nil, limitInput{})
	var recent []newsdesk.RecentEnrichment
	json.Unmarshal([]byte(resultText(t, res)), &recent)
	if len(recent) != 1 || recent[0].Category != "EARN" {
		t.Errorf("recent = %+v", recent)
	}
}

func TestBacklog(t *testing.T) {
	s := newTestServer(t)
	ingest(t, s, "Company X reports 20% profit growth")

	res, _, _ := s.handleBacklog(context.Background(), nil, emptyInput{})
	var counts map[string]int64
	if err := json.Unmarshal([]byte(resultText(t, res)), &counts); err != nil {
		t.Fatalf("decode backlog: %v", err)
	}
	if counts[storage.BacklogRawUndeduplicated] != 1 {
		t.Errorf("backlog = %v", counts)
	}
}

func TestSyncSetAndStatus(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, _, _ := s.handleSyncSet(ctx, nil, syncSetInput{Enabled: false})
	if got := resultText(t, res); got != "News sync disabled" {
		t.Errorf("set = %q", got)
	}
	res, _, _ = s.handleSyncStatus(ctx, nil, emptyInput{})
	if got := resultText(t, res); got != `{"sync_enabled":false}` {
		t.Errorf("status = %q", got)
	}

	ingest(t, s, "Company X reports 20% profit growth")
	res, _, _ = s.handleRunCycle(ctx, nil, emptyInput{})
	if !strings.Contains(resultText(t, res), `"sync_skipped":true`) {
		t.Errorf("cycle should skip sync: %s", resultText(t, res))
	}
}

func TestWorkers(t *testing.T) {
	s := newTestServer(t)
	res, _, _ := s.handleWorkers(context.Background(), nil, emptyInput{})
	var workers []newsdesk.WorkerStatus
	if err := json.Unmarshal([]byte(resultText(t, res)), &workers); err != nil {
		t.Fatalf("decode workers: %v", err)
	}
	if len(workers) != 1 || workers[0].State != "stopped" {
		t.Errorf("workers = %+v", workers)
	}
}

func TestToolsOverTransport(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := s.mcp.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	want := "news_backlog news_recent_enrichments news_search news_sync_set news_sync_status pipeline_run_cycle pipeline_workers"
	if strings.Join(names, " ") != want {
		t.Errorf("tools = %v", names)
	}

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "news_search",
		Arguments: map[string]any{"page_size": 5},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || !strings.Contains(resultText(t, res), `"page_size":5`) {
		t.Errorf("news_search result = %s", resultText(t, res))
	}
}
