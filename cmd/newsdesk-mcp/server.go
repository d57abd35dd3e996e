package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/matthewjhunter/newsdesk"
)

// cycleTimeout bounds a pipeline_run_cycle call.
const cycleTimeout = 5 * time.Minute

// server is the newsdesk MCP server.
type server struct {
	engine *newsdesk.Engine
	poller *poller
	mcp    *mcp.Server
}

func newServer(engine *newsdesk.Engine, p *poller) *server {
	s := &server{
		engine: engine,
		poller: p,
		mcp:    mcp.NewServer(&mcp.Implementation{Name: "newsdesk", Version: "0.1.0"}, nil),
	}
	s.registerTools()
	return s
}

func (s *server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "news_search",
		Description: "Page through AI-enriched news, newest first. Optionally filter by search terms; company names and tickers also match approximately.",
	}, s.handleNewsSearch)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "news_backlog",
		Description: "Count items waiting at each pipeline stage: unextracted listings, undeduplicated and unscored raw messages, pending AI queue items, and total published news.",
	}, s.handleBacklog)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "news_recent_enrichments",
		Description: "List the most recent AI enrichments with model, latency, category and impact score.",
	}, s.handleRecentEnrichments)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "news_sync_status",
		Description: "Report whether scheduled queue sync is enabled.",
	}, s.handleSyncStatus)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "news_sync_set",
		Description: "Enable or disable scheduled queue sync. Items already queued are still enriched.",
	}, s.handleSyncSet)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pipeline_workers",
		Description: "Show the state and counters of each enrichment worker.",
	}, s.handleWorkers)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pipeline_run_cycle",
		Description: "Run one pipeline cycle now: capture channels, deduplicate and score, sync the AI queue (if enabled) and enrich everything pending.",
	}, s.handleRunCycle)
}

// run serves MCP over stdio until the client disconnects or ctx ends.
func (s *server) run(ctx context.Context) error {
	log.Printf("newsdesk-mcp starting")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *server) handleNewsSearch(ctx context.Context, _ *mcp.CallToolRequest, in newsSearchInput) (*mcp.CallToolResult, any, error) {
	page, pageSize, search := 1, 20, ""
	if in.Page != nil {
		page = *in.Page
	}
	if in.PageSize != nil {
		pageSize = *in.PageSize
	}
	if in.Search != nil {
		search = *in.Search
	}
	result, err := s.engine.NewsPage(ctx, page, pageSize, search)
	if err != nil {
		return mcpError("search failed: %v", err), nil, nil
	}
	log.Printf("news_search: %q page %d, %d of %d", search, result.Page, len(result.Items), result.Total)
	return mcpJSON(result), nil, nil
}

func (s *server) handleBacklog(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	return mcpJSON(s.engine.Backlog(ctx)), nil, nil
}

func (s *server) handleRecentEnrichments(ctx context.Context, _ *mcp.CallToolRequest, in limitInput) (*mcp.CallToolResult, any, error) {
	limit := 20
	if in.Limit != nil && *in.Limit > 0 {
		limit = *in.Limit
	}
	items, err := s.engine.RecentEnrichments(ctx, limit)
	if err != nil {
		return mcpError("failed to load enrichments: %v", err), nil, nil
	}
	if items == nil {
		items = []newsdesk.RecentEnrichment{}
	}
	return mcpJSON(items), nil, nil
}

func (s *server) handleSyncStatus(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	return mcpJSON(map[string]bool{"sync_enabled": s.engine.SyncEnabled(ctx)}), nil, nil
}

func (s *server) handleSyncSet(ctx context.Context, _ *mcp.CallToolRequest, in syncSetInput) (*mcp.CallToolResult, any, error) {
	if err := s.engine.SetSyncEnabled(ctx, in.Enabled); err != nil {
		return mcpError("failed to update setting: %v", err), nil, nil
	}
	log.Printf("news_sync_set: enabled=%t", in.Enabled)
	if in.Enabled {
		return mcpText("News sync enabled"), nil, nil
	}
	return mcpText("News sync disabled"), nil, nil
}

func (s *server) handleWorkers(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	workers := s.engine.WorkerStatus()
	if workers == nil {
		workers = []newsdesk.WorkerStatus{}
	}
	return mcpJSON(workers), nil, nil
}

func (s *server) handleRunCycle(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	result, err := s.poller.poll(ctx)
	if err != nil {
		return mcpError("cycle failed: %v", err), nil, nil
	}
	log.Printf("pipeline_run_cycle: %d queued, %d enriched, %d failed",
		result.Queued, result.Enrich.Completed, result.Enrich.Failed)
	return mcpJSON(result), nil, nil
}

// --- MCP response helpers ---

func mcpText(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func mcpJSON(data any) *mcp.CallToolResult {
	b, err := json.Marshal(data)
	if err != nil {
		return mcpError("marshal response: %v", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}
}

func mcpError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Error: "+format, args...)}},
		IsError: true,
	}
}
