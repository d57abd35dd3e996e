package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/matthewjhunter/newsdesk/internal/pipeline"
	"github.com/matthewjhunter/newsdesk/internal/publish"
	"github.com/matthewjhunter/newsdesk/internal/storage"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatHuman Format = "human"
)

type Formatter struct {
	format Format
	out    io.Writer
	err    io.Writer
}

// NewFormatter creates a new output formatter
func NewFormatter(format Format) *Formatter {
	return &Formatter{
		format: format,
		out:    os.Stdout,
		err:    os.Stderr,
	}
}

// NewFormatterWithWriters creates a formatter with custom output writers for testability
func NewFormatterWithWriters(format Format, out, errW io.Writer) *Formatter {
	return &Formatter{
		format: format,
		out:    out,
		err:    errW,
	}
}

// CycleResult represents one pass through the pipeline stages. Stages that
// did not run are left at zero.
type CycleResult struct {
	NewListings int      `json:"new_listings"`
	Extracted   int      `json:"extracted"`
	Checked     int      `json:"checked"`
	Duplicates  int      `json:"duplicates"`
	Scored      int      `json:"scored"`
	Dropped     int      `json:"dropped"`
	Queued      int      `json:"queued"`
	Completed   int      `json:"completed"`
	Failed      int      `json:"failed"`
	Skipped     int      `json:"skipped"`
	Released    int      `json:"released"`
	SyncSkipped bool     `json:"sync_skipped,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// OutputCycleResult outputs the cycle result in the configured format
func (f *Formatter) OutputCycleResult(result *CycleResult) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(result)
	case FormatText:
		fmt.Fprintf(f.out, "new_listings=%d\n", result.NewListings)
		fmt.Fprintf(f.out, "extracted=%d\n", result.Extracted)
		fmt.Fprintf(f.out, "checked=%d\n", result.Checked)
		fmt.Fprintf(f.out, "duplicates=%d\n", result.Duplicates)
		fmt.Fprintf(f.out, "scored=%d\n", result.Scored)
		fmt.Fprintf(f.out, "queued=%d\n", result.Queued)
		fmt.Fprintf(f.out, "completed=%d\n", result.Completed)
		fmt.Fprintf(f.out, "failed=%d\n", result.Failed)
		return nil
	case FormatHuman:
		if result.NewListings > 0 || result.Extracted > 0 {
			fmt.Fprintf(f.out, "Captured %d new messages, extracted %d\n", result.NewListings, result.Extracted)
		}
		if result.Checked > 0 {
			fmt.Fprintf(f.out, "Checked %d messages: %d duplicates\n", result.Checked, result.Duplicates)
		}
		if result.Scored > 0 {
			fmt.Fprintf(f.out, "Scored %d messages (%d dropped)\n", result.Scored, result.Dropped)
		}
		if result.SyncSkipped {
			fmt.Fprintln(f.out, "Queue sync is disabled")
		} else {
			fmt.Fprintf(f.out, "Queued %d items for enrichment\n", result.Queued)
		}
		fmt.Fprintf(f.out, "Enriched %d items", result.Completed)
		if result.Failed > 0 {
			fmt.Fprintf(f.out, ", %d failed", result.Failed)
		}
		fmt.Fprintln(f.out)
		for _, e := range result.Errors {
			fmt.Fprintf(f.out, "⚠️  %s\n", e)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputBacklog outputs per-stage pending counts in pipeline order.
func (f *Formatter) OutputBacklog(b storage.Backlog) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(b)
	case FormatText:
		for _, key := range b.Keys() {
			if msg, failed := b.Errors[key]; failed {
				fmt.Fprintf(f.out, "%s_error=%s\n", key, msg)
				continue
			}
			fmt.Fprintf(f.out, "%s=%d\n", key, b.Counts[key])
		}
		return nil
	case FormatHuman:
		fmt.Fprintln(f.out, "Pipeline backlog:")
		for _, key := range b.Keys() {
			if msg, failed := b.Errors[key]; failed {
				fmt.Fprintf(f.out, "  %-22s error: %s\n", key, msg)
				continue
			}
			fmt.Fprintf(f.out, "  %-22s %d\n", key, b.Counts[key])
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// NewsPage is one page of final news.
type NewsPage struct {
	Items      []publish.NewsItem `json:"news"`
	Total      int                `json:"total"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	TotalPages int                `json:"total_pages"`
}

// OutputNewsPage outputs a page of final news
func (f *Formatter) OutputNewsPage(page *NewsPage) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(page)
	case FormatText:
		for _, n := range page.Items {
			fmt.Fprintf(f.out, "id=%d\tticker=%s\timpact=%d\theadline=%s\turl=%s\n",
				n.NewsID, n.Ticker, n.ImpactScore, n.Headline, n.URL)
		}
		return nil
	case FormatHuman:
		if len(page.Items) == 0 {
			fmt.Fprintln(f.out, "No news")
			return nil
		}
		fmt.Fprintf(f.out, "News (page %d of %d, %d total):\n\n", page.Page, page.TotalPages, page.Total)
		for _, n := range page.Items {
			label := n.CompanyName
			if n.Ticker != "" {
				label = strings.TrimSpace(label + " (" + n.Ticker + ")")
			}
			fmt.Fprintf(f.out, "ID: %d  Impact: %d  %s\n", n.NewsID, n.ImpactScore, n.Sentiment)
			fmt.Fprintf(f.out, "Headline: %s\n", n.Headline)
			if label != "" {
				fmt.Fprintf(f.out, "Company: %s\n", label)
			}
			if n.Summary != "" {
				fmt.Fprintf(f.out, "%s\n", truncate(n.Summary, 300))
			}
			if n.URL != "" {
				fmt.Fprintf(f.out, "URL: %s\n", n.URL)
			}
			fmt.Fprintln(f.out, "---")
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputRecentEnrichments outputs the enrichment feed, newest first.
func (f *Formatter) OutputRecentEnrichments(items []storage.RecentEnrichment) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(items)
	case FormatText:
		for _, e := range items {
			fmt.Fprintf(f.out, "final_id=%d\tprocessed_at=%s\tmodel=%s\tlatency=%d\theadline=%s\n",
				e.FinalID, e.ProcessedAt, e.AIModel, e.Latency, e.Headline)
		}
		return nil
	case FormatHuman:
		if len(items) == 0 {
			fmt.Fprintln(f.out, "No enrichments yet")
			return nil
		}
		for _, e := range items {
			fmt.Fprintf(f.out, "[%s] #%d %s\n", e.ProcessedAt, e.FinalID, e.Headline)
			fmt.Fprintf(f.out, "    %s via %s in %dms, impact %d\n", e.Category, e.AIModel, e.Latency, e.ImpactScore)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputWorkerStatus outputs worker status snapshots.
func (f *Formatter) OutputWorkerStatus(workers []pipeline.StatusSnapshot) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(workers)
	case FormatText:
		for _, w := range workers {
			fmt.Fprintf(f.out, "worker=%s\tstate=%s\tcompleted=%d\tfailed=%d\tskipped=%d\treleased=%d\n",
				w.WorkerID, w.State, w.Completed, w.Failed, w.Skipped, w.Released)
		}
		return nil
	case FormatHuman:
		if len(workers) == 0 {
			fmt.Fprintln(f.out, "No workers")
			return nil
		}
		for _, w := range workers {
			fmt.Fprintf(f.out, "Worker %s: %s", w.WorkerID, w.State)
			if w.CurrentNewsID != 0 {
				fmt.Fprintf(f.out, " (news %d)", w.CurrentNewsID)
			}
			fmt.Fprintf(f.out, "\n  completed %d, failed %d, skipped %d, released %d\n",
				w.Completed, w.Failed, w.Skipped, w.Released)
			if w.LastError != "" {
				fmt.Fprintf(f.out, "  last error: %s\n", truncate(w.LastError, 200))
			}
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputSyncStatus outputs whether queue sync is enabled.
func (f *Formatter) OutputSyncStatus(enabled bool) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(map[string]bool{"enabled": enabled})
	case FormatText:
		fmt.Fprintf(f.out, "enabled=%t\n", enabled)
		return nil
	case FormatHuman:
		if enabled {
			fmt.Fprintln(f.out, "News sync is enabled")
		} else {
			fmt.Fprintln(f.out, "News sync is disabled")
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// Error outputs an error message to stderr
func (f *Formatter) Error(format string, args ...interface{}) {
	fmt.Fprintf(f.err, format+"\n", args...)
}

// Warning outputs a warning message to stderr
func (f *Formatter) Warning(format string, args ...interface{}) {
	fmt.Fprintf(f.err, "Warning: "+format+"\n", args...)
}

// truncate truncates a string to maxLen runes
func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
