package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matthewjhunter/newsdesk"
	"github.com/matthewjhunter/newsdesk/internal/logging"
	"github.com/matthewjhunter/newsdesk/internal/output"
	"github.com/matthewjhunter/newsdesk/internal/storage"
)

const defaultConfigPath = "./config/config.yaml"

var (
	configPath   string
	cfg          *storage.Config
	outputFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "newsdesk",
		Short:         "Financial news pipeline: capture, dedup, score and AI enrichment of channel messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path, .yaml or .toml (default: "+defaultConfigPath+")")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "output format: json, text, human (default: json)")

	rootCmd.AddCommand(initConfigCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(captureCmd())
	rootCmd.AddCommand(dedupCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(enrichCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(backlogCmd())
	rootCmd.AddCommand(recentCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(syncEnabledCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	if configPath == "" {
		configPath = defaultConfigPath
	}
	loaded, err := storage.LoadConfig(configPath)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM so in-flight queue items
// are released rather than stranded.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openEngine(readOnly bool) (*newsdesk.Engine, error) {
	engine, err := newsdesk.NewEngine(newsdesk.EngineConfig{
		Config:   cfg,
		Logger:   logging.New(cfg.Logging.Level, cfg.Logging.Format),
		ReadOnly: readOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func cycleOutput(r *newsdesk.CycleResult) *output.CycleResult {
	return &output.CycleResult{
		NewListings: r.Capture.NewListings,
		Extracted:   r.Capture.Extracted,
		Checked:     r.Dedup.Checked,
		Duplicates:  r.Dedup.Duplicates,
		Scored:      r.Dedup.Scored,
		Dropped:     r.Dedup.Dropped,
		Queued:      r.Queued,
		Completed:   r.Enrich.Completed,
		Failed:      r.Enrich.Failed,
		Skipped:     r.Enrich.Skipped,
		Released:    r.Enrich.Released,
		SyncSkipped: r.SyncSkipped,
		Errors:      r.Errors,
	}
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Create a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config file already exists: %s", configPath)
			}
			if err := storage.SaveConfig(storage.DefaultConfig(), configPath); err != nil {
				return err
			}
			fmt.Printf("Created default config at %s\n", configPath)
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-opml <opml-file>",
		Short: "Add the feeds of an OPML file to the capture channels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine(true)
			if err != nil {
				return err
			}
			defer engine.Close()

			added, err := engine.ImportOPML(args[0])
			if err != nil {
				return fmt.Errorf("failed to import OPML: %w", err)
			}
			if err := storage.SaveConfig(engine.Config(), configPath); err != nil {
				return err
			}
			fmt.Printf("Added %d channels from %s to %s\n", added, args[0], configPath)
			return nil
		},
	}
}

func ingestCmd() *cobra.Command {
	var (
		chatID    string
		sourceURL string
	)
	cmd := &cobra.Command{
		Use:   "ingest <text>",
		Short: "Store one message as raw input without capturing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine(true)
			if err != nil {
				return err
			}
			defer engine.Close()

			id, err := engine.IngestMessage(cmd.Context(), chatID, args[0], sourceURL, time.Time{})
			if err != nil {
				return fmt.Errorf("failed to ingest message: %w", err)
			}
			fmt.Printf("Stored raw message %d\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "manual", "chat ID recorded for the message")
	cmd.Flags().StringVar(&sourceURL, "url", "", "source URL of the message")
	return cmd
}

func captureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capture",
		Short: "Fetch configured channels and extract new messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			engine, err := openEngine(false)
			if err != nil {
				return err
			}
			defer engine.Close()

			r, err := engine.Capture(ctx)
			if err != nil {
				return fmt.Errorf("capture failed: %w", err)
			}
			formatter := output.NewFormatter(output.Format(outputFormat))
			return formatter.OutputCycleResult(&output.CycleResult{
				NewListings: r.NewListings,
				Extracted:   r.Extracted,
				SyncSkipped: true,
			})
		},
	}
}

func dedupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dedup",
		Short: "Flag duplicate raw messages and score the rest",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			engine, err := openEngine(false)
			if err != nil {
				return err
			}
			defer engine.Close()

			r, err := engine.Deduplicate(ctx)
			if err != nil {
				return fmt.Errorf("dedup failed: %w", err)
			}
			formatter := output.NewFormatter(output.Format(outputFormat))
			return formatter.OutputCycleResult(&output.CycleResult{
				Checked:     r.Checked,
				Duplicates:  r.Duplicates,
				Scored:      r.Scored,
				Dropped:     r.Dropped,
				SyncSkipped: true,
			})
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Copy newly scored items into the AI queue",
		Long:  "Copy newly scored, non-dropped items into the AI queue. Runs even while scheduled sync is disabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine(false)
			if err != nil {
				return err
			}
			defer engine.Close()

			n, err := engine.SyncQueue(cmd.Context())
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			formatter := output.NewFormatter(output.Format(outputFormat))
			return formatter.OutputCycleResult(&output.CycleResult{Queued: n})
		},
	}
}

func enrichCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Drain the AI queue with the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			if workers > 0 {
				cfg.Worker.Count = workers
			}
			engine, err := openEngine(false)
			if err != nil {
				return err
			}
			defer engine.Close()

			r, err := engine.Enrich(ctx)
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("enrichment failed: %w", err)
			}
			formatter := output.NewFormatter(output.Format(outputFormat))
			return formatter.OutputCycleResult(&output.CycleResult{
				Completed:   r.Completed,
				Failed:      r.Failed,
				Skipped:     r.Skipped,
				Released:    r.Released,
				SyncSkipped: true,
			})
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of workers (default: worker.count from config)")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one full pipeline cycle: capture, dedup, sync and enrich",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			engine, err := openEngine(false)
			if err != nil {
				return err
			}
			defer engine.Close()

			r, err := engine.RunCycle(ctx)
			if r == nil {
				return err
			}
			formatter := output.NewFormatter(output.Format(outputFormat))
			if outErr := formatter.OutputCycleResult(cycleOutput(r)); outErr != nil {
				return outErr
			}
			return err
		},
	}
}

func backlogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backlog",
		Short: "Show pending counts per pipeline stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine(true)
			if err != nil {
				return err
			}
			defer engine.Close()

			formatter := output.NewFormatter(output.Format(outputFormat))
			return formatter.OutputBacklog(engine.Backlog(cmd.Context()))
		},
	}
}

func recentCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent enrichments",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine(true)
			if err != nil {
				return err
			}
			defer engine.Close()

			items, err := engine.RecentEnrichments(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to get enrichments: %w", err)
			}
			formatter := output.NewFormatter(output.Format(outputFormat))
			return formatter.OutputRecentEnrichments(items)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of enrichments to show")
	return cmd
}

func searchCmd() *cobra.Command {
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "search [terms...]",
		Short: "Page through published news, optionally filtered by search terms",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine(true)
			if err != nil {
				return err
			}
			defer engine.Close()

			p, err := engine.NewsPage(cmd.Context(), page, pageSize, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("failed to query news: %w", err)
			}
			formatter := output.NewFormatter(output.Format(outputFormat))
			return formatter.OutputNewsPage(&output.NewsPage{
				Items:      p.Items,
				Total:      p.Total,
				Page:       p.Page,
				PageSize:   p.PageSize,
				TotalPages: p.TotalPages,
			})
		},
	}
	cmd.Flags().IntVarP(&page, "page", "p", 1, "page number")
	cmd.Flags().IntVarP(&pageSize, "limit", "n", 20, "page size (max 100)")
	return cmd
}

func syncEnabledCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sync-enabled [on|off]",
		Short:     "Show or set whether scheduled queue sync runs",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine(true)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx := cmd.Context()
			if len(args) == 1 {
				enabled, err := parseToggle(args[0])
				if err != nil {
					return err
				}
				if err := engine.SetSyncEnabled(ctx, enabled); err != nil {
					return fmt.Errorf("failed to update setting: %w", err)
				}
			}
			formatter := output.NewFormatter(output.Format(outputFormat))
			return formatter.OutputSyncStatus(engine.SyncEnabled(ctx))
		},
	}
}

func parseToggle(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
