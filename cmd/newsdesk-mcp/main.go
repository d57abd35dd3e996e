// newsdesk-mcp is a standalone MCP server for the newsdesk pipeline. It
// opens the newsdesk database directly and serves news and pipeline tools
// over JSON-RPC stdio.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matthewjhunter/newsdesk"
	"github.com/matthewjhunter/newsdesk/internal/logging"
	"github.com/matthewjhunter/newsdesk/internal/storage"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "config file path (.yaml or .toml)")
	dbPath := flag.String("db", "", "path to newsdesk database (overrides config)")
	pollInterval := flag.Duration("poll", 0, "run the pipeline cycle in the background at this interval (0 disables)")
	flag.Parse()

	// stdout carries the protocol.
	log.SetOutput(os.Stderr)

	cfg, err := storage.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	engine, err := newsdesk.NewEngine(newsdesk.EngineConfig{
		Config: cfg,
		DBPath: *dbPath,
		Logger: logging.New(cfg.Logging.Level, cfg.Logging.Format),
	})
	if err != nil {
		log.Fatalf("create newsdesk engine: %v", err)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := newPoller(engine, *pollInterval)
	if *pollInterval > 0 {
		if *pollInterval < 10*time.Second {
			log.Fatalf("poll interval %s is too short (minimum 10s)", *pollInterval)
		}
		p.start(ctx)
		defer p.stop()
	}

	srv := newServer(engine, p)
	if err := srv.run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("server error: %v", err)
	}
}
