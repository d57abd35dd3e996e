package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matthewjhunter/newsdesk"
	"github.com/matthewjhunter/newsdesk/internal/logging"
	"github.com/matthewjhunter/newsdesk/internal/metrics"
	"github.com/matthewjhunter/newsdesk/internal/storage"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "config file path (.yaml or .toml)")
	dbPath := flag.String("db", "", "path to SQLite database (overrides config)")
	addr := flag.String("addr", ":8080", "listen address")
	pipeline := flag.Bool("pipeline", false, "run the scheduled pipeline in-process so new news reaches websocket clients")
	flag.Parse()

	cfg, err := storage.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "newsdesk-web: %v\n", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "newsdesk-web: %v\n", err)
		os.Exit(1)
	}

	engine, err := newsdesk.NewEngine(newsdesk.EngineConfig{
		Config:   cfg,
		DBPath:   *dbPath,
		Logger:   logging.New(cfg.Logging.Level, cfg.Logging.Format),
		Metrics:  m,
		ReadOnly: !*pipeline,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "newsdesk-web: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if *pipeline {
		sched, err := engine.Scheduler()
		if err != nil {
			fmt.Fprintf(os.Stderr, "newsdesk-web: %v\n", err)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop()
		log.Println("newsdesk-web: pipeline scheduler started")
	}

	srv := &http.Server{
		Addr:        *addr,
		Handler:     accessLog(recovery(newRouter(engine, registry))),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("newsdesk-web: listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("newsdesk-web: %v", err)
		}
	}()

	<-done
	log.Println("newsdesk-web: shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("newsdesk-web: shutdown error: %v", err)
	}
	log.Println("newsdesk-web: stopped")
}
