package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/matthewjhunter/newsdesk"
)

// poller runs the pipeline cycle in the background.
type poller struct {
	engine   *newsdesk.Engine
	interval time.Duration

	mu   sync.Mutex
	done chan struct{}
}

func newPoller(engine *newsdesk.Engine, interval time.Duration) *poller {
	return &poller{
		engine:   engine,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// start launches the background poll loop. It polls immediately, then on
// each tick of the configured interval.
func (p *poller) start(ctx context.Context) {
	go p.loop(ctx)
	log.Printf("poller: started (interval=%s)", p.interval)
}

// stop signals the poll loop to exit.
func (p *poller) stop() {
	close(p.done)
	log.Printf("poller: stopped")
}

// poll runs a single pipeline cycle. Also used by the pipeline_run_cycle
// tool, so manual and background cycles never overlap.
func (p *poller) poll(ctx context.Context) (*newsdesk.CycleResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result, err := p.engine.RunCycle(ctx)
	if err != nil {
		return result, err
	}

	log.Printf("poller: %d new messages, %d checked (%d duplicates), %d queued, %d enriched, %d failed",
		result.Capture.Extracted, result.Dedup.Checked, result.Dedup.Duplicates,
		result.Queued, result.Enrich.Completed, result.Enrich.Failed)
	for _, e := range result.Errors {
		log.Printf("poller: %s", e)
	}
	return result, nil
}

func (p *poller) loop(ctx context.Context) {
	if _, err := p.poll(ctx); err != nil {
		log.Printf("poller: initial poll error: %v", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.poll(ctx); err != nil {
				log.Printf("poller: poll error: %v", err)
			}
		}
	}
}
