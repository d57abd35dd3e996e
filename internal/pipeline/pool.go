package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/matthewjhunter/newsdesk/internal/ai"
)

// Result summarizes one drain of the queue by a pool.
type Result struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Released  int `json:"released"`
}

func (r *Result) add(outcomes map[Outcome]int, claimed int) {
	r.Claimed += claimed
	r.Completed += outcomes[OutcomeCompleted]
	r.Failed += outcomes[OutcomeFailed]
	r.Skipped += outcomes[OutcomeSkipped]
	r.Released += outcomes[OutcomeReleased]
}

// Pool runs a fixed set of workers against the same queue.
type Pool struct {
	workers []*Worker
}

// NewPool creates count workers sharing store, enricher and publisher.
func NewPool(count int, store Store, enricher ai.Enricher, publisher Publisher, opts Options) *Pool {
	if count <= 0 {
		count = 1
	}
	p := &Pool{workers: make([]*Worker, count)}
	for i := range p.workers {
		p.workers[i] = NewWorker(store, enricher, publisher, opts)
	}
	return p
}

// Workers returns the pool's workers.
func (p *Pool) Workers() []*Worker { return p.workers }

// Statuses returns a snapshot of every worker's status.
func (p *Pool) Statuses() []StatusSnapshot {
	out := make([]StatusSnapshot, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.Status().Snapshot()
	}
	return out
}

// Run starts every worker and keeps claiming batches until the queue has
// no PENDING items left or ctx is cancelled. Claims are exclusive, so
// workers never process the same item. A claim error stops only the worker
// that hit it; Run returns the first such error once the rest finish.
func (p *Pool) Run(ctx context.Context) (*Result, error) {
	var (
		mu     sync.Mutex
		result Result
		g      errgroup.Group
	)
	for _, w := range p.workers {
		g.Go(func() error {
			w.Start()
			defer w.Stop()
			for {
				outcomes, claimed, err := w.RunOnce(ctx)
				mu.Lock()
				result.add(outcomes, claimed)
				mu.Unlock()
				if err != nil {
					return err
				}
				if claimed == 0 || ctx.Err() != nil {
					return nil
				}
			}
		})
	}
	err := g.Wait()
	return &result, err
}
