// Package scheduler runs pipeline stages on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one pipeline stage invocation. It must return promptly once ctx
// is cancelled.
type Job func(ctx context.Context) error

// Guard decides whether a scheduled run should happen at all.
type Guard func(ctx context.Context) bool

type job struct {
	name     string
	schedule string
	fn       Job
	guard    Guard
	entryID  cron.EntryID
	mu       sync.Mutex // serializes runs of this job
}

// Scheduler manages periodic pipeline jobs. Overlapping runs of the same
// job are skipped; stopping the scheduler cancels running jobs.
type Scheduler struct {
	cron    *cron.Cron
	log     *slog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates a scheduler in the given timezone. timeout bounds each run;
// zero means 30 minutes.
func New(timezone string, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "scheduler")
	panicLog := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelError))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(panicLog))),
		log:     log,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*job),
	}, nil
}

// AddJob registers a job. schedule accepts the standard five-field cron
// syntax and descriptors such as "@every 30s". guard may be nil.
func (s *Scheduler) AddJob(name, schedule string, fn Job, guard Guard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	j := &job{name: name, schedule: schedule, fn: fn, guard: guard}
	entryID, err := s.cron.AddFunc(schedule, func() { s.scheduled(j) })
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	j.entryID = entryID
	s.jobs[name] = j
	s.log.Info("added job", "job", name, "schedule", schedule)
	return nil
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		s.cron.Remove(j.entryID)
		delete(s.jobs, name)
		s.log.Info("removed job", "job", name)
	}
}

func (s *Scheduler) scheduled(j *job) {
	if !j.mu.TryLock() {
		s.log.Info("skipping job, previous run still active", "job", j.name)
		return
	}
	defer j.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	if j.guard != nil && !j.guard(ctx) {
		s.log.Debug("job disabled, skipping", "job", j.name)
		return
	}
	s.execute(ctx, j)
}

func (s *Scheduler) execute(ctx context.Context, j *job) error {
	s.log.Debug("starting job", "job", j.name)
	start := time.Now()
	err := j.fn(ctx)
	if err != nil {
		s.log.Warn("job failed", "job", j.name, "error", err, "duration", time.Since(start))
		return err
	}
	s.log.Debug("job completed", "job", j.name, "duration", time.Since(start))
	return nil
}

// RunNow runs a registered job immediately, ignoring its guard. It waits
// for an active scheduled run of the same job to finish first.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.execute(ctx, j)
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.log.Info("starting scheduler")
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.log.Info("stopping scheduler")
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
	LastRun  time.Time `json:"last_run"`
}

// ListJobs returns the registered jobs sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		entry := s.cron.Entry(j.entryID)
		infos = append(infos, JobInfo{
			Name:     name,
			Schedule: j.schedule,
			NextRun:  entry.Next,
			LastRun:  entry.Prev,
		})
	}
	sort.Slice(infos, func(i, k int) bool { return infos[i].Name < infos[k].Name })
	return infos
}
