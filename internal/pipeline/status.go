package pipeline

import (
	"sync"
	"time"
)

// State is what a worker is doing right now.
type State string

const (
	StateStopped    State = "stopped"
	StateIdle       State = "idle"
	StateClaiming   State = "claiming"
	StateEnriching  State = "enriching"
	StatePublishing State = "publishing"
)

// StatusSnapshot is a point-in-time copy of a worker's status.
type StatusSnapshot struct {
	WorkerID      string     `json:"worker_id"`
	State         State      `json:"state"`
	CurrentNewsID int64      `json:"current_news_id,omitempty"`
	Completed     int        `json:"completed"`
	Failed        int        `json:"failed"`
	Skipped       int        `json:"skipped"`
	Released      int        `json:"released"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
}

// Status is owned by one worker. Reads go through Snapshot; all writes are
// made by the owning worker.
type Status struct {
	mu   sync.RWMutex
	snap StatusSnapshot
}

func newStatus(workerID string) *Status {
	return &Status{snap: StatusSnapshot{WorkerID: workerID, State: StateStopped}}
}

// Snapshot returns a copy safe to hand to other goroutines.
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Status) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.snap.State = StateIdle
	s.snap.StartedAt = &now
	s.snap.StoppedAt = nil
}

func (s *Status) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.snap.State = StateStopped
	s.snap.CurrentNewsID = 0
	s.snap.StoppedAt = &now
}

func (s *Status) set(state State, newsID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.State = state
	s.snap.CurrentNewsID = newsID
}

// record finishes the current item and returns the worker to idle, unless
// it has been stopped in the meantime.
func (s *Status) record(outcome Outcome, errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch outcome {
	case OutcomeCompleted:
		s.snap.Completed++
	case OutcomeFailed:
		s.snap.Failed++
	case OutcomeSkipped:
		s.snap.Skipped++
	case OutcomeReleased:
		s.snap.Released++
	}
	if errText != "" {
		now := time.Now().UTC()
		s.snap.LastError = errText
		s.snap.LastErrorAt = &now
	}
	s.snap.CurrentNewsID = 0
	if s.snap.State != StateStopped {
		s.snap.State = StateIdle
	}
}
