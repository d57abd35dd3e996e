package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"

	"github.com/matthewjhunter/newsdesk/internal/similarity"
)

// Queue statuses.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// DecisionDrop is the only scoring decision with special meaning: dropped
// items never enter the enrichment queue.
const DecisionDrop = "drop"

// ErrEmptyText is returned when a captured message has no text.
var ErrEmptyText = errors.New("message has no text")

// ErrNotClaimed is returned when finishing a queue entry that is not
// PROCESSING.
var ErrNotClaimed = errors.New("queue entry is not claimed")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// RawMessage is one captured unit of text.
type RawMessage struct {
	RawID          int64
	ChatID         string
	CombinedText   string
	SourceURL      string
	ReceivedAt     time.Time
	IsDeduplicated bool
	IsDuplicate    bool
	IsScored       bool
}

// ScoredItem is the scoring outcome of a raw message. ScoreID doubles as
// the news_id of every downstream table.
type ScoredItem struct {
	ScoreID  int64
	RawID    int64
	Decision string
	Score    float64
	ScoredAt time.Time
}

type QueueEntry struct {
	NewsID    int64
	Status    string
	Retries   int
	ErrorLog  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EnrichedNews is the structured record produced by the AI adapter.
type EnrichedNews struct {
	NewsID       int64
	ReceivedDate time.Time
	CategoryCode string
	SubTypeCode  string
	CompanyName  string
	Ticker       string
	Exchange     string
	CountryCode  string
	Headline     string
	Summary      string
	Sentiment    string
	LanguageCode string
	URL          string
	ImpactScore  int
	LatencyMS    int64
	AIModel      string
	AIConfigID   int64
	CreatedAt    time.Time
}

// FinalRecord is the client-facing projection of EnrichedNews.
type FinalRecord struct {
	NewsID       int64
	ReceivedDate time.Time
	Headline     string
	Summary      string
	CompanyName  string
	Ticker       string
	Exchange     string
	CountryCode  string
	Sentiment    string
	URL          string
	ImpactScore  int
	CreatedAt    time.Time
}

// FinalFromEnriched projects an enriched record onto the final store shape.
func FinalFromEnriched(e *EnrichedNews) FinalRecord {
	return FinalRecord{
		NewsID:       e.NewsID,
		ReceivedDate: e.ReceivedDate,
		Headline:     e.Headline,
		Summary:      e.Summary,
		CompanyName:  e.CompanyName,
		Ticker:       e.Ticker,
		Exchange:     e.Exchange,
		CountryCode:  e.CountryCode,
		Sentiment:    e.Sentiment,
		URL:          e.URL,
		ImpactScore:  e.ImpactScore,
		CreatedAt:    e.CreatedAt,
	}
}

// Listing is a message seen on a channel but not yet extracted into the
// raw store.
type Listing struct {
	ListingID   int64
	ChatID      string
	SourceMsgID string
	Title       string
	Body        string
	URL         string
	PostedAt    *time.Time
	IsExtracted bool
	ListedAt    time.Time
}

var registerOnce sync.Once
var registerErr error

// registerFunctions installs the scalar functions used by search queries.
// The sqlite driver keeps a process-wide registry, so this runs once.
func registerFunctions() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction(
			"jaro_winkler_similarity", 2,
			func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				a, aok := textArg(args[0])
				b, bok := textArg(args[1])
				if !aok || !bok {
					return 0.0, nil
				}
				return similarity.JaroWinkler(a, b), nil
			},
		)
	})
	return registerErr
}

func textArg(v driver.Value) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

// NewStore creates a new database connection and initializes the schema
func NewStore(dbPath string) (*Store, error) {
	if err := registerFunctions(); err != nil {
		return nil, fmt.Errorf("failed to register sql functions: %w", err)
	}

	dsn := dbPath + "?_time_format=sqlite&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

// inTx runs fn inside a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
