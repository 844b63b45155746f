package memory

import (
	"context"
	"errors"
	"time"
)

type SubjectType string

const (
	SubjectCity    SubjectType = "city"
	SubjectPerson  SubjectType = "person"
	SubjectProgram SubjectType = "program"
	SubjectGeneric SubjectType = "generic"
)

type Source string

const (
	SourceUser   Source = "user"
	SourceWeb    Source = "web"
	SourceDoc    Source = "doc"
	SourceSystem Source = "system"
)

type FactStatus string

const (
	StatusActive        FactStatus = "active"
	StatusPendingVerify FactStatus = "pending-verify"
	StatusSuperseded    FactStatus = "superseded"
	StatusConflict      FactStatus = "conflict"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

var (
	// ErrNotFound signals a lookup miss. It is a valid cascade-continue
	// signal, not a failure.
	ErrNotFound = errors.New("not found in memory")
	// ErrInvalidKey rejects a slug or attribute that is empty after
	// normalization, before any write happens.
	ErrInvalidKey = errors.New("invalid fact key")
)

// Provenance records where a fact came from.
type Provenance struct {
	SessionID int64    `json:"session_id,omitempty"`
	URLs      []string `json:"urls,omitempty"`
	Method    string   `json:"method,omitempty"`
}

// Fact is one versioned assertion about a subject. Rows are never edited in
// place: a newer fact for the same (subject_slug, attribute) key supersedes
// the old row, which is kept for history.
type Fact struct {
	ID          int64       `json:"id"`
	SubjectType SubjectType `json:"subject_type"`
	SubjectSlug string      `json:"subject_slug"`
	Attribute   string      `json:"attribute"`
	Value       string      `json:"value"`
	Source      Source      `json:"source"`
	Confidence  float64     `json:"confidence"`
	Status      FactStatus  `json:"status"`
	Provenance  Provenance  `json:"provenance"`
	IsLatest    bool        `json:"is_latest"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type Session struct {
	ID          int64      `json:"id"`
	Profile     string     `json:"profile"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	SummaryText string     `json:"summary_text"`
	Entities    []EntityRef `json:"entities,omitempty"`
	Topics      []string   `json:"topics,omitempty"`
	Actions     []string   `json:"actions,omitempty"`
}

type Message struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	TurnIndex int       `json:"turn_index"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Entity is a canonicalized real-world referent shared across sessions.
type Entity struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	CanonicalName string    `json:"canonical_name"`
	EntityType    string    `json:"entity_type"`
	State         string    `json:"state,omitempty"`
	LastTouchedAt time.Time `json:"last_touched_at"`
}

// EntityRef is how session summaries name entities before they are resolved
// against the entities table.
type EntityRef struct {
	Name       string `json:"name"`
	EntityType string `json:"entity_type,omitempty"`
	State      string `json:"state,omitempty"`
}

type WatchlistItem struct {
	ID            int64      `json:"id"`
	Topic         string     `json:"topic"`
	EntityID      *int64     `json:"entity_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	Frequency     Frequency  `json:"frequency"`
	Active        bool       `json:"active"`
}

// RememberParams are the inputs to Store.Remember.
type RememberParams struct {
	SubjectType SubjectType
	SubjectSlug string
	Attribute   string
	Value       string
	Source      Source
	Confidence  float64
	Provenance  Provenance
}

// FactFilter narrows ListFacts. Empty fields match everything.
type FactFilter struct {
	SubjectSlug string
	Attribute   string
	ActiveOnly  bool
}

// CloseParams carry the session summary persisted by CloseSession.
type CloseParams struct {
	Summary  string
	Entities []EntityRef
	Topics   []string
	Actions  []string
}

// AutoTurnIndex asks AppendMessage to assign max(turn_index)+1 for the
// session inside the insert transaction.
const AutoTurnIndex = -1

// Store persists versioned facts, session transcripts, entities and the
// watchlist behind one relational schema.
type Store interface {
	Remember(ctx context.Context, p RememberParams) (int64, error)
	GetLatest(ctx context.Context, subjectSlug, attribute string) (Fact, error)
	ListFacts(ctx context.Context, f FactFilter) ([]Fact, error)

	StartSession(ctx context.Context, profile string) (int64, error)
	AppendMessage(ctx context.Context, sessionID int64, role Role, content string, turnIndex int) (int64, error)
	GetMessages(ctx context.Context, sessionID int64) ([]Message, error)
	RecentMessages(ctx context.Context, sessionID int64, limit int) ([]Message, error)
	CloseSession(ctx context.Context, sessionID int64, p CloseParams) error
	LatestClosedSession(ctx context.Context) (Session, error)

	CreateWatch(ctx context.Context, topic, entityName string, frequency Frequency) (int64, error)
	ListWatchlist(ctx context.Context, activeOnly bool) ([]WatchlistItem, error)
	DeactivateWatch(ctx context.Context, id int64) error

	Close() error
}
