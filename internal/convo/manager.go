package convo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/antoniostano/govsight/internal/constraints"
	"github.com/antoniostano/govsight/internal/memory"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("conversation not found")

// Conversation is the live in-process state for one open session. The
// durable session row lives in the store; this holds what only matters
// while the conversation is running.
type Conversation struct {
	SessionID      int64           `json:"session_id"`
	Profile        string          `json:"profile"`
	Status         Status          `json:"status"`
	Active         constraints.Map `json:"active_context"`
	Turns          []Turn          `json:"turns"`
	StartedAt      time.Time       `json:"started_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
}

type state struct {
	sessionID      int64
	profile        string
	status         Status
	active         constraints.Map
	buffer         *Buffer
	startedAt      time.Time
	lastActivityAt time.Time
}

// Manager tracks live conversations keyed by durable session ID. All
// mutation goes through the manager so turn handling stays race-free.
type Manager struct {
	mu                sync.RWMutex
	convos            map[int64]*state
	bufferCapacity    int
	inactivityTimeout time.Duration
	onExpire          func(Conversation)
}

func NewManager(bufferCapacity int, inactivityTimeout time.Duration) *Manager {
	if bufferCapacity <= 0 {
		bufferCapacity = DefaultCapacity
	}
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		convos:            make(map[int64]*state),
		bufferCapacity:    bufferCapacity,
		inactivityTimeout: inactivityTimeout,
	}
}

// SetExpireHook installs a callback invoked for each conversation the
// janitor ends. The hook runs outside the manager lock.
func (m *Manager) SetExpireHook(hook func(Conversation)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(sessionID int64, profile string) Conversation {
	now := time.Now().UTC()
	s := &state{
		sessionID:      sessionID,
		profile:        profile,
		status:         StatusActive,
		active:         constraints.Map{},
		buffer:         NewBuffer(m.bufferCapacity),
		startedAt:      now,
		lastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.convos[sessionID] = s
	return s.snapshot()
}

func (m *Manager) Get(sessionID int64) (Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.convos[sessionID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return s.snapshot(), nil
}

// PushTurn records a turn in the rolling buffer and refreshes activity.
func (m *Manager) PushTurn(sessionID int64, role, text string, cons constraints.Map, intent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.convos[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.buffer.Push(role, text, cons, intent)
	s.lastActivityAt = time.Now().UTC()
	return nil
}

// MergeActive folds a turn's extracted constraints into the conversation's
// active context and returns the merged result.
func (m *Manager) MergeActive(sessionID int64, incoming constraints.Map) (constraints.Map, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.convos[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.active = constraints.Merge(s.active, incoming)
	return s.active.Clone(), nil
}

// ResetActive replaces the active context, used when a turn breaks context
// instead of inheriting it.
func (m *Manager) ResetActive(sessionID int64, cons constraints.Map) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.convos[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.active = cons.Clone()
	return nil
}

// SeedFromSession primes a fresh conversation with the previous session's
// summary: one synthetic assistant turn plus an initial active context
// carrying that session's entities and topics.
func (m *Manager) SeedFromSession(sessionID int64, prior memory.Session) error {
	if prior.SummaryText == "" && len(prior.Entities) == 0 && len(prior.Topics) == 0 {
		return nil
	}
	seed := seedConstraints(prior)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.convos[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.buffer.Push(string(memory.RoleAssistant), "[Previous session] "+prior.SummaryText, seed, IntentSessionSummary)
	s.active = constraints.Merge(s.active, seed)
	return nil
}

func seedConstraints(prior memory.Session) constraints.Map {
	seed := constraints.Map{}
	if len(prior.Entities) > 0 {
		items := make([]constraints.Value, 0, len(prior.Entities))
		for _, e := range prior.Entities {
			fields := map[string]constraints.Value{"name": constraints.String(e.Name)}
			if e.EntityType != "" {
				fields["entity_type"] = constraints.String(e.EntityType)
			}
			if e.State != "" {
				fields["state"] = constraints.String(e.State)
			}
			items = append(items, constraints.Struct(fields))
		}
		seed["entities"] = constraints.List(items...)
	}
	if len(prior.Topics) > 0 {
		items := make([]constraints.Value, 0, len(prior.Topics))
		for _, t := range prior.Topics {
			items = append(items, constraints.String(t))
		}
		seed["topics"] = constraints.List(items...)
	}
	return seed
}

func (m *Manager) Touch(sessionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.convos[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.lastActivityAt = time.Now().UTC()
	return nil
}

// End marks the conversation ended and removes it from the registry,
// returning its final snapshot for summarization.
func (m *Manager) End(sessionID int64) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.convos[sessionID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	s.status = StatusEnded
	s.lastActivityAt = time.Now().UTC()
	delete(m.convos, sessionID)
	return s.snapshot(), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.convos)
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []Conversation

	m.mu.Lock()
	for id, s := range m.convos {
		if now.Sub(s.lastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.status = StatusEnded
		s.lastActivityAt = now
		expired = append(expired, s.snapshot())
		delete(m.convos, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

func (s *state) snapshot() Conversation {
	return Conversation{
		SessionID:      s.sessionID,
		Profile:        s.profile,
		Status:         s.status,
		Active:         s.active.Clone(),
		Turns:          s.buffer.Turns(),
		StartedAt:      s.startedAt,
		LastActivityAt: s.lastActivityAt,
	}
}
