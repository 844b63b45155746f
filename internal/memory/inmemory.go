package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is an in-process store for local/dev use and tests. It
// mirrors the Postgres store's semantics, including supersession and
// idempotent session close.
type InMemoryStore struct {
	mu sync.RWMutex

	nextFactID    int64
	nextSessionID int64
	nextMessageID int64
	nextEntityID  int64
	nextWatchID   int64

	facts    []Fact
	sessions map[int64]*Session
	messages map[int64][]Message
	entities []*Entity
	// sessionEntities joins sessions to entities, keyed by session id.
	sessionEntities map[int64]map[int64]bool
	watchlist       []WatchlistItem
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:        make(map[int64]*Session),
		messages:        make(map[int64][]Message),
		sessionEntities: make(map[int64]map[int64]bool),
	}
}

func (s *InMemoryStore) Remember(_ context.Context, p RememberParams) (int64, error) {
	slug := strings.TrimSpace(p.SubjectSlug)
	attr := NormalizeAttribute(p.Attribute)
	if slug == "" || attr == "" {
		return 0, ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for i := range s.facts {
		f := &s.facts[i]
		if f.SubjectSlug == slug && f.Attribute == attr && f.IsLatest {
			f.IsLatest = false
			f.Status = StatusSuperseded
			f.UpdatedAt = now
		}
	}

	s.nextFactID++
	s.facts = append(s.facts, Fact{
		ID:          s.nextFactID,
		SubjectType: p.SubjectType,
		SubjectSlug: slug,
		Attribute:   attr,
		Value:       p.Value,
		Source:      p.Source,
		Confidence:  p.Confidence,
		Status:      StatusActive,
		Provenance:  p.Provenance,
		IsLatest:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return s.nextFactID, nil
}

func (s *InMemoryStore) GetLatest(_ context.Context, subjectSlug, attribute string) (Fact, error) {
	attr := NormalizeAttribute(attribute)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.facts) - 1; i >= 0; i-- {
		f := s.facts[i]
		if f.SubjectSlug == subjectSlug && f.Attribute == attr && f.IsLatest {
			return f, nil
		}
	}
	return Fact{}, ErrNotFound
}

func (s *InMemoryStore) ListFacts(_ context.Context, filter FactFilter) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Fact, 0, len(s.facts))
	for _, f := range s.facts {
		if filter.SubjectSlug != "" && f.SubjectSlug != filter.SubjectSlug {
			continue
		}
		if filter.Attribute != "" && f.Attribute != NormalizeAttribute(filter.Attribute) {
			continue
		}
		if filter.ActiveOnly && !f.IsLatest {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubjectSlug != out[j].SubjectSlug {
			return out[i].SubjectSlug < out[j].SubjectSlug
		}
		if out[i].Attribute != out[j].Attribute {
			return out[i].Attribute < out[j].Attribute
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) StartSession(_ context.Context, profile string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSessionID++
	s.sessions[s.nextSessionID] = &Session{
		ID:        s.nextSessionID,
		Profile:   profile,
		StartedAt: time.Now().UTC(),
	}
	return s.nextSessionID, nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, sessionID int64, role Role, content string, turnIndex int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return 0, ErrNotFound
	}
	if turnIndex < 0 {
		turnIndex = 0
		for _, m := range s.messages[sessionID] {
			if m.TurnIndex >= turnIndex {
				turnIndex = m.TurnIndex + 1
			}
		}
	}

	s.nextMessageID++
	s.messages[sessionID] = append(s.messages[sessionID], Message{
		ID:        s.nextMessageID,
		SessionID: sessionID,
		TurnIndex: turnIndex,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	return s.nextMessageID, nil
}

func (s *InMemoryStore) GetMessages(_ context.Context, sessionID int64) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]Message(nil), s.messages[sessionID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].TurnIndex < out[j].TurnIndex })
	return out, nil
}

func (s *InMemoryStore) RecentMessages(ctx context.Context, sessionID int64, limit int) ([]Message, error) {
	all, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit >= len(all) {
		return all, nil
	}
	return all[len(all)-limit:], nil
}

func (s *InMemoryStore) CloseSession(_ context.Context, sessionID int64, p CloseParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}

	firstClose := sess.EndedAt == nil
	now := time.Now().UTC()
	sess.EndedAt = &now
	sess.SummaryText = p.Summary
	sess.Entities = append([]EntityRef(nil), p.Entities...)
	sess.Topics = append([]string(nil), p.Topics...)
	sess.Actions = append([]string(nil), p.Actions...)

	// Entity upsert and watchlist derivation run once; repeated closes only
	// refresh the summary fields.
	if !firstClose {
		return nil
	}

	var firstEntity string
	for _, ref := range p.Entities {
		if ref.Name == "" {
			continue
		}
		if firstEntity == "" {
			firstEntity = ref.Name
		}
		e := s.upsertEntityLocked(ref.Name, ref.EntityType, ref.State)
		if s.sessionEntities[sessionID] == nil {
			s.sessionEntities[sessionID] = make(map[int64]bool)
		}
		s.sessionEntities[sessionID][e.ID] = true
	}
	for _, action := range p.Actions {
		if !ActionImpliesWatch(action) {
			continue
		}
		s.createWatchLocked(action, firstEntity, FrequencyWeekly)
	}
	return nil
}

func (s *InMemoryStore) LatestClosedSession(_ context.Context) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Session
	for _, sess := range s.sessions {
		if sess.EndedAt == nil {
			continue
		}
		if latest == nil || sess.ID > latest.ID {
			latest = sess
		}
	}
	if latest == nil {
		return Session{}, ErrNotFound
	}
	return *latest, nil
}

func (s *InMemoryStore) CreateWatch(_ context.Context, topic, entityName string, frequency Frequency) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createWatchLocked(topic, entityName, frequency), nil
}

func (s *InMemoryStore) createWatchLocked(topic, entityName string, frequency Frequency) int64 {
	if frequency == "" {
		frequency = FrequencyWeekly
	}
	var entityID *int64
	if entityName != "" {
		e := s.upsertEntityLocked(entityName, "", "")
		entityID = &e.ID
	}
	s.nextWatchID++
	s.watchlist = append(s.watchlist, WatchlistItem{
		ID:        s.nextWatchID,
		Topic:     topic,
		EntityID:  entityID,
		CreatedAt: time.Now().UTC(),
		Frequency: frequency,
		Active:    true,
	})
	return s.nextWatchID
}

func (s *InMemoryStore) ListWatchlist(_ context.Context, activeOnly bool) ([]WatchlistItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]WatchlistItem, 0, len(s.watchlist))
	for _, w := range s.watchlist {
		if activeOnly && !w.Active {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *InMemoryStore) DeactivateWatch(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.watchlist {
		if s.watchlist[i].ID == id {
			s.watchlist[i].Active = false
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) upsertEntityLocked(name, entityType, state string) *Entity {
	now := time.Now().UTC()
	for _, e := range s.entities {
		if strings.EqualFold(e.Name, name) {
			e.LastTouchedAt = now
			return e
		}
	}
	s.nextEntityID++
	e := &Entity{
		ID:            s.nextEntityID,
		Name:          name,
		CanonicalName: name,
		EntityType:    entityType,
		State:         state,
		LastTouchedAt: now,
	}
	s.entities = append(s.entities, e)
	return e
}

func (s *InMemoryStore) Close() error { return nil }
