package memory

import (
	"context"
	"errors"
	"testing"
)

func TestRememberSupersedesPriorLatest(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	first, err := s.Remember(ctx, RememberParams{
		SubjectType: SubjectCity,
		SubjectSlug: "grandview_tx",
		Attribute:   "mayor",
		Value:       "Bill Houston",
		Source:      SourceUser,
		Confidence:  0.9,
	})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}

	second, err := s.Remember(ctx, RememberParams{
		SubjectType: SubjectCity,
		SubjectSlug: "grandview_tx",
		Attribute:   "mayor",
		Value:       "Tommy Brandt",
		Source:      SourceUser,
		Confidence:  0.9,
	})
	if err != nil {
		t.Fatalf("Remember() second error = %v", err)
	}
	if second <= first {
		t.Fatalf("fact ids not monotonic: first=%d second=%d", first, second)
	}

	latest, err := s.GetLatest(ctx, "grandview_tx", "mayor")
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if latest.Value != "Tommy Brandt" {
		t.Fatalf("latest value = %q, want %q", latest.Value, "Tommy Brandt")
	}
	if !latest.IsLatest || latest.Status != StatusActive {
		t.Fatalf("latest flags = (%v, %q), want (true, active)", latest.IsLatest, latest.Status)
	}

	all, err := s.ListFacts(ctx, FactFilter{SubjectSlug: "grandview_tx", Attribute: "mayor"})
	if err != nil {
		t.Fatalf("ListFacts() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListFacts() returned %d rows, want 2", len(all))
	}
	// Ordered by (subject_slug, attribute, id desc): newest first.
	if all[0].ID != second || all[1].ID != first {
		t.Fatalf("order = [%d %d], want [%d %d]", all[0].ID, all[1].ID, second, first)
	}
	if all[1].Status != StatusSuperseded || all[1].IsLatest {
		t.Fatalf("superseded row flags = (%q, %v), want (superseded, false)", all[1].Status, all[1].IsLatest)
	}

	latestCount := 0
	for _, f := range all {
		if f.IsLatest {
			latestCount++
		}
	}
	if latestCount != 1 {
		t.Fatalf("rows with is_latest = %d, want 1", latestCount)
	}
}

func TestRememberRejectsEmptyKey(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	for _, p := range []RememberParams{
		{SubjectSlug: "", Attribute: "mayor", Value: "x"},
		{SubjectSlug: "grandview_tx", Attribute: "  ", Value: "x"},
	} {
		if _, err := s.Remember(ctx, p); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("Remember(%+v) error = %v, want ErrInvalidKey", p, err)
		}
	}

	facts, err := s.ListFacts(ctx, FactFilter{})
	if err != nil {
		t.Fatalf("ListFacts() error = %v", err)
	}
	if len(facts) != 0 {
		t.Fatalf("rejected writes persisted %d rows, want 0", len(facts))
	}
}

func TestGetLatestMiss(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.GetLatest(context.Background(), "nowhere_zz", "mayor"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetLatest() error = %v, want ErrNotFound", err)
	}
}

func TestAppendMessageAssignsTurnIndex(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	sid, err := s.StartSession(ctx, "dev")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	if _, err := s.AppendMessage(ctx, sid, RoleUser, "hello", AutoTurnIndex); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if _, err := s.AppendMessage(ctx, sid, RoleAssistant, "hi", AutoTurnIndex); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if _, err := s.AppendMessage(ctx, sid, RoleUser, "explicit", 7); err != nil {
		t.Fatalf("AppendMessage() explicit error = %v", err)
	}
	if _, err := s.AppendMessage(ctx, sid, RoleAssistant, "after explicit", AutoTurnIndex); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	msgs, err := s.GetMessages(ctx, sid)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	gotIdx := make([]int, 0, len(msgs))
	for _, m := range msgs {
		gotIdx = append(gotIdx, m.TurnIndex)
	}
	wantIdx := []int{0, 1, 7, 8}
	if len(gotIdx) != len(wantIdx) {
		t.Fatalf("message count = %d, want %d", len(gotIdx), len(wantIdx))
	}
	for i := range wantIdx {
		if gotIdx[i] != wantIdx[i] {
			t.Fatalf("turn indices = %v, want %v", gotIdx, wantIdx)
		}
	}
}

func TestAppendMessageUnknownSession(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.AppendMessage(context.Background(), 42, RoleUser, "x", AutoTurnIndex); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AppendMessage() error = %v, want ErrNotFound", err)
	}
}

func TestCloseSessionIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	sid, err := s.StartSession(ctx, "dev")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	params := CloseParams{
		Summary:  "talked about Grandview water funding",
		Entities: []EntityRef{{Name: "Grandview", EntityType: "city", State: "TX"}},
		Topics:   []string{"water funding"},
		Actions:  []string{"monitor chromium regs", "email the council"},
	}
	if err := s.CloseSession(ctx, sid, params); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if err := s.CloseSession(ctx, sid, params); err != nil {
		t.Fatalf("CloseSession() second error = %v", err)
	}

	watches, err := s.ListWatchlist(ctx, true)
	if err != nil {
		t.Fatalf("ListWatchlist() error = %v", err)
	}
	if len(watches) != 1 {
		t.Fatalf("watchlist rows = %d, want 1 (no duplicates on re-close)", len(watches))
	}
	if watches[0].Topic != "monitor chromium regs" {
		t.Fatalf("watch topic = %q, want %q", watches[0].Topic, "monitor chromium regs")
	}
	if watches[0].EntityID == nil {
		t.Fatalf("watch entity id is nil, want resolved entity")
	}

	sess, err := s.LatestClosedSession(ctx)
	if err != nil {
		t.Fatalf("LatestClosedSession() error = %v", err)
	}
	if sess.ID != sid || sess.SummaryText != params.Summary {
		t.Fatalf("latest closed = (%d, %q), want (%d, %q)", sess.ID, sess.SummaryText, sid, params.Summary)
	}
}

func TestEntityDedupCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	if _, err := s.CreateWatch(ctx, "track grandview", "Grandview", FrequencyWeekly); err != nil {
		t.Fatalf("CreateWatch() error = %v", err)
	}
	if _, err := s.CreateWatch(ctx, "track grandview again", "GRANDVIEW", FrequencyDaily); err != nil {
		t.Fatalf("CreateWatch() error = %v", err)
	}

	if len(s.entities) != 1 {
		t.Fatalf("entity rows = %d, want 1 (case-insensitive dedup)", len(s.entities))
	}

	watches, err := s.ListWatchlist(ctx, true)
	if err != nil {
		t.Fatalf("ListWatchlist() error = %v", err)
	}
	// Duplicate topics are allowed: tracking intent history is preserved.
	if len(watches) != 2 {
		t.Fatalf("watchlist rows = %d, want 2", len(watches))
	}
	if *watches[0].EntityID != *watches[1].EntityID {
		t.Fatalf("watches reference different entities: %d vs %d", *watches[0].EntityID, *watches[1].EntityID)
	}
}

func TestDeactivateWatch(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	id, err := s.CreateWatch(ctx, "monitor chromium regs", "", FrequencyMonthly)
	if err != nil {
		t.Fatalf("CreateWatch() error = %v", err)
	}
	if err := s.DeactivateWatch(ctx, id); err != nil {
		t.Fatalf("DeactivateWatch() error = %v", err)
	}

	active, err := s.ListWatchlist(ctx, true)
	if err != nil {
		t.Fatalf("ListWatchlist() error = %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active watches = %d, want 0", len(active))
	}
	all, err := s.ListWatchlist(ctx, false)
	if err != nil {
		t.Fatalf("ListWatchlist() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("all watches = %d, want 1 (deactivated, never deleted)", len(all))
	}
}

func TestActionImpliesWatch(t *testing.T) {
	tests := []struct {
		action string
		want   bool
	}{
		{"monitor chromium regs", true},
		{"Track the bill", true},
		{"watch for updates", true},
		{"follow up with Coachella", true},
		{"email the council", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ActionImpliesWatch(tt.action); got != tt.want {
			t.Errorf("ActionImpliesWatch(%q) = %v, want %v", tt.action, got, tt.want)
		}
	}
}
