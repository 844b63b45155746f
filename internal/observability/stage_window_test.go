package observability

import "testing"

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(8)
	w.Observe("semantic", 300)
	w.Observe("semantic", 500)
	w.Observe("semantic", 700)
	w.ObserveIndicator("semantic_guard_miss")
	w.ObserveIndicator("semantic_guard_miss")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "semantic" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "semantic")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 700 {
		t.Fatalf("LastMS = %.2f, want 700", s.LastMS)
	}
	if s.P50MS != 500 {
		t.Fatalf("P50MS = %.2f, want 500", s.P50MS)
	}
	if s.P95MS <= 500 || s.P95MS > 700 {
		t.Fatalf("P95MS = %.2f, want (500,700]", s.P95MS)
	}
	if s.TargetP95MS != 800 {
		t.Fatalf("TargetP95MS = %.2f, want 800", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v", snap.Indicators)
	}
}

func TestStageWindowWraps(t *testing.T) {
	w := NewStageWindow(2)
	w.Observe("web", 100)
	w.Observe("web", 200)
	w.Observe("web", 300)

	snap := w.Snapshot()
	if snap.Stages[0].Samples != 2 {
		t.Fatalf("Samples = %d, want window cap 2", snap.Stages[0].Samples)
	}
	if snap.Stages[0].LastMS != 300 {
		t.Fatalf("LastMS = %.2f, want 300", snap.Stages[0].LastMS)
	}
}
