package artifacts

import (
	"testing"

	"github.com/user/ambuwatch/internal/types"
)

func TestStoreEmpty(t *testing.T) {
	s := NewStore()
	counts := s.Counts()
	for _, k := range types.Kinds {
		if counts[k] != 0 {
			t.Errorf("expected 0 %s, got %d", k, counts[k])
		}
	}
	if _, ok := s.Find("1"); ok {
		t.Error("expected empty store to find nothing")
	}
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	r := NewReconciler(NewStore())
	r.ApplyAdded(note(1, "original"))

	snap := r.Store().Snapshot()
	snap.Notes[0].Content.Text = "mutated"

	got, ok := r.Store().Find(1)
	if !ok {
		t.Fatal("expected to find note 1")
	}
	if got.Content.Text != "original" {
		t.Errorf("snapshot mutation leaked into store: %q", got.Content.Text)
	}
}

func TestStoreVersionAdvances(t *testing.T) {
	r := NewReconciler(NewStore())
	v0 := r.Store().Version()
	r.ApplyAdded(note(1, "a"))
	v1 := r.Store().Version()
	if v1 <= v0 {
		t.Errorf("expected version to advance, %d -> %d", v0, v1)
	}
	r.ApplyAdded(note(1, "a"))
	if r.Store().Version() != v1 {
		t.Error("expected no-op merge to leave version unchanged")
	}
}
