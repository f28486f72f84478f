package api

import (
	"testing"
	"time"
)

func TestSortByTimestampDesc(t *testing.T) {
	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	entries := []executionEntry{
		{ID: "oldest", Timestamp: base.Add(-2 * time.Hour)},
		{ID: "newest", Timestamp: base},
		{ID: "middle", Timestamp: base.Add(-1 * time.Hour)},
	}

	sortByTimestampDesc(entries)

	want := []string{"newest", "middle", "oldest"}
	for i, id := range want {
		if entries[i].ID != id {
			t.Fatalf("entries[%d].ID = %q, want %q (order: %v)", i, entries[i].ID, id, entries)
		}
	}
}

func TestSortByTimestampDesc_EmptyAndSingle(t *testing.T) {
	var empty []executionEntry
	sortByTimestampDesc(empty) // must not panic

	single := []executionEntry{{ID: "only"}}
	sortByTimestampDesc(single)
	if single[0].ID != "only" {
		t.Fatalf("single-element slice was mutated unexpectedly: %v", single)
	}
}
