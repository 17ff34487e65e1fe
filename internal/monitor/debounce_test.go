package monitor

import "testing"

func TestDebouncerSequence(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(14.0, 3)

	readings := []float64{13.9, 13.9, 14.1, 13.9, 13.9, 13.9}
	wantCounts := []int{1, 2, 0, 1, 2, 3}
	wantDecisions := []Decision{
		DecisionWarning, DecisionWarning, DecisionNormal,
		DecisionWarning, DecisionWarning, DecisionShutdown,
	}

	for i, v := range readings {
		decision := d.Observe(v)
		if decision != wantDecisions[i] {
			t.Fatalf("reading %d (%v): expected decision %v, got %v", i+1, v, wantDecisions[i], decision)
		}
		if d.Count() != wantCounts[i] {
			t.Fatalf("reading %d (%v): expected count %d, got %d", i+1, v, wantCounts[i], d.Count())
		}
	}
}

func TestDebouncerThresholdBoundaryIsSafe(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(14.0, 3)

	if d.Observe(13.5) != DecisionWarning {
		t.Fatalf("below threshold must warn")
	}
	// Exactly at threshold counts as in range and resets.
	if d.Observe(14.0) != DecisionNormal {
		t.Fatalf("reading at threshold must be treated as in range")
	}
	if d.Count() != 0 {
		t.Fatalf("count must reset on an in-range reading, got %d", d.Count())
	}
}

func TestDebouncerLimitOne(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(14.0, 1)
	if d.Observe(13.0) != DecisionShutdown {
		t.Fatalf("limit 1 must shut down on the first undervoltage reading")
	}
}
