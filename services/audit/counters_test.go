package audit

import "testing"

func TestCountersApplyCoversEveryOutcome(t *testing.T) {
	var c Counters
	for _, outcome := range Outcomes {
		before := c.TotalScans()
		c.Apply(outcome)
		if c.TotalScans() != before+1 {
			t.Fatalf("Apply(%q) did not increment the scan total", outcome)
		}
	}

	want := Counters{Found: 1, Unexpected: 1, Duplicate: 1, Incongruent: 1, NotFound: 1}
	if c != want {
		t.Fatalf("counters = %+v, want %+v", c, want)
	}
}

func TestCountersMissingNotScanDriven(t *testing.T) {
	var c Counters
	for _, outcome := range Outcomes {
		c.Apply(outcome)
	}
	if c.Missing != 0 {
		t.Fatalf("Missing = %d after applying scans, want 0: missing is derived from the snapshot", c.Missing)
	}
}

func TestCounterColumnCoversEveryOutcome(t *testing.T) {
	for _, outcome := range Outcomes {
		if _, ok := counterColumn[outcome]; !ok {
			t.Fatalf("no counter column mapped for outcome %q", outcome)
		}
	}
	if len(counterColumn) != len(Outcomes) {
		t.Fatalf("counterColumn has %d entries, want %d", len(counterColumn), len(Outcomes))
	}
}
