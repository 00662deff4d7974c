package scanner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func openTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := OpenQueue(path)
	if err != nil {
		t.Fatalf("OpenQueue() error = %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q, path
}

func enqueueCodes(t *testing.T, q *Queue, auditID uuid.UUID, codes ...string) []int64 {
	t.Helper()
	seqs := make([]int64, 0, len(codes))
	for _, code := range codes {
		seq, err := q.Enqueue(context.Background(), QueuedScan{AuditID: auditID, RawCode: code})
		if err != nil {
			t.Fatalf("Enqueue(%q) error = %v", code, err)
		}
		seqs = append(seqs, seq)
	}
	return seqs
}

func TestQueueSurvivesReopen(t *testing.T) {
	q, path := openTestQueue(t)
	auditID := uuid.New()
	enqueueCodes(t, q, auditID, "111111111111111", "222222222222222", "333333333333333")

	if err := q.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenQueue(path)
	if err != nil {
		t.Fatalf("OpenQueue() after close error = %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries after reopen, want 3", len(entries))
	}
	for idx, want := range []string{"111111111111111", "222222222222222", "333333333333333"} {
		if entries[idx].RawCode != want {
			t.Errorf("entry %d raw code = %q, want %q", idx, entries[idx].RawCode, want)
		}
		if entries[idx].AuditID != auditID {
			t.Errorf("entry %d audit id = %s, want %s", idx, entries[idx].AuditID, auditID)
		}
		if entries[idx].EventID == uuid.Nil {
			t.Errorf("entry %d has no event id", idx)
		}
	}
}

func TestDrainDeliversInCaptureOrder(t *testing.T) {
	q, _ := openTestQueue(t)
	auditID := uuid.New()
	enqueueCodes(t, q, auditID, "111111111111111", "222222222222222", "333333333333333")

	var delivered []string
	result, err := q.Drain(context.Background(), func(ctx context.Context, scan QueuedScan) error {
		delivered = append(delivered, scan.RawCode)
		return nil
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	if result.Attempted != 3 || result.Succeeded != 3 || result.Failed != 0 {
		t.Errorf("Drain() result = %+v, want 3 attempted, 3 succeeded", result)
	}
	want := []string{"111111111111111", "222222222222222", "333333333333333"}
	for idx := range want {
		if delivered[idx] != want[idx] {
			t.Errorf("delivery %d = %q, want %q", idx, delivered[idx], want[idx])
		}
	}

	pending, err := q.PendingCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pending != 0 {
		t.Errorf("pending after full drain = %d, want 0", pending)
	}
}

func TestDrainHaltsOnFirstFailure(t *testing.T) {
	q, _ := openTestQueue(t)
	auditID := uuid.New()
	enqueueCodes(t, q, auditID, "111111111111111", "222222222222222", "333333333333333")

	boom := errors.New("connection reset")
	result, err := q.Drain(context.Background(), func(ctx context.Context, scan QueuedScan) error {
		if scan.RawCode == "222222222222222" {
			return boom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	if result.Attempted != 2 || result.Succeeded != 1 || result.Failed != 1 {
		t.Errorf("Drain() result = %+v, want attempted=2 succeeded=1 failed=1", result)
	}

	entries, err := q.Entries(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries after halted drain, want 2", len(entries))
	}
	if entries[0].RawCode != "222222222222222" || entries[0].State != entryFailed {
		t.Errorf("first remaining entry = %q state %q, want failed 222...", entries[0].RawCode, entries[0].State)
	}
	if entries[0].Attempts != 1 {
		t.Errorf("failed entry attempts = %d, want 1", entries[0].Attempts)
	}
	if entries[0].LastError == "" {
		t.Error("failed entry should record the cause")
	}
	if entries[1].RawCode != "333333333333333" || entries[1].State != entryPending {
		t.Errorf("second remaining entry = %q state %q, want pending 333...", entries[1].RawCode, entries[1].State)
	}
}

func TestDrainRetriesOnlyUnsentEntries(t *testing.T) {
	q, _ := openTestQueue(t)
	auditID := uuid.New()
	enqueueCodes(t, q, auditID, "111111111111111", "222222222222222", "333333333333333")

	failSecond := func(ctx context.Context, scan QueuedScan) error {
		if scan.RawCode == "222222222222222" {
			return errors.New("timeout")
		}
		return nil
	}
	if _, err := q.Drain(context.Background(), failSecond); err != nil {
		t.Fatalf("first Drain() error = %v", err)
	}

	var retried []string
	result, err := q.Drain(context.Background(), func(ctx context.Context, scan QueuedScan) error {
		retried = append(retried, scan.RawCode)
		return nil
	})
	if err != nil {
		t.Fatalf("second Drain() error = %v", err)
	}

	if result.Attempted != 2 || result.Succeeded != 2 {
		t.Errorf("second Drain() result = %+v, want attempted=2 succeeded=2", result)
	}
	if len(retried) != 2 || retried[0] != "222222222222222" || retried[1] != "333333333333333" {
		t.Errorf("retried = %v, want only the two unsent entries in order", retried)
	}
}

func TestOpenQueueRecoversInFlightEntries(t *testing.T) {
	q, path := openTestQueue(t)
	seqs := enqueueCodes(t, q, uuid.New(), "111111111111111")

	if err := q.setState(context.Background(), seqs[0], entryInFlight, ""); err != nil {
		t.Fatal(err)
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenQueue(path)
	if err != nil {
		t.Fatalf("OpenQueue() error = %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.Entries(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].State != entryPending {
		t.Errorf("recovered state = %q, want %q", entries[0].State, entryPending)
	}
}

func TestClearRemovesSingleEntry(t *testing.T) {
	q, _ := openTestQueue(t)
	seqs := enqueueCodes(t, q, uuid.New(), "111111111111111", "222222222222222")

	if err := q.Clear(context.Background(), seqs[0]); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := q.Clear(context.Background(), seqs[0]); err == nil {
		t.Error("clearing the same seq twice should fail")
	}

	entries, err := q.Entries(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].RawCode != "222222222222222" {
		t.Errorf("remaining entries = %+v, want only 222...", entries)
	}
}

func TestClearAll(t *testing.T) {
	q, _ := openTestQueue(t)
	enqueueCodes(t, q, uuid.New(), "111111111111111", "222222222222222", "333333333333333")

	dropped, err := q.ClearAll(context.Background())
	if err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if dropped != 3 {
		t.Errorf("ClearAll() dropped = %d, want 3", dropped)
	}

	pending, err := q.PendingCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pending != 0 {
		t.Errorf("pending after ClearAll = %d, want 0", pending)
	}
}

func TestEnqueueValidation(t *testing.T) {
	q, _ := openTestQueue(t)

	if _, err := q.Enqueue(context.Background(), QueuedScan{RawCode: "111111111111111"}); err == nil {
		t.Error("Enqueue without audit id should fail")
	}
	if _, err := q.Enqueue(context.Background(), QueuedScan{AuditID: uuid.New()}); err == nil {
		t.Error("Enqueue without raw code should fail")
	}
}
