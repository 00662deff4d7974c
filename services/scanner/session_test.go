package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"stocktake/services/audit"
)

func newTestIntake(t *testing.T, remote Submitter, debounce time.Duration) (*Intake, *Queue, *Syncer) {
	t.Helper()
	q, _ := openTestQueue(t)
	syncer, err := NewSyncer(q, remote, nil, nil)
	if err != nil {
		t.Fatalf("NewSyncer() error = %v", err)
	}
	intake, err := NewIntake(uuid.New(), "test-gun", debounce, q, remote, syncer, nil)
	if err != nil {
		t.Fatalf("NewIntake() error = %v", err)
	}
	return intake, q, syncer
}

func TestScanInvalidCodeNeverQueued(t *testing.T) {
	intake, q, _ := newTestIntake(t, &fakeSubmitter{}, time.Millisecond)

	_, err := intake.Scan(context.Background(), "!!")
	if !errors.Is(err, audit.ErrInvalidCode) {
		t.Fatalf("Scan(invalid) error = %v, want ErrInvalidCode", err)
	}

	pending, err := q.PendingCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pending != 0 {
		t.Errorf("pending after invalid scan = %d, want 0", pending)
	}
}

func TestScanOfflineEnqueues(t *testing.T) {
	remote := &fakeSubmitter{}
	intake, q, _ := newTestIntake(t, remote, time.Millisecond)

	result, err := intake.Scan(context.Background(), "123456789012345")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !result.Queued {
		t.Error("offline scan should report queued")
	}
	if result.EventID == uuid.Nil {
		t.Error("queued scan should carry an event id")
	}
	if len(remote.calls) != 0 {
		t.Errorf("remote received %d submissions while offline, want 0", len(remote.calls))
	}

	pending, err := q.PendingCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}
}

func TestScanOnlineSubmitsDirectly(t *testing.T) {
	remote := &fakeSubmitter{result: SubmitResult{Outcome: "found_expected"}}
	intake, q, syncer := newTestIntake(t, remote, time.Millisecond)
	syncer.setOnline(true)

	result, err := intake.Scan(context.Background(), "123456789012345")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if result.Queued {
		t.Error("online scan should not queue")
	}
	if result.Outcome != "found_expected" {
		t.Errorf("Outcome = %q, want %q", result.Outcome, "found_expected")
	}
	if len(remote.calls) != 1 {
		t.Fatalf("remote received %d submissions, want 1", len(remote.calls))
	}
	if remote.calls[0].AuditID != intake.auditID {
		t.Errorf("submitted audit id = %s, want %s", remote.calls[0].AuditID, intake.auditID)
	}

	pending, err := q.PendingCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pending != 0 {
		t.Errorf("pending = %d, want 0", pending)
	}
}

func TestScanOnlineRejectionNotQueued(t *testing.T) {
	remote := &fakeSubmitter{err: fmt.Errorf("%w: audit finished", ErrRejected)}
	intake, q, syncer := newTestIntake(t, remote, time.Millisecond)
	syncer.setOnline(true)

	_, err := intake.Scan(context.Background(), "123456789012345")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Scan() error = %v, want ErrRejected", err)
	}

	pending, err := q.PendingCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pending != 0 {
		t.Errorf("rejected scan ended up queued, pending = %d", pending)
	}
}

func TestScanOnlineTransportFailureFallsBackToQueue(t *testing.T) {
	remote := &fakeSubmitter{err: errors.New("connection reset")}
	intake, q, syncer := newTestIntake(t, remote, time.Millisecond)
	syncer.setOnline(true)

	result, err := intake.Scan(context.Background(), "123456789012345")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !result.Queued {
		t.Error("transport failure should divert the scan into the queue")
	}

	pending, err := q.PendingCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}
}

func TestScanDebounceWindow(t *testing.T) {
	intake, _, _ := newTestIntake(t, &fakeSubmitter{}, time.Hour)

	if _, err := intake.Scan(context.Background(), "123456789012345"); err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}

	_, err := intake.Scan(context.Background(), "123456789012345")
	if !errors.Is(err, ErrDebounced) {
		t.Fatalf("second Scan() error = %v, want ErrDebounced", err)
	}
}

func TestHandleFanoutFiltersOtherAudits(t *testing.T) {
	intake, _, _ := newTestIntake(t, &fakeSubmitter{}, time.Millisecond)

	mine, err := json.Marshal(fanoutEvent{
		ScanID:     uuid.New(),
		AuditID:    intake.auditID,
		Identifier: "123456789012345",
		Outcome:    "found_expected",
		Source:     "other-gun",
	})
	if err != nil {
		t.Fatal(err)
	}
	other, err := json.Marshal(fanoutEvent{
		ScanID:  uuid.New(),
		AuditID: uuid.New(),
		Outcome: "unexpected_present",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := intake.HandleFanout(context.Background(), mine); err != nil {
		t.Fatalf("HandleFanout(mine) error = %v", err)
	}
	if err := intake.HandleFanout(context.Background(), other); err != nil {
		t.Fatalf("HandleFanout(other) error = %v", err)
	}

	recent := intake.Recent()
	if len(recent) != 1 {
		t.Fatalf("Recent() returned %d events, want 1", len(recent))
	}
	if recent[0].Identifier != "123456789012345" {
		t.Errorf("recent identifier = %q, want the event for this audit", recent[0].Identifier)
	}
}

func TestHandleFanoutCapsRecentList(t *testing.T) {
	intake, _, _ := newTestIntake(t, &fakeSubmitter{}, time.Millisecond)

	for i := 0; i < recentFanoutLimit+10; i++ {
		data, err := json.Marshal(fanoutEvent{
			ScanID:     uuid.New(),
			AuditID:    intake.auditID,
			Identifier: fmt.Sprintf("serial-%03d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := intake.HandleFanout(context.Background(), data); err != nil {
			t.Fatal(err)
		}
	}

	recent := intake.Recent()
	if len(recent) != recentFanoutLimit {
		t.Fatalf("Recent() returned %d events, want %d", len(recent), recentFanoutLimit)
	}
	if recent[0].Identifier != "serial-010" {
		t.Errorf("oldest retained identifier = %q, want serial-010", recent[0].Identifier)
	}
}
