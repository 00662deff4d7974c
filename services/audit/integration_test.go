//go:build integration

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"

	"stocktake/pkg/db"
)

// Requires a reachable Postgres:
//
//	DATABASE_URL=postgres://... go test -tags integration ./services/audit
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	api, err := New(&Store{DB: pool}, Config{DefaultSource: "test"})
	if err != nil {
		t.Fatalf("build api: %v", err)
	}
	routes, err := api.Routes()
	if err != nil {
		t.Fatalf("build routes: %v", err)
	}

	server := httptest.NewServer(routes)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response from %s: %v", url, err)
	}
	return resp.StatusCode
}

// Covers the full record-scan pipeline against a real database: a freshly
// created audit must be readable immediately, and replaying a scan event id
// must return the original outcome without moving any counter.
func TestRecordScanReplayIdempotence(t *testing.T) {
	server := newTestServer(t)

	// Unique location so reruns never see each other's rows.
	location := "itest-" + uuid.NewString()[:8]
	imei := "356938035643809"

	if status := postJSON(t, server.URL+"/v1/items", map[string]any{
		"imei":     imei,
		"brand":    "acme",
		"model":    "p1",
		"location": location,
	}, nil); status != http.StatusCreated {
		t.Fatalf("create item status = %d, want 201", status)
	}

	var created struct {
		Audit        Audit `json:"audit"`
		SnapshotSize int   `json:"snapshot_size"`
	}
	if status := postJSON(t, server.URL+"/v1/audits", map[string]any{
		"criteria": map[string]any{"location": location},
	}, &created); status != http.StatusCreated {
		t.Fatalf("create audit status = %d, want 201", status)
	}
	if created.SnapshotSize != 1 {
		t.Fatalf("snapshot size = %d, want 1", created.SnapshotSize)
	}
	auditURL := fmt.Sprintf("%s/v1/audits/%s", server.URL, created.Audit.ID)

	// The audit must be readable before anything is scanned or finished.
	var fresh struct {
		Audit Audit `json:"audit"`
	}
	if status := getJSON(t, auditURL, &fresh); status != http.StatusOK {
		t.Fatalf("get fresh audit status = %d, want 200", status)
	}
	if fresh.Audit.Counters.Missing != 1 {
		t.Errorf("fresh audit missing = %d, want 1", fresh.Audit.Counters.Missing)
	}

	eventID := uuid.New()
	scanBody := map[string]any{"id": eventID, "raw_code": imei}

	var first struct {
		Scan     ScanEvent `json:"scan"`
		Replayed bool      `json:"replayed"`
	}
	if status := postJSON(t, auditURL+"/scans", scanBody, &first); status != http.StatusCreated {
		t.Fatalf("first scan status = %d, want 201", status)
	}
	if first.Scan.Outcome != OutcomeFoundExpected {
		t.Fatalf("first scan outcome = %s, want %s", first.Scan.Outcome, OutcomeFoundExpected)
	}
	if first.Replayed {
		t.Error("first scan reported replayed")
	}

	var afterFirst struct {
		Audit Audit `json:"audit"`
	}
	getJSON(t, auditURL, &afterFirst)

	var second struct {
		Scan     ScanEvent `json:"scan"`
		Replayed bool      `json:"replayed"`
	}
	if status := postJSON(t, auditURL+"/scans", scanBody, &second); status != http.StatusOK {
		t.Fatalf("replayed scan status = %d, want 200", status)
	}
	if !second.Replayed {
		t.Fatal("replayed scan not flagged as replayed")
	}
	if second.Scan.Outcome != first.Scan.Outcome {
		t.Errorf("replayed outcome = %s, want original %s", second.Scan.Outcome, first.Scan.Outcome)
	}

	var afterReplay struct {
		Audit Audit `json:"audit"`
	}
	getJSON(t, auditURL, &afterReplay)

	if afterReplay.Audit.Counters != afterFirst.Audit.Counters {
		t.Errorf("counters moved on replay: %+v -> %+v", afterFirst.Audit.Counters, afterReplay.Audit.Counters)
	}
	if afterReplay.Audit.Counters.Found != 1 {
		t.Errorf("found = %d after replay, want 1", afterReplay.Audit.Counters.Found)
	}
	if afterReplay.Audit.Counters.Missing != 0 {
		t.Errorf("missing = %d after replay, want 0", afterReplay.Audit.Counters.Missing)
	}
}

// Finish-generated tasks must list cleanly straight after creation, before
// any of them is resolved.
func TestFinishedAuditTasksListable(t *testing.T) {
	server := newTestServer(t)

	location := "itest-" + uuid.NewString()[:8]
	if status := postJSON(t, server.URL+"/v1/items", map[string]any{
		"imei":     "490154203237518",
		"location": location,
	}, nil); status != http.StatusCreated {
		t.Fatalf("create item status = %d, want 201", status)
	}

	var created struct {
		Audit Audit `json:"audit"`
	}
	if status := postJSON(t, server.URL+"/v1/audits", map[string]any{
		"criteria": map[string]any{"location": location},
	}, &created); status != http.StatusCreated {
		t.Fatalf("create audit status = %d, want 201", status)
	}
	auditURL := fmt.Sprintf("%s/v1/audits/%s", server.URL, created.Audit.ID)

	// Nothing scanned: the snapshot item is missing, so finishing needs
	// confirm and must create a task.
	var finished struct {
		Audit        Audit `json:"audit"`
		TasksCreated int   `json:"tasks_created"`
	}
	if status := postJSON(t, auditURL+"/finish", map[string]any{"confirm": true}, &finished); status != http.StatusOK {
		t.Fatalf("finish status = %d, want 200", status)
	}
	if finished.TasksCreated != 1 {
		t.Fatalf("tasks created = %d, want 1", finished.TasksCreated)
	}

	var listed struct {
		Tasks []Task `json:"tasks"`
	}
	if status := getJSON(t, auditURL+"/tasks", &listed); status != http.StatusOK {
		t.Fatalf("list tasks status = %d, want 200", status)
	}
	if len(listed.Tasks) != 1 {
		t.Fatalf("listed %d tasks, want 1", len(listed.Tasks))
	}
	if listed.Tasks[0].Type != TaskMissing {
		t.Errorf("task type = %s, want %s", listed.Tasks[0].Type, TaskMissing)
	}
	if listed.Tasks[0].ResolutionNote != "" {
		t.Errorf("unresolved task resolution note = %q, want empty", listed.Tasks[0].ResolutionNote)
	}
}
