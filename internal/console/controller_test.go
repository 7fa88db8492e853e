package console_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pingone-bulk-console/internal/console"
	"github.com/pingone-bulk-console/internal/models"
)

// fakeBackend emulates the console server: accept a submission, stream
// progress, then serve the final snapshot.
type fakeBackend struct {
	operationID string
	events      []models.ProgressEvent
	final       *models.Operation

	mu        sync.Mutex
	cancelled bool
	submits   int
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/operations/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/operations/"+b.operationID+"/cancel":
			b.mu.Lock()
			b.cancelled = true
			b.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost:
			b.mu.Lock()
			b.submits++
			b.mu.Unlock()
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"operation_id": b.operationID})
		default:
			json.NewEncoder(w).Encode(b.finalSnapshot())
		}
	})

	mux.HandleFunc("/v1/progress/", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, event := range b.events {
			payload, _ := json.Marshal(event)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		// No terminal event in the canned stream means the run is still
		// going; hold the connection until the client walks away
		for _, event := range b.events {
			if event.Type == models.ProgressComplete || event.Type == models.ProgressError {
				return
			}
		}
		<-r.Context().Done()
	})

	return mux
}

func (b *fakeBackend) finalSnapshot() *models.Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.final
}

func (b *fakeBackend) wasCancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

func completedOperation(id string) *models.Operation {
	completed := time.Now()
	return &models.Operation{
		ID:     id,
		Kind:   models.OperationImport,
		Status: models.OperationStatusCompleted,
		Results: []models.OperationResult{
			{Identifier: "jdoe", Status: models.ResultImported},
			{Identifier: "asmith", Status: models.ResultImported},
		},
		Summary:     &models.OperationSummary{Total: 2, SuccessCount: 2},
		CompletedAt: &completed,
	}
}

func request() *models.OperationRequest {
	return &models.OperationRequest{
		Users:         []models.Record{{Username: "jdoe"}, {Username: "asmith"}},
		EnvironmentID: "env-1",
		ClientID:      "client-1",
		ClientSecret:  "secret",
	}
}

func TestRun_EndToEnd(t *testing.T) {
	backend := &fakeBackend{
		operationID: "op-1",
		events: []models.ProgressEvent{
			{Type: models.ProgressConnected},
			{Type: models.ProgressUpdate, Current: 1, Total: 2, SuccessSoFar: 1},
			{Type: models.ProgressUpdate, Current: 2, Total: 2, SuccessSoFar: 2},
			{Type: models.ProgressComplete, Current: 2, Total: 2, SuccessCount: 2},
		},
		final: completedOperation("op-1"),
	}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	var mu sync.Mutex
	var seen []models.ProgressEvent
	ctrl := console.New(server.URL, zerolog.Nop(),
		console.WithThrottle(0),
		console.WithProgress(func(event models.ProgressEvent) {
			mu.Lock()
			seen = append(seen, event)
			mu.Unlock()
		}))

	op, err := ctrl.Run(context.Background(), models.OperationImport, request())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if op.Status != models.OperationStatusCompleted {
		t.Errorf("Expected completed, got %s", op.Status)
	}
	if op.Summary == nil || op.Summary.SuccessCount != 2 {
		t.Errorf("Unexpected summary: %+v", op.Summary)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("Expected progress callbacks")
	}
	last := seen[len(seen)-1]
	if last.Type != models.ProgressComplete {
		t.Errorf("Expected the terminal event last, got %s", last.Type)
	}
}

func TestRun_ThrottleCoalescesUpdates(t *testing.T) {
	events := []models.ProgressEvent{
		{Type: models.ProgressUpdate, Current: 1, Total: 10},
		{Type: models.ProgressUpdate, Current: 2, Total: 10},
		{Type: models.ProgressUpdate, Current: 3, Total: 10},
		{Type: models.ProgressUpdate, Current: 4, Total: 10},
		{Type: models.ProgressComplete, Current: 10, Total: 10, SuccessCount: 10},
	}
	backend := &fakeBackend{operationID: "op-1", events: events, final: completedOperation("op-1")}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	var mu sync.Mutex
	var updates, terminals int
	ctrl := console.New(server.URL, zerolog.Nop(),
		console.WithThrottle(time.Hour),
		console.WithProgress(func(event models.ProgressEvent) {
			mu.Lock()
			defer mu.Unlock()
			if event.Type == models.ProgressUpdate {
				updates++
			} else {
				terminals++
			}
		}))

	if _, err := ctrl.Run(context.Background(), models.OperationImport, request()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if updates != 1 {
		t.Errorf("Expected bursts to coalesce into 1 update, got %d", updates)
	}
	if terminals != 1 {
		t.Errorf("The terminal event must always be delivered, got %d", terminals)
	}
}

func TestRun_BackendConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "import operation already in progress"})
	}))
	defer server.Close()

	ctrl := console.New(server.URL, zerolog.Nop())
	_, err := ctrl.Run(context.Background(), models.OperationImport, request())
	if !errors.Is(err, console.ErrRunInProgress) {
		t.Errorf("Expected ErrRunInProgress for 409, got %v", err)
	}
}

func TestRun_LocalGuard(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{operationID: "op-1", final: completedOperation("op-1")}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			<-release
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"operation_id": "op-1"})
			return
		}
		json.NewEncoder(w).Encode(backend.finalSnapshot())
	}))
	defer server.Close()

	ctrl := console.New(server.URL, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Run(context.Background(), models.OperationImport, request())
		done <- err
	}()

	// Let the first run reach the blocked submit before racing it
	time.Sleep(50 * time.Millisecond)
	if _, err := ctrl.Run(context.Background(), models.OperationImport, request()); !errors.Is(err, console.ErrRunInProgress) {
		t.Errorf("Expected the local guard to reject a second run, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("First run failed: %v", err)
	}

	// The guard clears once the first run returns
	if _, err := ctrl.Run(context.Background(), models.OperationImport, request()); err != nil {
		t.Errorf("Expected a fresh run to be accepted, got %v", err)
	}
}

func TestRun_CancellationStillReturnsTheFinalSnapshot(t *testing.T) {
	failed := completedOperation("op-1")
	failed.Status = models.OperationStatusFailed
	failed.Error = "cancelled by user"

	backend := &fakeBackend{
		operationID: "op-1",
		events: []models.ProgressEvent{
			{Type: models.ProgressConnected},
			{Type: models.ProgressUpdate, Current: 1, Total: 100},
		},
		final: failed,
	}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	ctrl := console.New(server.URL, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	op, err := ctrl.Run(ctx, models.OperationImport, request())
	if err != nil {
		t.Fatalf("Cancelled run must still return a snapshot, got %v", err)
	}
	if op.Status != models.OperationStatusFailed || op.Error != "cancelled by user" {
		t.Errorf("Unexpected final snapshot: %+v", op)
	}
	if !backend.wasCancelled() {
		t.Error("Expected the backend to receive a cancel request")
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	loaded, err := console.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed on a missing file: %v", err)
	}
	if loaded != (console.Settings{}) {
		t.Errorf("Expected zero-value settings, got %+v", loaded)
	}

	saved := console.Settings{
		BaseURL:       "http://localhost:4000",
		EnvironmentID: "env-1",
		ClientID:      "client-1",
		PageSize:      50,
	}
	if err := console.SaveSettings(saved); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	loaded, err = console.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if loaded != saved {
		t.Errorf("Settings did not round-trip: %+v vs %+v", loaded, saved)
	}
}
