package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newSidecar spins up a fake sidecar that tracks created and deleted contexts.
func newSidecar(t *testing.T) (*httptest.Server, *sidecarState) {
	t.Helper()
	state := &sidecarState{contexts: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		state.created++
		id := "ctx-1"
		state.contexts[id] = true
		json.NewEncoder(w).Encode(map[string]string{"context_id": id})
	})
	mux.HandleFunc("POST /sessions/{id}/run", func(w http.ResponseWriter, r *http.Request) {
		if !state.contexts[r.PathValue("id")] {
			http.Error(w, "unknown context", http.StatusNotFound)
			return
		}
		var req struct {
			Task string `json:"task"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		state.lastTask = req.Task
		json.NewEncoder(w).Encode(map[string]string{"result": "Opened inbox: 3 unread."})
	})
	mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		delete(state.contexts, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, state
}

type sidecarState struct {
	created  int
	contexts map[string]bool
	lastTask string
}

func TestClientFactory_NewRunner(t *testing.T) {
	srv, state := newSidecar(t)
	f, err := NewClientFactory(srv.URL)
	if err != nil {
		t.Fatalf("NewClientFactory: %v", err)
	}

	runner, err := f.NewRunner(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if state.created != 1 {
		t.Errorf("sidecar created %d contexts, want 1", state.created)
	}

	result, err := runner.Run(context.Background(), "open my inbox")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(result, "3 unread") {
		t.Errorf("Run result = %q", result)
	}
	if state.lastTask != "open my inbox" {
		t.Errorf("sidecar received task %q", state.lastTask)
	}

	if err := runner.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(state.contexts) != 0 {
		t.Errorf("context not released on sidecar")
	}
}

func TestClient_Run_EmptyTask(t *testing.T) {
	srv, _ := newSidecar(t)
	f, _ := NewClientFactory(srv.URL)
	runner, err := f.NewRunner(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := runner.Run(context.Background(), ""); err == nil {
		t.Error("expected error for empty task")
	}
}

func TestClient_Run_SidecarError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/sessions" {
			json.NewEncoder(w).Encode(map[string]string{"context_id": "ctx-err"})
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	f, _ := NewClientFactory(srv.URL)
	runner, err := f.NewRunner(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := runner.Run(context.Background(), "do something"); err == nil {
		t.Error("expected error from failing sidecar")
	}
}

func TestNewClientFactory_EmptyURL(t *testing.T) {
	if _, err := NewClientFactory(""); err == nil {
		t.Error("expected error for empty baseURL")
	}
}

func TestClientFactory_NewRunner_EmptyContextID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	t.Cleanup(srv.Close)

	f, _ := NewClientFactory(srv.URL)
	if _, err := f.NewRunner(context.Background(), "sess-1"); err == nil {
		t.Error("expected error for empty context_id")
	}
}
