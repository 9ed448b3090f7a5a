package solidtime

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ledgersync/ledgersync/internal/ledger"
	"github.com/ledgersync/ledgersync/internal/worklog"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		BaseURL:           srv.URL,
		Token:             "solidtime-token",
		OrganizationID:    "org-1",
		MemberID:          "member-1",
		RequestsPerSecond: 1000,
		Logger:            log.New(io.Discard, "", 0),
	})
}

func testEntry() worklog.Entry {
	return worklog.Entry{
		Description:     "Infra > PROJ-12: Rotate TLS certs - renewed wildcard",
		DurationSeconds: 3600,
		StartedAt:       time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Billable:        true,
		Project:         "project-9",
	}
}

func TestCreate(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/v1/organizations/org-1/time-entries" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer solidtime-token" {
			t.Errorf("Authorization = %q", got)
		}

		var p timeEntryPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if p.Start != "2026-03-01T09:30:00Z" {
			t.Errorf("Start = %q", p.Start)
		}
		if p.End != "2026-03-01T10:30:00Z" {
			t.Errorf("End = %q", p.End)
		}
		if !p.Billable {
			t.Error("Billable = false, want true")
		}
		if p.ProjectID == nil || *p.ProjectID != "project-9" {
			t.Errorf("ProjectID = %v, want project-9", p.ProjectID)
		}
		if p.MemberID != "member-1" {
			t.Errorf("MemberID = %q", p.MemberID)
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "te-42"}})
	})
	client := newTestClient(t, handler)

	id, err := client.Create(context.Background(), testEntry())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id != "te-42" {
		t.Errorf("id = %q, want te-42", id)
	}
}

func TestCreateOmitsEmptyProject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var raw map[string]any
		json.Unmarshal(body, &raw)
		if _, ok := raw["project_id"]; ok {
			t.Error("project_id present in payload, want omitted")
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "te-1"}})
	})
	client := newTestClient(t, handler)

	entry := testEntry()
	entry.Project = ""
	if _, err := client.Create(context.Background(), entry); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
}

func TestUpdateNotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		http.Error(w, "gone", http.StatusNotFound)
	})
	client := newTestClient(t, handler)

	err := client.Update(context.Background(), "te-missing", testEntry())
	if !ledger.IsNotFound(err) {
		t.Fatalf("Update error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		if r.URL.Path != "/api/v1/organizations/org-1/time-entries/te-42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	client := newTestClient(t, handler)

	if err := client.Delete(context.Background(), "te-42"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
}

func TestDeleteNotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	client := newTestClient(t, handler)

	err := client.Delete(context.Background(), "te-missing")
	if !ledger.IsNotFound(err) {
		t.Fatalf("Delete error = %v, want ErrNotFound", err)
	}
}

func TestServerErrorIsNotNotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	client := newTestClient(t, handler)

	err := client.Delete(context.Background(), "te-42")
	if err == nil {
		t.Fatal("Delete succeeded, want error")
	}
	if ledger.IsNotFound(err) {
		t.Error("500 classified as not-found")
	}
}
