package tempo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ledgersync/ledgersync/internal/ledger"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(ClientConfig{
		BaseURL:     srv.URL,
		Token:       "tempo-token",
		JiraBaseURL: srv.URL,
		JiraEmail:   "sync@example.com",
		JiraToken:   "jira-token",
		Logger:      log.New(io.Discard, "", 0),
	})
	return client, srv
}

func TestFetchWorkRecords(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/worklogs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tempo-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("from"); got != "2026-03-01" {
			t.Errorf("from = %q, want 2026-03-01", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{
					"tempoWorklogId":   10001,
					"timeSpentSeconds": 3600,
					"billableSeconds":  3600,
					"startDate":        "2026-03-01",
					"startTime":        "09:30:00",
					"description":      "renewed wildcard",
					"issue":            map[string]any{"key": "PROJ-12"},
				},
			},
		})
	})
	client, _ := newTestClient(t, handler)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	records, err := client.FetchWorkRecords(context.Background(), start, start.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("FetchWorkRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	rec := records[0]
	if rec.SourceID != "10001" {
		t.Errorf("SourceID = %q, want 10001", rec.SourceID)
	}
	if rec.ParentKey != "PROJ-12" {
		t.Errorf("ParentKey = %q, want PROJ-12", rec.ParentKey)
	}
	if rec.DurationSeconds != 3600 {
		t.Errorf("DurationSeconds = %d, want 3600", rec.DurationSeconds)
	}
	want := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if !rec.StartedAt.Equal(want) {
		t.Errorf("StartedAt = %v, want %v", rec.StartedAt, want)
	}
	if !rec.Billable {
		t.Error("Billable = false, want true")
	}
}

func TestFetchWorkRecordsPaginates(t *testing.T) {
	var srv *httptest.Server
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		page := map[string]any{
			"results": []map[string]any{
				{
					"tempoWorklogId":   10000 + calls,
					"timeSpentSeconds": 1800,
					"startDate":        "2026-03-01",
					"startTime":        "09:00:00",
					"issue":            map[string]any{"key": "PROJ-1"},
				},
			},
		}
		if calls == 1 {
			page["metadata"] = map[string]any{"next": srv.URL + "/worklogs?offset=1"}
		}
		json.NewEncoder(w).Encode(page)
	})
	client, s := newTestClient(t, handler)
	srv = s

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	records, err := client.FetchWorkRecords(context.Background(), start, start)
	if err != nil {
		t.Fatalf("FetchWorkRecords failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("made %d calls, want 2", calls)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2", len(records))
	}
}

func TestFetchWorkRecordsDefaultsMissingStartTime(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{
					"tempoWorklogId":   10001,
					"timeSpentSeconds": 3600,
					"startDate":        "2026-03-01",
					"issue":            map[string]any{"key": "PROJ-1"},
				},
			},
		})
	})
	client, _ := newTestClient(t, handler)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	records, err := client.FetchWorkRecords(context.Background(), start, start)
	if err != nil {
		t.Fatalf("FetchWorkRecords failed: %v", err)
	}
	want := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if !records[0].StartedAt.Equal(want) {
		t.Errorf("StartedAt = %v, want %v (08:00 default)", records[0].StartedAt, want)
	}
}

func TestFetchWorkRecordsServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	client, _ := newTestClient(t, handler)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := client.FetchWorkRecords(context.Background(), start, start)
	if err == nil {
		t.Fatal("FetchWorkRecords succeeded, want transport error")
	}
	var terr *ledger.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("error %T is not a TransportError", err)
	}
	if terr.Status != http.StatusBadGateway {
		t.Errorf("Status = %d, want 502", terr.Status)
	}
}

func TestResolveParentMetadata(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "sync@example.com" || pass != "jira-token" {
			t.Errorf("basic auth = %q %q %v", user, pass, ok)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"issues": []map[string]any{
				{
					"key": "PROJ-12",
					"fields": map[string]any{
						"summary": "Rotate TLS certs",
						"parent": map[string]any{
							"fields": map[string]any{"summary": "Infra"},
						},
					},
				},
			},
		})
	})
	client, _ := newTestClient(t, handler)

	meta, err := client.ResolveParentMetadata(context.Background(), []string{"PROJ-12", "PROJ-404"})
	if err != nil {
		t.Fatalf("ResolveParentMetadata failed: %v", err)
	}
	got, ok := meta["PROJ-12"]
	if !ok {
		t.Fatal("PROJ-12 missing from result")
	}
	if got.Summary != "Rotate TLS certs" || got.EpicLabel != "Infra" {
		t.Errorf("meta = %+v", got)
	}
	if _, ok := meta["PROJ-404"]; ok {
		t.Error("unknown key present in result")
	}
}

func TestResolveParentMetadataEmptyKeys(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty key list")
	})
	client, _ := newTestClient(t, handler)

	meta, err := client.ResolveParentMetadata(context.Background(), nil)
	if err != nil {
		t.Fatalf("ResolveParentMetadata failed: %v", err)
	}
	if len(meta) != 0 {
		t.Errorf("got %d entries, want 0", len(meta))
	}
}
