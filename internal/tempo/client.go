// Package tempo implements the source ledger over the Tempo worklog API,
// with parent metadata resolved through the Jira issue search API.
package tempo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ledgersync/ledgersync/internal/ledger"
	"github.com/ledgersync/ledgersync/internal/worklog"
)

const (
	// DefaultBaseURL is the hosted Tempo API.
	DefaultBaseURL = "https://api.tempo.io/4"

	// pageLimit is the maximum worklog page size Tempo accepts.
	pageLimit = 5000

	defaultTimeout = 30 * time.Second
)

// ClientConfig holds connection settings for Tempo and the Jira instance
// behind it.
type ClientConfig struct {
	// BaseURL is the Tempo API base URL. Empty uses DefaultBaseURL.
	BaseURL string

	// Token is the Tempo API bearer token.
	Token string

	// JiraBaseURL is the Jira instance URL used for metadata lookups.
	JiraBaseURL string

	// JiraEmail and JiraToken authenticate the Jira REST API.
	JiraEmail string
	JiraToken string

	// Timeout bounds each HTTP request. Zero uses 30s.
	Timeout time.Duration

	// Logger for client activity.
	Logger *log.Logger
}

// Client fetches work records from Tempo and enriches them from Jira.
// Implements ledger.SourceLedger.
type Client struct {
	baseURL     string
	token       string
	jiraBaseURL string
	jiraEmail   string
	jiraToken   string
	httpClient  *http.Client
	logger      *log.Logger
}

// NewClient creates a source ledger client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[tempo] ", log.LstdFlags)
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		jiraBaseURL: strings.TrimRight(cfg.JiraBaseURL, "/"),
		jiraEmail:   cfg.JiraEmail,
		jiraToken:   cfg.JiraToken,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      cfg.Logger,
	}
}

// tempoWorklog is the subset of the Tempo worklog payload we consume.
type tempoWorklog struct {
	TempoWorklogID   int64  `json:"tempoWorklogId"`
	TimeSpentSeconds int64  `json:"timeSpentSeconds"`
	BillableSeconds  int64  `json:"billableSeconds"`
	StartDate        string `json:"startDate"`
	StartTime        string `json:"startTime"`
	Description      string `json:"description"`
	Issue            struct {
		Key string `json:"key"`
	} `json:"issue"`
}

type worklogPage struct {
	Results  []tempoWorklog `json:"results"`
	Metadata struct {
		Next string `json:"next"`
	} `json:"metadata"`
}

// FetchWorkRecords returns all worklogs whose start date falls in
// [start, end], following Tempo's pagination links.
func (c *Client) FetchWorkRecords(ctx context.Context, start, end time.Time) ([]worklog.Record, error) {
	params := url.Values{}
	params.Set("from", start.Format("2006-01-02"))
	params.Set("to", end.Format("2006-01-02"))
	params.Set("limit", strconv.Itoa(pageLimit))
	next := c.baseURL + "/worklogs?" + params.Encode()

	var records []worklog.Record
	for next != "" {
		var page worklogPage
		if err := c.getTempo(ctx, next, &page); err != nil {
			return nil, err
		}
		for _, wl := range page.Results {
			rec, err := wl.toRecord()
			if err != nil {
				c.logger.Printf("Skipping unparseable worklog %d: %v", wl.TempoWorklogID, err)
				continue
			}
			records = append(records, rec)
		}
		next = page.Metadata.Next
	}

	c.logger.Printf("Retrieved %d worklogs for %s..%s",
		len(records), start.Format("2006-01-02"), end.Format("2006-01-02"))
	return records, nil
}

func (w tempoWorklog) toRecord() (worklog.Record, error) {
	startTime := w.StartTime
	if startTime == "" {
		startTime = "08:00:00"
	}
	startedAt, err := time.Parse("2006-01-02 15:04:05", w.StartDate+" "+startTime)
	if err != nil {
		return worklog.Record{}, fmt.Errorf("failed to parse start %q %q: %w", w.StartDate, w.StartTime, err)
	}
	return worklog.Record{
		SourceID:        strconv.FormatInt(w.TempoWorklogID, 10),
		ParentKey:       w.Issue.Key,
		DurationSeconds: int(w.TimeSpentSeconds),
		StartedAt:       startedAt.UTC(),
		RawComment:      w.Description,
		Billable:        w.BillableSeconds > 0,
	}, nil
}

// jiraSearchResponse is the subset of the Jira search payload we consume.
type jiraSearchResponse struct {
	Issues []struct {
		Key    string `json:"key"`
		Fields struct {
			Summary string `json:"summary"`
			Parent  struct {
				Fields struct {
					Summary string `json:"summary"`
				} `json:"fields"`
			} `json:"parent"`
		} `json:"fields"`
	} `json:"issues"`
}

// ResolveParentMetadata looks up summary and epic label for the given issue
// keys in one Jira search. Keys Jira does not know are absent from the
// result.
func (c *Client) ResolveParentMetadata(ctx context.Context, keys []string) (map[string]worklog.IssueMeta, error) {
	meta := make(map[string]worklog.IssueMeta, len(keys))
	if len(keys) == 0 {
		return meta, nil
	}

	jql := fmt.Sprintf("key in (%s)", strings.Join(keys, ","))
	params := url.Values{}
	params.Set("jql", jql)
	params.Set("fields", "summary,parent")
	params.Set("maxResults", strconv.Itoa(len(keys)))
	endpoint := c.jiraBaseURL + "/rest/api/3/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.jiraEmail, c.jiraToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ledger.TransportError{Op: "jira search", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ledger.TransportError{
			Op:     "jira search",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var search jiraSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&search); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	for _, issue := range search.Issues {
		meta[issue.Key] = worklog.IssueMeta{
			Summary:   issue.Fields.Summary,
			EpicLabel: issue.Fields.Parent.Fields.Summary,
		}
	}
	c.logger.Printf("Resolved metadata for %d of %d issues", len(meta), len(keys))
	return meta, nil
}

// TestConnection verifies the Tempo token works.
func (c *Client) TestConnection(ctx context.Context) error {
	var me json.RawMessage
	return c.getTempo(ctx, c.baseURL+"/myself", &me)
}

// getTempo issues an authenticated GET against the Tempo API and decodes
// the JSON body into out.
func (c *Client) getTempo(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ledger.TransportError{Op: "tempo get", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ledger.TransportError{
			Op:     "tempo get",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
