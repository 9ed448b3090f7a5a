// Package solidtime implements the destination ledger over the Solidtime
// time-entry API.
//
// All calls pass through a token-bucket rate limiter so a large backlog
// cannot trip the API's throttling. HTTP 404 on update and delete maps to
// ledger.ErrNotFound; the reconciliation engine turns that into recreate
// and already-absent handling.
package solidtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ledgersync/ledgersync/internal/ledger"
	"github.com/ledgersync/ledgersync/internal/worklog"
)

const (
	defaultTimeout = 30 * time.Second

	// defaultRequestsPerSecond keeps well under Solidtime's documented
	// per-minute quota.
	defaultRequestsPerSecond = 5
)

// ClientConfig holds connection settings for a Solidtime organization.
type ClientConfig struct {
	// BaseURL is the Solidtime instance URL.
	BaseURL string

	// Token is the API bearer token.
	Token string

	// OrganizationID scopes all time-entry calls.
	OrganizationID string

	// MemberID is the organization member entries are created for.
	MemberID string

	// Timeout bounds each HTTP request. Zero uses 30s.
	Timeout time.Duration

	// RequestsPerSecond caps the call rate. Zero uses the default.
	RequestsPerSecond float64

	// Logger for client activity.
	Logger *log.Logger
}

// Client manages time entries in Solidtime. Implements
// ledger.DestinationLedger.
type Client struct {
	baseURL    string
	token      string
	orgID      string
	memberID   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
}

// NewClient creates a destination ledger client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[solidtime] ", log.LstdFlags)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		orgID:      cfg.OrganizationID,
		memberID:   cfg.MemberID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:     cfg.Logger,
	}
}

// timeEntryPayload is the request body for create and update.
type timeEntryPayload struct {
	Description string  `json:"description"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	Billable    bool    `json:"billable"`
	ProjectID   *string `json:"project_id,omitempty"`
	MemberID    string  `json:"member_id,omitempty"`
}

type timeEntryResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *Client) payload(entry worklog.Entry) timeEntryPayload {
	p := timeEntryPayload{
		Description: entry.Description,
		Start:       entry.StartedAt.UTC().Format(time.RFC3339),
		End:         entry.StartedAt.Add(time.Duration(entry.DurationSeconds) * time.Second).UTC().Format(time.RFC3339),
		Billable:    entry.Billable,
		MemberID:    c.memberID,
	}
	if entry.Project != "" {
		p.ProjectID = &entry.Project
	}
	return p
}

// Create posts a new time entry and returns its ID.
func (c *Client) Create(ctx context.Context, entry worklog.Entry) (string, error) {
	var created timeEntryResponse
	endpoint := fmt.Sprintf("%s/api/v1/organizations/%s/time-entries", c.baseURL, c.orgID)
	if err := c.do(ctx, http.MethodPost, endpoint, c.payload(entry), &created); err != nil {
		return "", err
	}
	if created.Data.ID == "" {
		return "", fmt.Errorf("create returned no entry id")
	}
	return created.Data.ID, nil
}

// Update rewrites an existing time entry. Returns ledger.ErrNotFound when
// the entry no longer exists.
func (c *Client) Update(ctx context.Context, destinationID string, entry worklog.Entry) error {
	endpoint := fmt.Sprintf("%s/api/v1/organizations/%s/time-entries/%s", c.baseURL, c.orgID, destinationID)
	return c.do(ctx, http.MethodPut, endpoint, c.payload(entry), nil)
}

// Delete removes a time entry. Returns ledger.ErrNotFound when the entry
// no longer exists.
func (c *Client) Delete(ctx context.Context, destinationID string) error {
	endpoint := fmt.Sprintf("%s/api/v1/organizations/%s/time-entries/%s", c.baseURL, c.orgID, destinationID)
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// TestConnection verifies the token works.
func (c *Client) TestConnection(ctx context.Context) error {
	var me json.RawMessage
	return c.do(ctx, http.MethodGet, c.baseURL+"/api/v1/users/me", nil, &me)
}

// do issues one rate-limited, authenticated request. A nil body sends no
// payload; a nil out discards the response body.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ledger.TransportError{Op: method + " time-entry", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &ledger.TransportError{
			Op:     method + " time-entry",
			Status: resp.StatusCode,
			Err:    ledger.ErrNotFound,
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &ledger.TransportError{
			Op:     method + " time-entry",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
