// Package doerlinesdk is a small client for the Doerline HTTP API.
package doerlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one Doerline server. Set BearerToken (see Login) or APIKey.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	// Attempts bounds retries of 503 responses and transport errors.
	Attempts  int
	RetryWait time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:   baseURL,
		Timeout:   10 * time.Second,
		Attempts:  3,
		RetryWait: 200 * time.Millisecond,
	}
}

// Project mirrors the API project model.
type Project struct {
	ID                   string  `json:"id"`
	Title                string  `json:"title"`
	Subject              string  `json:"subject,omitempty"`
	Description          string  `json:"description,omitempty"`
	ClientID             string  `json:"client_id"`
	Status               string  `json:"status"`
	SupervisorID         *string `json:"supervisor_id,omitempty"`
	DoerID               *string `json:"doer_id,omitempty"`
	WordCount            *int    `json:"word_count,omitempty"`
	PageCount            *int    `json:"page_count,omitempty"`
	Deadline             *string `json:"deadline,omitempty"`
	UserQuote            *int64  `json:"user_quote,omitempty"`
	DoerPayout           *int64  `json:"doer_payout,omitempty"`
	SupervisorCommission *int64  `json:"supervisor_commission,omitempty"`
	PlatformFee          *int64  `json:"platform_fee,omitempty"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

// Actor is the authenticated identity returned by Login and Me.
type Actor struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
	Available   bool   `json:"available"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

// Quote is a calculator result.
type Quote struct {
	SuggestedQuote       int64   `json:"suggested_quote"`
	DoerPayout           int64   `json:"doer_payout"`
	SupervisorCommission int64   `json:"supervisor_commission"`
	PlatformFee          int64   `json:"platform_fee"`
	BasePrice            float64 `json:"base_price"`
	UrgencyMultiplier    float64 `json:"urgency_multiplier"`
}

// NewProject is the body of CreateProject.
type NewProject struct {
	Title       string     `json:"title"`
	Subject     string     `json:"subject,omitempty"`
	Description string     `json:"description,omitempty"`
	WordCount   *int       `json:"word_count,omitempty"`
	PageCount   *int       `json:"page_count,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Draft       bool       `json:"draft,omitempty"`
}

// QuoteSplit overrides the calculator. Leave it zero to accept the
// suggested quote; otherwise set all four amounts.
type QuoteSplit struct {
	UserQuote            *int64 `json:"user_quote,omitempty"`
	DoerPayout           *int64 `json:"doer_payout,omitempty"`
	SupervisorCommission *int64 `json:"supervisor_commission,omitempty"`
	PlatformFee          *int64 `json:"platform_fee,omitempty"`
}

// ProjectPage is one page of ListProjects.
type ProjectPage struct {
	Items      []Project `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status=%d", e.Status)
	}
	return fmt.Sprintf("api error: status=%d code=%s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code, e.g.
// "forbidden_for_role" or "conflict".
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Login exchanges a password for a bearer token and stores it on c.
func (c *Client) Login(ctx context.Context, actorID, password string) (Actor, error) {
	var resp struct {
		Token string `json:"token"`
		Actor Actor  `json:"actor"`
	}
	body := map[string]any{"actor_id": actorID, "password": password}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return Actor{}, err
	}
	c.BearerToken = resp.Token
	return resp.Actor, nil
}

// Me returns the authenticated actor.
func (c *Client) Me(ctx context.Context) (Actor, error) {
	var resp Actor
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// CreateProject submits (or drafts) a project as the authenticated client.
func (c *Client) CreateProject(ctx context.Context, p NewProject) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", p, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, projectPath(id, ""), nil, &resp)
	return resp, err
}

// ListProjects returns a page of projects. view is one of mine, unclaimed,
// assignable, qc_queue or all; empty means mine.
func (c *Client) ListProjects(ctx context.Context, view, status string, limit int, cursor string) (ProjectPage, error) {
	q := url.Values{}
	setQuery(q, "view", view)
	setQuery(q, "status", status)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	setQuery(q, "cursor", cursor)
	var resp ProjectPage
	err := c.do(ctx, http.MethodGet, withQuery("projects", q), nil, &resp)
	return resp, err
}

// Actions lists the statuses the caller may move the project to.
func (c *Client) Actions(ctx context.Context, id string) ([]string, error) {
	var resp struct {
		Actions []string `json:"actions"`
	}
	err := c.do(ctx, http.MethodGet, projectPath(id, "actions"), nil, &resp)
	return resp.Actions, err
}

// Claim takes an unclaimed project for the authenticated supervisor.
func (c *Client) Claim(ctx context.Context, id string) (Project, error) {
	return c.action(ctx, id, "claim", nil)
}

// SetQuote quotes a claimed project.
func (c *Client) SetQuote(ctx context.Context, id string, split QuoteSplit) (Project, error) {
	return c.action(ctx, id, "quote", split)
}

// ConfirmPayment records the payment reference and moves the project to paid.
func (c *Client) ConfirmPayment(ctx context.Context, id, reference string) (Project, error) {
	return c.action(ctx, id, "payment/confirm", map[string]any{"reference": reference})
}

// AssignDoer assigns an available doer.
func (c *Client) AssignDoer(ctx context.Context, id, doerID string) (Project, error) {
	return c.action(ctx, id, "assign", map[string]any{"doer_id": doerID})
}

// StartWork moves an assigned project to in_progress.
func (c *Client) StartWork(ctx context.Context, id string) (Project, error) {
	return c.action(ctx, id, "start", nil)
}

// SubmitForQC hands the work to the supervisor.
func (c *Client) SubmitForQC(ctx context.Context, id string) (Project, error) {
	return c.action(ctx, id, "submit", nil)
}

// ReviewQC records a quality check outcome.
func (c *Client) ReviewQC(ctx context.Context, id, status, note string) (Project, error) {
	return c.action(ctx, id, "qc", map[string]any{"status": status, "note": note})
}

// RequestRevision sends a delivered project back with feedback.
func (c *Client) RequestRevision(ctx context.Context, id, feedback string) (Project, error) {
	return c.action(ctx, id, "revisions", map[string]any{"feedback": feedback})
}

// Complete accepts a delivered project.
func (c *Client) Complete(ctx context.Context, id string) (Project, error) {
	return c.action(ctx, id, "complete", nil)
}

// Cancel cancels a project, optionally refunding it.
func (c *Client) Cancel(ctx context.Context, id, reason string, refund bool) (Project, error) {
	return c.action(ctx, id, "cancel", map[string]any{"reason": reason, "refund": refund})
}

// PreviewQuote runs the calculator without touching a project.
func (c *Client) PreviewQuote(ctx context.Context, words, pages *int, deadline *time.Time) (Quote, error) {
	body := map[string]any{}
	if words != nil {
		body["word_count"] = *words
	}
	if pages != nil {
		body["page_count"] = *pages
	}
	if deadline != nil {
		body["deadline"] = deadline.UTC().Format(time.RFC3339)
	}
	var resp Quote
	err := c.do(ctx, http.MethodPost, "quotes/preview", body, &resp)
	return resp, err
}

// Events returns recent events for a project.
func (c *Client) Events(ctx context.Context, projectID string, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, projectID, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, projectID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	setQuery(q, "cursor", cursor)
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery(projectPath(projectID, "events"), q), nil, &resp)
	return resp, err
}

func (c *Client) action(ctx context.Context, id, suffix string, body any) (Project, error) {
	if body == nil {
		body = map[string]any{}
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, projectPath(id, suffix), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := c.RetryWait * time.Duration(1<<(i-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		err = c.once(ctx, method, endpoint, payload, out)
		if !retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (c *Client) once(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if json.Unmarshal(b, &env) == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	} else {
		apiErr.Message = strings.TrimSpace(string(b))
	}
	return apiErr
}

type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func retryable(err error) bool {
	if err == nil {
		return false
	}
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable
}

func projectPath(id, suffix string) string {
	p := "projects/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func setQuery(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
