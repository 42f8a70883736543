package taskmarketsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskmarket HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Skill struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Title string `json:"title"`
}

// Profile represents the API profile model (partial).
type Profile struct {
	ID             string  `json:"id"`
	Username       string  `json:"username"`
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	Location       string  `json:"location"`
	Rating         float64 `json:"rating"`
	ShortlistCount int     `json:"shortlist_count"`
	TasksCompleted int     `json:"tasks_completed"`
	Skills         []Skill `json:"skills"`
}

// Task represents the API task model. DisplayRank is only set on search
// results made by an authenticated caller.
type Task struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Points      int     `json:"points"`
	Location    string  `json:"location"`
	IsRemote    bool    `json:"is_remote"`
	Status      string  `json:"status"`
	OwnerID     string  `json:"owner_id"`
	HelperID    *string `json:"helper_id,omitempty"`
	Question1   string  `json:"question1,omitempty"`
	Question2   string  `json:"question2,omitempty"`
	Question3   string  `json:"question3,omitempty"`
	Skills      []Skill `json:"skills"`
	DisplayRank *int    `json:"display_rank,omitempty"`
}

// ProfileTask is one profile's interaction with one task.
type ProfileTask struct {
	ID        string  `json:"id"`
	TaskID    string  `json:"task_id"`
	ProfileID string  `json:"profile_id"`
	Status    string  `json:"status"`
	Answer1   string  `json:"answer1,omitempty"`
	Answer2   string  `json:"answer2,omitempty"`
	Answer3   string  `json:"answer3,omitempty"`
	Quote     *int    `json:"quote,omitempty"`
	Rating    *int    `json:"rating,omitempty"`
	AppliedAt *string `json:"applied_at,omitempty"`
}

type Assignment struct {
	Task        Task        `json:"task"`
	ProfileTask ProfileTask `json:"profile_task"`
}

type Allowance struct {
	ProfileID string  `json:"profile_id"`
	Rating    float64 `json:"rating"`
	Quota     int     `json:"quota"`
	Used      int     `json:"used"`
	Under     bool    `json:"under_limit"`
	Window    string  `json:"window"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the stable error code from the
// response envelope when one was sent.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SearchOptions narrows a task search.
type SearchOptions struct {
	Query    string
	Location string
	Skills   []string
	Limit    int
}

// DevLogin mints a token for an existing profile and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, username string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"username": username}, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// CreateProfile signs up a new profile.
func (c *Client) CreateProfile(ctx context.Context, username, firstName, lastName, location string) (Profile, error) {
	body := map[string]any{
		"username":   username,
		"first_name": firstName,
		"last_name":  lastName,
		"location":   location,
	}
	var resp Profile
	err := c.do(ctx, http.MethodPost, "profiles", body, &resp)
	return resp, err
}

func (c *Client) Me(ctx context.Context) (Profile, error) {
	var resp struct {
		Profile Profile `json:"profile"`
	}
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp.Profile, err
}

// CreateTask posts a task. Skills are skill codes.
func (c *Client) CreateTask(ctx context.Context, title, description, location string, points int, questions, skills []string) (Task, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"location":    location,
		"points":      points,
		"questions":   questions,
		"skills":      skills,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// SearchTasks lists open tasks, ranked for the caller when authenticated.
func (c *Client) SearchTasks(ctx context.Context, opts SearchOptions) ([]Task, error) {
	q := url.Values{}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	if opts.Location != "" {
		q.Set("location", opts.Location)
	}
	if len(opts.Skills) > 0 {
		q.Set("skills", strings.Join(opts.Skills, ","))
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}
	endpoint := "tasks"
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, taskPath(taskID, ""), nil, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, taskPath(taskID, ""), nil, nil)
}

// Shortlist bookmarks a task for the caller.
func (c *Client) Shortlist(ctx context.Context, taskID string) (ProfileTask, error) {
	var resp ProfileTask
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "shortlist"), nil, &resp)
	return resp, err
}

// Discard hides a task from the caller's search results.
func (c *Client) Discard(ctx context.Context, taskID string) (ProfileTask, error) {
	var resp ProfileTask
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "discard"), nil, &resp)
	return resp, err
}

// Apply submits an application. quote may be nil.
func (c *Client) Apply(ctx context.Context, taskID string, answers []string, quote *int) (ProfileTask, error) {
	body := map[string]any{"answers": answers}
	if quote != nil {
		body["quote"] = *quote
	}
	var resp ProfileTask
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "apply"), body, &resp)
	return resp, err
}

func (c *Client) Accept(ctx context.Context, taskID, applicantID string) (Assignment, error) {
	var resp Assignment
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "accept"), map[string]any{"applicant_id": applicantID}, &resp)
	return resp, err
}

func (c *Client) Complete(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "complete"), nil, &resp)
	return resp, err
}

// Rate rates the helper of a completed task and returns the helper's
// updated profile.
func (c *Client) Rate(ctx context.Context, taskID, applicantID string, rating int) (Profile, error) {
	var resp struct {
		Profile Profile `json:"profile"`
	}
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "rate"), map[string]any{"applicant_id": applicantID, "rating": rating}, &resp)
	return resp.Profile, err
}

func (c *Client) RejectApplication(ctx context.Context, profileTaskID string) (ProfileTask, error) {
	var resp ProfileTask
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("profile-tasks/%s/reject", url.PathEscape(profileTaskID)), nil, &resp)
	return resp, err
}

// UnderApplicationLimit reports the caller's application budget. profileID
// must be the authenticated profile.
func (c *Client) UnderApplicationLimit(ctx context.Context, profileID string) (Allowance, error) {
	var resp Allowance
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("profiles/%s/under-application-limit", url.PathEscape(profileID)), nil, &resp)
	return resp, err
}

// Events lists events newest first. Pass the previous NextCursor to page.
func (c *Client) Events(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func taskPath(taskID, action string) string {
	p := "tasks/" + url.PathEscape(taskID)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if bp := strings.Trim(c.BasePath, "/"); bp != "" {
		base += "/" + bp
	}
	return base
}
