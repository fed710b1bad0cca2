// Package remote is the agent's HTTP client for the remote record service.
package remote

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

	"fieldsync/internal/config"
	"fieldsync/internal/models"
)

// ErrMalformedResponse is returned when a 2xx body cannot be understood.
var ErrMalformedResponse = errors.New("malformed response")

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Client calls the remote record service with a bearer credential and a
// bounded per-request timeout.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(cfg config.SyncConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = models.DefaultHTTPTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SubmitAct posts one act and returns the ticket id the service assigned.
func (c *Client) SubmitAct(ctx context.Context, act *models.Act) (int64, error) {
	var resp struct {
		GLPIID *int64 `json:"glpiId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/sync/maintenance", act, &resp); err != nil {
		return 0, err
	}
	if resp.GLPIID == nil {
		return 0, fmt.Errorf("submit act %s: missing glpiId: %w", act.ID, ErrMalformedResponse)
	}
	return *resp.GLPIID, nil
}

// ListActs pulls the most recent acts, at most limit.
func (c *Client) ListActs(ctx context.Context, limit int) ([]models.Act, error) {
	endpoint := "/sync/maintenance?limit=" + url.QueryEscape(strconv.Itoa(limit))
	var acts []models.Act
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &acts); err != nil {
		return nil, err
	}
	return acts, nil
}

// ListTasks pulls the tasks visible to the caller.
func (c *Client) ListTasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	if err := c.doJSON(ctx, http.MethodGet, "/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// SyncTasks pushes the full local task list and returns the upserted set.
func (c *Client) SyncTasks(ctx context.Context, tasks []models.Task) ([]models.Task, error) {
	if tasks == nil {
		tasks = []models.Task{}
	}
	var out []models.Task
	if err := c.doJSON(ctx, http.MethodPost, "/tasks/sync", tasks, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	var out models.Task
	if err := c.doJSON(ctx, http.MethodPost, "/tasks", task, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PatchTask(ctx context.Context, id string, patch *models.TaskPatch) (*models.Task, error) {
	var out models.Task
	if err := c.doJSON(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(id), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health is the connectivity probe.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body models.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &body) != nil || body.Message == "" {
			body.Message = strings.TrimSpace(string(raw))
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: body.Message}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", req.Method, req.URL.Path, ErrMalformedResponse, err)
	}
	return nil
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
