// Package client is an HTTP client for the perspective engine API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"perspective-engine/backend/internal/repository"
	"perspective-engine/backend/pkg/models"
)

// Client calls the authenticated /api/v1 routes. It satisfies
// workflow.StatusSource so a workflow.Poller can wait on remote instances.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client. An empty token sends no Authorization header, which
// works against servers running with the dev bypass.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Title      string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api: %d %s: %s", e.StatusCode, e.Title, e.Detail)
	}
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Title)
}

// CreateInstance starts an analysis and returns the instance id.
func (c *Client) CreateInstance(ctx context.Context, prompt string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/instances", map[string]string{"prompt": prompt}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Status returns an instance snapshot. Unknown ids yield repository.ErrNotFound.
func (c *Client) Status(ctx context.Context, id string) (*models.Instance, error) {
	var inst models.Instance
	err := c.do(ctx, http.MethodGet, "/api/v1/instances/"+url.PathEscape(id), nil, &inst)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("instance %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// History returns the caller's decisions, newest first.
func (c *Client) History(ctx context.Context) ([]models.DecisionEntry, error) {
	var entries []models.DecisionEntry
	if err := c.do(ctx, http.MethodGet, "/api/v1/history", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
		var problem struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&problem) == nil {
			if problem.Title != "" {
				apiErr.Title = problem.Title
			}
			apiErr.Detail = problem.Detail
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
