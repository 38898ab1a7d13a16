package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"perspective-engine/backend/pkg/models"
)

// HTTPReasoner is an HTTP implementation of the Reasoner interface. It speaks
// the Workers AI style protocol: POST {url}/run/{model} with {"messages": [...]}.
type HTTPReasoner struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPReasoner creates a new HTTPReasoner. An empty token sends no
// Authorization header.
func NewHTTPReasoner(url, token string, timeout time.Duration) *HTTPReasoner {
	return &HTTPReasoner{
		url:    strings.TrimRight(url, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

type runRequest struct {
	Messages []models.Message `json:"messages"`
}

// runResponse accepts both the bare binding shape and the REST envelope.
type runResponse struct {
	Response string `json:"response"`
	Result   *struct {
		Response string `json:"response"`
	} `json:"result"`
}

// Run sends messages to model and returns the generated text.
func (c *HTTPReasoner) Run(ctx context.Context, model string, messages []models.Message) (string, error) {
	requestBody, err := json.Marshal(runRequest{Messages: messages})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/run/"+model, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("reasoner returned status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out runResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}

	text := out.Response
	if text == "" && out.Result != nil {
		text = out.Result.Response
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

var _ Reasoner = (*HTTPReasoner)(nil)
