package client

// http_client.go = talks to a coordinator's status API.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"commlink/internal/microservices/http-api/dto"
)

// defines the HTTP client structure and methods
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

func NewHTTPClient(apiURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// set token for HTTP client
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

func (c *HTTPClient) ListSessions(ctx context.Context) (*dto.SessionListResponse, error) {
	var result dto.SessionListResponse
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) GetSession(ctx context.Context, id int64) (*dto.SessionResponse, error) {
	var result dto.SessionResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%d", id), nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) SendCommand(ctx context.Context, id int64, command string) error {
	body := dto.MessageRequest{Content: command}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%d/command", id), body, http.StatusAccepted, nil)
}

func (c *HTTPClient) SendChat(ctx context.Context, id int64, text string) error {
	body := dto.MessageRequest{Content: text}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%d/chat", id), body, http.StatusAccepted, nil)
}

func (c *HTTPClient) Broadcast(ctx context.Context, text string) (*dto.BroadcastResponse, error) {
	var result dto.BroadcastResponse
	body := dto.MessageRequest{Content: text}
	if err := c.do(ctx, http.MethodPost, "/api/broadcast/chat", body, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) Kick(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/sessions/%d", id), nil, http.StatusNoContent, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // Ensure the response body is closed

	if resp.StatusCode != want {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s failed: %s (%s)", method, path, apiErr.Error, resp.Status)
		}
		return fmt.Errorf("%s %s failed with status: %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
