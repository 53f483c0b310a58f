package eyes

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

const (
	APIKeyHeader = "X-Api-Key"
	apiPrefix    = "/api/v1"
)

// Client talks to the visual service's session API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient returns a client for the service at serverURL. A nil httpClient
// gets one with a 30 second timeout.
func NewClient(serverURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) StartSession(ctx context.Context, req StartSessionRequest) (SessionInfo, error) {
	var info SessionInfo
	err := c.do(ctx, http.MethodPost, "/sessions", req, &info)
	return info, err
}

func (c *Client) UploadCheckpoint(ctx context.Context, sessionID string, cp Checkpoint) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/checkpoints", cp, nil)
}

// CloseSession ends a session. Evaluation happens afterwards, so the
// returned results are usually still Running.
func (c *Client) CloseSession(ctx context.Context, sessionID string) (TestResults, error) {
	var res TestResults
	err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/close", nil, &res)
	return res, err
}

// DeleteSession aborts a session that has not been closed.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (c *Client) Results(ctx context.Context, sessionID string) (TestResults, error) {
	var res TestResults
	err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/results", nil, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set(APIKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: msg}
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %v", ErrSessionClosed, apiErr)
	}
	return apiErr
}
