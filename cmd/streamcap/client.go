package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loykin/streamcap/internal/health"
)

// APIClient talks to a running client's status server.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8787"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/healthz")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status fetches the current health snapshot.
func (c *APIClient) Status() (health.Snapshot, error) {
	var snap health.Snapshot

	resp, err := c.client.Get(c.baseURL + "/status")
	if err != nil {
		return snap, fmt.Errorf("is the client running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return snap, decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// Summary fetches the human-readable status text.
func (c *APIClient) Summary() (string, error) {
	resp, err := c.client.Get(c.baseURL + "/summary")
	if err != nil {
		return "", fmt.Errorf("is the client running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Reconnect forces an immediate stream reconnection.
func (c *APIClient) Reconnect() error {
	resp, err := c.client.Post(c.baseURL+"/reconnect", "application/json", nil)
	if err != nil {
		return fmt.Errorf("is the client running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return nil
}

// TakeSnapshot asks the running client to capture a still frame and
// returns the saved path.
func (c *APIClient) TakeSnapshot() (string, error) {
	resp, err := c.client.Post(c.baseURL+"/snapshot", "application/json", nil)
	if err != nil {
		return "", fmt.Errorf("is the client running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp)
	}
	var result struct {
		OK   bool   `json:"ok"`
		Path string `json:"path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Path, nil
}

func decodeAPIError(resp *http.Response) error {
	var errorResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}
