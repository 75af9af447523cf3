package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient wraps http.Client with the service's base URL.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// StatusError reports an unexpected response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// do sends body as JSON and decodes a response with status want into out.
func (c *HTTPClient) do(ctx context.Context, method, path, token string, body, out any, want int) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != want {
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

type checkInResponse struct {
	Tracking bool `json:"tracking"`
}

type fixesResponse struct {
	Status     string `json:"status"`
	Accepted   int    `json:"accepted"`
	Duplicates int    `json:"duplicates"`
}

type checkBody struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Timestamp  string  `json:"timestamp"`
	Permission string  `json:"permission,omitempty"`
}

func (c *HTTPClient) checkIn(ctx context.Context, w Walk) (checkInResponse, error) {
	var out checkInResponse
	err := c.do(ctx, http.MethodPost, "/v1/attendance/check-in", w.Token, checkBody{
		Latitude:   w.CheckIn.Latitude,
		Longitude:  w.CheckIn.Longitude,
		Timestamp:  w.CheckIn.Timestamp,
		Permission: "granted",
	}, &out, http.StatusCreated)
	return out, err
}

func (c *HTTPClient) checkOut(ctx context.Context, w Walk) error {
	return c.do(ctx, http.MethodPost, "/v1/attendance/check-out", w.Token, checkBody{
		Latitude:  w.CheckOut.Latitude,
		Longitude: w.CheckOut.Longitude,
		Timestamp: w.CheckOut.Timestamp,
	}, nil, http.StatusOK)
}

func (c *HTTPClient) postFixes(ctx context.Context, token string, fixes []Fix) (fixesResponse, error) {
	var out fixesResponse
	err := c.do(ctx, http.MethodPost, "/v1/fixes", token, map[string][]Fix{"fixes": fixes}, &out, http.StatusAccepted)
	return out, err
}

func (c *HTTPClient) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	// The service answers with Prometheus metrics.
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	return nil
}
