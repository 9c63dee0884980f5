/**
 * @description
 * This package provides a client for the ML scoring service that grades a
 * finished collection session. The service is treated as an opaque function:
 * given a session id and the location of its uploaded data it returns a
 * quality score and detection counts.
 */
package scoringclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"
)

// Result is the scoring service's verdict on one session.
type Result struct {
	QualityScore     float64 `json:"qualityScore"`
	FramesProcessed  int64   `json:"framesProcessed"`
	EntitiesDetected int64   `json:"entitiesDetected"`
}

// Scorer scores a session.
type Scorer interface {
	ScoreSession(ctx context.Context, sessionID, dataURL string) (*Result, error)
}

// StatusError is returned for non-2xx responses. Status codes below 500 other
// than 408 and 429 will not succeed on retry.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scoring service returned error status %d", e.StatusCode)
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// Client is a client for the scoring service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new scoring service client.
func NewClient(baseURL string, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type scoreRequest struct {
	SessionID string `json:"sessionId"`
	DataURL   string `json:"dataUrl"`
}

// ScoreSession submits a session for scoring and waits for the result.
func (c *Client) ScoreSession(ctx context.Context, sessionID, dataURL string) (*Result, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("scoring service base url is empty")
	}

	body, err := json.Marshal(scoreRequest{SessionID: sessionID, DataURL: dataURL})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process-session", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to scoring service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// MockScorer derives a stable score from the session id so local runs and
// redeliveries see the same result. Scores fall in 70..99.
type MockScorer struct{}

func (MockScorer) ScoreSession(ctx context.Context, sessionID, dataURL string) (*Result, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	sum := h.Sum32()
	return &Result{
		QualityScore:     float64(70 + sum%30),
		FramesProcessed:  int64(10 + (sum>>8)%100),
		EntitiesDetected: int64((sum >> 16) % 50),
	}, nil
}
