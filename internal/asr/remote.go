package asr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RemoteConfig contains remote engine configuration.
type RemoteConfig struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// RemoteEngine sends audio chunks to an external transcription API over
// HTTP. Requests are rate-limited by a concurrency semaphore and retried
// with exponential backoff on transient failures.
type RemoteEngine struct {
	config     RemoteConfig
	httpClient *http.Client
	semaphore  chan struct{}

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64

	mu sync.RWMutex
}

// RemoteStats represents remote engine request statistics.
type RemoteStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRetries    uint64  `json:"total_retries"`
	ActiveRequests  int     `json:"active_requests"`
}

type remoteRequest struct {
	Audio     string    `json:"audio"`
	Finalize  bool      `json:"finalize,omitempty"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type remoteResponse struct {
	Text string `json:"text"`
}

// NewRemoteEngine creates a remote transcription engine.
func NewRemoteEngine(cfg RemoteConfig) (*RemoteEngine, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}

	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &RemoteEngine{
		config:     cfg,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// TranscribeChunk sends one audio chunk for transcription.
func (e *RemoteEngine) TranscribeChunk(ctx context.Context, audio []byte) (string, error) {
	return e.transcribe(ctx, &remoteRequest{
		Audio:     base64.StdEncoding.EncodeToString(audio),
		RequestID: uuid.NewString(),
		Timestamp: time.Now(),
	})
}

// Finalize asks the API to flush any pending utterance state.
func (e *RemoteEngine) Finalize(ctx context.Context) (string, error) {
	return e.transcribe(ctx, &remoteRequest{
		Finalize:  true,
		RequestID: uuid.NewString(),
		Timestamp: time.Now(),
	})
}

func (e *RemoteEngine) transcribe(ctx context.Context, request *remoteRequest) (string, error) {
	// Acquire semaphore for rate limiting
	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	e.incrementTotal()

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			e.incrementRetries()

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := e.doRequest(ctx, request)
		if err == nil {
			e.incrementSuccess()
			return text, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	e.incrementFailed()
	return "", fmt.Errorf("transcription failed after %d attempts: %w", e.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP request to the transcription API.
func (e *RemoteEngine) doRequest(ctx context.Context, request *remoteRequest) (string, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if e.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded remoteResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return decoded.Text, nil
}

// isRetryableError reports whether a request failure is worth retrying.
// Server errors, rate limiting, and network failures are retryable; client
// errors are not.
func isRetryableError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := err.Error()

	if strings.Contains(msg, "HTTP error 5") || strings.Contains(msg, "HTTP error 429") {
		return true
	}

	return strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "refused")
}

// Statistics methods
func (e *RemoteEngine) incrementTotal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalRequests++
}

func (e *RemoteEngine) incrementSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.successRequests++
}

func (e *RemoteEngine) incrementFailed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedRequests++
}

func (e *RemoteEngine) incrementRetries() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalRetries++
}

// GetStats returns current request statistics.
func (e *RemoteEngine) GetStats() RemoteStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	successRate := float64(0)
	if e.totalRequests > 0 {
		successRate = float64(e.successRequests) / float64(e.totalRequests) * 100
	}

	return RemoteStats{
		TotalRequests:   e.totalRequests,
		SuccessRequests: e.successRequests,
		FailedRequests:  e.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    e.totalRetries,
		ActiveRequests:  len(e.semaphore),
	}
}

// Close waits for in-flight requests to finish.
func (e *RemoteEngine) Close() error {
	for i := 0; i < e.config.MaxConcurrent; i++ {
		e.semaphore <- struct{}{}
	}
	return nil
}
