package asr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRemoteEngineValidation(t *testing.T) {
	if _, err := NewRemoteEngine(RemoteConfig{}); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

func TestRemoteEngineTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.RequestID == "" {
			t.Error("Expected non-empty request id")
		}
		json.NewEncoder(w).Encode(remoteResponse{Text: "hello there"})
	}))
	defer srv.Close()

	engine, err := NewRemoteEngine(RemoteConfig{Endpoint: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Close()

	text, err := engine.TranscribeChunk(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("TranscribeChunk failed: %v", err)
	}
	if text != "hello there" {
		t.Errorf("Expected %q, got %q", "hello there", text)
	}

	stats := engine.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestRemoteEngineRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(remoteResponse{Text: "recovered"})
	}))
	defer srv.Close()

	engine, err := NewRemoteEngine(RemoteConfig{
		Endpoint:   srv.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Close()

	text, err := engine.TranscribeChunk(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("Expected retry to recover, got error: %v", err)
	}
	if text != "recovered" {
		t.Errorf("Expected %q, got %q", "recovered", text)
	}

	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}

	if engine.GetStats().TotalRetries != 1 {
		t.Errorf("Expected 1 retry recorded, got %d", engine.GetStats().TotalRetries)
	}
}

func TestRemoteEngineDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	engine, err := NewRemoteEngine(RemoteConfig{
		Endpoint:   srv.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Close()

	if _, err := engine.TranscribeChunk(context.Background(), []byte{1}); err == nil {
		t.Fatal("Expected error for 400 response")
	}

	if calls.Load() != 1 {
		t.Errorf("Expected exactly 1 call for a non-retryable error, got %d", calls.Load())
	}
}
