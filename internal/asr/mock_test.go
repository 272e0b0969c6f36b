package asr

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMockEngineGeneratesText(t *testing.T) {
	engine := NewMockEngine(MockConfig{BytesPerWord: 1000, Seed: 1})

	text, err := engine.TranscribeChunk(context.Background(), make([]byte, 3500))
	if err != nil {
		t.Fatalf("TranscribeChunk failed: %v", err)
	}

	words := strings.Fields(text)
	if len(words) != 3 {
		t.Errorf("Expected 3 words for 3500 bytes at 1000 bytes/word, got %d (%q)", len(words), text)
	}
}

func TestMockEngineMinimumOneWord(t *testing.T) {
	engine := NewMockEngine(MockConfig{BytesPerWord: 12800, Seed: 1})

	text, err := engine.TranscribeChunk(context.Background(), make([]byte, 10))
	if err != nil {
		t.Fatalf("TranscribeChunk failed: %v", err)
	}

	if len(strings.Fields(text)) != 1 {
		t.Errorf("Expected exactly 1 word for a tiny chunk, got %q", text)
	}
}

func TestMockEngineLatencyRespectsContext(t *testing.T) {
	engine := NewMockEngine(MockConfig{Latency: 5 * time.Second, Seed: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := engine.TranscribeChunk(ctx, make([]byte, 100))
	if err == nil {
		t.Fatal("Expected context error with latency exceeding deadline")
	}
}

func TestMockEngineFinalizeEmpty(t *testing.T) {
	engine := NewMockEngine(MockConfig{Seed: 1})

	text, err := engine.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if text != "" {
		t.Errorf("Expected empty finalize text, got %q", text)
	}
}

func TestMockEngineDeterministicWithSeed(t *testing.T) {
	a := NewMockEngine(MockConfig{BytesPerWord: 100, Seed: 42})
	b := NewMockEngine(MockConfig{BytesPerWord: 100, Seed: 42})

	textA, _ := a.TranscribeChunk(context.Background(), make([]byte, 1000))
	textB, _ := b.TranscribeChunk(context.Background(), make([]byte, 1000))

	if textA != textB {
		t.Errorf("Same seed produced different text: %q vs %q", textA, textB)
	}
}
