package asr

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// DefaultBytesPerWord assumes 16kHz 16-bit mono audio at an average speaking
// rate of 2.5 words per second: 32000 bytes/s / 2.5 words/s.
const DefaultBytesPerWord = 12800

// vocabulary holds common words used to synthesize transcription text.
var vocabulary = []string{
	"the", "be", "to", "of", "and", "a", "in", "that", "have", "it",
	"for", "not", "on", "with", "he", "as", "you", "do", "at", "this",
	"but", "his", "by", "from", "they", "we", "say", "her", "she", "or",
	"will", "my", "one", "all", "would", "there", "their", "what", "so", "up",
	"out", "if", "about", "who", "get", "which", "go", "me", "when", "make",
	"can", "like", "time", "no", "just", "him", "know", "take", "people", "into",
	"year", "your", "good", "some", "could", "them", "see", "other", "than", "then",
	"now", "look", "only", "come", "its", "over", "think", "also", "back", "after",
	"use", "two", "how", "our", "work", "first", "well", "way", "even", "new",
	"want", "because", "any", "these", "give", "day", "most", "us", "world", "life",
}

// MockEngine generates plausible transcription text without running a model.
// Word count is proportional to the audio byte length, with a one word
// minimum per chunk. An optional fixed latency simulates inference cost.
type MockEngine struct {
	bytesPerWord int
	latency      time.Duration

	rng *rand.Rand
	mu  sync.Mutex
}

// MockConfig contains mock engine configuration.
type MockConfig struct {
	BytesPerWord int           // Audio bytes per generated word
	Latency      time.Duration // Simulated inference latency per chunk
	Seed         int64         // RNG seed; 0 seeds from the clock
}

// NewMockEngine creates a mock transcription engine.
func NewMockEngine(cfg MockConfig) *MockEngine {
	if cfg.BytesPerWord <= 0 {
		cfg.BytesPerWord = DefaultBytesPerWord
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &MockEngine{
		bytesPerWord: cfg.BytesPerWord,
		latency:      cfg.Latency,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// TranscribeChunk generates text proportional to the chunk length.
func (e *MockEngine) TranscribeChunk(ctx context.Context, audio []byte) (string, error) {
	if e.latency > 0 {
		select {
		case <-time.After(e.latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	wordCount := len(audio) / e.bytesPerWord
	if wordCount < 1 {
		wordCount = 1
	}

	return e.generateWords(wordCount), nil
}

// Finalize returns no trailing text; the mock holds no utterance state.
func (e *MockEngine) Finalize(ctx context.Context) (string, error) {
	return "", nil
}

func (e *MockEngine) generateWords(count int) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	words := make([]string, count)
	for i := range words {
		words[i] = vocabulary[e.rng.Intn(len(vocabulary))]
	}
	return strings.Join(words, " ")
}
