package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yueh-ai/voice-to-text/internal/asr"
	"github.com/yueh-ai/voice-to-text/internal/store"
	"github.com/yueh-ai/voice-to-text/internal/vad"
)

// Result is the outcome of processing one audio chunk.
type Result struct {
	// Text is the incremental transcription for this chunk. Empty for
	// silence and for final results.
	Text string

	// Final marks an utterance boundary: enough consecutive silence has
	// accumulated since the last speech frame.
	Final bool
}

// Session holds the full per-stream transcription state: lifecycle state,
// the endpoint detector, and activity counters. All methods are safe for
// concurrent use, though a single connection normally drives it serially.
type Session struct {
	id       string
	owner    string
	detector *vad.Detector
	engine   asr.Engine
	logger   *slog.Logger

	mu           sync.Mutex
	state        store.SessionState
	createdAt    time.Time
	lastActivity time.Time
	metrics      store.MetricsSnapshot
}

func newSession(id, owner string, detector *vad.Detector, engine asr.Engine, logger *slog.Logger) *Session {
	now := time.Now()
	return &Session{
		id:           id,
		owner:        owner,
		detector:     detector,
		engine:       engine,
		logger:       logger,
		state:        store.StateCreated,
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() store.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the most recently accepted chunk.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// ProcessChunk runs one chunk of PCM audio through the endpoint detector and,
// for speech, through the transcription engine. The first accepted chunk
// transitions the session from created to active.
//
// Silence below the endpointing threshold produces an empty non-final result
// without touching the engine. Once accumulated silence reaches the threshold
// the result is final, the detector resets for the next utterance, and the
// session stays active.
func (s *Session) ProcessChunk(ctx context.Context, audio []byte) (Result, error) {
	s.mu.Lock()

	if !s.state.IsActive() {
		s.mu.Unlock()
		return Result{}, ErrSessionClosing
	}
	if s.state == store.StateCreated {
		s.state = store.StateActive
	}

	s.metrics.AudioChunksReceived++
	s.metrics.AudioBytesReceived += uint64(len(audio))
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if s.detector.Accept(audio) {
		text, err := s.engine.TranscribeChunk(ctx, audio)
		if err != nil {
			s.mu.Lock()
			s.metrics.Errors++
			s.mu.Unlock()
			return Result{}, fmt.Errorf("transcribing chunk: %w", err)
		}

		s.mu.Lock()
		s.metrics.PartialResults++
		s.mu.Unlock()
		return Result{Text: text}, nil
	}

	s.detector.AddSilence(s.detector.ChunkDuration(len(audio)))

	if s.detector.ShouldFinalize() {
		s.detector.Reset()
		s.mu.Lock()
		s.metrics.FinalResults++
		s.mu.Unlock()

		s.logger.Debug("Utterance finalized", "session_id", s.id)
		return Result{Final: true}, nil
	}

	return Result{}, nil
}

// Close transitions the session to closed and releases detector state.
// Safe to call multiple times; only the first call has any effect.
func (s *Session) Close() bool {
	s.mu.Lock()
	if !s.state.IsActive() {
		s.mu.Unlock()
		return false
	}
	s.state = store.StateClosing
	s.mu.Unlock()

	s.detector.Reset()

	s.mu.Lock()
	s.state = store.StateClosed
	s.mu.Unlock()
	return true
}

// Record returns the store-facing projection of the session.
func (s *Session) Record() *store.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &store.SessionRecord{
		ID:             s.id,
		State:          s.state,
		Owner:          s.owner,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivity,
		Metrics:        s.metrics,
	}
}

// Metrics returns a copy of the session's activity counters.
func (s *Session) Metrics() store.MetricsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// DetectorStats returns endpoint detector statistics for monitoring.
func (s *Session) DetectorStats() vad.Stats {
	return s.detector.GetStats()
}
