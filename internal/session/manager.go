package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yueh-ai/voice-to-text/internal/asr"
	"github.com/yueh-ai/voice-to-text/internal/metrics"
	"github.com/yueh-ai/voice-to-text/internal/store"
	"github.com/yueh-ai/voice-to-text/internal/vad"
)

// shutdownCloseConcurrency bounds parallel session closes during Shutdown.
const shutdownCloseConcurrency = 8

// ManagerConfig contains configuration for the session manager.
type ManagerConfig struct {
	// MaxSessions caps concurrent sessions on this instance. Zero means
	// unlimited.
	MaxSessions int

	// GlobalMaxSessions caps concurrent sessions across all instances
	// sharing the store. Zero disables the global check.
	GlobalMaxSessions int

	// IdleTimeout is how long a session may go without an accepted chunk
	// before the reaper closes it.
	IdleTimeout time.Duration

	// ReapInterval is how often the reaper scans for idle sessions.
	ReapInterval time.Duration

	// Detector configures the endpoint detector created for each session.
	Detector vad.Config
}

// Manager owns the session registry for one gateway instance: creation with
// limit enforcement, lookup, closing, and idle reaping. Session metadata is
// mirrored into the store so other instances see it.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	config  ManagerConfig
	engine  asr.Engine
	store   store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	ownerID string

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager and starts its idle reaper.
func NewManager(cfg ManagerConfig, engine asr.Engine, st store.Store, m *metrics.Metrics, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[string]*Session),
		config:   cfg,
		engine:   engine,
		store:    st,
		metrics:  m,
		logger:   logger,
		ownerID:  uuid.NewString(),
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startReaper()

	return mgr
}

// OwnerID returns the instance identifier written into session records.
func (m *Manager) OwnerID() string {
	return m.ownerID
}

// CreateSession allocates a new session. The limit check and registration
// happen under one lock so concurrent callers cannot overshoot the
// per-instance cap.
func (m *Manager) CreateSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		m.recordRejected()
		return nil, fmt.Errorf("instance at %d sessions: %w", len(m.sessions), ErrSessionLimit)
	}

	if m.config.GlobalMaxSessions > 0 {
		active, err := m.store.CountActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting active sessions: %w", err)
		}
		if active >= m.config.GlobalMaxSessions {
			m.recordRejected()
			return nil, fmt.Errorf("cluster at %d sessions: %w", active, ErrSessionLimit)
		}
	}

	detector, err := vad.NewDetector(m.config.Detector)
	if err != nil {
		return nil, fmt.Errorf("creating endpoint detector: %w", err)
	}

	id := uuid.NewString()
	sess := newSession(id, m.ownerID, detector, m.engine, m.logger)

	if _, err := m.store.Create(ctx, sess.Record()); err != nil {
		return nil, fmt.Errorf("registering session: %w", err)
	}

	m.sessions[id] = sess
	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
	}

	m.logger.Info("Session created",
		slog.String("session_id", id),
		slog.Int("active_sessions", len(m.sessions)),
	)

	return sess, nil
}

// GetSession returns the local session for id, or ErrSessionNotFound.
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	sess, exists := m.sessions[id]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// CloseSession closes and unregisters a session. Idempotent: closing an
// already-closed or unknown session is a no-op.
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		return nil
	}

	if sess.Close() && m.metrics != nil {
		m.metrics.RecordSessionClosed(time.Since(sess.CreatedAt()).Seconds())
	}

	if _, err := m.store.Delete(ctx, id); err != nil {
		m.logger.Warn("Failed to delete session record",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}

	m.logger.Info("Session closed",
		slog.String("session_id", id),
		slog.Duration("lifetime", time.Since(sess.CreatedAt())),
	)

	return nil
}

// SyncSession pushes a session's current record into the store. Best effort;
// failures are logged and swallowed so the audio path never blocks on the
// store.
func (m *Manager) SyncSession(ctx context.Context, sess *Session) {
	if _, err := m.store.Update(ctx, sess.Record()); err != nil {
		m.logger.Debug("Failed to sync session record",
			slog.String("session_id", sess.ID()),
			slog.String("error", err.Error()),
		)
	}
}

// ActiveCount returns the number of sessions registered on this instance.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ListSessions returns record projections of all local sessions.
func (m *Manager) ListSessions() []*store.SessionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*store.SessionRecord, 0, len(m.sessions))
	for _, sess := range m.sessions {
		records = append(records, sess.Record())
	}
	return records
}

// AggregateMetrics sums activity counters across all local sessions.
func (m *Manager) AggregateMetrics() store.MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total store.MetricsSnapshot
	for _, sess := range m.sessions {
		snap := sess.Metrics()
		total.AudioBytesReceived += snap.AudioBytesReceived
		total.AudioChunksReceived += snap.AudioChunksReceived
		total.PartialResults += snap.PartialResults
		total.FinalResults += snap.FinalResults
		total.Errors += snap.Errors
	}
	return total
}

// Shutdown stops the reaper and closes all remaining sessions.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Stopping session manager...")

	m.cancel()
	<-m.cleanup

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(shutdownCloseConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return m.CloseSession(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("closing sessions: %w", err)
	}

	m.logger.Info("Session manager stopped",
		slog.Int("sessions_closed", len(ids)),
	)
	return nil
}

// startReaper runs in a separate goroutine to close idle sessions.
func (m *Manager) startReaper() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.ReapInterval)
	defer ticker.Stop()

	m.logger.Info("Idle session reaper started",
		slog.Duration("idle_timeout", m.config.IdleTimeout),
		slog.Duration("reap_interval", m.config.ReapInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Idle session reaper stopping")
			return

		case <-ticker.C:
			m.reapIdleSessions()
		}
	}
}

// reapIdleSessions closes sessions whose last activity is older than the
// idle timeout, plus any session that ended up closed but still registered.
// A failure on one session never aborts the pass.
func (m *Manager) reapIdleSessions() {
	now := time.Now()
	expired := make([]string, 0)

	m.mu.RLock()
	for id, sess := range m.sessions {
		if !sess.State().IsActive() || now.Sub(sess.LastActivity()) > m.config.IdleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.logger.Info("Reaping idle sessions",
		slog.Int("expired_count", len(expired)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, id := range expired {
		if err := m.CloseSession(ctx, id); err != nil {
			m.logger.Warn("Failed to reap session",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if m.metrics != nil {
			m.metrics.RecordSessionReaped()
		}
	}
}

func (m *Manager) recordRejected() {
	if m.metrics != nil {
		m.metrics.RecordSessionRejected()
	}
}
