package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yueh-ai/voice-to-text/internal/asr"
	"github.com/yueh-ai/voice-to-text/internal/store"
	"github.com/yueh-ai/voice-to-text/internal/vad"
)

func testManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()

	if cfg.Detector.SampleRate == 0 {
		cfg.Detector = vad.Config{SampleRate: testSampleRate}
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = time.Minute
	}

	st := store.NewMemoryStore(0)
	engine := asr.NewMockEngine(asr.MockConfig{Seed: 1})
	mgr := NewManager(cfg, engine, st, nil, testLogger())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
		_ = st.Close()
	})

	return mgr
}

func TestManagerCreateAndGet(t *testing.T) {
	mgr := testManager(t, ManagerConfig{})

	sess, err := mgr.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sess.ID() == "" {
		t.Fatal("created session has empty id")
	}

	got, err := mgr.GetSession(sess.ID())
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got != sess {
		t.Error("GetSession returned a different session")
	}

	if _, err := mgr.GetSession("no-such-session"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetSession(unknown) error = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerEnforcesInstanceLimit(t *testing.T) {
	mgr := testManager(t, ManagerConfig{MaxSessions: 2})

	for i := 0; i < 2; i++ {
		if _, err := mgr.CreateSession(context.Background()); err != nil {
			t.Fatalf("CreateSession(%d) error = %v", i, err)
		}
	}

	_, err := mgr.CreateSession(context.Background())
	if !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("CreateSession over limit error = %v, want ErrSessionLimit", err)
	}
	if got := mgr.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount() = %d, want 2", got)
	}

	// Closing a session frees a slot.
	records := mgr.ListSessions()
	if err := mgr.CloseSession(context.Background(), records[0].ID); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if _, err := mgr.CreateSession(context.Background()); err != nil {
		t.Errorf("CreateSession after close error = %v", err)
	}
}

func TestManagerEnforcesGlobalLimit(t *testing.T) {
	mgr := testManager(t, ManagerConfig{GlobalMaxSessions: 1})

	if _, err := mgr.CreateSession(context.Background()); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	_, err := mgr.CreateSession(context.Background())
	if !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("CreateSession over global limit error = %v, want ErrSessionLimit", err)
	}
}

func TestManagerCloseSessionIdempotent(t *testing.T) {
	mgr := testManager(t, ManagerConfig{})

	sess, err := mgr.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := mgr.CloseSession(context.Background(), sess.ID()); err != nil {
		t.Fatalf("first CloseSession() error = %v", err)
	}
	if err := mgr.CloseSession(context.Background(), sess.ID()); err != nil {
		t.Fatalf("second CloseSession() error = %v", err)
	}
	if err := mgr.CloseSession(context.Background(), "never-existed"); err != nil {
		t.Errorf("CloseSession(unknown) error = %v", err)
	}
}

func TestManagerConcurrentCreates(t *testing.T) {
	mgr := testManager(t, ManagerConfig{})

	const goroutines = 100
	ids := make(chan string, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := mgr.CreateSession(context.Background())
			if err != nil {
				t.Errorf("CreateSession() error = %v", err)
				return
			}
			ids <- sess.ID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate session id %q", id)
		}
		seen[id] = true
	}

	if len(seen) != goroutines {
		t.Errorf("created %d distinct sessions, want %d", len(seen), goroutines)
	}
	if got := mgr.ActiveCount(); got != goroutines {
		t.Errorf("ActiveCount() = %d, want %d", got, goroutines)
	}
}

func TestManagerConcurrentCreatesRespectLimit(t *testing.T) {
	const limit = 10
	mgr := testManager(t, ManagerConfig{MaxSessions: limit})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = mgr.CreateSession(context.Background())
		}()
	}
	wg.Wait()

	if got := mgr.ActiveCount(); got != limit {
		t.Errorf("ActiveCount() = %d, want %d", got, limit)
	}
}

func TestManagerReapsIdleSessions(t *testing.T) {
	mgr := testManager(t, ManagerConfig{
		IdleTimeout:  50 * time.Millisecond,
		ReapInterval: 25 * time.Millisecond,
	})

	sess, err := mgr.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for mgr.ActiveCount() > 0 {
		select {
		case <-deadline:
			t.Fatal("idle session was not reaped within 2s")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := sess.State(); got != store.StateClosed {
		t.Errorf("reaped session state = %v, want %v", got, store.StateClosed)
	}
}

func TestManagerAggregateMetrics(t *testing.T) {
	mgr := testManager(t, ManagerConfig{})

	for i := 0; i < 3; i++ {
		sess, err := mgr.CreateSession(context.Background())
		if err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
		if _, err := sess.ProcessChunk(context.Background(), speechChunk()); err != nil {
			t.Fatalf("ProcessChunk() error = %v", err)
		}
	}

	total := mgr.AggregateMetrics()
	if total.AudioChunksReceived != 3 {
		t.Errorf("AudioChunksReceived = %d, want 3", total.AudioChunksReceived)
	}
	if total.AudioBytesReceived != 3*uint64(len(speechChunk())) {
		t.Errorf("AudioBytesReceived = %d, want %d", total.AudioBytesReceived, 3*len(speechChunk()))
	}
	if total.PartialResults != 3 {
		t.Errorf("PartialResults = %d, want 3", total.PartialResults)
	}
}

func TestManagerShutdownClosesSessions(t *testing.T) {
	st := store.NewMemoryStore(0)
	engine := asr.NewMockEngine(asr.MockConfig{Seed: 1})
	mgr := NewManager(ManagerConfig{
		IdleTimeout:  time.Minute,
		ReapInterval: time.Minute,
		Detector:     vad.Config{SampleRate: testSampleRate},
	}, engine, st, nil, testLogger())
	defer st.Close()

	sessions := make([]*Session, 0, 5)
	for i := 0; i < 5; i++ {
		sess, err := mgr.CreateSession(context.Background())
		if err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
		sessions = append(sessions, sess)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if got := mgr.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() after shutdown = %d, want 0", got)
	}
	for i, sess := range sessions {
		if got := sess.State(); got != store.StateClosed {
			t.Errorf("session %d state = %v, want %v", i, got, store.StateClosed)
		}
	}
}

func TestManagerRegistersRecordsInStore(t *testing.T) {
	st := store.NewMemoryStore(0)
	engine := asr.NewMockEngine(asr.MockConfig{Seed: 1})
	mgr := NewManager(ManagerConfig{
		IdleTimeout:  time.Minute,
		ReapInterval: time.Minute,
		Detector:     vad.Config{SampleRate: testSampleRate},
	}, engine, st, nil, testLogger())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
		_ = st.Close()
	}()

	sess, err := mgr.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	rec, err := st.Get(context.Background(), sess.ID())
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if rec.Owner != mgr.OwnerID() {
		t.Errorf("record owner = %q, want %q", rec.Owner, mgr.OwnerID())
	}

	if err := mgr.CloseSession(context.Background(), sess.ID()); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if _, err := st.Get(context.Background(), sess.ID()); !errors.Is(err, store.ErrRecordNotFound) {
		t.Errorf("store.Get after close error = %v, want ErrRecordNotFound", err)
	}
}
