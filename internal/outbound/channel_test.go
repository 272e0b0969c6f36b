package outbound

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDrainDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var written []string
	done := make(chan struct{})

	write := func(ctx context.Context, payload []byte) error {
		mu.Lock()
		written = append(written, string(payload))
		if len(written) == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	}

	c := NewChannel(Config{Capacity: 10}, write, testLogger())
	defer c.Close()

	for _, msg := range []string{"one", "two", "three"} {
		if !c.Enqueue([]byte(msg)) {
			t.Fatalf("Enqueue rejected %q with empty queue", msg)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for drain")
	}

	mu.Lock()
	defer mu.Unlock()
	expected := []string{"one", "two", "three"}
	for i, want := range expected {
		if written[i] != want {
			t.Errorf("Message %d: expected %q, got %q", i, want, written[i])
		}
	}
}

// blockedChannel returns a channel whose drain loop is stuck in a write and
// whose queue is full, plus a release function.
func blockedChannel(t *testing.T, capacity, threshold int) (*Channel, func()) {
	t.Helper()

	release := make(chan struct{})
	firstWrite := make(chan struct{})
	var once sync.Once

	write := func(ctx context.Context, payload []byte) error {
		once.Do(func() { close(firstWrite) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}

	c := NewChannel(Config{
		Capacity:            capacity,
		WriteTimeout:        time.Minute,
		SlowClientThreshold: threshold,
	}, write, testLogger())

	// One message occupies the drain loop.
	if !c.Enqueue([]byte("blocker")) {
		t.Fatal("First enqueue rejected")
	}
	select {
	case <-firstWrite:
	case <-time.After(2 * time.Second):
		t.Fatal("Drain loop never picked up first message")
	}

	// Fill the queue to capacity.
	for i := 0; i < capacity; i++ {
		if !c.Enqueue([]byte("fill")) {
			t.Fatalf("Enqueue %d rejected before capacity reached", i)
		}
	}

	return c, func() { close(release) }
}

func TestEnqueueRejectsAtCapacity(t *testing.T) {
	c, release := blockedChannel(t, 5, 100)
	defer func() {
		release()
		c.Close()
	}()

	if c.Enqueue([]byte("overflow")) {
		t.Error("Enqueue accepted a message beyond capacity")
	}

	stats := c.GetStats()
	if stats.Pending != 5 {
		t.Errorf("Expected 5 pending, got %d", stats.Pending)
	}
	if stats.Dropped != 1 {
		t.Errorf("Expected 1 dropped, got %d", stats.Dropped)
	}
}

func TestSlowClientTerminationSignal(t *testing.T) {
	threshold := 10
	c, release := blockedChannel(t, 3, threshold)
	defer func() {
		release()
		c.Close()
	}()

	for i := 0; i < threshold-1; i++ {
		if c.Enqueue([]byte("rejected")) {
			t.Fatalf("Enqueue %d unexpectedly accepted", i)
		}
		select {
		case <-c.Terminated():
			t.Fatalf("Terminate signal raised after %d rejections, threshold is %d", i+1, threshold)
		default:
		}
	}

	// Rejection number `threshold` trips the signal.
	c.Enqueue([]byte("rejected"))

	select {
	case <-c.Terminated():
	case <-time.After(time.Second):
		t.Fatal("Terminate signal not raised at threshold")
	}
}

func TestSuccessfulEnqueueResetsSlowClientCounter(t *testing.T) {
	var mu sync.Mutex
	blocked := true
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	write := func(ctx context.Context, payload []byte) error {
		once.Do(func() { close(started) })
		mu.Lock()
		b := blocked
		mu.Unlock()
		if b {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return nil
	}

	c := NewChannel(Config{
		Capacity:            1,
		WriteTimeout:        time.Minute,
		SlowClientThreshold: 5,
	}, write, testLogger())
	defer c.Close()

	c.Enqueue([]byte("blocker"))
	<-started
	c.Enqueue([]byte("fill"))

	// Four rejections, one short of the threshold.
	for i := 0; i < 4; i++ {
		c.Enqueue([]byte("rejected"))
	}

	// Unblock the writer so the queue drains, then a successful enqueue
	// resets the counter.
	mu.Lock()
	blocked = false
	mu.Unlock()
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if c.Enqueue([]byte("accepted")) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Queue never drained")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Four more rejections would only trip the signal if the counter had
	// not been reset.
	for i := 0; i < 4; i++ {
		c.Enqueue([]byte("rejected"))
	}

	select {
	case <-c.Terminated():
		t.Error("Terminate signal raised despite counter reset")
	default:
	}
}

func TestWriteTimeoutDropsMessage(t *testing.T) {
	delivered := make(chan string, 10)

	write := func(ctx context.Context, payload []byte) error {
		if string(payload) == "stuck" {
			<-ctx.Done()
			return ctx.Err()
		}
		delivered <- string(payload)
		return nil
	}

	c := NewChannel(Config{
		Capacity:     10,
		WriteTimeout: 20 * time.Millisecond,
	}, write, testLogger())
	defer c.Close()

	c.Enqueue([]byte("stuck"))
	c.Enqueue([]byte("after"))

	select {
	case msg := <-delivered:
		if msg != "after" {
			t.Errorf("Expected %q delivered after timeout, got %q", "after", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Drain loop did not survive a write timeout")
	}

	if c.GetStats().WriteFailures != 1 {
		t.Errorf("Expected 1 write failure, got %d", c.GetStats().WriteFailures)
	}
}
