package outbound

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default channel tuning values.
const (
	DefaultCapacity            = 100
	DefaultWriteTimeout        = 5 * time.Second
	DefaultSlowClientThreshold = 10
)

// WriteFunc performs the actual network write of one encoded message. It must
// honor ctx cancellation; a timed-out write is counted as a dropped message.
type WriteFunc func(ctx context.Context, payload []byte) error

// Config contains outbound channel configuration.
type Config struct {
	Capacity            int           // Max pending messages before drops
	WriteTimeout        time.Duration // Per-write deadline in the drain loop
	SlowClientThreshold int           // Consecutive rejections before termination
}

// Channel decouples result production from slow network writes with a
// bounded per-connection queue. Enqueue never blocks: at capacity the message
// is dropped and a consecutive-rejection counter rises; once it reaches the
// slow-client threshold the channel raises a one-shot terminate signal that
// the owning connection handler must act on.
type Channel struct {
	queue  chan []byte
	write  WriteFunc
	logger *slog.Logger

	capacity            int
	writeTimeout        time.Duration
	slowClientThreshold int

	// Slow-client tracking
	consecutiveFull int
	dropped         uint64
	writeFailures   uint64
	counterMu       sync.Mutex

	terminate     chan struct{}
	terminateOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Stats represents channel counters for inspection.
type Stats struct {
	Pending       int    `json:"pending"`
	Capacity      int    `json:"capacity"`
	Dropped       uint64 `json:"dropped"`
	WriteFailures uint64 `json:"write_failures"`
}

// NewChannel creates an outbound channel and starts its drain goroutine.
func NewChannel(cfg Config, write WriteFunc, logger *slog.Logger) *Channel {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.SlowClientThreshold <= 0 {
		cfg.SlowClientThreshold = DefaultSlowClientThreshold
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Channel{
		queue:               make(chan []byte, cfg.Capacity),
		write:               write,
		logger:              logger,
		capacity:            cfg.Capacity,
		writeTimeout:        cfg.WriteTimeout,
		slowClientThreshold: cfg.SlowClientThreshold,
		terminate:           make(chan struct{}),
		ctx:                 ctx,
		cancel:              cancel,
	}

	c.wg.Add(1)
	go c.drainLoop()

	return c
}

// Enqueue queues a message for delivery. Returns false if the queue is at
// capacity; the message is dropped, never blocked on.
func (c *Channel) Enqueue(payload []byte) bool {
	select {
	case c.queue <- payload:
		c.counterMu.Lock()
		c.consecutiveFull = 0
		c.counterMu.Unlock()
		return true
	default:
	}

	c.counterMu.Lock()
	c.consecutiveFull++
	c.dropped++
	full := c.consecutiveFull
	c.counterMu.Unlock()

	if full >= c.slowClientThreshold {
		c.terminateOnce.Do(func() {
			c.logger.Warn("Slow client threshold reached, signaling termination",
				slog.Int("consecutive_rejections", full),
				slog.Int("capacity", c.capacity),
			)
			close(c.terminate)
		})
	}

	return false
}

// Terminated is closed once the slow-client threshold has been reached. The
// caller must close the connection; the channel itself only signals.
func (c *Channel) Terminated() <-chan struct{} {
	return c.terminate
}

// GetStats returns current channel counters.
func (c *Channel) GetStats() Stats {
	c.counterMu.Lock()
	defer c.counterMu.Unlock()

	return Stats{
		Pending:       len(c.queue),
		Capacity:      c.capacity,
		Dropped:       c.dropped,
		WriteFailures: c.writeFailures,
	}
}

// Close stops the drain loop and waits for it to finish. Pending messages
// are discarded.
func (c *Channel) Close() {
	c.cancel()
	c.wg.Wait()
}

// drainLoop delivers queued messages in FIFO order. A failed or timed-out
// write drops that message and moves on; persistent failure surfaces through
// the slow-client path, not here.
func (c *Channel) drainLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return

		case payload := <-c.queue:
			writeCtx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := c.write(writeCtx, payload)
			cancel()

			if err != nil {
				c.counterMu.Lock()
				c.writeFailures++
				c.counterMu.Unlock()

				c.logger.Debug("Outbound write failed, message dropped",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
