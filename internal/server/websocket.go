package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yueh-ai/voice-to-text/internal/config"
	"github.com/yueh-ai/voice-to-text/internal/metrics"
	"github.com/yueh-ai/voice-to-text/internal/outbound"
	"github.com/yueh-ai/voice-to-text/internal/protocol"
	"github.com/yueh-ai/voice-to-text/internal/session"
)

// StreamPath is the WebSocket endpoint clients connect to.
const StreamPath = "/v1/stream"

// WSServer accepts client WebSocket connections and drives one session per
// connection: inbound frames through the session, results out through a
// bounded per-connection outbound channel.
type WSServer struct {
	server   *http.Server
	upgrader websocket.Upgrader

	manager *session.Manager
	config  *config.Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	// Statistics
	connectionsTotal uint64
	statsMu          sync.Mutex
}

// WSStats represents WebSocket server statistics.
type WSStats struct {
	ConnectionsTotal uint64 `json:"connections_total"`
	ActiveSessions   int    `json:"active_sessions"`
}

// NewWSServer creates the streaming WebSocket server.
func NewWSServer(cfg *config.Config, manager *session.Manager, m *metrics.Metrics, logger *slog.Logger) *WSServer {
	s := &WSServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// The gateway sits behind its own auth boundary; origin
			// enforcement belongs there.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		manager: manager,
		config:  cfg,
		metrics: m,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(StreamPath, s.handleStream)

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.WSPort),
		Handler:     mux,
		ReadTimeout: 0, // Long-lived streaming connections
	}

	return s
}

// Start begins serving WebSocket connections in a background goroutine.
func (s *WSServer) Start() error {
	s.logger.Info("Starting WebSocket streaming server",
		slog.String("address", s.server.Addr),
		slog.String("path", StreamPath),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the WebSocket server.
func (s *WSServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping WebSocket streaming server...")
	return s.server.Shutdown(ctx)
}

// GetStats returns current server statistics.
func (s *WSServer) GetStats() WSStats {
	s.statsMu.Lock()
	total := s.connectionsTotal
	s.statsMu.Unlock()

	return WSStats{
		ConnectionsTotal: total,
		ActiveSessions:   s.manager.ActiveCount(),
	}
}

// handleStream upgrades the connection and runs the session loop until the
// client stops, disconnects, falls too far behind, or errors out.
func (s *WSServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	s.statsMu.Lock()
	s.connectionsTotal++
	s.statsMu.Unlock()

	sess, err := s.manager.CreateSession(r.Context())
	if err != nil {
		s.rejectConnection(conn, err)
		return
	}

	s.logger.Info("Stream connection established",
		slog.String("session_id", sess.ID()),
		slog.String("remote_addr", r.RemoteAddr),
	)

	s.runSession(conn, sess)
}

// rejectConnection tells the client why the session was refused and closes
// with a policy violation code. No session state exists at this point.
func (s *WSServer) rejectConnection(conn *websocket.Conn, cause error) {
	defer conn.Close()

	code := protocol.CodeSessionLimit
	message := "session limit reached"
	if !errors.Is(cause, session.ErrSessionLimit) {
		code = protocol.CodeInvalidMessage
		message = "session could not be created"
	}

	s.logger.Warn("Rejecting stream connection",
		slog.String("code", code),
		slog.String("error", cause.Error()),
	)

	if payload, err := protocol.NewError(code, message).Encode(); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}

	closeMsg := websocket.FormatCloseMessage(protocol.ClosePolicyViolation, message)
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
}

// runSession owns the connection for the lifetime of one session. All exit
// paths converge on the deferred cleanup: outbound drain stopped, session
// closed and unregistered, connection closed.
func (s *WSServer) runSession(conn *websocket.Conn, sess *session.Session) {
	writeMu := &sync.Mutex{}
	write := func(ctx context.Context, payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()

		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(s.config.Outbound.GetWriteTimeout())
		}
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	channel := outbound.NewChannel(outbound.Config{
		Capacity:            s.config.Outbound.QueueSize,
		WriteTimeout:        s.config.Outbound.GetWriteTimeout(),
		SlowClientThreshold: s.config.Outbound.SlowClientThreshold,
	}, write, s.logger)

	defer func() {
		channel.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.manager.CloseSession(ctx, sess.ID()); err != nil {
			s.logger.Warn("Session cleanup failed",
				slog.String("session_id", sess.ID()),
				slog.String("error", err.Error()),
			)
		}

		conn.Close()
	}()

	// Watch for the slow-client signal; closing the connection unblocks the
	// read loop below.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-channel.Terminated():
			if s.metrics != nil {
				s.metrics.RecordSlowClientDisconnect()
			}
			s.logger.Warn("Disconnecting slow client",
				slog.String("session_id", sess.ID()),
			)
			closeMsg := websocket.FormatCloseMessage(protocol.ClosePolicyViolation, "client too slow")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
			conn.Close()
		case <-watchDone:
		}
	}()

	s.enqueue(channel, sess, protocol.NewSessionStart(sess.ID()))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("Stream connection closed unexpectedly",
					slog.String("session_id", sess.ID()),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.sendParseError(channel, sess, err)
			continue
		}

		switch msg.Type {
		case protocol.TypeStop:
			s.logger.Info("Client requested stop",
				slog.String("session_id", sess.ID()),
			)
			return

		case protocol.TypeAudioChunk:
			if !s.processChunk(channel, sess, msg.Audio) {
				return
			}
		}
	}
}

// processChunk validates and runs one audio chunk through the session,
// queueing whatever result comes back. Returns false when the session can no
// longer accept audio.
func (s *WSServer) processChunk(channel *outbound.Channel, sess *session.Session, audio []byte) bool {
	if len(audio) > s.config.Server.MaxChunkBytes {
		if s.metrics != nil {
			s.metrics.RecordChunkRejected()
		}
		s.enqueue(channel, sess, protocol.NewError(protocol.CodeChunkTooLarge,
			fmt.Sprintf("chunk exceeds %d bytes", s.config.Server.MaxChunkBytes)))
		return true
	}

	start := time.Now()
	result, err := sess.ProcessChunk(context.Background(), audio)
	if err != nil {
		if errors.Is(err, session.ErrSessionClosing) {
			s.enqueue(channel, sess, protocol.NewError(protocol.CodeSessionClosing, "session is closing"))
			return false
		}

		if s.metrics != nil {
			s.metrics.RecordResultError()
		}
		s.logger.Error("Chunk processing failed",
			slog.String("session_id", sess.ID()),
			slog.String("error", err.Error()),
		)
		s.enqueue(channel, sess, protocol.NewError(protocol.CodeInvalidAudio, "transcription failed"))
		return true
	}

	if s.metrics != nil {
		s.metrics.RecordChunkAccepted(len(audio))
	}

	if result.Final {
		if s.metrics != nil {
			s.metrics.RecordFinalResult()
		}
		s.enqueue(channel, sess, protocol.NewFinal(time.Now()))

		// Push the updated counters out so other instances see them.
		s.manager.SyncSession(context.Background(), sess)
		return true
	}

	if s.metrics != nil {
		s.metrics.RecordPartialResult(time.Since(start).Seconds())
	}
	s.enqueue(channel, sess, protocol.NewPartial(result.Text, time.Now()))
	return true
}

// sendParseError relays a protocol parse failure to the client.
func (s *WSServer) sendParseError(channel *outbound.Channel, sess *session.Session, err error) {
	if s.metrics != nil {
		s.metrics.RecordResultError()
	}

	var parseErr *protocol.ParseError
	if !errors.As(err, &parseErr) {
		parseErr = &protocol.ParseError{Code: protocol.CodeInvalidMessage, Message: "invalid message"}
	}

	s.logger.Debug("Rejected client message",
		slog.String("session_id", sess.ID()),
		slog.String("code", parseErr.Code),
	)
	s.enqueue(channel, sess, protocol.NewError(parseErr.Code, parseErr.Message))
}

// enqueue encodes and queues one server message. Drops are the outbound
// channel's business; encoding failures are ours and only logged.
func (s *WSServer) enqueue(channel *outbound.Channel, sess *session.Session, msg *protocol.ServerMessage) {
	payload, err := msg.Encode()
	if err != nil {
		s.logger.Error("Failed to encode server message",
			slog.String("session_id", sess.ID()),
			slog.String("type", msg.Type),
			slog.String("error", err.Error()),
		)
		return
	}

	if !channel.Enqueue(payload) && s.metrics != nil {
		s.metrics.RecordOutboundDropped()
	}
}
