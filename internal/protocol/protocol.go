package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Client-to-server message types.
const (
	TypeAudioChunk = "audio_chunk"
	TypeStop       = "stop"
)

// Server-to-client message types.
const (
	TypeSessionStart = "session_start"
	TypePartial      = "partial"
	TypeFinal        = "final"
	TypeError        = "error"
)

// Error codes carried by error messages.
const (
	CodeSessionLimit   = "SESSION_LIMIT"
	CodeChunkTooLarge  = "CHUNK_TOO_LARGE"
	CodeInvalidAudio   = "INVALID_AUDIO"
	CodeSessionClosing = "SESSION_CLOSING"
	CodeInvalidMessage = "INVALID_MESSAGE"
)

// ClosePolicyViolation is the WebSocket close code used when a connection is
// rejected at the session limit or terminated for persistent slowness.
const ClosePolicyViolation = 1008

// ClientMessage is a decoded client-to-server message. Exactly one variant is
// populated based on Type: audio chunks carry decoded Audio bytes, stop
// messages carry nothing.
type ClientMessage struct {
	Type  string
	Audio []byte
}

// rawClientMessage is the wire shape before base64 decoding.
type rawClientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// ServerMessage is a server-to-client message. Fields are populated per Type;
// unused fields are omitted from the encoded JSON.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
}

// ParseError describes a client message that could not be decoded. Code maps
// directly onto the wire error codes so handlers can relay it verbatim.
type ParseError struct {
	Code    string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ParseClientMessage decodes and validates a single client frame. Audio data
// is base64-decoded here so downstream components only ever see raw PCM
// bytes. Unknown or missing type tags and malformed base64 are rejected with
// a *ParseError carrying the wire error code.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var raw rawClientMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Code: CodeInvalidMessage, Message: "invalid JSON"}
	}

	switch raw.Type {
	case TypeAudioChunk:
		audio, err := base64.StdEncoding.DecodeString(raw.Data)
		if err != nil {
			return nil, &ParseError{Code: CodeInvalidAudio, Message: "invalid base64 audio data"}
		}
		return &ClientMessage{Type: TypeAudioChunk, Audio: audio}, nil

	case TypeStop:
		return &ClientMessage{Type: TypeStop}, nil

	case "":
		return nil, &ParseError{Code: CodeInvalidMessage, Message: "missing message type"}

	default:
		return nil, &ParseError{Code: CodeInvalidMessage, Message: fmt.Sprintf("unknown message type: %s", raw.Type)}
	}
}

// NewSessionStart builds the greeting sent once after a session is created.
func NewSessionStart(sessionID string) *ServerMessage {
	return &ServerMessage{Type: TypeSessionStart, SessionID: sessionID}
}

// NewPartial builds a non-final transcription result message.
func NewPartial(text string, at time.Time) *ServerMessage {
	return &ServerMessage{Type: TypePartial, Text: text, Timestamp: at.UnixMilli()}
}

// NewFinal builds an utterance-boundary marker message.
func NewFinal(at time.Time) *ServerMessage {
	return &ServerMessage{Type: TypeFinal, Timestamp: at.UnixMilli()}
}

// NewError builds an error message with a wire error code.
func NewError(code, message string) *ServerMessage {
	return &ServerMessage{Type: TypeError, Code: code, Message: message}
}

// Encode serializes a server message for transmission.
func (m *ServerMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.Type, err)
	}
	return data, nil
}
