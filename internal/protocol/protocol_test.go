package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseClientMessageAudioChunk(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03, 0x04}
	raw := []byte(`{"type":"audio_chunk","data":"` + base64.StdEncoding.EncodeToString(audio) + `"}`)

	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("Failed to parse audio chunk: %v", err)
	}

	if msg.Type != TypeAudioChunk {
		t.Errorf("Expected type %s, got %s", TypeAudioChunk, msg.Type)
	}

	if len(msg.Audio) != len(audio) {
		t.Errorf("Expected %d audio bytes, got %d", len(audio), len(msg.Audio))
	}

	for i, b := range audio {
		if msg.Audio[i] != b {
			t.Errorf("Audio byte %d: expected 0x%02x, got 0x%02x", i, b, msg.Audio[i])
		}
	}
}

func TestParseClientMessageStop(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"stop"}`))
	if err != nil {
		t.Fatalf("Failed to parse stop message: %v", err)
	}

	if msg.Type != TypeStop {
		t.Errorf("Expected type %s, got %s", TypeStop, msg.Type)
	}

	if msg.Audio != nil {
		t.Errorf("Expected no audio on stop message, got %d bytes", len(msg.Audio))
	}
}

func TestParseClientMessageErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCode string
	}{
		{
			name:     "invalid JSON",
			input:    `{not json`,
			wantCode: CodeInvalidMessage,
		},
		{
			name:     "missing type",
			input:    `{"data":"aGVsbG8="}`,
			wantCode: CodeInvalidMessage,
		},
		{
			name:     "unknown type",
			input:    `{"type":"video_chunk"}`,
			wantCode: CodeInvalidMessage,
		},
		{
			name:     "malformed base64",
			input:    `{"type":"audio_chunk","data":"!!!not-base64!!!"}`,
			wantCode: CodeInvalidAudio,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseClientMessage([]byte(tt.input))
			if err == nil {
				t.Fatalf("Expected error, got message %+v", msg)
			}

			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("Expected *ParseError, got %T", err)
			}

			if parseErr.Code != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, parseErr.Code)
			}
		})
	}
}

func TestParseClientMessageEmptyAudio(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"audio_chunk","data":""}`))
	if err != nil {
		t.Fatalf("Empty audio data should parse: %v", err)
	}

	if len(msg.Audio) != 0 {
		t.Errorf("Expected empty audio, got %d bytes", len(msg.Audio))
	}
}

func TestServerMessageEncode(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	tests := []struct {
		name string
		msg  *ServerMessage
		want map[string]interface{}
	}{
		{
			name: "session start",
			msg:  NewSessionStart("abc-123"),
			want: map[string]interface{}{"type": TypeSessionStart, "session_id": "abc-123"},
		},
		{
			name: "partial",
			msg:  NewPartial("hello world", now),
			want: map[string]interface{}{"type": TypePartial, "text": "hello world", "timestamp": float64(1700000000000)},
		},
		{
			name: "final",
			msg:  NewFinal(now),
			want: map[string]interface{}{"type": TypeFinal, "timestamp": float64(1700000000000)},
		},
		{
			name: "error",
			msg:  NewError(CodeSessionLimit, "maximum sessions reached"),
			want: map[string]interface{}{"type": TypeError, "code": CodeSessionLimit, "message": "maximum sessions reached"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.msg.Encode()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			var decoded map[string]interface{}
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("Encoded message is not valid JSON: %v", err)
			}

			if len(decoded) != len(tt.want) {
				t.Errorf("Expected %d fields, got %d: %v", len(tt.want), len(decoded), decoded)
			}

			for key, want := range tt.want {
				if decoded[key] != want {
					t.Errorf("Field %s: expected %v, got %v", key, want, decoded[key])
				}
			}
		})
	}
}

func TestFinalMessageHasNoText(t *testing.T) {
	data, err := NewFinal(time.Now()).Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}

	if _, ok := decoded["text"]; ok {
		t.Error("Final message should not carry a text field")
	}
}
