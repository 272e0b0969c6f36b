package asr

import "context"

// Engine transcribes audio to text. Implementations must be safe for
// concurrent use; per-utterance state, if any, is the caller's concern.
type Engine interface {
	// TranscribeChunk transcribes a single audio chunk and returns the
	// recognized text for it.
	TranscribeChunk(ctx context.Context, audio []byte) (string, error)

	// Finalize flushes any engine-side utterance state and returns trailing
	// text, if the engine produces any.
	Finalize(ctx context.Context) (string, error)
}
