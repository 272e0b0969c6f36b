package vad

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// Default tuning values for the detector.
const (
	DefaultFrameDuration   = 20 * time.Millisecond
	DefaultSilenceDuration = 300 * time.Millisecond
	DefaultMaxBufferBytes  = 64 * 1024
	DefaultEnergyThreshold = 500.0
)

// Config contains endpoint detector configuration.
type Config struct {
	SampleRate      int           // Audio sample rate in Hz (16-bit mono PCM assumed)
	FrameDuration   time.Duration // Classification frame duration (10, 20, or 30 ms)
	SilenceDuration time.Duration // Accumulated silence required to finalize an utterance
	MaxBufferBytes  int           // Hard bound on the internal accumulation buffer
	EnergyThreshold float64       // RMS energy above which a frame counts as speech
}

// Detector classifies incoming audio as speech or silence and signals
// utterance boundaries once enough consecutive silence has accumulated.
//
// Audio does not need to arrive frame-aligned: bytes are accumulated in an
// internal buffer and classification runs on the most recent complete frame.
// The buffer is hard-bounded; on overflow it is truncated to the most recent
// half of its capacity before appending. Losing stale audio under overload is
// preferred over unbounded growth.
type Detector struct {
	sampleRate      int
	frameSizeBytes  int
	silenceDuration time.Duration
	maxBufferBytes  int
	energyThreshold float64

	// Accumulation state
	buffer  []byte
	silence time.Duration

	// Statistics
	totalFrames  uint64
	speechFrames uint64

	mu sync.Mutex
}

// Stats represents detector statistics for monitoring.
type Stats struct {
	TotalFrames      uint64  `json:"total_frames"`
	SpeechFrames     uint64  `json:"speech_frames"`
	SpeechPercentage float64 `json:"speech_percentage"`
	BufferBytes      int     `json:"buffer_bytes"`
	SilenceMs        int64   `json:"silence_ms"`
}

// NewDetector creates a new endpoint detector.
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}

	switch cfg.FrameDuration {
	case 0:
		cfg.FrameDuration = DefaultFrameDuration
	case 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond:
	default:
		return nil, fmt.Errorf("frame duration must be 10ms, 20ms or 30ms, got %v", cfg.FrameDuration)
	}

	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = DefaultSilenceDuration
	}

	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = DefaultMaxBufferBytes
	}

	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = DefaultEnergyThreshold
	}

	samplesPerFrame := cfg.SampleRate * int(cfg.FrameDuration.Milliseconds()) / 1000
	frameSizeBytes := samplesPerFrame * 2 // 16-bit samples

	if frameSizeBytes > cfg.MaxBufferBytes {
		return nil, fmt.Errorf("buffer bound %d smaller than one frame (%d bytes)",
			cfg.MaxBufferBytes, frameSizeBytes)
	}

	return &Detector{
		sampleRate:      cfg.SampleRate,
		frameSizeBytes:  frameSizeBytes,
		silenceDuration: cfg.SilenceDuration,
		maxBufferBytes:  cfg.MaxBufferBytes,
		energyThreshold: cfg.EnergyThreshold,
		buffer:          make([]byte, 0, cfg.MaxBufferBytes),
	}, nil
}

// Accept consumes one chunk of audio and reports whether it contains speech.
// Chunks smaller than a full frame are buffered and optimistically treated as
// speech until a complete frame is available. A speech frame resets the
// accumulated silence duration.
func (d *Detector) Accept(chunk []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.append(chunk)

	if len(d.buffer) < d.frameSizeBytes {
		// Not enough audio for a classification frame yet. Assume speech so
		// the caller never drops leading audio.
		return true
	}

	frame := d.buffer[len(d.buffer)-d.frameSizeBytes:]
	isSpeech := rmsEnergy(frame) >= d.energyThreshold

	d.totalFrames++
	if isSpeech {
		d.speechFrames++
		d.silence = 0
	}

	return isSpeech
}

// AddSilence accumulates silence duration observed since the last speech
// frame. The counter is reset whenever Accept classifies a frame as speech.
func (d *Detector) AddSilence(dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silence += dur
}

// ShouldFinalize reports whether accumulated silence has reached the
// endpointing threshold. The signal stays raised until Reset is called, so a
// caller that consumes it must reset explicitly.
func (d *Detector) ShouldFinalize() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.silence >= d.silenceDuration
}

// Reset clears the accumulation buffer and silence counter. Called after
// every finalized utterance and on session close.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffer = d.buffer[:0]
	d.silence = 0
}

// BufferLen returns the current accumulation buffer length in bytes.
func (d *Detector) BufferLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffer)
}

// FrameSizeBytes returns the classification frame size in bytes.
func (d *Detector) FrameSizeBytes() int {
	return d.frameSizeBytes
}

// ChunkDuration converts a chunk byte length into its audio duration.
func (d *Detector) ChunkDuration(chunkBytes int) time.Duration {
	bytesPerSecond := d.sampleRate * 2
	return time.Duration(chunkBytes) * time.Second / time.Duration(bytesPerSecond)
}

// GetStats returns current detector statistics.
func (d *Detector) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	speechPercentage := float64(0)
	if d.totalFrames > 0 {
		speechPercentage = float64(d.speechFrames) / float64(d.totalFrames) * 100
	}

	return Stats{
		TotalFrames:      d.totalFrames,
		SpeechFrames:     d.speechFrames,
		SpeechPercentage: speechPercentage,
		BufferBytes:      len(d.buffer),
		SilenceMs:        d.silence.Milliseconds(),
	}
}

// append adds bytes to the buffer, enforcing the hard bound. When appending
// would exceed the bound, the buffer keeps only the most recent half of its
// capacity first. Deliberately lossy under overload.
func (d *Detector) append(chunk []byte) {
	if len(d.buffer)+len(chunk) > d.maxBufferBytes {
		keep := d.maxBufferBytes / 2
		if keep > len(d.buffer) {
			keep = len(d.buffer)
		}
		copy(d.buffer, d.buffer[len(d.buffer)-keep:])
		d.buffer = d.buffer[:keep]
	}

	if len(chunk) > d.maxBufferBytes-len(d.buffer) {
		// Chunk alone exceeds the remaining space. Keep its tail.
		chunk = chunk[len(chunk)-(d.maxBufferBytes-len(d.buffer)):]
	}

	d.buffer = append(d.buffer, chunk...)
}

// rmsEnergy computes the root-mean-square energy of a 16-bit little-endian
// PCM frame.
func rmsEnergy(frame []byte) float64 {
	sampleCount := len(frame) / 2
	if sampleCount == 0 {
		return 0
	}

	var energy float64
	for i := 0; i < sampleCount; i++ {
		sample := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		energy += float64(sample) * float64(sample)
	}

	return math.Sqrt(energy / float64(sampleCount))
}
