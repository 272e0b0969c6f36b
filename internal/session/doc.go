// Package session implements per-stream transcription sessions and the
// manager that owns their lifecycle: creation with limit enforcement,
// chunk processing with voice-activity endpointing, idle reaping, and
// store-backed visibility across gateway instances.
package session
