// Package asr defines the transcription engine interface and its two
// implementations: a mock generator for development and load testing, and an
// HTTP client for an external transcription API with retry and rate limiting.
package asr
