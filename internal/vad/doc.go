// Package vad provides energy-based speech/silence classification and
// utterance endpoint detection over buffered PCM audio frames.
package vad
