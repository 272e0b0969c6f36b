// Package metrics provides Prometheus metrics for the transcription gateway.
package metrics
