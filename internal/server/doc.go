// Package server implements the WebSocket streaming endpoint and the HTTP
// monitoring API for the transcription gateway.
package server
