// Package protocol defines the JSON wire messages exchanged with streaming
// clients. It handles tagged message decoding, base64 audio extraction, and
// the error/close codes used at the transport boundary.
package protocol
