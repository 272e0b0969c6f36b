// Package outbound implements the backpressure-aware per-connection message
// queue that shields result production from slow network consumers.
package outbound
