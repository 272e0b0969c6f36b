// Package store abstracts where session metadata lives: an in-process map
// for single-instance deployments or a shared Redis store that makes session
// existence visible across multiple stateless instances.
package store
