// Package task implements the asynchronous task engine: a lane-prioritized
// queue, a fixed worker pool with retry and dead-letter handling, durable
// task records with compare-and-swap state transitions, and per-conversation
// lease locks that serialize execution.
package task
