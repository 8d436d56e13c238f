// Package task implements the background task execution and retry engine:
// the task lifecycle state machine, error classification, backoff policy,
// progress reporting, handler dispatch, and the polling worker loop.
package task
