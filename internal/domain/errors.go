package domain

import "errors"

var (
	// ErrInvalidRequest means a required request field is missing or malformed.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound means the export type is unknown or disabled.
	ErrNotFound = errors.New("export type not found")
	// ErrSourceUnavailable means the data adapter could not be reached.
	ErrSourceUnavailable = errors.New("data source unavailable")
	// ErrCircuitOpen means a circuit breaker rejected the call. It is retryable.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrRenderFailure means the rendering collaborator failed.
	ErrRenderFailure = errors.New("render failure")
	// ErrTimeout means a job exceeded its time budget.
	ErrTimeout = errors.New("export timed out")
)
