package models

import "fmt"

// Domain-level error taxonomy for the session lifecycle and analysis
// pipeline. These errors carry no HTTP-specific information; the HTTP
// layer maps them to status codes.

// ValidationError indicates bad input: the caller's fault.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Detail
}

// NotFoundError indicates the referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// ConflictError indicates an illegal state transition or a write that
// would violate a single-write invariant (e.g. re-binding a video path,
// transitioning out of a terminal state, losing a claim race).
type ConflictError struct {
	Detail string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Detail
}

// StaleStateError indicates an advisory write (progress telemetry)
// arrived after the session reached a terminal state, or behind a value
// already recorded.
type StaleStateError struct {
	SessionID string
}

func (e *StaleStateError) Error() string {
	return "stale write discarded for session " + e.SessionID
}

// ArtifactMissingError indicates the staged video for a session is
// absent from storage.
type ArtifactMissingError struct {
	Path string
}

func (e *ArtifactMissingError) Error() string {
	return "artifact missing from storage: " + e.Path
}

// PayloadTooLargeError indicates the video exceeds a size ceiling.
type PayloadTooLargeError struct {
	SizeBytes int64
	MaxBytes  int64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("video too large: %.2f MB (max %.2f MB)",
		float64(e.SizeBytes)/(1024*1024), float64(e.MaxBytes)/(1024*1024))
}

// ProviderTimeoutError indicates the AI provider never signalled the
// uploaded artifact ready within the bounded retry budget.
type ProviderTimeoutError struct {
	Provider string
	Attempts int
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("%s video processing timed out after %d attempts", e.Provider, e.Attempts)
}

// MalformedProviderOutputError indicates the provider response could
// not be decoded as a valid analysis report. Nothing is persisted.
type MalformedProviderOutputError struct {
	Detail string
}

func (e *MalformedProviderOutputError) Error() string {
	return "malformed provider output: " + e.Detail
}

// StorageUnavailableError indicates the backing store for a gate check
// was unreachable. Rate-limit and quota paths resolve it to "allow"
// (fail open) and never surface it to callers.
type StorageUnavailableError struct {
	Detail string
}

func (e *StorageUnavailableError) Error() string {
	return "storage unavailable: " + e.Detail
}

// PollTimeoutError indicates the client stopped watching a session that
// never reached a terminal state within the polling budget. The session
// itself may still complete later.
type PollTimeoutError struct {
	SessionID string
	Attempts  int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("session %s still processing after %d polls", e.SessionID, e.Attempts)
}
