package domain

import "errors"

var (
	// ErrConflict means a version check or claim race was lost; the caller
	// should refresh its view and retry.
	ErrConflict = errors.New("version conflict")

	// ErrInvalidState means the operation is not valid for the current
	// listing or session state. Not retryable.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrTokenMismatch means the presented code does not match the
	// outstanding token. Recoverable by re-scanning.
	ErrTokenMismatch = errors.New("token mismatch")

	// ErrTokenExpired means the token is past its ttl. Recoverable by
	// reissuing through a new handoff request.
	ErrTokenExpired = errors.New("token expired")

	// ErrRemoteUnavailable marks a transient remote-store failure; the
	// mutation stays queued and is retried with backoff.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrMalformedPayload marks data the remote store permanently rejects.
	ErrMalformedPayload = errors.New("malformed payload")

	ErrNotFound = errors.New("not found")
)
