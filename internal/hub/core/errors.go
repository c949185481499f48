package core

import "errors"

// Error taxonomy of the dispatch engine. Adapters wrap these with context via
// fmt.Errorf("...: %w", err); callers test with errors.Is.
var (
	// ErrInvalidTarget means the device is unknown to the tenant. Rejected at
	// creation, never retried.
	ErrInvalidTarget = errors.New("invalid target device")

	// ErrInvalidPayload means the payload does not match the shape required
	// by the command kind. Rejected at creation.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrNotFound means no command exists with the given id.
	ErrNotFound = errors.New("command not found")

	// ErrForbidden means the command exists but belongs to another tenant.
	ErrForbidden = errors.New("forbidden")

	// ErrStaleTransition means a compare-and-swap lost a state race. The
	// caller must re-read and decide whether to retry; the store never
	// silently overwrites.
	ErrStaleTransition = errors.New("stale transition")

	// ErrUnknownCommand means a result report references nothing the system
	// issued (or the wrong device). Logged and dropped.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrTransportUnavailable means a publish attempt failed. Non-fatal: the
	// command falls back to polling.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrExpired means the deadline elapsed with no channel success.
	// Terminal; surfaced to the operator as a failure.
	ErrExpired = errors.New("command expired")
)
