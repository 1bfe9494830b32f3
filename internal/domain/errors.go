package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.
// Store backends wrap these so callers can classify with errors.Is.

var (
	// Connectivity errors (retryable)
	ErrConnectivity = errors.New("remote store unreachable")
	ErrTimeout      = errors.New("remote store request timed out")

	// Authorization errors (fatal, surfaced immediately)
	ErrNotSignedIn      = errors.New("no signed-in user")
	ErrPermissionDenied = errors.New("permission denied")

	// Conflict / invalid errors (fatal)
	ErrInvalidDocument    = errors.New("malformed document")
	ErrConflict           = errors.New("transaction conflict")
	ErrInvalidTransaction = errors.New("invalid transaction usage")
	ErrRemote             = errors.New("remote store failure")

	// Lookup
	ErrNotFound = errors.New("document not found")

	// Engine errors
	ErrBusy       = errors.New("another update is still in flight")
	ErrSuperseded = errors.New("operation superseded")

	// Input errors
	ErrInvalidSlot   = errors.New("invalid prayer slot")
	ErrInvalidStatus = errors.New("invalid prayer status")
)
