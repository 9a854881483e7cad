package ultrasync

import "errors"

var (
	// ErrLoginFailed is returned when the panel rejects the credentials or
	// the login pages cannot be parsed.
	ErrLoginFailed = errors.New("panel login failed")

	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("not logged in to panel")

	// ErrNotRunning is returned by commands before Start.
	ErrNotRunning = errors.New("client not running")

	// ErrStopped is returned once the client has been stopped.
	ErrStopped = errors.New("client stopped")

	ErrInvalidScene = errors.New("invalid scene")
	ErrInvalidArea  = errors.New("invalid area")
	ErrInvalidZone  = errors.New("invalid zone")
)
