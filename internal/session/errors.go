package session

import "errors"

var (
	// ErrAlreadyInProgress is returned when initiate is called while another
	// provisioning attempt for the same session id is still pending.
	ErrAlreadyInProgress = errors.New("session provisioning already in progress")

	// ErrProvisioningTimeout is returned when neither a pairing code nor
	// readiness arrived within the configured bound. The session entry has
	// been cleaned up; the caller may retry initiate.
	ErrProvisioningTimeout = errors.New("session provisioning timed out")

	// ErrAuthFailed is returned when the client rejected the stored
	// credentials (or was logged out mid-provisioning).
	ErrAuthFailed = errors.New("session authentication failed")

	// ErrNotConnected is returned for operations that require a Connected
	// session.
	ErrNotConnected = errors.New("session not connected")

	// ErrTerminated is returned to a pending initiate whose session was
	// terminated before provisioning completed.
	ErrTerminated = errors.New("session terminated")
)
