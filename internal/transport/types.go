package transport

import "context"

type EventKind string

const (
	// EventCode carries a fresh pairing code to be rendered for scanning.
	EventCode EventKind = "code"
	// EventReady signals the client is authenticated and usable.
	EventReady EventKind = "ready"
	// EventAuthFailure signals the stored credentials were rejected.
	EventAuthFailure EventKind = "auth_failure"
	// EventLoggedOut signals the session was remotely logged out or the
	// stream was taken over by another device.
	EventLoggedOut EventKind = "logged_out"
)

// Event is one item on a client's lifecycle stream.
type Event struct {
	Kind EventKind

	// Code is set for EventCode.
	Code string
	// Identity is set for EventReady.
	Identity *Identity
	// Reason is set for EventAuthFailure and EventLoggedOut.
	Reason string
}

// Identity describes the account a connected session is bound to.
type Identity struct {
	DisplayName string `json:"display_name"`
	Address     string `json:"address"`
}

// Attachment references an uploaded file to deliver alongside (or instead of)
// message text.
type Attachment struct {
	Path     string
	FileName string
	MimeType string
}

// Client is one live connection to the messaging backend.
//
// Initialize starts asynchronous provisioning; progress is reported on
// Events(). The channel is closed by Destroy. Implementations are not assumed
// safe for concurrent outbound calls on one connection; callers serialize
// sends per client.
type Client interface {
	Initialize(ctx context.Context) error
	Events() <-chan Event
	Ready() bool

	IsRegistered(ctx context.Context, canonical string) (bool, error)
	SendText(ctx context.Context, canonical, text string) (deliveryID string, err error)
	SendAttachment(ctx context.Context, canonical string, att Attachment, caption string) (deliveryID string, err error)

	// Destroy tears the connection down and closes the event stream.
	// It is idempotent.
	Destroy(ctx context.Context) error
}

// Factory constructs clients bound to a per-session persisted credential
// store, and purges that store when a session is terminated.
type Factory interface {
	New(ctx context.Context, sessionID string) (Client, error)
	Purge(sessionID string) error
}
