package session

import (
	"sync"
	"time"

	"wasend/internal/transport"
)

// Session is one registry entry. All fields are guarded by the owning
// Registry's mutex; the Manager is the only writer.
type Session struct {
	id string

	state    State
	client   transport.Client
	artifact *Artifact
	identity *transport.Identity

	createdAt        time.Time
	lastTransitionAt time.Time

	// pending is the one-shot completion for an in-flight initiate call.
	// Nil once resolved.
	pending *pending
}

// Snapshot is a copy-safe view of a session for status reads.
type Snapshot struct {
	ID               string              `json:"id"`
	State            State               `json:"state"`
	HasArtifact      bool                `json:"has_artifact"`
	Identity         *transport.Identity `json:"identity,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	LastTransitionAt time.Time           `json:"last_transition_at"`
}

// Registry is a concurrency-safe map of session id to session record.
// A missing entry is equivalent to StateDisconnected. It has no globals;
// tests construct isolated instances.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

// Snapshot returns a copy of the session record for id. The second return
// value is false when no entry exists (i.e. the session is Disconnected).
func (r *Registry) Snapshot(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Snapshot{ID: id, State: StateDisconnected}, false
	}
	return s.snapshotLocked(), true
}

// Snapshots returns a copy of every live session record.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.snapshotLocked())
	}
	return out
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:               s.id,
		State:            s.state,
		HasArtifact:      s.artifact != nil,
		CreatedAt:        s.createdAt,
		LastTransitionAt: s.lastTransitionAt,
	}
	if s.identity != nil {
		ident := *s.identity
		snap.Identity = &ident
	}
	return snap
}

// ---- one-shot initiate completion ----

type initiateOutcome struct {
	res InitiateResult
	err error
}

// pending is a single-fire completion signal: the first resolve wins, later
// calls are no-ops. The channel is buffered so resolving never blocks the
// event pump.
type pending struct {
	once sync.Once
	ch   chan initiateOutcome
}

func newPending() *pending {
	return &pending{ch: make(chan initiateOutcome, 1)}
}

func (p *pending) resolve(res InitiateResult, err error) {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.ch <- initiateOutcome{res: res, err: err}
	})
}
