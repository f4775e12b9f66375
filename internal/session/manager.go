package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wasend/internal/eventbus"
	"wasend/internal/transport"
	"wasend/pkg/logx"
)

// DefaultID is used when the caller omits a session id.
const DefaultID = "default"

const defaultProvisioningTimeout = 40 * time.Second

type Config struct {
	// ProvisioningTimeout bounds the wait for a pairing code or readiness
	// during Initiate. Zero means the default (40s).
	ProvisioningTimeout time.Duration
}

// Manager orchestrates session provisioning: it owns the registry, translates
// the client's asynchronous event stream into state transitions, and exposes
// the synchronous lifecycle operations.
type Manager struct {
	cfg     Config
	reg     *Registry
	factory transport.Factory
	bus     eventbus.Bus
	log     logx.Logger

	// pumps tracks per-session event-pump goroutines for Close().
	pumps sync.WaitGroup
}

// InitiateResult is the successful outcome of Initiate: either the session is
// already connected, or a scan artifact is waiting to be scanned.
type InitiateResult struct {
	Connected bool
	Identity  *transport.Identity
	Artifact  *Artifact
}

// StateChange is the bus payload for session transitions.
type StateChange struct {
	From   State  `json:"from"`
	To     State  `json:"to"`
	Reason string `json:"reason,omitempty"`
}

func NewManager(cfg Config, reg *Registry, factory transport.Factory, bus eventbus.Bus, log logx.Logger) *Manager {
	if cfg.ProvisioningTimeout <= 0 {
		cfg.ProvisioningTimeout = defaultProvisioningTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{cfg: cfg, reg: reg, factory: factory, bus: bus, log: log}
}

// Apply updates runtime tunables.
func (m *Manager) Apply(cfg Config) {
	if cfg.ProvisioningTimeout <= 0 {
		cfg.ProvisioningTimeout = defaultProvisioningTimeout
	}
	m.reg.mu.Lock()
	m.cfg = cfg
	m.reg.mu.Unlock()
}

// NormalizeID maps an empty session id to DefaultID.
func NormalizeID(id string) string {
	if id == "" {
		return DefaultID
	}
	return id
}

// Initiate provisions a session (or reports on an existing one).
//
// Outcomes:
//   - session connected and client usable: {Connected:true, Identity} without
//     re-provisioning
//   - scan artifact already pending: that artifact, not a regenerated one
//   - provisioning already in flight: ErrAlreadyInProgress
//   - otherwise a new client is constructed and Initiate suspends until the
//     first pairing code or readiness arrives, bounded by the provisioning
//     timeout.
func (m *Manager) Initiate(ctx context.Context, id string) (InitiateResult, error) {
	id = NormalizeID(id)

	m.reg.mu.Lock()
	timeout := m.cfg.ProvisioningTimeout
	for {
		s, ok := m.reg.sessions[id]
		if !ok {
			break
		}
		switch s.state {
		case StateConnected:
			if s.client != nil && s.client.Ready() {
				res := InitiateResult{Connected: true}
				if s.identity != nil {
					ident := *s.identity
					res.Identity = &ident
				}
				m.reg.mu.Unlock()
				return res, nil
			}
			// Connected entry with a dead client: tear it down and
			// re-provision. The lock is dropped for the teardown, so a
			// concurrent initiate may insert its own entry in the window;
			// the loop re-runs the entry check before this caller inserts.
			stale := m.removeLocked(s, "stale client")
			m.reg.mu.Unlock()
			m.teardown(stale)
			m.reg.mu.Lock()
			continue
		case StateAwaitingScan:
			if s.artifact != nil {
				art := *s.artifact
				m.reg.mu.Unlock()
				return InitiateResult{Artifact: &art}, nil
			}
			m.reg.mu.Unlock()
			return InitiateResult{}, ErrAlreadyInProgress
		case StateInitializing:
			m.reg.mu.Unlock()
			return InitiateResult{}, ErrAlreadyInProgress
		}
		break
	}

	now := time.Now()
	s := &Session{
		id:               id,
		state:            StateInitializing,
		createdAt:        now,
		lastTransitionAt: now,
		pending:          newPending(),
	}
	p := s.pending
	m.reg.sessions[id] = s
	m.reg.mu.Unlock()

	m.publish(id, StateDisconnected, StateInitializing, "initiate")
	m.log.Info("session provisioning started", logx.String("session", id))

	client, err := m.factory.New(ctx, id)
	if err != nil {
		m.dropEntry(s, "client construction failed")
		return InitiateResult{}, fmt.Errorf("construct client: %w", err)
	}

	// The session may have been terminated while the client was being built.
	m.reg.mu.Lock()
	if m.reg.sessions[id] != s {
		m.reg.mu.Unlock()
		m.destroyClient(client)
		return InitiateResult{}, ErrTerminated
	}
	s.client = client
	m.reg.mu.Unlock()

	m.pumps.Add(1)
	go func() {
		defer m.pumps.Done()
		m.pump(s, client)
	}()

	if err := client.Initialize(ctx); err != nil {
		m.ForceCleanup(context.Background(), id)
		return InitiateResult{}, fmt.Errorf("initialize client: %w", err)
	}

	// Race between the first pairing code and ready-without-code; the pending
	// one-shot guarantees exactly one resolution.
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-p.ch:
		return out.res, out.err
	case <-timer.C:
		m.log.Warn("session provisioning timed out",
			logx.String("session", id), logx.Duration("timeout", timeout))
		m.ForceCleanup(context.Background(), id)
		return InitiateResult{}, ErrProvisioningTimeout
	case <-ctx.Done():
		m.ForceCleanup(context.Background(), id)
		return InitiateResult{}, ctx.Err()
	}
}

// Sessions lists every live session record.
func (m *Manager) Sessions() []Snapshot {
	return m.reg.Snapshots()
}

// Status is a pure registry read; a missing entry reports Disconnected.
func (m *Manager) Status(id string) Snapshot {
	snap, _ := m.reg.Snapshot(NormalizeID(id))
	return snap
}

// Identity returns the connected identity for id, or nil.
func (m *Manager) Identity(id string) *transport.Identity {
	snap, ok := m.reg.Snapshot(NormalizeID(id))
	if !ok || snap.State != StateConnected {
		return nil
	}
	return snap.Identity
}

// Connected returns the live client for id when the session is Connected.
// The caller borrows the reference for one operation and must not retain it.
func (m *Manager) Connected(id string) (transport.Client, bool) {
	id = NormalizeID(id)
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()
	s, ok := m.reg.sessions[id]
	if !ok || s.state != StateConnected || s.client == nil {
		return nil, false
	}
	return s.client, true
}

// Terminate disconnects and removes the session. It is idempotent: calling it
// for an unknown id is a no-op. Client destruction and credential purging are
// best-effort; failures are logged, never propagated.
func (m *Manager) Terminate(ctx context.Context, id string) {
	id = NormalizeID(id)
	m.reg.mu.Lock()
	s, ok := m.reg.sessions[id]
	var removed *removed
	if ok {
		removed = m.removeLocked(s, "terminate")
	}
	m.reg.mu.Unlock()
	if !ok {
		m.log.Debug("terminate on absent session", logx.String("session", id))
		return
	}
	m.teardown(removed)
	m.log.Info("session terminated", logx.String("session", id))
}

// ForceCleanup removes the registry entry and credential artifacts even when
// client destruction fails or panics. It recovers a session stuck in any
// non-disconnected state after an unexpected failure.
func (m *Manager) ForceCleanup(ctx context.Context, id string) {
	id = NormalizeID(id)
	m.reg.mu.Lock()
	s, ok := m.reg.sessions[id]
	var removed *removed
	if ok {
		removed = m.removeLocked(s, "force cleanup")
	}
	m.reg.mu.Unlock()
	if ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("panic destroying client", logx.String("session", id), logx.Any("panic", r))
				}
			}()
			m.destroyClient(removed.client)
		}()
		removed.client = nil
		m.teardown(removed)
		m.log.Info("session force-cleaned", logx.String("session", id))
		return
	}
	// No entry, but stale credential artifacts may remain from a crash.
	if err := m.factory.Purge(id); err != nil {
		m.log.Warn("credential purge failed", logx.String("session", id), logx.Err(err))
	}
}

// Close terminates every session and waits for the event pumps to exit.
func (m *Manager) Close(ctx context.Context) {
	for _, snap := range m.reg.Snapshots() {
		m.Terminate(ctx, snap.ID)
	}
	done := make(chan struct{})
	go func() {
		m.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// ---- event handling ----

// pump consumes one client's event stream for the session's lifetime.
// It exits when the client is destroyed (channel closed).
func (m *Manager) pump(s *Session, client transport.Client) {
	for ev := range client.Events() {
		m.handleEvent(s, client, ev)
	}
}

func (m *Manager) handleEvent(s *Session, client transport.Client, ev transport.Event) {
	m.reg.mu.Lock()

	// Ignore events from a superseded or terminated client.
	cur, ok := m.reg.sessions[s.id]
	if !ok || cur != s || s.client != client {
		m.reg.mu.Unlock()
		return
	}

	next, ok := Next(s.state, ev.Kind)
	if !ok {
		m.reg.mu.Unlock()
		m.log.Debug("ignoring event",
			logx.String("session", s.id), logx.String("event", string(ev.Kind)), logx.String("state", string(s.state)))
		return
	}

	prev := s.state
	now := time.Now()

	switch ev.Kind {
	case transport.EventCode:
		art := renderArtifact(ev.Code, now)
		s.state = next
		s.artifact = art
		s.lastTransitionAt = now
		p := s.pending
		artCopy := *art
		m.reg.mu.Unlock()

		p.resolve(InitiateResult{Artifact: &artCopy}, nil)
		m.publish(s.id, prev, next, "pairing code received")
		m.log.Info("pairing code received", logx.String("session", s.id))

	case transport.EventReady:
		s.state = next
		s.identity = ev.Identity
		s.artifact = nil
		s.lastTransitionAt = now
		p := s.pending
		s.pending = nil
		res := InitiateResult{Connected: true}
		if ev.Identity != nil {
			ident := *ev.Identity
			res.Identity = &ident
		}
		m.reg.mu.Unlock()

		p.resolve(res, nil)
		m.publish(s.id, prev, next, "ready")
		m.log.Info("session connected", logx.String("session", s.id))

	case transport.EventAuthFailure:
		removed := m.removeLocked(s, ev.Reason)
		m.reg.mu.Unlock()

		removed.pending.resolve(InitiateResult{}, fmt.Errorf("%w: %s", ErrAuthFailed, ev.Reason))
		removed.pending = nil
		m.teardown(removed)
		m.log.Warn("session authentication failed",
			logx.String("session", s.id), logx.String("reason", ev.Reason))

	case transport.EventLoggedOut:
		// Can fire with no request in flight; teardown must not depend on a
		// pending caller.
		removed := m.removeLocked(s, ev.Reason)
		m.reg.mu.Unlock()

		removed.pending.resolve(InitiateResult{}, fmt.Errorf("%w: logged out: %s", ErrAuthFailed, ev.Reason))
		removed.pending = nil
		m.teardown(removed)
		m.log.Info("session logged out",
			logx.String("session", s.id), logx.String("reason", ev.Reason))
	}
}

// ---- teardown plumbing ----

// removed captures everything that must be released after a session entry
// leaves the registry. Collected under the lock, executed outside it.
type removed struct {
	id      string
	from    State
	reason  string
	client  transport.Client
	pending *pending
}

// removeLocked deletes the entry and returns the teardown work.
// Caller holds reg.mu.
func (m *Manager) removeLocked(s *Session, reason string) *removed {
	delete(m.reg.sessions, s.id)
	r := &removed{id: s.id, from: s.state, reason: reason, client: s.client, pending: s.pending}
	s.client = nil
	s.artifact = nil
	s.identity = nil
	s.pending = nil
	s.state = StateDisconnected
	return r
}

// teardown destroys the client (best-effort), purges credentials, resolves
// any still-pending initiate, and publishes the transition.
func (m *Manager) teardown(r *removed) {
	if r == nil {
		return
	}
	r.pending.resolve(InitiateResult{}, fmt.Errorf("%w: %s", ErrTerminated, r.reason))
	m.destroyClient(r.client)
	if err := m.factory.Purge(r.id); err != nil {
		m.log.Warn("credential purge failed", logx.String("session", r.id), logx.Err(err))
	}
	if r.from != StateDisconnected {
		m.publish(r.id, r.from, StateDisconnected, r.reason)
	}
}

func (m *Manager) destroyClient(c transport.Client) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Destroy(ctx); err != nil {
		m.log.Warn("client destroy failed", logx.Err(err))
	}
}

// dropEntry removes a just-created entry that never got a client.
func (m *Manager) dropEntry(s *Session, reason string) {
	m.reg.mu.Lock()
	var r *removed
	if m.reg.sessions[s.id] == s {
		r = m.removeLocked(s, reason)
	}
	m.reg.mu.Unlock()
	m.teardown(r)
}

func (m *Manager) publish(id string, from, to State, reason string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{
		Type:      eventbus.TypeSessionState,
		SessionID: id,
		Data:      StateChange{From: from, To: to, Reason: reason},
	})
}
