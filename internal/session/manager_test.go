package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wasend/internal/transport"
	"wasend/pkg/logx"
)

// fakeClient is a scriptable transport.Client. Tests drive the lifecycle by
// emitting events on it.
type fakeClient struct {
	mu        sync.Mutex
	events    chan transport.Event
	ready     bool
	closed    bool
	destroyed int
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan transport.Event, 8)}
}

func (c *fakeClient) Initialize(ctx context.Context) error { return nil }

func (c *fakeClient) Events() <-chan transport.Event { return c.events }

func (c *fakeClient) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// setReady simulates a connection dying (or recovering) under the manager.
func (c *fakeClient) setReady(v bool) {
	c.mu.Lock()
	c.ready = v
	c.mu.Unlock()
}

func (c *fakeClient) emit(ev transport.Event) {
	c.mu.Lock()
	if ev.Kind == transport.EventReady {
		c.ready = true
	}
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.events <- ev
	}
}

func (c *fakeClient) IsRegistered(ctx context.Context, canonical string) (bool, error) {
	return true, nil
}

func (c *fakeClient) SendText(ctx context.Context, canonical, text string) (string, error) {
	return "msg-1", nil
}

func (c *fakeClient) SendAttachment(ctx context.Context, canonical string, att transport.Attachment, caption string) (string, error) {
	return "msg-1", nil
}

func (c *fakeClient) Destroy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.ready = false
	c.destroyed++
	close(c.events)
	return nil
}

func (c *fakeClient) destroyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

type fakeFactory struct {
	mu         sync.Mutex
	clients    []*fakeClient
	purged     []string
	newErr     error
	purgeDelay time.Duration
}

func (f *fakeFactory) New(ctx context.Context, sessionID string) (transport.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	c := newFakeClient()
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) Purge(sessionID string) error {
	f.mu.Lock()
	delay := f.purgeDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, sessionID)
	return nil
}

func (f *fakeFactory) clientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) setPurgeDelay(d time.Duration) {
	f.mu.Lock()
	f.purgeDelay = d
	f.mu.Unlock()
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.clients) {
		return nil
	}
	return f.clients[i]
}

// waitClient blocks until the factory has constructed client i.
func (f *fakeFactory) waitClient(t *testing.T, i int) *fakeClient {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c := f.client(i); c != nil {
			return c
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("factory never constructed client")
	return nil
}

func (f *fakeFactory) purgeCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.purged {
		if p == id {
			n++
		}
	}
	return n
}

func newTestManager(timeout time.Duration) (*Manager, *fakeFactory) {
	f := &fakeFactory{}
	m := NewManager(Config{ProvisioningTimeout: timeout}, NewRegistry(), f, nil, logx.Nop())
	return m, f
}

func waitState(t *testing.T, m *Manager, id string, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status(id).State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session %q never reached %s (now %s)", id, want, m.Status(id).State)
}

func TestInitiateReturnsScanArtifact(t *testing.T) {
	t.Parallel()
	m, f := newTestManager(2 * time.Second)

	go func() {
		f.waitClient(t, 0).emit(transport.Event{Kind: transport.EventCode, Code: "pair-code-1"})
	}()

	res, err := m.Initiate(context.Background(), "default")
	if err != nil {
		t.Fatalf("Initiate error: %v", err)
	}
	if res.Connected {
		t.Fatal("expected scan artifact, got connected")
	}
	if res.Artifact == nil || res.Artifact.Code != "pair-code-1" {
		t.Fatalf("unexpected artifact: %+v", res.Artifact)
	}
	if res.Artifact.DataURI == "" {
		t.Fatal("artifact data URI not rendered")
	}

	snap := m.Status("default")
	if snap.State != StateAwaitingScan || !snap.HasArtifact {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestInitiateReadyWithoutCode(t *testing.T) {
	t.Parallel()
	m, f := newTestManager(2 * time.Second)

	ident := &transport.Identity{DisplayName: "Alice", Address: "8801981380806"}
	go func() {
		f.waitClient(t, 0).emit(transport.Event{Kind: transport.EventReady, Identity: ident})
	}()

	res, err := m.Initiate(context.Background(), "")
	if err != nil {
		t.Fatalf("Initiate error: %v", err)
	}
	if !res.Connected {
		t.Fatal("expected connected result")
	}
	if res.Identity == nil || res.Identity.Address != "8801981380806" {
		t.Fatalf("unexpected identity: %+v", res.Identity)
	}

	snap := m.Status(DefaultID)
	if snap.State != StateConnected || snap.HasArtifact {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if got := m.Identity(""); got == nil || got.DisplayName != "Alice" {
		t.Fatalf("Identity() = %+v", got)
	}
}

func TestScanCompletesAfterArtifact(t *testing.T) {
	t.Parallel()
	m, f := newTestManager(2 * time.Second)

	go func() {
		f.waitClient(t, 0).emit(transport.Event{Kind: transport.EventCode, Code: "qr"})
	}()
	if _, err := m.Initiate(context.Background(), "s1"); err != nil {
		t.Fatalf("Initiate error: %v", err)
	}

	// Same artifact on re-initiate, no second client.
	res, err := m.Initiate(context.Background(), "s1")
	if err != nil {
		t.Fatalf("re-Initiate error: %v", err)
	}
	if res.Artifact == nil || res.Artifact.Code != "qr" {
		t.Fatalf("expected cached artifact, got %+v", res.Artifact)
	}
	if f.client(1) != nil {
		t.Fatal("second client constructed for pending scan")
	}

	// The scan eventually lands.
	f.client(0).emit(transport.Event{Kind: transport.EventReady, Identity: &transport.Identity{Address: "880123"}})
	waitState(t, m, "s1", StateConnected)

	snap := m.Status("s1")
	if snap.HasArtifact {
		t.Fatal("artifact kept after connect")
	}
}

func TestInitiateAlreadyConnected(t *testing.T) {
	t.Parallel()
	m, f := newTestManager(2 * time.Second)

	go func() {
		f.waitClient(t, 0).emit(transport.Event{Kind: transport.EventReady, Identity: &transport.Identity{Address: "880123"}})
	}()
	if _, err := m.Initiate(context.Background(), "s1"); err != nil {
		t.Fatalf("Initiate error: %v", err)
	}

	res, err := m.Initiate(context.Background(), "s1")
	if err != nil {
		t.Fatalf("second Initiate error: %v", err)
	}
	if !res.Connected {
		t.Fatal("expected connected short-circuit")
	}
	if f.client(1) != nil {
		t.Fatal("connected session was re-provisioned")
	}
}

func TestInitiateWhileProvisioningInFlight(t *testing.T) {
	t.Parallel()
	m, f := newTestManager(2 * time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := m.Initiate(context.Background(), "s1")
		done <- err
	}()
	f.waitClient(t, 0)

	// First call is suspended in Initializing; artifact has not arrived yet.
	if _, err := m.Initiate(context.Background(), "s1"); !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("expected ErrAlreadyInProgress, got %v", err)
	}

	f.client(0).emit(transport.Event{Kind: transport.EventCode, Code: "qr"})
	if err := <-done; err != nil {
		t.Fatalf("first Initiate error: %v", err)
	}
}

func TestInitiateTimeout(t *testing.T) {
	t.Parallel()
	m, f := newTestManager(30 * time.Millisecond)

	_, err := m.Initiate(context.Background(), "s1")
	if !errors.Is(err, ErrProvisioningTimeout) {
		t.Fatalf("expected ErrProvisioningTimeout, got %v", err)
	}
	if m.Status("s1").State != StateDisconnected {
		t.Fatalf("state = %s after timeout", m.Status("s1").State)
	}
	if f.client(0).destroyCount() != 1 {
		t.Fatal("client not destroyed on timeout")
	}
	if f.purgeCount("s1") == 0 {
		t.Fatal("credentials not purged on timeout")
	}
}

func TestTerminateIdempotent(t *testing.T) {
	t.Parallel()
	m, f := newTestManager(2 * time.Second)

	go func() {
		f.waitClient(t, 0).emit(transport.Event{Kind: transport.EventReady})
	}()
	if _, err := m.Initiate(context.Background(), "s1"); err != nil {
		t.Fatalf("Initiate error: %v", err)
	}

	m.Terminate(context.Background(), "s1")
	m.Terminate(context.Background(), "s1")

	if m.Status("s1").State != StateDisconnected {
		t.Fatal("session not disconnected after terminate")
	}
	if f.client(0).destroyCount() != 1 {
		t.Fatalf("destroy count = %d", f.client(0).destroyCount())
	}
	if f.purgeCount("s1") != 1 {
		t.Fatalf("purge count = %d", f.purgeCount("s1"))
	}
	if _, ok := m.Connected("s1"); ok {
		t.Fatal("Connected() returned a client after terminate")
	}
}

func TestRemoteLogoutDisconnects(t *testing.T) {
	t.Parallel()
	m, f := newTestManager(2 * time.Second)

	go func() {
		f.waitClient(t, 0).emit(transport.Event{Kind: transport.EventReady})
	}()
	if _, err := m.Initiate(context.Background(), "s1"); err != nil {
		t.Fatalf("Initiate error: %v", err)
	}

	// No initiate in flight; the logout alone must tear the session down.
	f.client(0).emit(transport.Event{Kind: transport.EventLoggedOut, Reason: "device removed"})
	waitState(t, m, "s1", StateDisconnected)

	if f.purgeCount("s1") == 0 {
		t.Fatal("credentials not purged on logout")
	}
}

func TestForceCleanupWithoutEntryPurgesCredentials(t *testing.T) {
	t.Parallel()
	m, f := newTestManager(2 * time.Second)

	m.ForceCleanup(context.Background(), "ghost")
	if f.purgeCount("ghost") != 1 {
		t.Fatal("expected credential purge for absent session")
	}
}

func TestRepeatedCodeRefreshesArtifact(t *testing.T) {
	t.Parallel()
	m, f := newTestManager(2 * time.Second)

	go func() {
		f.waitClient(t, 0).emit(transport.Event{Kind: transport.EventCode, Code: "qr-1"})
	}()
	res, err := m.Initiate(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Initiate error: %v", err)
	}
	if res.Artifact == nil || res.Artifact.Code != "qr-1" {
		t.Fatalf("artifact = %+v", res.Artifact)
	}

	// The client rotates the pairing code while the scan is still pending.
	f.client(0).emit(transport.Event{Kind: transport.EventCode, Code: "qr-2"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res, err := m.Initiate(context.Background(), "s1")
		if err != nil {
			t.Fatalf("re-Initiate error: %v", err)
		}
		if res.Artifact != nil && res.Artifact.Code == "qr-2" {
			if st := m.Status("s1").State; st != StateAwaitingScan {
				t.Fatalf("state = %s after code refresh", st)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("artifact never refreshed to the rotated code")
}

func TestStaleConnectedReprovisionSingleClient(t *testing.T) {
	t.Parallel()
	m, f := newTestManager(2 * time.Second)

	go func() {
		f.waitClient(t, 0).emit(transport.Event{Kind: transport.EventReady})
	}()
	if _, err := m.Initiate(context.Background(), "s1"); err != nil {
		t.Fatalf("Initiate error: %v", err)
	}

	// Connection dies without a logout event; slow purge widens the window
	// in which the entry is absent during the stale teardown.
	f.client(0).setReady(false)
	f.setPurgeDelay(50 * time.Millisecond)

	go func() {
		f.waitClient(t, 1).emit(transport.Event{Kind: transport.EventCode, Code: "qr"})
	}()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.Initiate(context.Background(), "s1")
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil && !errors.Is(err, ErrAlreadyInProgress) {
			t.Fatalf("initiate %d: %v", i, err)
		}
	}
	// Exactly one replacement client beside the stale one; two would mean
	// concurrent provisioning attempts for the same id.
	if n := f.clientCount(); n != 2 {
		t.Fatalf("clients constructed = %d, want 2", n)
	}
	if st := m.Status("s1").State; st != StateAwaitingScan {
		t.Fatalf("state = %s after re-provision", st)
	}
}

func TestStatusUnknownSessionIsDisconnected(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(2 * time.Second)

	snap := m.Status("never-seen")
	if snap.State != StateDisconnected || snap.HasArtifact || snap.Identity != nil {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if m.Identity("never-seen") != nil {
		t.Fatal("Identity() for unknown session")
	}
}
