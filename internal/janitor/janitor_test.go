package janitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"wasend/internal/session"
	"wasend/pkg/logx"
)

type fakeLifecycle struct {
	mu      sync.Mutex
	snaps   []session.Snapshot
	cleaned []string
}

func (f *fakeLifecycle) Sessions() []session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Snapshot(nil), f.snaps...)
}

func (f *fakeLifecycle) ForceCleanup(ctx context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, id)
}

func (f *fakeLifecycle) cleanedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cleaned...)
}

func TestSweepReapsStaleProvisioningSessions(t *testing.T) {
	t.Parallel()
	now := time.Now()
	lc := &fakeLifecycle{snaps: []session.Snapshot{
		{ID: "stale-scan", State: session.StateAwaitingScan, LastTransitionAt: now.Add(-1 * time.Hour)},
		{ID: "stale-init", State: session.StateInitializing, LastTransitionAt: now.Add(-20 * time.Minute)},
		{ID: "fresh-scan", State: session.StateAwaitingScan, LastTransitionAt: now.Add(-1 * time.Minute)},
		{ID: "connected", State: session.StateConnected, LastTransitionAt: now.Add(-2 * time.Hour)},
	}}

	s := New(Config{Enabled: true, Schedule: "1h", IdleAfter: 10 * time.Minute}, lc, logx.Nop())
	s.sweep(context.Background())

	got := lc.cleanedIDs()
	if len(got) != 2 {
		t.Fatalf("cleaned = %v", got)
	}
	want := map[string]bool{"stale-scan": true, "stale-init": true}
	for _, id := range got {
		if !want[id] {
			t.Fatalf("unexpected cleanup of %q", id)
		}
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeLifecycle{}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	s.Stop()
}

func TestIntervalSchedulingSweeps(t *testing.T) {
	t.Parallel()
	lc := &fakeLifecycle{snaps: []session.Snapshot{
		{ID: "stuck", State: session.StateInitializing, LastTransitionAt: time.Now().Add(-time.Hour)},
	}}
	s := New(Config{Enabled: true, Schedule: "interval:10ms", IdleAfter: time.Minute}, lc, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(lc.cleanedIDs()) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("stale session never swept")
}
