package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"wasend/internal/dispatch"
	"wasend/internal/eventbus"
	"wasend/internal/session"
	"wasend/pkg/logx"
)

type memStore struct {
	mu        sync.Mutex
	sessions  []SessionEvent
	summaries []DispatchSummary
}

func (m *memStore) AppendSessionEvent(ctx context.Context, e SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, e)
	return nil
}

func (m *memStore) AppendDispatchSummary(ctx context.Context, e DispatchSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, e)
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), len(m.summaries)
}

func TestRecorderPersistsBusEvents(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	bus := eventbus.New()
	rec := NewRecorder(store, logx.Nop())
	rec.Start(context.Background(), bus)

	bus.Publish(eventbus.Event{
		Type:      eventbus.TypeSessionState,
		SessionID: "s1",
		Data:      session.StateChange{From: session.StateInitializing, To: session.StateConnected, Reason: "ready"},
	})
	bus.Publish(eventbus.Event{
		Type:      eventbus.TypeDispatchFinished,
		SessionID: "s1",
		Data:      dispatch.Summary{ReportID: "r1", Total: 2, Sent: 2, Elapsed: 4 * time.Second},
	})
	// Unknown payload shapes are ignored, not crashed on.
	bus.Publish(eventbus.Event{Type: eventbus.TypeSessionState, SessionID: "s1", Data: "garbage"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if se, ds := store.counts(); se == 1 && ds == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec.Stop()

	se, ds := store.counts()
	if se != 1 || ds != 1 {
		t.Fatalf("recorded %d session events, %d summaries", se, ds)
	}
	if store.sessions[0].To != "connected" {
		t.Fatalf("session event = %+v", store.sessions[0])
	}
	if store.summaries[0].TookMS != 4000 {
		t.Fatalf("summary = %+v", store.summaries[0])
	}
}
