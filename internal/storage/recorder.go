package storage

import (
	"context"
	"time"

	"wasend/internal/dispatch"
	"wasend/internal/eventbus"
	"wasend/internal/session"
	"wasend/pkg/logx"
)

// Recorder subscribes to the event bus and appends audit entries to a Store.
// Write failures are logged and dropped; audit is best-effort and must never
// slow down provisioning or dispatching.
type Recorder struct {
	store Store
	log   logx.Logger

	unsub func()
	done  chan struct{}
}

func NewRecorder(store Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log}
}

// Start begins consuming bus events. No-op when the store is disabled.
func (r *Recorder) Start(ctx context.Context, bus eventbus.Bus) {
	if r.store == nil || bus == nil {
		return
	}
	ch, unsub := bus.Subscribe(64)
	r.unsub = unsub
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				r.record(ev)
			}
		}
	}()
}

// Stop unsubscribes and waits for the consumer to drain.
func (r *Recorder) Stop() {
	if r.unsub == nil {
		return
	}
	r.unsub()
	<-r.done
	r.unsub = nil
}

func (r *Recorder) record(ev eventbus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	switch ev.Type {
	case eventbus.TypeSessionState:
		chg, ok := ev.Data.(session.StateChange)
		if !ok {
			return
		}
		err := r.store.AppendSessionEvent(ctx, SessionEvent{
			At:        ev.Time,
			SessionID: ev.SessionID,
			From:      string(chg.From),
			To:        string(chg.To),
			Reason:    chg.Reason,
		})
		if err != nil {
			r.log.Warn("session audit write failed", logx.Err(err))
		}
	case eventbus.TypeDispatchFinished:
		sum, ok := ev.Data.(dispatch.Summary)
		if !ok {
			return
		}
		err := r.store.AppendDispatchSummary(ctx, DispatchSummary{
			At:           ev.Time,
			SessionID:    ev.SessionID,
			ReportID:     sum.ReportID,
			Total:        sum.Total,
			Sent:         sum.Sent,
			Failed:       sum.Failed,
			Unregistered: sum.Unregistered,
			TookMS:       sum.Elapsed.Milliseconds(),
		})
		if err != nil {
			r.log.Warn("dispatch audit write failed", logx.Err(err))
		}
	}
}
