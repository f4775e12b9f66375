// Package janitor reaps sessions stuck in a provisioning state. A session
// whose pairing code is never scanned would otherwise sit in AwaitingScan
// holding a live client indefinitely.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"wasend/internal/session"
	"wasend/pkg/logx"
)

const (
	defaultSchedule  = "2m"
	defaultIdleAfter = 10 * time.Minute
)

type Config struct {
	Enabled bool
	// Schedule accepts cron, Go duration, or HH:MM forms (see ParseSchedule).
	Schedule string
	// IdleAfter is how long a session may sit in Initializing/AwaitingScan
	// before it is force-cleaned.
	IdleAfter time.Duration
}

// Lifecycle is the slice of the session manager the janitor needs.
type Lifecycle interface {
	Sessions() []session.Snapshot
	ForceCleanup(ctx context.Context, id string)
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	lc  Lifecycle
	log logx.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, lc Lifecycle, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, lc: lc, log: log}
}

// Apply replaces the config. The new schedule takes effect on restart;
// IdleAfter takes effect on the next sweep.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.cancel != nil {
		return nil
	}

	raw := s.cfg.Schedule
	if raw == "" {
		raw = defaultSchedule
	}
	spec, err := ParseSchedule(raw)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	switch spec.Kind {
	case SpecCron:
		sched, err := cron.ParseStandard(spec.Cron)
		if err != nil {
			cancel()
			s.cancel = nil
			return err
		}
		go s.runCron(runCtx, sched)
	default:
		go s.runInterval(runCtx, spec.Every)
	}
	s.log.Info("janitor started", logx.String("schedule", raw))
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Service) runInterval(ctx context.Context, every time.Duration) {
	defer close(s.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) runCron(ctx context.Context, sched cron.Schedule) {
	defer close(s.done)
	for {
		next := sched.Next(time.Now())
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

// sweep force-cleans sessions idle in a provisioning state past the bound.
func (s *Service) sweep(ctx context.Context) {
	s.mu.Lock()
	idle := s.cfg.IdleAfter
	s.mu.Unlock()
	if idle <= 0 {
		idle = defaultIdleAfter
	}

	cutoff := time.Now().Add(-idle)
	for _, snap := range s.lc.Sessions() {
		if snap.State != session.StateInitializing && snap.State != session.StateAwaitingScan {
			continue
		}
		if snap.LastTransitionAt.After(cutoff) {
			continue
		}
		s.log.Warn("reaping stale session",
			logx.String("session", snap.ID),
			logx.String("state", string(snap.State)),
			logx.Time("last_transition", snap.LastTransitionAt))
		s.lc.ForceCleanup(ctx, snap.ID)
	}
}
