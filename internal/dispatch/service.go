package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"wasend/internal/eventbus"
	"wasend/internal/phone"
	"wasend/internal/session"
	"wasend/internal/transport"
	"wasend/pkg/logx"
)

const (
	defaultInterItemDelay = 2 * time.Second
	defaultBatchLimit     = 100
)

type Config struct {
	// InterItemDelay is the mandatory pause between consecutive recipients.
	// Zero means the default (2s).
	InterItemDelay time.Duration
	// BatchLimit is the batch ceiling. Zero means the default (100).
	BatchLimit int
}

func (c Config) withDefaults() Config {
	if c.InterItemDelay <= 0 {
		c.InterItemDelay = defaultInterItemDelay
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = defaultBatchLimit
	}
	return c
}

// SessionSource yields the live client for a connected session. The dispatcher
// borrows the reference per call and re-checks it between recipients, since
// terminate can invalidate it at any time.
type SessionSource interface {
	Connected(sessionID string) (transport.Client, bool)
}

// Summary is the bus payload published when a dispatch finishes.
type Summary struct {
	ReportID     string        `json:"report_id"`
	Total        int           `json:"total"`
	Sent         int           `json:"sent"`
	Failed       int           `json:"failed"`
	Unregistered int           `json:"unregistered"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Dispatcher fans one payload out to an ordered recipient list, strictly
// sequentially per call, with a fixed inter-item delay.
type Dispatcher struct {
	mu     sync.Mutex
	cfg    Config
	region phone.Region

	sessions SessionSource
	bus      eventbus.Bus
	log      logx.Logger
}

func New(cfg Config, region phone.Region, sessions SessionSource, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{cfg: cfg.withDefaults(), region: region, sessions: sessions, bus: bus, log: log}
}

// Apply updates runtime tunables. Safe to call concurrently with dispatches;
// in-flight calls keep the pacing they started with.
func (d *Dispatcher) Apply(cfg Config, region phone.Region) {
	d.mu.Lock()
	d.cfg = cfg.withDefaults()
	d.region = region
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot() (Config, phone.Region) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.region
}

// Dispatch validates the batch and runs the sequential send loop.
//
// Per-recipient failures never abort the batch; the only call-level errors
// are precondition violations checked before the loop starts. If the session
// is terminated mid-batch, the current recipient finishes and every remaining
// recipient is recorded as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, recipients []string, payload Payload) (*Report, error) {
	sessionID = session.NormalizeID(sessionID)
	cfg, region := d.snapshot()

	client, ok := d.sessions.Connected(sessionID)
	if !ok {
		return nil, session.ErrNotConnected
	}
	if len(recipients) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(recipients) > cfg.BatchLimit {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(recipients), cfg.BatchLimit)
	}
	if payload.empty() {
		return nil, ErrEmptyPayload
	}

	rep := &Report{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Total:     len(recipients),
		Items:     make([]Item, 0, len(recipients)),
		StartedAt: time.Now(),
	}
	log := d.log.With(logx.String("session", sessionID), logx.String("report", rep.ID))
	log.Info("dispatch started",
		logx.Int("total", rep.Total), logx.Duration("delay", cfg.InterItemDelay))

	// Pacing: one permit per InterItemDelay, burst 1. The first Wait returns
	// immediately; every later iteration is spaced by the delay, including
	// after invalid short-circuits, so batch timing stays predictable.
	limiter := rate.NewLimiter(rate.Every(cfg.InterItemDelay), 1)

	abort := ""
	for i, raw := range recipients {
		if abort == "" {
			if err := limiter.Wait(ctx); err != nil {
				abort = "dispatch cancelled"
			}
		}
		if abort == "" && i > 0 {
			// The handle can be invalidated by terminate/logout between
			// recipients; re-borrow rather than trusting the old reference.
			if cur, ok := d.sessions.Connected(sessionID); !ok || cur != client {
				abort = "session terminated"
			}
		}
		if abort != "" {
			rep.Items = append(rep.Items, Item{Original: raw, Outcome: OutcomeError, Detail: abort})
			continue
		}
		rep.Items = append(rep.Items, d.sendOne(ctx, client, region, raw, payload, log))
	}

	for _, it := range rep.Items {
		switch it.Outcome {
		case OutcomeSent:
			rep.Sent++
		case OutcomeUnregistered:
			rep.Unregistered++
		}
	}
	rep.Failed = rep.Total - rep.Sent
	rep.Elapsed = time.Since(rep.StartedAt)

	if rep.Failed > 0 {
		log.Warn("dispatch finished with failures",
			logx.Int("sent", rep.Sent), logx.Int("failed", rep.Failed), logx.Duration("dur", rep.Elapsed))
	} else {
		log.Info("dispatch finished",
			logx.Int("sent", rep.Sent), logx.Duration("dur", rep.Elapsed))
	}
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{
			Type:      eventbus.TypeDispatchFinished,
			SessionID: sessionID,
			Data: Summary{
				ReportID: rep.ID, Total: rep.Total, Sent: rep.Sent,
				Failed: rep.Failed, Unregistered: rep.Unregistered, Elapsed: rep.Elapsed,
			},
		})
	}
	return rep, nil
}

// sendOne resolves a single recipient to an outcome. Transport failures are
// recorded, never re-raised.
func (d *Dispatcher) sendOne(ctx context.Context, client transport.Client, region phone.Region, raw string, payload Payload, log logx.Logger) Item {
	canonical, err := region.Normalize(raw)
	if err != nil {
		return Item{Original: raw, Normalized: canonical, Outcome: OutcomeInvalid, Detail: "invalid-format"}
	}

	registered, err := client.IsRegistered(ctx, canonical)
	if err != nil {
		log.Warn("registration check failed", logx.String("to", canonical), logx.Err(err))
		return Item{Original: raw, Normalized: canonical, Outcome: OutcomeError, Detail: err.Error()}
	}
	if !registered {
		return Item{Original: raw, Normalized: canonical, Outcome: OutcomeUnregistered}
	}

	var deliveryID string
	if payload.Attachment != nil {
		att := transport.Attachment{
			Path:     payload.Attachment.Path,
			FileName: payload.Attachment.FileName,
			MimeType: payload.Attachment.MimeType,
		}
		deliveryID, err = client.SendAttachment(ctx, canonical, att, payload.Text)
	} else {
		deliveryID, err = client.SendText(ctx, canonical, payload.Text)
	}
	if err != nil {
		log.Warn("send failed", logx.String("to", canonical), logx.Err(err))
		return Item{Original: raw, Normalized: canonical, Outcome: OutcomeError, Detail: err.Error()}
	}
	return Item{Original: raw, Normalized: canonical, Outcome: OutcomeSent, Detail: deliveryID}
}

// SendTest delivers the payload to a single recipient. Unlike Dispatch,
// invalid and unregistered recipients are call-level errors here, matching
// the behaviour operators expect from a connectivity probe.
func (d *Dispatcher) SendTest(ctx context.Context, sessionID, recipient string, payload Payload) (Item, error) {
	sessionID = session.NormalizeID(sessionID)
	_, region := d.snapshot()

	client, ok := d.sessions.Connected(sessionID)
	if !ok {
		return Item{}, session.ErrNotConnected
	}
	if payload.empty() {
		return Item{}, ErrEmptyPayload
	}

	it := d.sendOne(ctx, client, region, recipient, payload, d.log.With(logx.String("session", sessionID)))
	switch it.Outcome {
	case OutcomeInvalid:
		return it, fmt.Errorf("%w: %s", ErrRecipientInvalid, recipient)
	case OutcomeUnregistered:
		return it, fmt.Errorf("%w: %s", ErrRecipientUnregistered, it.Normalized)
	case OutcomeError:
		return it, fmt.Errorf("send failed: %s", it.Detail)
	}
	return it, nil
}

// Validate dry-runs normalization over a batch. No session is required and
// nothing is sent.
func (d *Dispatcher) Validate(recipients []string) ValidationReport {
	_, region := d.snapshot()
	rep := ValidationReport{Items: make([]ValidationItem, 0, len(recipients))}
	for _, raw := range recipients {
		canonical, err := region.Normalize(raw)
		it := ValidationItem{Original: raw, Normalized: canonical, Valid: err == nil}
		if err != nil {
			it.Detail = "invalid-format"
			rep.Invalid++
		} else {
			rep.Valid++
		}
		rep.Items = append(rep.Items, it)
	}
	return rep
}
