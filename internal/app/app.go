// Package app assembles the service: config, logging, storage, the WhatsApp
// transport, the session manager, the dispatcher, the janitor and the HTTP
// API. It owns startup order and reload plumbing.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wasend/internal/config"
	"wasend/internal/dispatch"
	"wasend/internal/eventbus"
	"wasend/internal/httpapi"
	"wasend/internal/janitor"
	"wasend/internal/phone"
	"wasend/internal/session"
	"wasend/internal/storage"
	"wasend/internal/transport/whatsapp"
	"wasend/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus      eventbus.Bus
	store    storage.Store
	recorder *storage.Recorder

	manager    *session.Manager
	dispatcher *dispatch.Dispatcher
	janitor    *janitor.Service
	httpSrv    *httpapi.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(configPath string) *App {
	mgr := config.NewManager(configPath)
	mgr.SetValidator(validate)
	return &App{cfgMgr: mgr}
}

// validate rejects configs whose duration fields do not parse. Commit never
// sees a config that fails here, so the translation helpers below can treat
// parse errors as unreachable.
func validate(_ context.Context, cfg *config.Config) error {
	if _, err := config.ParseDurationOrDefault("dispatch.inter_item_delay", cfg.Dispatch.InterItemDelay, 0); err != nil {
		return err
	}
	if cfg.Dispatch.BatchLimit < 0 {
		return fmt.Errorf("dispatch.batch_limit: must not be negative")
	}
	if _, err := config.ParseDurationOrDefault("provisioning.timeout", cfg.Provisioning.Timeout, 0); err != nil {
		return err
	}
	if j := cfg.Janitor; j != nil && j.Enabled {
		if j.Schedule != "" {
			if _, err := janitor.ParseSchedule(j.Schedule); err != nil {
				return fmt.Errorf("janitor.schedule: %w", err)
			}
		}
		if _, err := config.ParseDurationOrDefault("janitor.idle_after", j.IdleAfter, 0); err != nil {
			return err
		}
	}
	if s := cfg.Storage; s != nil {
		if _, err := config.ParseDurationOrDefault("storage.busy_timeout", s.BusyTimeout, 0); err != nil {
			return err
		}
	}
	return nil
}

// Start brings the whole service up. On error everything already started is
// torn back down.
func (a *App) Start(ctx context.Context) error {
	cfg, err := a.cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a.logSvc, a.log = logx.New(logConfigFrom(cfg))
	a.cfgMgr.SetLogger(a.log.With(logx.String("comp", "config")))

	a.bus = eventbus.New()

	if sc := storageConfigFrom(cfg); sc.Driver != "" {
		store, err := storage.Open(sc, a.log.With(logx.String("comp", "storage")))
		if err != nil {
			a.shutdownPartial()
			return fmt.Errorf("open storage: %w", err)
		}
		a.store = store
	}

	factory, err := whatsapp.NewFactory(whatsapp.Config{
		StorePath:  cfg.WhatsApp.StorePath,
		DeviceName: cfg.WhatsApp.DeviceName,
	}, a.log.With(logx.String("comp", "whatsapp")))
	if err != nil {
		a.shutdownPartial()
		return fmt.Errorf("whatsapp factory: %w", err)
	}

	reg := session.NewRegistry()
	a.manager = session.NewManager(sessionConfigFrom(cfg), reg, factory, a.bus,
		a.log.With(logx.String("comp", "session")))

	a.dispatcher = dispatch.New(dispatchConfigFrom(cfg), regionFrom(cfg), a.manager, a.bus,
		a.log.With(logx.String("comp", "dispatch")))

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.store != nil {
		a.recorder = storage.NewRecorder(a.store, a.log.With(logx.String("comp", "recorder")))
		a.recorder.Start(runCtx, a.bus)
	}

	a.janitor = janitor.New(janitorConfigFrom(cfg), a.manager,
		a.log.With(logx.String("comp", "janitor")))
	if err := a.janitor.Start(runCtx); err != nil {
		a.shutdownPartial()
		return fmt.Errorf("janitor: %w", err)
	}

	a.httpSrv = httpapi.NewServer(a.manager, a.dispatcher, a.log)
	if err := a.httpSrv.Start(httpapi.Config{Addr: cfg.Server.Addr}); err != nil {
		a.shutdownPartial()
		return fmt.Errorf("http server: %w", err)
	}

	a.watchConfig(runCtx)

	a.log.Info("service started", logx.String("addr", a.httpSrv.Addr()))
	return nil
}

// watchConfig reloads the file on change and re-applies the live-tunable
// parts. Listener address and credential store path need a restart.
func (a *App) watchConfig(ctx context.Context) {
	sub := a.cfgMgr.Subscribe(4)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.cfgMgr.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logConfigFrom(cfg))
	a.manager.Apply(sessionConfigFrom(cfg))
	a.dispatcher.Apply(dispatchConfigFrom(cfg), regionFrom(cfg))
	a.janitor.Apply(janitorConfigFrom(cfg))
	a.log.Info("config applied")
}

// Stop tears the service down in reverse start order.
func (a *App) Stop(ctx context.Context) {
	if a.httpSrv != nil {
		a.httpSrv.Stop(ctx)
	}
	if a.janitor != nil {
		a.janitor.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if a.manager != nil {
		a.manager.Close(ctx)
	}
	if a.recorder != nil {
		a.recorder.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	a.log.Info("service stopped")
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
}

func (a *App) shutdownPartial() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
}

// ---- config translation ----

func logConfigFrom(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func sessionConfigFrom(cfg *config.Config) session.Config {
	d, _ := config.ParseDurationOrDefault("provisioning.timeout", cfg.Provisioning.Timeout, 0)
	return session.Config{ProvisioningTimeout: d}
}

func dispatchConfigFrom(cfg *config.Config) dispatch.Config {
	d, _ := config.ParseDurationOrDefault("dispatch.inter_item_delay", cfg.Dispatch.InterItemDelay, 0)
	return dispatch.Config{
		InterItemDelay: d,
		BatchLimit:     cfg.Dispatch.BatchLimit,
	}
}

func regionFrom(cfg *config.Config) phone.Region {
	r := phone.DefaultRegion()
	if v := cfg.Region.CountryCode; v != "" {
		r.CountryCode = v
	}
	if v := cfg.Region.TrunkPrefix; v != "" {
		r.TrunkPrefix = v
	}
	if v := cfg.Region.MobilePrefix; v != "" {
		r.MobilePrefix = v
	}
	if v := cfg.Region.SubscriberDigits; v > 0 {
		r.SubscriberDigits = v
	}
	return r
}

func janitorConfigFrom(cfg *config.Config) janitor.Config {
	j := cfg.Janitor
	if j == nil || !j.Enabled {
		return janitor.Config{}
	}
	idle, _ := config.ParseDurationOrDefault("janitor.idle_after", j.IdleAfter, 10*time.Minute)
	return janitor.Config{
		Enabled:   true,
		Schedule:  j.Schedule,
		IdleAfter: idle,
	}
}

func storageConfigFrom(cfg *config.Config) storage.Config {
	s := cfg.Storage
	if s == nil {
		return storage.Config{}
	}
	busy, _ := config.ParseDurationOrDefault("storage.busy_timeout", s.BusyTimeout, 0)
	return storage.Config{
		Driver:      s.Driver,
		Path:        s.Path,
		BusyTimeout: busy,
	}
}
