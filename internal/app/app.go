// Package app wires the storefront broadcast service together: config,
// logging, the Telegram adapter, sqlite storage, the delivery engine, the
// admin HTTP API and the background maintenance loops.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"shopbot/internal/adapters/telegram"
	"shopbot/internal/broadcast"
	"shopbot/internal/config"
	"shopbot/internal/eventbus"
	"shopbot/internal/httpapi"
	"shopbot/internal/objectstore"
	"shopbot/internal/observability/pprof"
	"shopbot/internal/runtime/supervisor"
	"shopbot/internal/store"
	"shopbot/internal/transport"
	"shopbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	bus     eventbus.Bus[broadcast.Event]
	db      *store.DB
	adapter *telegram.Adapter
	limiter *rate.Limiter
	engine  *broadcast.Service
	httpSrv *httpapi.Server
	cron    *cron.Cron

	pruneSchedule string
	ownerChatID   atomic.Int64

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	// Every inbound interaction keeps the recipient table current; that
	// table is what the audience resolver reads.
	adapter.OnInteraction(func(in transport.Interaction) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Touch(ctx, in.UserID, in.Username, in.At); err != nil {
			log.Warn("recipient touch failed", logx.Int64("user", in.UserID), logx.Err(err))
		}
	})

	settings, err := mapEngineSettings(cfg)
	if err != nil {
		return nil, err
	}
	limiter := rate.NewLimiter(rate.Limit(settings.RatePerSec), settings.Burst)
	bus := eventbus.New[broadcast.Event]()

	engine := broadcast.NewService(broadcast.Deps{
		Recipients: db,
		Jobs:       db,
		Sender:     adapter,
		Limiter:    limiter,
		Bus:        bus,
		Log:        log.With(logx.String("comp", "broadcast")),
	}, settings.Broadcast)

	var objects httpapi.ObjectStore
	if objCfg, enabled, err := mapObjectStoreConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		client, err := objectstore.New(context.Background(), objCfg)
		if err != nil {
			return nil, err
		}
		objects = client
		log.Info("object storage enabled", logx.String("bucket", objCfg.Bucket))
	}

	handler := httpapi.NewHandler(engine, objects, log.With(logx.String("comp", "http")))
	httpSrv, err := httpapi.NewServer(cfg.HTTP, handler, log.With(logx.String("comp", "http")))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:          cfgm,
		log:           log,
		logs:          logSvc,
		bus:           bus,
		db:            db,
		adapter:       adapter,
		limiter:       limiter,
		engine:        engine,
		httpSrv:       httpSrv,
		pruneSchedule: settings.PruneSchedule,
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
	}
	a.ownerChatID.Store(cfg.Telegram.OwnerChatID)
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)
	rctx := a.sup.Context()

	// Reject bad hot-reloads before they are committed.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapEngineSettings(cfg); err != nil {
			return err
		}
		if _, _, err := mapObjectStoreConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(rctx); err != nil {
		return err
	}

	a.sup.Go("http.serve", func(context.Context) error {
		return a.httpSrv.Run()
	})

	if pc := a.cfgm.Get().Pprof; pc != nil {
		srv := pprof.New(pprof.Config{Addr: pc.Addr, Token: pc.Token},
			a.log.With(logx.String("comp", "pprof")))
		a.sup.Go("pprof.serve", srv.Run)
	}

	if _, err := a.cron.AddFunc(a.pruneSchedule, func() {
		ctx, cancel := context.WithTimeout(rctx, time.Minute)
		defer cancel()
		if err := a.engine.PruneHistory(ctx); err != nil {
			a.log.Warn("history prune failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("broadcast.prune_schedule: %w", err)
	}
	a.cron.Start()

	a.watchEvents()
	a.watchConfig()

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// watchEvents forwards broadcast completion summaries to the owner chat.
func (a *App) watchEvents() {
	events, unsub := a.bus.Subscribe(64)
	a.sup.Go("eventbus.notify", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.handleEvent(c, e)
			}
		}
	})
}

func (a *App) handleEvent(ctx context.Context, e broadcast.Event) {
	fin, ok := e.Data.(broadcast.FinishedEvent)
	if !ok || fin.IsTest {
		return
	}
	owner := a.ownerChatID.Load()
	if owner == 0 {
		return
	}
	text := fmt.Sprintf("Broadcast %s: sent %d/%d (blocked %d, failed %d)",
		fin.Status, fin.Tally.Sent, fin.Tally.Total, fin.Tally.Blocked, fin.Tally.Failed)
	if err := a.adapter.SendText(ctx, owner, text, nil); err != nil {
		a.log.Warn("owner notice failed", logx.Err(err))
	}
}

// watchConfig applies committed config changes to the running components.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts, keep only the newest snapshot.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							cfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(cfg)
			}
		}
	})
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))

	settings, err := mapEngineSettings(cfg)
	if err != nil {
		// The validator runs before commit, so this only trips if a raced
		// snapshot slipped through. Keep the previous settings.
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
		return
	}
	a.limiter.SetLimit(rate.Limit(settings.RatePerSec))
	a.limiter.SetBurst(settings.Burst)
	a.engine.Apply(settings.Broadcast)
	a.ownerChatID.Store(cfg.Telegram.OwnerChatID)

	if settings.PruneSchedule != a.pruneSchedule {
		a.log.Warn("broadcast.prune_schedule changed; restart required to take effect")
	}

	a.log.Info("config reloaded",
		logx.Int("rate_per_sec", settings.RatePerSec),
		logx.Int("burst", settings.Burst),
		logx.Int("workers", settings.Broadcast.Workers),
	)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	a.sup.Cancel()

	step := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err))
		}
	}

	step("http", a.httpSrv.Shutdown)
	step("cron", func(c context.Context) error {
		select {
		case <-a.cron.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("telegram", a.adapter.Stop)
	step("supervisor", a.sup.Wait)
	step("storage", func(context.Context) error { return a.db.Close() })
	step("logging", func(context.Context) error { return a.logs.Close() })

	a.log.Info("stopped")
	return nil
}
