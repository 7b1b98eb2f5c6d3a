// Package app wires the bot together and owns its lifecycle.
//
// Startup order matters: the store must be readable before recovery, and
// recovery must finish before the transport starts accepting intake, so
// every pending row has exactly one live timer before new reminders arrive.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/config"
	"remindbot/internal/debugserver"
	"remindbot/internal/dispatch"
	"remindbot/internal/intake"
	"remindbot/internal/recovery"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/schedule"
	"remindbot/internal/store"
	"remindbot/internal/timeparse"
	"remindbot/internal/transport"
	"remindbot/internal/transport/telegram"
	"remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	adapter transport.Adapter
	st      *store.Store
	timers  *schedule.TimerSet
	disp    *dispatch.Dispatcher
	in      *intake.Service
	debug   *debugserver.Server
	maint   *cron.Cron

	sup     *rtsup.Supervisor
	updates chan transport.Message
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := cfg.PollTimeoutOrDefault()
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg.Logging), ad)
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := cfg.BusyTimeoutOrDefault()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	ex, err := timeparse.New(cfg.Extractor.Locales)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	disp := dispatch.New(ad, st, log.With(logx.String("comp", "dispatch")))
	timers := schedule.New(disp.Dispatch, log.With(logx.String("comp", "schedule")))
	in := intake.New(st, timers, ex, ad, log.With(logx.String("comp", "intake")))

	dbg := debugserver.New(debugserver.Config{
		Enabled: cfg.Debug.Enabled,
		Addr:    cfg.Debug.Addr,
		Token:   cfg.Debug.Token,
	}, log.With(logx.String("comp", "debug")))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		st:      st,
		timers:  timers,
		disp:    disp,
		in:      in,
		debug:   dbg,
		updates: make(chan transport.Message, 256),
	}

	// Only logging re-applies on hot reload; token/database changes need a
	// restart.
	cfgm.SetOnChange(func(c *config.Config) {
		logSvc.Apply(mapLogging(c.Logging))
	})

	if spec := checkpointSpec(cfg); spec != "" {
		a.maint = cron.New()
		if _, err := a.maint.AddFunc(spec, a.runCheckpoint); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("database.checkpoint_schedule: %w", err)
		}
	}

	return a, nil
}

func mapLogging(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     lc.Telegram.ChatID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func checkpointSpec(cfg *config.Config) string {
	switch cfg.Database.CheckpointSchedule {
	case "":
		return "@daily"
	case "off":
		return ""
	default:
		return cfg.Database.CheckpointSchedule
	}
}

func (a *App) runCheckpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.st.Checkpoint(ctx); err != nil {
		a.log.Warn("wal checkpoint failed", logx.Err(err))
	} else {
		a.log.Debug("wal checkpoint done")
	}
}

// Start brings the bot up: recovery first, then the timer loop, then the
// transport. Returns an error (and starts nothing further) if recovery
// cannot trust the store.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// The dispatcher ignores the signal context on purpose: an in-flight
	// send should finish (and its mark-sent commit land) even while the
	// process is shutting down. Stop() bounds the drain.
	a.disp.Start(context.Background())

	n, err := recovery.Run(ctx, a.st, a.timers, a.log.With(logx.String("comp", "recovery")))
	if err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.Go0("schedule.run", a.timers.Run)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.Go0("intake.consume", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case m := <-a.updates:
				if err := a.in.HandleMessage(c, m); err != nil {
					a.log.Error("intake failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
				}
			}
		}
	})

	// A broken watcher degrades hot reload, nothing else.
	a.sup.Go0("config.watch", func(c context.Context) {
		if err := a.cfgm.Watch(c); err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	})

	if err := a.debug.Start(); err != nil {
		// Operational surface only; never fatal for the reminder pipeline.
		a.log.Warn("debug server not started", logx.Err(err))
	}
	if a.maint != nil {
		a.maint.Start()
	}

	a.log.Info("started", logx.Int("recovered", n))
	return nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Stop shuts down in reverse dependency order: no new intake, no new
// firings, drain in-flight deliveries, then release the store. In-memory
// timers are discarded; recovery rebuilds them on the next start.
func (a *App) Stop(ctx context.Context) error {
	if a.maint != nil {
		<-a.maint.Stop().Done()
	}
	_ = a.adapter.Stop(ctx)
	if a.sup != nil {
		a.sup.Stop(ctx)
	}

	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if !a.disp.Stop(drainCtx) {
		a.log.Warn("dispatch drain timed out; pending rows will be retried on next start")
	}

	_ = a.debug.Stop(ctx)
	err := a.st.Close()
	_ = a.logs.Close()
	a.log.Info("stopped")
	return err
}
