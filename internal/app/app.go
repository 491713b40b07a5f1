// Package app wires the process together: config, logging, storage, the
// WhatsApp client, the scheduling core, and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"wagenda/internal/bot"
	"wagenda/internal/config"
	"wagenda/internal/correlate"
	"wagenda/internal/replysession"
	"wagenda/internal/scheduler"
	"wagenda/internal/server"
	"wagenda/internal/storage"
	"wagenda/internal/wa"
	"wagenda/pkg/logx"
)

// staleSlotAge bounds how long an unanswered two-step schedule slot lives
// before the maintenance sweep drops it.
const staleSlotAge = 24 * time.Hour

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store    *storage.Store
	client   *wa.Client
	tracker  *correlate.Tracker
	sessions *replysession.Manager
	sched    *scheduler.Service
	bot      *bot.Bot
	srv      *server.Server

	cron *cron.Cron

	cancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	sendTimeout, err := config.ParseDurationOrDefault("whatsapp.send_timeout", cfg.WhatsApp.SendTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	client, err := wa.New(wa.Config{
		BaseURL:       cfg.WhatsApp.APIBaseURL,
		APIVersion:    cfg.WhatsApp.APIVersion,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AccessToken:   cfg.WhatsApp.AccessToken,
		Timeout:       sendTimeout,
		RatePerSec:    cfg.WhatsApp.RatePerSec,
	}, log.With(logx.String("comp", "wa")))
	if err != nil {
		return nil, err
	}

	replyTimeout, err := config.ParseDurationOrDefault("bot.reply_timeout", cfg.Bot.ReplyTimeout, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Bot.Timezone)
	if err != nil {
		return nil, fmt.Errorf("bot.timezone: %w", err)
	}

	tracker := correlate.New(store, time.Duration(cfg.Bot.WindowHours)*time.Hour,
		log.With(logx.String("comp", "correlate")))
	sessions := replysession.New(store, replyTimeout,
		log.With(logx.String("comp", "replysession")))
	sched := scheduler.New(scheduler.Config{}, store, client, tracker,
		log.With(logx.String("comp", "scheduler")))

	b := bot.New(bot.Config{
		OwnerID:       cfg.WhatsApp.OwnerID,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		Timezone:      loc,
	}, store, sched, tracker, sessions, client, log.With(logx.String("comp", "bot")))

	readTimeout, err := config.ParseDurationOrDefault("server.read_timeout", cfg.Server.ReadTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := config.ParseDurationOrDefault("server.write_timeout", cfg.Server.WriteTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		VerifyToken:  cfg.WhatsApp.VerifyToken,
		AdminToken:   cfg.Server.AdminToken,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}, b, sched, store, log.With(logx.String("comp", "server")))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		store:    store,
		client:   client,
		tracker:  tracker,
		sessions: sessions,
		sched:    sched,
		bot:      b,
		srv:      srv,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.sched.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if err := a.srv.Start(runCtx); err != nil {
		cancel()
		return err
	}

	a.startMaintenance()
	go a.watchConfig(runCtx)

	a.log.Info("started")
	return nil
}

// startMaintenance runs the periodic sweeps: expired correlations and
// reply sessions every 30 minutes, stale two-step slots alongside them,
// and a pending-job rearm every 5 minutes to recover lost timers.
func (a *App) startMaintenance() {
	c := cron.New()
	log := a.log.With(logx.String("comp", "maintenance"))

	_, _ = c.AddFunc("@every 30m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		now := time.Now()
		if _, err := a.tracker.Cleanup(ctx, now); err != nil {
			log.Warn("correlation cleanup failed", logx.Err(err))
		}
		if _, err := a.sessions.Sweep(ctx, now); err != nil {
			log.Warn("session sweep failed", logx.Err(err))
		}
		if _, err := a.store.DeleteStalePendingSchedules(ctx, now.Add(-staleSlotAge)); err != nil {
			log.Warn("pending slot sweep failed", logx.Err(err))
		}
	})
	_, _ = c.AddFunc("@every 5m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := a.sched.Rearm(ctx); err != nil {
			log.Warn("rearm sweep failed", logx.Err(err))
		}
	})

	c.Start()
	a.cron = c
}

// watchConfig applies hot-reloadable settings: log level/outputs, the
// owner's timezone, the correlation window, and the reply timeout.
// Endpoint, credential, and storage changes still need a restart.
func (a *App) watchConfig(ctx context.Context) {
	go func() {
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
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
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if loc, err := time.LoadLocation(cfg.Bot.Timezone); err == nil {
		a.bot.SetTimezone(loc)
	}
	a.tracker.SetWindow(time.Duration(cfg.Bot.WindowHours) * time.Hour)
	if d, err := config.ParseDurationField("bot.reply_timeout", cfg.Bot.ReplyTimeout); err == nil && d > 0 {
		a.sessions.SetTimeout(d)
	}
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.cron != nil {
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}

	var firstErr error
	if err := a.srv.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.sched.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return firstErr
}
