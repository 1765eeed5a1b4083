package main

import (
	"context"
	"io"

	"autotrac/sync-client/internal/client"
	"autotrac/sync-client/internal/config"
	"autotrac/sync-client/internal/connectivity"
	"autotrac/sync-client/internal/database"
	"autotrac/sync-client/internal/fx"
	"autotrac/sync-client/internal/logger"
	"autotrac/sync-client/internal/notify"
	"autotrac/sync-client/internal/queue"
	"autotrac/sync-client/internal/repository"
	"autotrac/sync-client/internal/service"
	"autotrac/sync-client/internal/storage"

	"go.uber.org/zap"
)

// app holds every wired component for one CLI invocation
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *database.DB
	closers []io.Closer

	api     *client.APIClient
	probe   *connectivity.HealthProbe
	queue   *queue.MutationQueue
	rates   *fx.RateCache
	history *repository.SyncLogRepository
	svc     *service.SyncService
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	db, err := database.New(cfg.StoragePath, log.Named("database"))
	if err != nil {
		return nil, err
	}
	a.db = db

	store, closer, err := storage.Open(ctx, storage.Options{
		Backend:   cfg.Storage.Backend,
		DB:        db.DB,
		FilePath:  cfg.Storage.FilePath,
		RedisAddr: cfg.Storage.RedisAddr,
		RedisDB:   cfg.Storage.RedisDB,
		Prefix:    cfg.Storage.Prefix,
	}, log.Named("storage"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closer)

	a.api = client.NewAPIClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.BackendTimeout(), log.Named("client"))
	a.probe = connectivity.NewHealthProbe(a.api, cfg.HealthInterval(), log.Named("connectivity"))

	a.queue, err = queue.Open(ctx, store, a.api, a.probe, queue.Options{
		CallTimeout: cfg.CallTimeout(),
		MaxAttempts: cfg.Sync.MaxAttempts,
	}, log.Named("queue"))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.rates = fx.New(store,
		fx.NewHTTPRateProvider(cfg.FX.BaseURL, cfg.FXTimeout(), log.Named("fx")),
		a.probe,
		fx.Options{
			ReportingCurrency: cfg.FX.ReportingCurrency,
			TTL:               cfg.FXTTL(),
			FetchTimeout:      cfg.FXTimeout(),
		},
		log.Named("fx"),
	)

	a.history = repository.NewSyncLogRepository(db.DB)

	notifiers := notify.Multi{notify.NewLogNotifier(log.Named("sync"))}
	if cfg.Notify.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.Notify.AMQPURL, cfg.Notify.Exchange, cfg.Notify.Routing, log.Named("amqp"))
		if err != nil {
			// sync outcomes still reach the log and the history table
			log.Warn("AMQP notifier unavailable", zap.Error(err))
		} else {
			a.closers = append(a.closers, amqpNotifier)
			notifiers = append(notifiers, amqpNotifier)
		}
	}

	a.svc = service.NewSyncService(
		a.api,
		a.queue,
		a.probe,
		a.rates,
		notifiers,
		notify.NewHistoryNotifier(a.history),
		service.Options{SyncInterval: cfg.SyncInterval()},
		log.Named("service"),
	)

	return a, nil
}

// checkOnline probes the backend once so one-shot commands know whether to
// write through or queue
func (a *app) checkOnline(ctx context.Context) bool {
	return a.probe.Check(ctx)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("Failed to close resource", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Error("Failed to close database", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
