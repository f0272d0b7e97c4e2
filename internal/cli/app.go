package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"tasksync/internal/config"
	"tasksync/internal/connectivity"
	"tasksync/internal/database"
	"tasksync/internal/domain"
	"tasksync/internal/events"
	"tasksync/internal/logging"
	"tasksync/internal/remote"
	"tasksync/internal/repository"
	"tasksync/internal/syncer"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds what every command needs: config, logger and the local store.
type app struct {
	cfg    *config.Config
	logger *zerolog.Logger
	closer io.Closer
	db     *database.DB
}

// openApp loads config, builds the logger and opens the store. One-shot commands keep
// stdout for their own output, so their logs go to stderr unless a file is configured.
func openApp(opts *RootOptions, daemon bool) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}

	if !daemon {
		switch strings.ToLower(strings.TrimSpace(cfg.Logging.Output)) {
		case "", "stdout":
			cfg.Logging.Output = "stderr"
		}
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "init logger", err)
	}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}

	return &app{cfg: cfg, logger: logger, closer: closer, db: db}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close database")
	}
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

// connectRedis returns nil when redis is not configured or does not answer.
func (a *app) connectRedis(ctx context.Context) *redis.Client {
	if a.cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(a.cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		a.logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	a.logger.Info().Str("addr", a.cfg.Redis.Address).Msg("redis connected")
	return client
}

func (a *app) remoteClient() domain.RemoteSyncClient {
	client := remote.NewClient(a.cfg.Remote, logging.Component(a.logger, "remote"))
	if a.cfg.Remote.Mode == config.RemoteModeSingle {
		return remote.NewSingleItemClient(client)
	}
	return client
}

// newOrchestrator wires the sync engine against the store. bus may be nil. The returned
// cleanup releases the probe and the redis connection.
func (a *app) newOrchestrator(ctx context.Context, bus *events.EventBus) (*syncer.Orchestrator, func(), error) {
	client := a.remoteClient()

	probe, err := connectivity.New(a.cfg.Sync, client, logging.Component(a.logger, "connectivity"))
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "build connectivity probe", err)
	}

	var options []syncer.Option
	if bus != nil {
		options = append(options, syncer.WithEvents(bus))
	}

	rdb := a.connectRedis(ctx)
	if rdb != nil {
		lock := repository.NewFailoverLocker(
			repository.NewRedisRunLock(rdb, a.cfg.Redis.LockKey, a.cfg.Redis.LockTTL),
			repository.NewLocalLocker(),
			logging.Component(a.logger, "run-lock"),
		)
		options = append(options,
			syncer.WithRunLocker(lock),
			syncer.WithDeadLetterSink(repository.NewRedisDeadLetterMirror(rdb, a.cfg.Redis.DeadLetterKey)),
		)
	}

	orch := syncer.New(
		a.db,
		client,
		probe,
		syncer.OptionsFromConfig(a.cfg.Sync),
		logging.Component(a.logger, "syncer"),
		options...,
	)

	cleanup := func() {
		if err := probe.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close connectivity probe")
		}
		if err := repository.Close(rdb); err != nil {
			a.logger.Warn().Err(err).Msg("close redis")
		}
	}
	return orch, cleanup, nil
}

func storageError(action string, err error) error {
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s failed", action), err)
}
