package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"blogsync/internal/config"
	"blogsync/internal/publisher"
	"blogsync/internal/remote"
	"blogsync/internal/remote/httpexec"
	"blogsync/internal/service"
	"blogsync/internal/storage/sqlstore"
	"blogsync/internal/taxonomy"
)

// app holds everything a command needs, built once per invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sqlx.DB
	items    *sqlstore.ItemStore
	terms    *sqlstore.TermStore
	resolver *taxonomy.Resolver
	remote   *remote.Adapter
	sync     *service.SyncService
	closers  []func() error
}

// loadConfig reads path, falling back to defaults when the file does not
// exist so the tool works without any setup.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Parse(nil)
	}
	return cfg, err
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFile)

	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	logger.Debug("connected to database", "driver", cfg.Database.Driver)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		items:   sqlstore.NewItemStore(db),
		terms:   sqlstore.NewTermStore(db),
		closers: []func() error{db.Close},
	}
	a.resolver = taxonomy.NewResolver(a.terms, logger)

	executor := httpexec.New(httpexec.Config{
		Timeout:        cfg.Remote.Timeout,
		MaxAttempts:    cfg.Remote.Retry.MaxAttempts,
		InitialBackoff: cfg.Remote.Retry.InitialBackoff,
		MaxBackoff:     cfg.Remote.Retry.MaxBackoff,
	}, logger)

	a.remote = remote.New(remote.Config{
		BaseURL:       cfg.Remote.BaseURL,
		Username:      cfg.Remote.Username,
		Password:      cfg.Remote.Password,
		MaxUploadSize: cfg.Remote.MaxUploadSize,
	}, executor, a.resolver, logger)

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Warn("sync events disabled", "error", err)
		} else {
			pub = rabbitMQ
			a.closers = append(a.closers, rabbitMQ.Close)
		}
	}

	a.sync = service.NewSyncService(
		a.items,
		a.resolver,
		sqlstore.NewPullStateStore(db),
		a.remote,
		sqlstore.NewTransactionManager(db),
		pub,
		logger,
		service.PullConfig{
			PerPage:  cfg.Remote.PerPage,
			MaxPages: cfg.Remote.MaxPages,
		},
	)

	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
