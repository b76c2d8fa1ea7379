package main

import (
	"context"
	"time"

	"github.com/ramsingla/acts-as-wiki/internal/cache"
	"github.com/ramsingla/acts-as-wiki/internal/config"
	"github.com/ramsingla/acts-as-wiki/internal/database"
	"github.com/ramsingla/acts-as-wiki/internal/logging"
	"github.com/ramsingla/acts-as-wiki/internal/records"
	"github.com/ramsingla/acts-as-wiki/internal/revisions"
	"github.com/ramsingla/acts-as-wiki/internal/server"
	"github.com/ramsingla/acts-as-wiki/internal/users"
	"github.com/ramsingla/acts-as-wiki/internal/wiki"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const redisPingTimeout = 3 * time.Second

// application holds the wired services shared by every command.
type application struct {
	config  config.AppConfig
	logger  *zap.Logger
	db      *gorm.DB
	users   *users.Service
	owners  *records.Directory
	store   revisions.Store
	engine  *revisions.Engine
	tracker *wiki.Tracker
	records *records.Service
	events  *server.RealtimeDispatcher
	closers []func() error
}

func newApplication(ctx context.Context) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}
	app := &application{config: appConfig, logger: logger}

	db, err := database.Open(database.Settings{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	app.db = db
	app.closers = append(app.closers, sqlDB.Close)

	app.users, err = users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.owners = records.NewDirectory(db)
	directory := revisions.Directory{Authors: app.users, Owners: app.owners}

	gormStore, err := revisions.NewGormStore(revisions.GormStoreConfig{
		Database:  db,
		Directory: directory,
		Logger:    logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.store = app.withCache(ctx, gormStore)

	app.engine, err = revisions.NewEngine(revisions.EngineConfig{
		Store:     app.store,
		Directory: directory,
		Logger:    logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	registry := wiki.NewRegistry()
	for _, recordType := range appConfig.RecordTypes {
		if err := registry.Register(recordType.Name, recordType.Fields...); err != nil {
			app.Close()
			return nil, err
		}
	}
	registry.Seal()

	app.events = server.NewRealtimeDispatcher()
	app.tracker, err = wiki.NewTracker(wiki.TrackerConfig{
		Registry:     registry,
		Engine:       app.engine,
		Authors:      app.users,
		Events:       app.events,
		SaveAttempts: appConfig.SaveAttempts,
		Logger:       logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.records, err = records.NewService(records.ServiceConfig{
		Database: db,
		Tracker:  app.tracker,
		Logger:   logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// withCache puts the Redis revision cache in front of store when configured.
// An unreachable Redis leaves the store uncached.
func (a *application) withCache(ctx context.Context, store revisions.Store) revisions.Store {
	if a.config.RedisAddress == "" {
		return store
	}
	client := cache.NewRedisClient(a.config.RedisAddress)
	redisCache, err := cache.NewRedisRevisionCache(client, a.config.RedisTTL)
	if err != nil {
		a.logger.Warn("revision cache disabled", zap.Error(err))
		return store
	}
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := redisCache.Ping(pingCtx); err != nil {
		a.logger.Warn("revision cache unreachable", zap.String("address", a.config.RedisAddress), zap.Error(err))
		_ = client.Close()
		return store
	}
	a.closers = append(a.closers, client.Close)
	a.logger.Info("revision cache enabled", zap.String("address", a.config.RedisAddress))
	return revisions.NewCachingStore(store, redisCache, a.logger)
}

func (a *application) Close() {
	for index := len(a.closers) - 1; index >= 0; index-- {
		if err := a.closers[index](); err != nil {
			a.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
