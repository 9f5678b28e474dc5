package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"cardlens/config"
	"cardlens/internal/domain/lifecycle"
	"cardlens/internal/errors"

	"go.uber.org/fx"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

const (
	dbPoolMonitorInterval       = 5 * time.Second
	dbPoolWarnDurationThreshold = 50 * time.Millisecond
)

// Params defines the required parameters
type Params struct {
	fx.In
	fx.Lifecycle

	Config *config.Config
	Logger *slog.Logger
}

// NewRegistryFromConfig builds the resilience registry from configuration:
// runtime profiles (sharing one signer cache), the real GORM opener and the
// retry policy. Fx lifecycle hooks ping on start and close on stop.
func NewRegistryFromConfig(params Params) (*Registry, error) {
	signers := NewSignerCache()

	primary, err := NewProfile(params.Config.Postgres.Primary, signers)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build primary connection profile")
	}

	var secondary *ConnectionProfile
	if params.Config.Postgres.Secondary != nil {
		secondary, err = NewProfile(params.Config.Postgres.Secondary, signers)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build secondary connection profile")
		}
	}

	registry := NewRegistry(
		primary,
		secondary,
		newGormOpener(params.Logger, params.Config),
		params.Config.Resilience,
		params.Logger,
	)

	monitorCtx, cancelMonitor := context.WithCancel(context.Background())

	params.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			ctx, cancel := context.WithTimeout(startCtx, lifecycle.DefaultTimeout)
			defer cancel()

			if err := registry.Ping(ctx); err != nil {
				return errors.Wrap(err, "failed to ping PostgreSQL")
			}

			go monitorDBPool(monitorCtx, params.Logger, registry, dbPoolMonitorInterval)

			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancelMonitor()

			return registry.Close(stopCtx)
		},
	})

	return registry, nil
}

// newGormOpener returns the production Opener: a GORM connection for the
// profile with the dbresolver plugin registered when read replicas are
// configured.
func newGormOpener(logger *slog.Logger, cfg *config.Config) Opener {
	return func(profile *ConnectionProfile) (*gorm.DB, error) {
		dsn, err := profile.DSN()
		if err != nil {
			return nil, err
		}

		db, err := gorm.Open(pgdriver.Open(dsn), &gorm.Config{
			// Disable GORM's per-statement implicit transaction. The session
			// manager's operations are single statements; rotation relies on
			// one UPDATE being atomic on its own.
			SkipDefaultTransaction: true,
			TranslateError:         true,
			Logger:                 newGormSlogLogger(logger, cfg),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open PostgreSQL connection for profile %q", profile.Name)
		}

		if len(profile.Replicas) > 0 {
			replicas := make([]gorm.Dialector, 0, len(profile.Replicas))
			for _, replica := range profile.Replicas {
				replicaDSN, dsnErr := profile.ReplicaDSN(replica)
				if dsnErr != nil {
					return nil, dsnErr
				}
				replicas = append(replicas, pgdriver.Open(replicaDSN))
			}

			if err := db.Use(dbresolver.Register(dbresolver.Config{
				Replicas: replicas,
				Policy:   dbresolver.RandomPolicy{},
			})); err != nil {
				return nil, errors.Wrapf(err, "failed to register read replicas for profile %q", profile.Name)
			}
		}

		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get PostgreSQL sql.DB")
		}
		if profile.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(profile.MaxOpenConns)
		}
		if profile.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(profile.MaxIdleConns)
		}
		if profile.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(profile.ConnMaxLifetime)
		}

		return db, nil
	}
}

func monitorDBPool(ctx context.Context, logger *slog.Logger, registry *Registry, interval time.Duration) {
	if logger == nil || registry == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var prev sql.DBStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.mu.Lock()
			db := registry.db
			registry.mu.Unlock()
			if db == nil {
				continue
			}
			sqlDB, err := db.DB()
			if err != nil {
				continue
			}

			cur := sqlDB.Stats()
			waitDelta := cur.WaitCount - prev.WaitCount
			waitDurationDelta := cur.WaitDuration - prev.WaitDuration

			if waitDelta > 0 {
				attrs := []slog.Attr{
					slog.Int64("waitCountDelta", waitDelta),
					slog.Duration("waitDurationDelta", waitDurationDelta),
					slog.Duration("avgWait", waitDurationDelta/time.Duration(waitDelta)),
					slog.Int("maxOpenConns", cur.MaxOpenConnections),
					slog.Int("openConns", cur.OpenConnections),
					slog.Int("inUseConns", cur.InUse),
					slog.Int("idleConns", cur.Idle),
				}
				if waitDurationDelta >= dbPoolWarnDurationThreshold {
					logger.LogAttrs(ctx, slog.LevelWarn, "Postgres pool wait detected", attrs...)
				} else {
					logger.LogAttrs(ctx, slog.LevelDebug, "Postgres pool wait observed", attrs...)
				}
			}

			prev = cur
		}
	}
}
