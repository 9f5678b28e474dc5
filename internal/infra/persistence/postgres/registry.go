package postgres

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cardlens/config"
	deliverycontext "cardlens/internal/delivery/context"
	domainerrors "cardlens/internal/domain/errors"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// AccessMode declares whether an operation is a side-effect-free read or a
// write. Reads are retried on any transient failure; a write is only retried
// when the failure happened before its callback ran, because a connection
// that died mid-statement may already have applied the write.
type AccessMode int

const (
	// AccessRead marks an idempotent read operation.
	AccessRead AccessMode = iota
	// AccessWrite marks an operation with side effects.
	AccessWrite
)

// Operation is one unit of store work executed under the resilience policy.
type Operation func(db *gorm.DB) error

// Opener establishes a connection for a profile. Injected so tests can
// substitute failing or fake connections.
type Opener func(profile *ConnectionProfile) (*gorm.DB, error)

// Registry owns the process-wide memoized connection and the active
// ConnectionProfile. It is the only component allowed to decide which profile
// is active, and it switches only by installing a complete new descriptor.
type Registry struct {
	open        Opener
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger

	mu        sync.Mutex
	active    *ConnectionProfile
	alternate *ConnectionProfile
	db        *gorm.DB
}

// NewRegistry creates a registry with the primary profile active and the
// secondary, when configured, available for a single failover per operation.
func NewRegistry(primary, secondary *ConnectionProfile, open Opener, rc *config.ResilienceConfig, logger *slog.Logger) *Registry {
	maxAttempts := 10
	baseDelay := 100 * time.Millisecond
	if rc != nil {
		if rc.MaxAttempts > 0 {
			maxAttempts = rc.MaxAttempts
		}
		if rc.BaseDelay > 0 {
			baseDelay = rc.BaseDelay
		}
	}

	return &Registry{
		open:        open,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger,
		active:      primary,
		alternate:   secondary,
	}
}

// log returns a request-scoped logger if available, otherwise falls back to the registry's logger.
func (r *Registry) log(ctx context.Context) *slog.Logger {
	return deliverycontext.GetLoggerOrDefault(ctx, r.logger)
}

// ActiveProfileName reports which profile is currently active.
func (r *Registry) ActiveProfileName() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.active.Name
}

// Execute runs op under the resilience policy:
//
//  1. Ensure a connection exists for the active profile (lazily memoized).
//  2. Run op.
//  3. On failure, classify: auth failures trigger at most one switch to the
//     alternate profile; transient failures drop the connection and retry
//     after baseDelay*attempt, up to maxAttempts; anything else propagates.
//  4. An exhausted retry budget surfaces as ErrStoreUnavailable wrapping the
//     last error.
func (r *Registry) Execute(ctx context.Context, mode AccessMode, op Operation) error {
	var lastErr error
	switched := false

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		ran := false

		db, err := r.conn()
		if err == nil {
			ran = true
			err = op(db.WithContext(ctx))
		}
		if err == nil {
			return nil
		}
		lastErr = err

		switch classifyFailure(err) {
		case classAuth:
			if switched || r.alternateProfile() == nil {
				r.log(ctx).Error("Store authentication failed with no profile left to try",
					slog.Int("attempt", attempt), slog.Any("error", err))

				return errors.Wrapf(domainerrors.ErrStoreUnavailable,
					"store authentication failed with no alternate profile: %v", err)
			}
			r.switchProfile(ctx, err)
			switched = true

		case classTransient:
			if mode == AccessWrite && ran {
				// The statement may have been applied before the connection
				// died; replaying it risks a duplicate side effect.
				r.log(ctx).Warn("Write interrupted by transient failure, not retried",
					slog.Int("attempt", attempt), slog.Any("error", err))

				return errors.Wrapf(domainerrors.ErrStoreUnavailable,
					"write interrupted by transient store failure: %v", err)
			}

			r.dropConn(ctx)
			r.log(ctx).Warn("Transient store failure, retrying",
				slog.Int("attempt", attempt),
				slog.Int("maxAttempts", r.maxAttempts),
				slog.Any("error", err))

			if attempt < r.maxAttempts {
				if sleepErr := sleepCtx(ctx, r.baseDelay*time.Duration(attempt)); sleepErr != nil {
					return sleepErr
				}
			}

		default:
			// Constraint, not-found and application-level errors are the
			// caller's problem; retrying would not change the outcome.
			return err
		}
	}

	deliverycontext.GetMetrics(ctx).Record("store.retries_exhausted", float64(r.maxAttempts), "attempts")
	r.log(ctx).Error("Store unavailable, retry budget exhausted",
		slog.Int("attempts", r.maxAttempts), slog.Any("error", lastErr))

	return errors.Wrapf(domainerrors.ErrStoreUnavailable,
		"store unavailable after %d attempts: %v", r.maxAttempts, lastErr)
}

// conn returns the memoized connection, opening one for the active profile
// if none exists.
func (r *Registry) conn() (*gorm.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		return r.db, nil
	}

	db, err := r.open(r.active)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open connection for profile %q", r.active.Name)
	}
	r.db = db

	return db, nil
}

func (r *Registry) alternateProfile() *ConnectionProfile {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.alternate
}

// dropConn discards the memoized connection so the next attempt reconnects.
func (r *Registry) dropConn(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked(ctx)
}

// switchProfile is the single mutation entry point for the active profile.
// It installs the alternate descriptor wholesale and resets the connection;
// readers observe either the old or the fully switched profile, never a
// partial state.
func (r *Registry) switchProfile(ctx context.Context, cause error) {
	r.mu.Lock()
	from, to := r.active, r.alternate
	r.closeLocked(ctx)
	r.active, r.alternate = to, from
	r.mu.Unlock()

	deliverycontext.GetMetrics(ctx).Incr("store.profile_switch")
	r.log(ctx).Warn("Switching store connection profile after authentication failure",
		slog.String("from", from.Name),
		slog.String("to", to.Name),
		slog.Any("error", cause))
}

// closeLocked releases the memoized connection. Callers must hold the lock.
func (r *Registry) closeLocked(ctx context.Context) {
	if r.db == nil {
		return
	}

	if sqlDB, err := r.db.DB(); err == nil {
		if closeErr := sqlDB.Close(); closeErr != nil {
			r.log(ctx).Debug("Failed to close store connection", slog.Any("error", closeErr))
		}
	}
	r.db = nil
}

// Close releases the memoized connection, for process shutdown.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked(ctx)

	return nil
}

// Ping verifies connectivity through the resilience policy.
func (r *Registry) Ping(ctx context.Context) error {
	return r.Execute(ctx, AccessRead, func(db *gorm.DB) error {
		sqlDB, err := db.DB()
		if err != nil {
			return errors.Wrap(err, "failed to get sql.DB for ping")
		}

		return sqlDB.PingContext(ctx)
	})
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
