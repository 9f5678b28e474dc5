package postgres

import (
	"context"
	"io"
	"log/slog"
	"syscall"
	"testing"
	"time"

	"cardlens/config"
	domainerrors "cardlens/internal/domain/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastResilience(maxAttempts int) *config.ResilienceConfig {
	return &config.ResilienceConfig{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
	}
}

// fakeDB builds a gorm handle that is never dialed. Operations in these
// tests return canned errors without touching it.
func fakeDB() *gorm.DB {
	return &gorm.DB{Config: &gorm.Config{}, Statement: &gorm.Statement{}}
}

// recordingOpener satisfies Opener and records which profile each open hit.
type recordingOpener struct {
	opened []string
	errs   []error
}

func (o *recordingOpener) open(profile *ConnectionProfile) (*gorm.DB, error) {
	o.opened = append(o.opened, profile.Name)
	if len(o.errs) > 0 {
		err := o.errs[0]
		o.errs = o.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	return fakeDB(), nil
}

func TestExecute_SucceedsFirstAttempt(t *testing.T) {
	opener := &recordingOpener{}
	registry := NewRegistry(&ConnectionProfile{Name: "primary"}, nil, opener.open, fastResilience(3), testLogger())

	calls := 0
	err := registry.Execute(context.Background(), AccessRead, func(db *gorm.DB) error {
		calls++

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"primary"}, opener.opened)
}

func TestExecute_ReusesMemoizedConnection(t *testing.T) {
	opener := &recordingOpener{}
	registry := NewRegistry(&ConnectionProfile{Name: "primary"}, nil, opener.open, fastResilience(3), testLogger())

	for range 3 {
		err := registry.Execute(context.Background(), AccessRead, func(db *gorm.DB) error {
			return nil
		})
		require.NoError(t, err)
	}

	assert.Len(t, opener.opened, 1, "connection should be opened once and reused")
}

func TestExecute_TransientReadRetriesUntilSuccess(t *testing.T) {
	opener := &recordingOpener{}
	registry := NewRegistry(&ConnectionProfile{Name: "primary"}, nil, opener.open, fastResilience(5), testLogger())

	calls := 0
	err := registry.Execute(context.Background(), AccessRead, func(db *gorm.DB) error {
		calls++
		if calls < 3 {
			return syscall.ECONNRESET
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Each transient failure drops the memoized connection, so every retry reconnects.
	assert.Len(t, opener.opened, 3)
}

func TestExecute_TransientFailuresExhaustAttemptBudget(t *testing.T) {
	const maxAttempts = 4

	opener := &recordingOpener{}
	registry := NewRegistry(&ConnectionProfile{Name: "primary"}, nil, opener.open, fastResilience(maxAttempts), testLogger())

	calls := 0
	err := registry.Execute(context.Background(), AccessRead, func(db *gorm.DB) error {
		calls++

		return syscall.ECONNREFUSED
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrStoreUnavailable)
	assert.Equal(t, maxAttempts, calls, "operation must run exactly the configured attempt ceiling")
}

func TestExecute_ConnectFailureRetriedForWrites(t *testing.T) {
	// A failure while establishing the connection happened before the
	// operation ran, so even writes may safely retry it.
	opener := &recordingOpener{
		errs: []error{syscall.ECONNREFUSED, syscall.ECONNREFUSED, nil},
	}
	registry := NewRegistry(&ConnectionProfile{Name: "primary"}, nil, opener.open, fastResilience(5), testLogger())

	calls := 0
	err := registry.Execute(context.Background(), AccessWrite, func(db *gorm.DB) error {
		calls++

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls, "operation must not run until a connection exists")
	assert.Len(t, opener.opened, 3)
}

func TestExecute_WriteNotRetriedAfterOperationRan(t *testing.T) {
	opener := &recordingOpener{}
	registry := NewRegistry(&ConnectionProfile{Name: "primary"}, nil, opener.open, fastResilience(10), testLogger())

	calls := 0
	err := registry.Execute(context.Background(), AccessWrite, func(db *gorm.DB) error {
		calls++

		return syscall.ECONNRESET
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrStoreUnavailable)
	assert.Equal(t, 1, calls, "an interrupted write must not be replayed")
}

func TestExecute_AuthFailureSwitchesProfileExactlyOnce(t *testing.T) {
	opener := &recordingOpener{}
	registry := NewRegistry(
		&ConnectionProfile{Name: "primary"},
		&ConnectionProfile{Name: "secondary"},
		opener.open, fastResilience(10), testLogger(),
	)

	calls := 0
	err := registry.Execute(context.Background(), AccessRead, func(db *gorm.DB) error {
		calls++

		return &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrStoreUnavailable)
	assert.Equal(t, 2, calls, "one attempt per profile, then fail fast")
	assert.Equal(t, []string{"primary", "secondary"}, opener.opened)
	assert.Equal(t, "secondary", registry.ActiveProfileName(), "the switch must persist for later operations")
}

func TestExecute_AuthFailureRecoversOnAlternate(t *testing.T) {
	opener := &recordingOpener{}
	registry := NewRegistry(
		&ConnectionProfile{Name: "primary"},
		&ConnectionProfile{Name: "secondary"},
		opener.open, fastResilience(10), testLogger(),
	)

	calls := 0
	err := registry.Execute(context.Background(), AccessRead, func(db *gorm.DB) error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: "28000"}
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "secondary", registry.ActiveProfileName())
}

func TestExecute_AuthFailureWithoutAlternateFailsFast(t *testing.T) {
	opener := &recordingOpener{}
	registry := NewRegistry(&ConnectionProfile{Name: "primary"}, nil, opener.open, fastResilience(10), testLogger())

	calls := 0
	err := registry.Execute(context.Background(), AccessRead, func(db *gorm.DB) error {
		calls++

		return &pgconn.PgError{Code: "28P01"}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrStoreUnavailable)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "primary", registry.ActiveProfileName())
}

func TestExecute_OtherErrorsPropagateUnretried(t *testing.T) {
	opener := &recordingOpener{}
	registry := NewRegistry(&ConnectionProfile{Name: "primary"}, nil, opener.open, fastResilience(10), testLogger())

	calls := 0
	err := registry.Execute(context.Background(), AccessRead, func(db *gorm.DB) error {
		calls++

		return gorm.ErrRecordNotFound
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.NotErrorIs(t, err, domainerrors.ErrStoreUnavailable)
	assert.Equal(t, 1, calls)
}

func TestExecute_CanceledContextStopsBeforeOperation(t *testing.T) {
	opener := &recordingOpener{}
	registry := NewRegistry(&ConnectionProfile{Name: "primary"}, nil, opener.open, fastResilience(10), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := registry.Execute(ctx, AccessRead, func(db *gorm.DB) error {
		calls++

		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestExecute_CancellationDuringBackoffPropagates(t *testing.T) {
	opener := &recordingOpener{}
	rc := &config.ResilienceConfig{MaxAttempts: 10, BaseDelay: time.Hour}
	registry := NewRegistry(&ConnectionProfile{Name: "primary"}, nil, opener.open, rc, testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := registry.Execute(ctx, AccessRead, func(db *gorm.DB) error {
		calls++

		return errors.Wrap(syscall.ECONNREFUSED, "dial failed")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation during backoff must stop the retry loop")
}

func TestNewRegistry_DefaultsWhenUnconfigured(t *testing.T) {
	registry := NewRegistry(&ConnectionProfile{Name: "primary"}, nil, nil, nil, testLogger())

	assert.Equal(t, 10, registry.maxAttempts)
	assert.Equal(t, 100*time.Millisecond, registry.baseDelay)
}
