package postgres

import (
	"context"
	"database/sql/driver"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failureClass
	}{
		{
			name: "nil error",
			err:  nil,
			want: classOther,
		},
		{
			name: "invalid password sqlstate",
			err:  &pgconn.PgError{Code: "28P01", Message: "password authentication failed for user"},
			want: classAuth,
		},
		{
			name: "invalid authorization sqlstate",
			err:  &pgconn.PgError{Code: "28000"},
			want: classAuth,
		},
		{
			name: "connection exception sqlstate",
			err:  &pgconn.PgError{Code: "08006"},
			want: classTransient,
		},
		{
			name: "admin shutdown sqlstate",
			err:  &pgconn.PgError{Code: "57P01"},
			want: classTransient,
		},
		{
			name: "cannot connect now sqlstate",
			err:  &pgconn.PgError{Code: "57P03"},
			want: classTransient,
		},
		{
			name: "too many connections sqlstate",
			err:  &pgconn.PgError{Code: "53300"},
			want: classTransient,
		},
		{
			name: "unique violation sqlstate",
			err:  &pgconn.PgError{Code: "23505"},
			want: classOther,
		},
		{
			name: "bad connection",
			err:  driver.ErrBadConn,
			want: classTransient,
		},
		{
			name: "wrapped bad connection",
			err:  errors.Wrap(driver.ErrBadConn, "query failed"),
			want: classTransient,
		},
		{
			name: "eof",
			err:  io.EOF,
			want: classTransient,
		},
		{
			name: "connection refused errno",
			err:  syscall.ECONNREFUSED,
			want: classTransient,
		},
		{
			name: "connection reset errno",
			err:  syscall.ECONNRESET,
			want: classTransient,
		},
		{
			name: "net op error",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("timeout")},
			want: classTransient,
		},
		{
			name: "dial failure message fallback",
			err:  errors.New("failed to connect to `host=db.internal user=cardlens database=cardlens`"),
			want: classTransient,
		},
		{
			name: "auth message fallback",
			err:  errors.New("FATAL: password authentication failed for user \"cardlens\""),
			want: classAuth,
		},
		{
			name: "context canceled",
			err:  context.Canceled,
			want: classOther,
		},
		{
			name: "context deadline",
			err:  errors.Wrap(context.DeadlineExceeded, "query timed out"),
			want: classOther,
		},
		{
			name: "record not found",
			err:  gorm.ErrRecordNotFound,
			want: classOther,
		},
		{
			name: "duplicated key",
			err:  gorm.ErrDuplicatedKey,
			want: classOther,
		},
		{
			name: "plain application error",
			err:  errors.New("something domain specific"),
			want: classOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyFailure(tt.err), "class for %v", tt.err)
		})
	}
}

func TestFailureClassString(t *testing.T) {
	assert.Equal(t, "auth", classAuth.String())
	assert.Equal(t, "transient", classTransient.String())
	assert.Equal(t, "other", classOther.String())
}
