package postgres

import (
	"context"
	"database/sql/driver"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// failureClass buckets store failures by how the resilience layer reacts.
type failureClass int

const (
	// classOther: constraint violations, not-found, application errors.
	// Propagated immediately, never retried.
	classOther failureClass = iota

	// classAuth: the server rejected our credentials. Triggers at most one
	// profile switch.
	classAuth

	// classTransient: the server was unreachable or the connection died.
	// Retried with increasing delay up to the attempt ceiling.
	classTransient
)

func (c failureClass) String() string {
	switch c {
	case classAuth:
		return "auth"
	case classTransient:
		return "transient"
	default:
		return "other"
	}
}

// classifyFailure maps an error from the driver or the operation callback to
// its failure class. Context cancellation is deliberately classOther: the
// host-level timeout is the only cancellation mechanism and retrying past it
// would fight the host.
func classifyFailure(err error) failureClass {
	if err == nil {
		return classOther
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classOther
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 28: invalid authorization specification.
		if strings.HasPrefix(pgErr.Code, "28") {
			return classAuth
		}
		// Class 08: connection exceptions. 57P01..57P03: server shutdown /
		// cannot connect now. 53300: too many connections.
		if strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "57P01" || pgErr.Code == "57P02" || pgErr.Code == "57P03" ||
			pgErr.Code == "53300" {
			return classTransient
		}

		return classOther
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return classTransient
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return classTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return classTransient
	}

	// pgconn surfaces dial failures as *pgconn.ConnectError without a
	// SQLSTATE; fall back to message inspection for those.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password authentication failed"):
		return classAuth
	case strings.Contains(msg, "failed to connect"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "unexpected eof"),
		strings.Contains(msg, "i/o timeout"):
		return classTransient
	}

	return classOther
}
