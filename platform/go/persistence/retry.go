package persistence

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	maxConnectAttempts = 3
	retryBaseDelay     = 500 * time.Millisecond
)

// withRetry runs op, re-running it on connection-class failures with a
// linearly increasing delay between attempts. Any other error returns
// immediately; after the attempt budget is spent the last error is returned.
func withRetry(ctx context.Context, op func() error) error {
	var last error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBaseDelay * time.Duration(attempt-1)):
			}
		}
		err := op()
		if err == nil {
			return nil
		}
		if !isConnectionError(err) {
			return err
		}
		last = err
	}
	return last
}

// isConnectionError reports whether err looks like a transient failure to
// reach the server, as opposed to a statement-level error.
func isConnectionError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 08 covers connection exceptions.
		return strings.HasPrefix(pgErr.Code, "08")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
