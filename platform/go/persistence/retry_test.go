package persistence

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsConnectionError(t *testing.T) {
	require.True(t, isConnectionError(&pgconn.PgError{Code: "08006"}))
	require.True(t, isConnectionError(&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}))
	require.True(t, isConnectionError(syscall.ECONNRESET))

	require.False(t, isConnectionError(&pgconn.PgError{Code: "23505"}))
	require.False(t, isConnectionError(errors.New("unique constraint violated")))
	require.False(t, isConnectionError(ErrNotFound))
}

func TestWithRetryStopsOnNonConnectionError(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		return errors.New("syntax error")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestWithRetryExhaustsAttemptBudget(t *testing.T) {
	connErr := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		return connErr
	})
	require.ErrorIs(t, err, syscall.ECONNREFUSED)
	require.Equal(t, maxConnectAttempts, attempts)
}

func TestWithRetryRecovers(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		if attempts == 1 {
			return &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withRetry(ctx, func() error {
		return &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	})
	require.ErrorIs(t, err, context.Canceled)
}
