package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/kairon/internal/ir"
)

// Retry policy for transient storage failures. Writes that give up after the
// budget surface as UNAVAILABLE so callers know the stimulus was not dropped
// silently; non-transient errors fail immediately.
const (
	retryAttempts = 4
	retryBaseWait = 25 * time.Millisecond
)

// withRetry runs fn, retrying transient failures with exponential backoff.
// The operation must be idempotent - every write in this package is, by
// construction (insert-or-ignore and conditional updates).
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	wait := retryBaseWait
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		s.log.Warn("transient storage failure, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return ir.NewUnavailableError(op, err)
}

// isTransient classifies driver errors worth retrying: lock contention on
// sqlite, connection-level failures on postgres.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"database is locked",
		"database table is locked",
		"SQLITE_BUSY",
		"connection refused",
		"connection reset",
		"broken pipe",
		"unexpected EOF",
		"conn closed",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
