package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// retry runs fn until it succeeds, the context ends, or the attempt budget is
// spent. Record-not-found is a result, not a failure, and is returned as is.
func (r *Registry) retry(ctx context.Context, op string, fn func(db *gorm.DB) error) error {
	attempts := r.cfg.Retries + 1
	delay := r.cfg.RetryBackoff

	for attempt := 1; ; attempt++ {
		err := fn(r.db.WithContext(ctx))
		if err == nil || errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt >= attempts {
			return &PersistenceError{Op: op, Attempts: attempt, Err: err}
		}

		r.logger.Warn("registry operation failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.Any("error", err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

// write serializes fn against every other writer and runs it in a transaction.
func (r *Registry) write(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	return r.retry(ctx, op, func(db *gorm.DB) error {
		return db.Transaction(fn)
	})
}
