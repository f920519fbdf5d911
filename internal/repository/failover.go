package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"turfie/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLocker uses the primary locker until it fails with an
// infrastructure error, then serves from the fallback and retries the primary
// once per recoveryInterval.
type FailoverLocker struct {
	primary   domain.VenueLocker
	fallback  domain.VenueLocker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverLocker(primary, fallback domain.VenueLocker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (l *FailoverLocker) Acquire(ctx context.Context, venueID int64) (func(), error) {
	if !l.isDown.Load() || l.now().Sub(time.Unix(0, l.lastCheck.Load())) > recoveryInterval {
		release, err := l.primary.Acquire(ctx, venueID)
		if err == nil || isContentionError(err) {
			if l.isDown.CompareAndSwap(true, false) {
				l.logger.Info().Msg("primary venue locker recovered")
			}
			return release, err
		}
		if !l.isDown.Swap(true) {
			l.logger.Error().Err(err).Msg("primary venue locker failed, falling back to in-process locks")
		}
		l.lastCheck.Store(l.now().UnixNano())
	}

	return l.fallback.Acquire(ctx, venueID)
}

// isContentionError reports errors that say nothing about the primary's health.
func isContentionError(err error) bool {
	return errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
