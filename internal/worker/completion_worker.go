package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Completer moves ended confirmed reservations to completed.
type Completer interface {
	CompleteDue(ctx context.Context, limit uint64) (int, error)
}

// CompletionWorker runs the time-based confirmed→completed transition on a
// fixed interval. Failed sweeps are retried with backoff before falling back
// to the regular interval.
type CompletionWorker struct {
	completer Completer
	interval  time.Duration
	batchSize uint64
	retry     RetryPolicy
	logger    *zerolog.Logger
}

func NewCompletionWorker(completer Completer, interval time.Duration, batchSize uint64, retry RetryPolicy, logger *zerolog.Logger) *CompletionWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CompletionWorker{
		completer: completer,
		interval:  interval,
		batchSize: batchSize,
		retry:     retry,
		logger:    logger,
	}
}

// Start blocks until ctx is done.
func (w *CompletionWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("interval", w.interval).Msg("completion worker started")
	defer w.logger.Info().Msg("completion worker stopped")

	attempt := 0
	for {
		wait := w.interval
		if err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			if !w.retry.Exhausted(attempt) {
				wait = w.retry.NextDelay(attempt)
				w.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("completion sweep failed")
			} else {
				w.logger.Error().Err(err).Int("attempts", attempt).Msg("completion sweep keeps failing")
				attempt = 0
			}
		} else {
			attempt = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunOnce drains every due reservation, one batch at a time.
func (w *CompletionWorker) RunOnce(ctx context.Context) error {
	total := 0
	for {
		n, err := w.completer.CompleteDue(ctx, w.batchSize)
		total += n
		if err != nil {
			return err
		}
		if n == 0 || uint64(n) < w.batchSize {
			break
		}
	}
	if total > 0 {
		w.logger.Info().Int("completed", total).Msg("reservations completed")
	}
	return nil
}
