package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"turfie/internal/database"
	"turfie/internal/domain"
	"turfie/internal/events"
	"turfie/internal/metrics"
	"turfie/internal/models"
	"turfie/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Engine computes slots and validates, commits and transitions reservations.
type Engine struct {
	venues      domain.VenueDirectory
	ledger      domain.Ledger
	locker      domain.VenueLocker
	events      domain.EventPublisher
	loc         *time.Location
	now         func() time.Time
	horizonDays int
	slot        time.Duration
	minDuration time.Duration
	logger      *zerolog.Logger
}

var _ domain.SlotEngine = (*Engine)(nil)

type Option func(*Engine)

func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithHorizonDays(days int) Option {
	return func(e *Engine) { e.horizonDays = days }
}

func WithSlotDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.slot = d
		}
	}
}

func WithMinDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.minDuration = d
		}
	}
}

func WithLocker(l domain.VenueLocker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithEventPublisher(p domain.EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

func WithLogger(l *zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(venues domain.VenueDirectory, ledger domain.Ledger, opts ...Option) *Engine {
	nop := zerolog.Nop()
	e := &Engine{
		venues:      venues,
		ledger:      ledger,
		loc:         time.UTC,
		now:         time.Now,
		horizonDays: models.DefaultHorizonDays,
		slot:        models.DefaultSlotDuration,
		minDuration: models.DefaultMinDuration,
		logger:      &nop,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locker == nil {
		e.locker = repository.NewMemoryLocker(models.DefaultLockTimeout)
	}
	return e
}

func (e *Engine) Location() *time.Location {
	return e.loc
}

func (e *Engine) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(e.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.loc)
}

// horizon returns [today, end) where end is midnight after the last bookable day.
func (e *Engine) horizon() (time.Time, time.Time) {
	today := e.startOfDay(e.now())
	return today, today.AddDate(0, 0, e.horizonDays+1)
}

func (e *Engine) venue(ctx context.Context, venueID int64) (*models.Venue, error) {
	v, err := e.venues.GetVenue(ctx, venueID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrVenueNotFound, venueID)
		}
		return nil, fmt.Errorf("load venue %d: %w", venueID, err)
	}
	return v, nil
}

// ListSlots returns the fixed-width slots of the venue on date's calendar day.
// Occupancy is read once; the returned sequence may be ranged any number of times.
func (e *Engine) ListSlots(ctx context.Context, venueID int64, date time.Time) (iter.Seq[models.Slot], error) {
	venue, err := e.venue(ctx, venueID)
	if err != nil {
		return nil, err
	}

	day := e.startOfDay(date)
	today, horizonEnd := e.horizon()
	if day.Before(today) || !day.Before(horizonEnd) {
		return nil, newValidationError(ReasonOutOfRange, "%s is not between %s and %s",
			day.Format(models.DateFormat), today.Format(models.DateFormat), horizonEnd.AddDate(0, 0, -1).Format(models.DateFormat))
	}

	open, closing := venue.OpensAt(day, e.loc), venue.ClosesAt(day, e.loc)
	booked, err := e.ledger.FindOverlapping(ctx, venueID, open, closing)
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}

	width := e.slot
	return func(yield func(models.Slot) bool) {
		for start := open; !start.Add(width).After(closing); start = start.Add(width) {
			end := start.Add(width)
			slot := models.Slot{Start: start, End: end}
			for _, r := range booked {
				if r.Overlaps(start, end) {
					slot.Occupied = true
					break
				}
			}
			if !yield(slot) {
				return
			}
		}
	}, nil
}

// checkRequest applies the rules that need no ledger access, first failure wins.
func (e *Engine) checkRequest(venue *models.Venue, start, end time.Time) *ValidationError {
	now := e.now()
	if start.Before(now) {
		return newValidationError(ReasonPastStart, "start %s is before %s", start.Format(time.RFC3339), now.Format(time.RFC3339))
	}

	_, horizonEnd := e.horizon()
	if !start.Before(horizonEnd) || end.After(horizonEnd) {
		return newValidationError(ReasonOutOfRange, "bookings are accepted until %s", horizonEnd.Format(time.RFC3339))
	}

	if !end.After(start) {
		return newValidationError(ReasonEndBeforeStart, "")
	}

	if d := end.Sub(start); d < e.minDuration {
		return newValidationError(ReasonTooShort, "%s is shorter than %s", d, e.minDuration)
	}

	day := e.startOfDay(start)
	open, closing := venue.OpensAt(day, e.loc), venue.ClosesAt(day, e.loc)
	if start.Before(open) || end.After(closing) {
		return newValidationError(ReasonOutsideOperatingHours, "venue is open %s-%s", venue.OpeningTime, venue.ClosingTime)
	}
	return nil
}

func (e *Engine) checkOverlap(ctx context.Context, finder domain.OverlapFinder, venueID int64, start, end time.Time) error {
	existing, err := finder.FindOverlapping(ctx, venueID, start, end)
	if err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: reservation %d holds %s-%s", ErrOverlap, existing[0].ID,
			existing[0].StartTime.In(e.loc).Format("15:04"), existing[0].EndTime.In(e.loc).Format("15:04"))
	}
	return nil
}

// normalize drops sub-minute precision. Slots, hours and prices are all
// minute-based, and the ledger stores whole seconds.
func normalize(start, end time.Time) (time.Time, time.Time) {
	return start.Truncate(time.Minute), end.Truncate(time.Minute)
}

func requireUser(actor models.Actor) error {
	if actor.UserID == 0 {
		return fmt.Errorf("%w: anonymous actor", ErrUnauthorized)
	}
	return nil
}

// ValidateRequest reports the first rule the request violates without writing anything.
func (e *Engine) ValidateRequest(ctx context.Context, venueID int64, requester models.Actor, start, end time.Time) error {
	if err := requireUser(requester); err != nil {
		return err
	}
	start, end = normalize(start, end)
	venue, err := e.venue(ctx, venueID)
	if err != nil {
		return err
	}
	if !venue.IsApproved() {
		return fmt.Errorf("%w: venue %d is %s", ErrVenueNotApproved, venueID, venue.ApprovalStatus)
	}
	if verr := e.checkRequest(venue, start, end); verr != nil {
		e.logRejection(venueID, requester, verr)
		return verr
	}
	return e.checkOverlap(ctx, e.ledger, venueID, start, end)
}

// SubmitReservation validates and persists a pending reservation. Submitters
// of one venue are serialized by the venue lock, and the overlap re-check and
// insert share one write transaction.
func (e *Engine) SubmitReservation(ctx context.Context, venueID int64, requester models.Actor, start, end time.Time) (*models.Reservation, error) {
	r, err := e.submit(ctx, venueID, requester, start, end)
	metrics.IncSubmission(submissionOutcome(err))
	return r, err
}

func (e *Engine) submit(ctx context.Context, venueID int64, requester models.Actor, start, end time.Time) (*models.Reservation, error) {
	if err := requireUser(requester); err != nil {
		return nil, err
	}
	start, end = normalize(start, end)
	venue, err := e.venue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if !venue.IsApproved() {
		return nil, fmt.Errorf("%w: venue %d is %s", ErrVenueNotApproved, venueID, venue.ApprovalStatus)
	}
	if verr := e.checkRequest(venue, start, end); verr != nil {
		e.logRejection(venueID, requester, verr)
		return nil, verr
	}

	waitStart := time.Now()
	release, err := e.locker.Acquire(ctx, venueID)
	metrics.ObserveLockWait(time.Since(waitStart))
	if err != nil {
		if errors.Is(err, repository.ErrLockTimeout) {
			return nil, fmt.Errorf("%w: %w", ErrConcurrentConflict, err)
		}
		return nil, fmt.Errorf("acquire venue lock: %w", err)
	}
	defer release()

	reservation := &models.Reservation{
		VenueID:     venueID,
		RequesterID: requester.UserID,
		StartTime:   start,
		EndTime:     end,
		Amount:      Amount(venue.PricePerHour, end.Sub(start)),
		Status:      models.StatusPending,
	}

	err = e.ledger.WithinTx(ctx, func(ctx context.Context, tx domain.LedgerTx) error {
		// Time may have moved while waiting for the lock.
		if verr := e.checkRequest(venue, start, end); verr != nil {
			return verr
		}
		if err := e.checkOverlap(ctx, tx, venueID, start, end); err != nil {
			return err
		}
		return tx.InsertReservation(ctx, reservation)
	})
	if err != nil {
		if errors.Is(err, database.ErrOverlap) {
			err = fmt.Errorf("%w: %w", ErrOverlap, err)
		}
		var verr *ValidationError
		if errors.As(err, &verr) {
			e.logRejection(venueID, requester, verr)
		} else if errors.Is(err, ErrOverlap) {
			e.logger.Debug().Int64("venue_id", venueID).Int64("requester_id", requester.UserID).Msg("reservation overlaps")
		}
		return nil, err
	}

	e.localize(reservation)
	e.logger.Info().
		Int64("reservation_id", reservation.ID).
		Int64("venue_id", venueID).
		Int64("requester_id", requester.UserID).
		Time("start", reservation.StartTime).
		Time("end", reservation.EndTime).
		Str("amount", reservation.Amount.StringFixed(2)).
		Msg("reservation submitted")
	e.publish(events.EventReservationCreated, reservation, venue, requester)
	return reservation, nil
}

// Amount prices a duration at pricePerHour, rounded to cents.
func Amount(pricePerHour decimal.Decimal, d time.Duration) decimal.Decimal {
	minutes := decimal.NewFromInt(int64(d / time.Minute))
	return pricePerHour.Mul(minutes).Div(decimal.NewFromInt(60)).Round(2)
}

// Transition applies action to the reservation on behalf of actor.
func (e *Engine) Transition(ctx context.Context, reservationID int64, actor models.Actor, action models.Action) (*models.Reservation, error) {
	r, err := e.transition(ctx, reservationID, actor, action)
	outcome := "ok"
	if err != nil {
		outcome = errorKind(err)
	}
	metrics.IncTransition(string(action), outcome)
	return r, err
}

func (e *Engine) transition(ctx context.Context, reservationID int64, actor models.Actor, action models.Action) (*models.Reservation, error) {
	r, err := e.ledger.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrReservationNotFound, reservationID)
		}
		return nil, fmt.Errorf("load reservation %d: %w", reservationID, err)
	}
	venue, err := e.venue(ctx, r.VenueID)
	if err != nil {
		return nil, err
	}

	next, err := NextStatus(r.Status, action, partyOf(actor, r, venue))
	if err != nil {
		return nil, err
	}
	if action == models.ActionComplete && r.EndTime.After(e.now()) {
		return nil, fmt.Errorf("%w: reservation %d has not ended", ErrInvalidTransition, r.ID)
	}

	if err := e.ledger.UpdateReservationStatus(ctx, r.ID, r.Version, next); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			return nil, fmt.Errorf("%w: %w", ErrConcurrentConflict, err)
		}
		return nil, fmt.Errorf("update reservation %d: %w", r.ID, err)
	}

	from := r.Status
	r.Status = next
	r.Version++
	e.localize(r)

	e.logger.Info().
		Int64("reservation_id", r.ID).
		Str("action", string(action)).
		Str("from", string(from)).
		Str("to", string(next)).
		Int64("actor_id", actor.UserID).
		Msg("reservation transitioned")
	e.publish(events.EventForAction(action), r, venue, actor)
	return r, nil
}

func partyOf(actor models.Actor, r *models.Reservation, venue *models.Venue) Party {
	return Party{
		Owner:     actor.UserID != 0 && actor.UserID == venue.OwnerID,
		Requester: actor.UserID != 0 && actor.UserID == r.RequesterID,
		System:    actor.Role == models.RoleSystem,
	}
}

// CompleteDue moves up to limit confirmed reservations that have ended to
// completed and returns how many it moved.
func (e *Engine) CompleteDue(ctx context.Context, limit uint64) (int, error) {
	due, err := e.ledger.ListCompletable(ctx, e.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list completable: %w", err)
	}

	completed := 0
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		if _, err := e.Transition(ctx, r.ID, models.SystemActor, models.ActionComplete); err != nil {
			if errors.Is(err, ErrConcurrentConflict) || errors.Is(err, ErrInvalidTransition) {
				e.logger.Debug().Err(err).Int64("reservation_id", r.ID).Msg("skip completion")
				continue
			}
			return completed, err
		}
		completed++
	}
	return completed, nil
}

func (e *Engine) localize(r *models.Reservation) {
	r.StartTime = r.StartTime.In(e.loc)
	r.EndTime = r.EndTime.In(e.loc)
}

func (e *Engine) publish(eventType string, r *models.Reservation, venue *models.Venue, actor models.Actor) {
	if e.events == nil || eventType == "" {
		return
	}
	if err := e.events.PublishJSON(eventType, events.NewReservationPayload(r, venue, actor)); err != nil {
		e.logger.Error().Err(err).Str("event_type", eventType).Int64("reservation_id", r.ID).Msg("publish event error")
	}
}

func (e *Engine) logRejection(venueID int64, requester models.Actor, verr *ValidationError) {
	e.logger.Debug().
		Int64("venue_id", venueID).
		Int64("requester_id", requester.UserID).
		Str("reason", string(verr.Reason)).
		Msg("reservation request rejected")
}

func submissionOutcome(err error) string {
	if err == nil {
		return "created"
	}
	return errorKind(err)
}

// errorKind buckets engine errors for metric labels.
func errorKind(err error) string {
	if reason, ok := ReasonOf(err); ok {
		return string(reason)
	}
	switch {
	case errors.Is(err, ErrOverlap):
		return "overlap"
	case errors.Is(err, ErrConcurrentConflict):
		return "conflict"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrVenueNotFound), errors.Is(err, ErrReservationNotFound):
		return "not_found"
	case errors.Is(err, ErrVenueNotApproved):
		return "not_approved"
	}
	return "error"
}
