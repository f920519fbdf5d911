package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"turfie/internal/database"
	"turfie/internal/models"
	"turfie/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownerID  int64 = 10
	playerID int64 = 42
)

var (
	owner  = models.Actor{UserID: ownerID, Role: models.RoleOwner}
	player = models.Actor{UserID: playerID, Role: models.RolePlayer}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) PublishJSON(eventType string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	return nil
}

type fixture struct {
	db     *database.DB
	engine *Engine
	clock  *testClock
	events *recordingPublisher
	venue  *models.Venue
	loc    *time.Location
}

// at returns hh:mm on the day offset days from the fixture's today.
func (f *fixture) at(days, hour, minute int) time.Time {
	return time.Date(2030, 5, 10+days, hour, minute, 0, 0, f.loc)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureIn(t, time.UTC, opts...)
}

func newFixtureIn(t *testing.T, loc *time.Location, opts ...Option) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{db: db, events: &recordingPublisher{}, loc: loc}
	f.clock = &testClock{now: f.at(0, 8, 0)}
	f.venue = createVenue(t, db, models.NewClockTime(6, 0), models.NewClockTime(22, 0), models.ApprovalApproved)

	base := []Option{
		WithLocation(loc),
		WithClock(f.clock.Now),
		WithEventPublisher(f.events),
		WithLocker(repository.NewMemoryLocker(time.Second)),
		WithLogger(&logger),
	}
	f.engine = NewEngine(db, db, append(base, opts...)...)
	return f
}

func createVenue(t *testing.T, db *database.DB, open, closing models.ClockTime, status models.ApprovalStatus) *models.Venue {
	t.Helper()
	v := &models.Venue{
		OwnerID:        ownerID,
		Name:           "Central Turf",
		City:           "Pune",
		OpeningTime:    open,
		ClosingTime:    closing,
		PricePerHour:   decimal.NewFromInt(500),
		ApprovalStatus: status,
	}
	require.NoError(t, db.CreateVenue(context.Background(), v))
	return v
}

func collect(t *testing.T, f *fixture, venueID int64, date time.Time) []models.Slot {
	t.Helper()
	seq, err := f.engine.ListSlots(context.Background(), venueID, date)
	require.NoError(t, err)
	return slices.Collect(seq)
}

func TestListSlots_CoversOperatingHours(t *testing.T) {
	f := newFixture(t)

	slots := collect(t, f, f.venue.ID, f.at(1, 0, 0))
	require.Len(t, slots, 16)
	assert.True(t, slots[0].Start.Equal(f.at(1, 6, 0)))
	assert.True(t, slots[len(slots)-1].End.Equal(f.at(1, 22, 0)))
	for i, s := range slots {
		assert.Equal(t, time.Hour, s.End.Sub(s.Start))
		assert.False(t, s.Occupied)
		if i > 0 {
			assert.True(t, slots[i-1].End.Equal(s.Start), "gap or overlap before slot %d", i)
		}
	}
}

func TestListSlots_DropsPartialTrailingSlot(t *testing.T) {
	f := newFixture(t)
	v := createVenue(t, f.db, models.NewClockTime(6, 0), models.NewClockTime(9, 30), models.ApprovalApproved)

	slots := collect(t, f, v.ID, f.at(1, 0, 0))
	require.Len(t, slots, 3)
	assert.True(t, slots[2].End.Equal(f.at(1, 9, 0)))
}

func TestListSlots_UntilMidnight(t *testing.T) {
	f := newFixture(t)
	v := createVenue(t, f.db, models.NewClockTime(20, 0), models.EndOfDay, models.ApprovalApproved)

	slots := collect(t, f, v.ID, f.at(2, 0, 0))
	require.Len(t, slots, 4)
	assert.True(t, slots[3].End.Equal(f.at(3, 0, 0)))
}

func TestListSlots_Occupancy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	kept, err := f.engine.SubmitReservation(ctx, f.venue.ID, player, f.at(1, 10, 0), f.at(1, 12, 0))
	require.NoError(t, err)
	dropped, err := f.engine.SubmitReservation(ctx, f.venue.ID, player, f.at(1, 14, 30), f.at(1, 15, 30))
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, dropped.ID, player, models.ActionCancel)
	require.NoError(t, err)

	occupied := map[int]bool{}
	for _, s := range collect(t, f, f.venue.ID, f.at(1, 0, 0)) {
		if s.Occupied {
			occupied[s.Start.Hour()] = true
		}
	}
	assert.Equal(t, map[int]bool{10: true, 11: true}, occupied)
	assert.NotZero(t, kept.ID)
}

func TestListSlots_PartialOverlapMarksBothSlots(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SubmitReservation(context.Background(), f.venue.ID, player, f.at(1, 14, 30), f.at(1, 15, 30))
	require.NoError(t, err)

	var occupied []int
	for _, s := range collect(t, f, f.venue.ID, f.at(1, 0, 0)) {
		if s.Occupied {
			occupied = append(occupied, s.Start.Hour())
		}
	}
	assert.Equal(t, []int{14, 15}, occupied)
}

func TestListSlots_Idempotent(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SubmitReservation(context.Background(), f.venue.ID, player, f.at(1, 18, 0), f.at(1, 20, 0))
	require.NoError(t, err)

	seq, err := f.engine.ListSlots(context.Background(), f.venue.ID, f.at(1, 0, 0))
	require.NoError(t, err)
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second)

	again := collect(t, f, f.venue.ID, f.at(1, 0, 0))
	assert.Equal(t, first, again)
}

func TestListSlots_EarlyStop(t *testing.T) {
	f := newFixture(t)
	seq, err := f.engine.ListSlots(context.Background(), f.venue.ID, f.at(0, 0, 0))
	require.NoError(t, err)

	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestListSlots_Horizon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ListSlots(ctx, f.venue.ID, f.at(-1, 12, 0))
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = f.engine.ListSlots(ctx, f.venue.ID, f.at(8, 0, 0))
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = f.engine.ListSlots(ctx, f.venue.ID, f.at(7, 23, 0))
	assert.NoError(t, err)

	_, err = f.engine.ListSlots(ctx, 999, f.at(1, 0, 0))
	assert.ErrorIs(t, err, ErrVenueNotFound)
}

func TestValidateRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.SubmitReservation(ctx, f.venue.ID, player, f.at(1, 10, 0), f.at(1, 11, 0))
	require.NoError(t, err)

	tests := []struct {
		name   string
		start  time.Time
		end    time.Time
		reason RejectionReason
		err    error
	}{
		{name: "last hour before closing", start: f.at(1, 21, 0), end: f.at(1, 22, 0)},
		{name: "one minute past closing", start: f.at(1, 21, 0), end: f.at(1, 22, 1), reason: ReasonOutsideOperatingHours},
		{name: "before opening", start: f.at(1, 5, 0), end: f.at(1, 7, 0), reason: ReasonOutsideOperatingHours},
		{name: "spans past midnight", start: f.at(1, 21, 0), end: f.at(2, 7, 0), reason: ReasonOutsideOperatingHours},
		{name: "exactly sixty minutes", start: f.at(1, 12, 0), end: f.at(1, 13, 0)},
		{name: "fifty-nine minutes", start: f.at(1, 12, 0), end: f.at(1, 12, 59), reason: ReasonTooShort},
		{name: "end before start", start: f.at(1, 13, 0), end: f.at(1, 12, 0), reason: ReasonEndBeforeStart},
		{name: "empty range", start: f.at(1, 13, 0), end: f.at(1, 13, 0), reason: ReasonEndBeforeStart},
		{name: "past start", start: f.at(0, 7, 0), end: f.at(0, 9, 0), reason: ReasonPastStart},
		{name: "last horizon day", start: f.at(7, 10, 0), end: f.at(7, 11, 0)},
		{name: "beyond horizon", start: f.at(8, 10, 0), end: f.at(8, 11, 0), reason: ReasonOutOfRange},
		{name: "later today", start: f.at(0, 9, 0), end: f.at(0, 10, 0)},
		{name: "overlaps existing", start: f.at(1, 10, 30), end: f.at(1, 11, 30), err: ErrOverlap},
		{name: "touches existing", start: f.at(1, 11, 0), end: f.at(1, 12, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.engine.ValidateRequest(ctx, f.venue.ID, player, tt.start, tt.end)
			switch {
			case tt.reason != "":
				reason, ok := ReasonOf(err)
				require.True(t, ok, "expected validation error, got %v", err)
				assert.Equal(t, tt.reason, reason)
			case tt.err != nil:
				assert.ErrorIs(t, err, tt.err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRequest_Anonymous(t *testing.T) {
	f := newFixture(t)
	err := f.engine.ValidateRequest(context.Background(), f.venue.ID, models.Actor{}, f.at(1, 10, 0), f.at(1, 11, 0))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateRequest_UnapprovedVenue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := createVenue(t, f.db, models.NewClockTime(6, 0), models.NewClockTime(22, 0), models.ApprovalPending)

	err := f.engine.ValidateRequest(ctx, pending.ID, player, f.at(1, 10, 0), f.at(1, 11, 0))
	assert.ErrorIs(t, err, ErrVenueNotApproved)

	_, err = f.engine.SubmitReservation(ctx, pending.ID, player, f.at(1, 10, 0), f.at(1, 11, 0))
	assert.ErrorIs(t, err, ErrVenueNotApproved)
}

func TestValidateRequest_TimeZone(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	f := newFixtureIn(t, ist)

	// 06:00 IST is 00:30 UTC; the instant's zone does not matter.
	start := f.at(1, 6, 0).UTC()
	assert.NoError(t, f.engine.ValidateRequest(context.Background(), f.venue.ID, player, start, start.Add(time.Hour)))

	early := f.at(1, 5, 30).UTC()
	reason, ok := ReasonOf(f.engine.ValidateRequest(context.Background(), f.venue.ID, player, early, early.Add(time.Hour)))
	require.True(t, ok)
	assert.Equal(t, ReasonOutsideOperatingHours, reason)

	slots := collect(t, f, f.venue.ID, f.at(1, 0, 0))
	assert.Equal(t, ist, slots[0].Start.Location())
	assert.Equal(t, 6, slots[0].Start.Hour())
}

func TestSubmitReservation_Scenario(t *testing.T) {
	f := newFixture(t)

	r, err := f.engine.SubmitReservation(context.Background(), f.venue.ID, player, f.at(1, 18, 0), f.at(1, 20, 0))
	require.NoError(t, err)

	assert.NotZero(t, r.ID)
	assert.Equal(t, models.StatusPending, r.Status)
	assert.True(t, decimal.NewFromInt(1000).Equal(r.Amount), "amount %s", r.Amount)
	assert.Equal(t, playerID, r.RequesterID)
	assert.Equal(t, []string{"reservation.created"}, f.events.types)

	stored, err := f.db.GetReservation(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, stored.StartTime.Equal(f.at(1, 18, 0)))
	assert.Equal(t, "1000", stored.Amount.String())
}

func TestSubmitReservation_DropsSubMinutePrecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.SubmitReservation(ctx, f.venue.ID, player,
		f.at(1, 18, 0).Add(500*time.Millisecond), f.at(1, 19, 0).Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, r.StartTime.Equal(f.at(1, 18, 0)))
	assert.True(t, r.EndTime.Equal(f.at(1, 19, 0)))
	assert.Equal(t, "500", r.Amount.String())

	stored, err := f.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, stored.StartTime.Equal(r.StartTime))
	assert.True(t, stored.EndTime.Equal(r.EndTime))

	_, err = f.engine.SubmitReservation(ctx, f.venue.ID, player,
		f.at(1, 18, 59).Add(200*time.Millisecond), f.at(1, 20, 0))
	assert.ErrorIs(t, err, ErrOverlap)
}

func TestSubmitReservation_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := createVenue(t, f.db, models.NewClockTime(6, 0), models.NewClockTime(22, 0), models.ApprovalPending)
	_, err := f.engine.SubmitReservation(ctx, pending.ID, player, f.at(1, 10, 0), f.at(1, 11, 0))
	assert.ErrorIs(t, err, ErrVenueNotApproved)

	_, err = f.engine.SubmitReservation(ctx, 999, player, f.at(1, 10, 0), f.at(1, 11, 0))
	assert.ErrorIs(t, err, ErrVenueNotFound)

	_, err = f.engine.SubmitReservation(ctx, f.venue.ID, player, f.at(1, 10, 0), f.at(1, 10, 59))
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = f.engine.SubmitReservation(ctx, f.venue.ID, player, f.at(1, 10, 0), f.at(1, 12, 0))
	require.NoError(t, err)
	_, err = f.engine.SubmitReservation(ctx, f.venue.ID, player, f.at(1, 11, 0), f.at(1, 13, 0))
	assert.ErrorIs(t, err, ErrOverlap)

	list, err := f.db.ListReservations(ctx, models.ReservationFilter{VenueID: f.venue.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSubmitReservation_ConcurrentSameRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.engine.SubmitReservation(ctx, f.venue.ID, models.Actor{UserID: id, Role: models.RolePlayer}, f.at(1, 18, 0), f.at(1, 20, 0))
			errs <- err
		}(int64(100 + i))
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		assert.True(t, errors.Is(err, ErrOverlap) || errors.Is(err, ErrConcurrentConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, success)

	list, err := f.db.ListReservations(ctx, models.ReservationFilter{VenueID: f.venue.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSubmitReservation_ConcurrentWithoutLock(t *testing.T) {
	// A locker that never serializes leaves the storage transaction as the only guard.
	f := newFixture(t, WithLocker(noopLocker{}))
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.SubmitReservation(ctx, f.venue.ID, player, f.at(2, 9, 0), f.at(2, 11, 0))
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrOverlap)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)
}

func TestSubmitReservation_LockTimeout(t *testing.T) {
	locker := repository.NewMemoryLocker(20 * time.Millisecond)
	f := newFixture(t, WithLocker(locker))

	release, err := locker.Acquire(context.Background(), f.venue.ID)
	require.NoError(t, err)
	defer release()

	_, err = f.engine.SubmitReservation(context.Background(), f.venue.ID, player, f.at(1, 10, 0), f.at(1, 11, 0))
	assert.ErrorIs(t, err, ErrConcurrentConflict)
}

func TestSubmitReservation_LockError(t *testing.T) {
	f := newFixture(t, WithLocker(failingLocker{err: errors.New("redis down")}))

	_, err := f.engine.SubmitReservation(context.Background(), f.venue.ID, player, f.at(1, 10, 0), f.at(1, 11, 0))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConcurrentConflict)
}

type noopLocker struct{}

func (noopLocker) Acquire(context.Context, int64) (func(), error) { return func() {}, nil }

type failingLocker struct{ err error }

func (l failingLocker) Acquire(context.Context, int64) (func(), error) { return nil, l.err }

func TestAmount(t *testing.T) {
	price := decimal.NewFromInt(500)
	assert.Equal(t, "1000", Amount(price, 2*time.Hour).String())
	assert.Equal(t, "750", Amount(price, 90*time.Minute).String())
	assert.Equal(t, "508.33", Amount(price, 61*time.Minute).String())
	assert.Equal(t, "12.5", Amount(decimal.RequireFromString("12.50"), time.Hour).String())
}
