package domain

import (
	"context"
	"iter"
	"time"

	"turfie/internal/models"
)

// VenueDirectory is the read/write surface over venue records.
type VenueDirectory interface {
	GetVenue(ctx context.Context, id int64) (*models.Venue, error)
	ListVenues(ctx context.Context, filter models.VenueFilter) ([]*models.Venue, error)
	CreateVenue(ctx context.Context, venue *models.Venue) error
	SetApprovalStatus(ctx context.Context, id int64, status models.ApprovalStatus) error
	SyncVenues(ctx context.Context, venues []models.Venue) error
}

// OverlapFinder returns the non-cancelled reservations of a venue that
// intersect [start, end).
type OverlapFinder interface {
	FindOverlapping(ctx context.Context, venueID int64, start, end time.Time) ([]*models.Reservation, error)
}

// LedgerTx is the set of ledger operations executable inside one transaction.
type LedgerTx interface {
	OverlapFinder
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	InsertReservation(ctx context.Context, r *models.Reservation) error
	UpdateReservationStatus(ctx context.Context, id, fromVersion int64, status models.ReservationStatus) error
}

// Ledger is the persisted set of reservations.
type Ledger interface {
	LedgerTx
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
	ListReservations(ctx context.Context, filter models.ReservationFilter) ([]*models.Reservation, error)
	ListCompletable(ctx context.Context, now time.Time, limit uint64) ([]*models.Reservation, error)
}

// VenueLocker serializes writers per venue. Acquire blocks at most until ctx
// is done or the locker's own bounded wait elapses.
type VenueLocker interface {
	Acquire(ctx context.Context, venueID int64) (release func(), err error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// SlotEngine is the core consumed by the presentation layer.
type SlotEngine interface {
	ListSlots(ctx context.Context, venueID int64, date time.Time) (iter.Seq[models.Slot], error)
	ValidateRequest(ctx context.Context, venueID int64, requester models.Actor, start, end time.Time) error
	SubmitReservation(ctx context.Context, venueID int64, requester models.Actor, start, end time.Time) (*models.Reservation, error)
	Transition(ctx context.Context, reservationID int64, actor models.Actor, action models.Action) (*models.Reservation, error)
}
