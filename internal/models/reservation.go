package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCancelled ReservationStatus = "cancelled"
	StatusCompleted ReservationStatus = "completed"
)

// Reservation is a requester's claim on a venue for [StartTime, EndTime).
type Reservation struct {
	ID          int64             `json:"id"`
	VenueID     int64             `json:"venue_id"`
	RequesterID int64             `json:"requester_id"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	Amount      decimal.Decimal   `json:"amount"`
	Status      ReservationStatus `json:"status"`
	Version     int64             `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// IsActive reports whether the reservation still holds its time range.
func (r *Reservation) IsActive() bool {
	return r.Status != StatusCancelled
}

// Overlaps uses half-open semantics: touching ranges do not overlap.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.StartTime.Before(end) && r.EndTime.After(start)
}

func (r *Reservation) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// ReservationFilter narrows ledger listings. Zero values mean "any".
type ReservationFilter struct {
	VenueID     int64
	RequesterID int64
	Statuses    []ReservationStatus
	From        time.Time
	To          time.Time
	Limit       uint64
	Offset      uint64
}
