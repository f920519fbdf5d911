package service

import (
	"errors"
	"fmt"
)

// RejectionReason names the first validation rule a request violated.
type RejectionReason string

const (
	ReasonPastStart             RejectionReason = "PastStart"
	ReasonOutOfRange            RejectionReason = "OutOfRange"
	ReasonEndBeforeStart        RejectionReason = "EndBeforeStart"
	ReasonTooShort              RejectionReason = "TooShort"
	ReasonOutsideOperatingHours RejectionReason = "OutsideOperatingHours"
)

var (
	ErrPastStart             = errors.New("reservation cannot start in the past")
	ErrOutOfRange            = errors.New("requested time is outside the booking horizon")
	ErrEndBeforeStart        = errors.New("reservation must end after it starts")
	ErrTooShort              = errors.New("reservation is shorter than the minimum duration")
	ErrOutsideOperatingHours = errors.New("reservation is outside the venue's operating hours")

	ErrOverlap             = errors.New("requested time overlaps an existing reservation")
	ErrConcurrentConflict  = errors.New("reservation is being modified concurrently, retry")
	ErrUnauthorized        = errors.New("actor is not allowed to perform this action")
	ErrInvalidTransition   = errors.New("action is not valid in the reservation's current state")
	ErrVenueNotFound       = errors.New("venue not found")
	ErrVenueNotApproved    = errors.New("venue is not approved for reservations")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidVenue        = errors.New("invalid venue")
)

var reasonErrors = map[RejectionReason]error{
	ReasonPastStart:             ErrPastStart,
	ReasonOutOfRange:            ErrOutOfRange,
	ReasonEndBeforeStart:        ErrEndBeforeStart,
	ReasonTooShort:              ErrTooShort,
	ReasonOutsideOperatingHours: ErrOutsideOperatingHours,
}

// ValidationError reports why a reservation request was rejected. It matches
// the reason's sentinel under errors.Is.
type ValidationError struct {
	Reason RejectionReason
	Detail string
}

func newValidationError(reason RejectionReason, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	msg := e.Unwrap().Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	if err, ok := reasonErrors[e.Reason]; ok {
		return err
	}
	return errors.New(string(e.Reason))
}

// ReasonOf returns the rejection reason carried by err, if any.
func ReasonOf(err error) (RejectionReason, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason, true
	}
	return "", false
}
