package service

import (
	"fmt"

	"turfie/internal/models"
)

// Party describes how an actor relates to one reservation.
type Party struct {
	Owner     bool
	Requester bool
	System    bool
}

func (p Party) can(action models.Action) bool {
	switch action {
	case models.ActionConfirm, models.ActionReject:
		return p.Owner
	case models.ActionCancel:
		return p.Requester
	case models.ActionComplete:
		return p.System
	}
	return false
}

var transitions = map[models.Action]struct {
	from []models.ReservationStatus
	to   models.ReservationStatus
}{
	models.ActionConfirm:  {from: []models.ReservationStatus{models.StatusPending}, to: models.StatusConfirmed},
	models.ActionReject:   {from: []models.ReservationStatus{models.StatusPending}, to: models.StatusCancelled},
	models.ActionCancel:   {from: []models.ReservationStatus{models.StatusPending, models.StatusConfirmed}, to: models.StatusCancelled},
	models.ActionComplete: {from: []models.ReservationStatus{models.StatusConfirmed}, to: models.StatusCompleted},
}

// NextStatus is the reservation state machine. The actor is checked before
// the state, so a stranger always gets ErrUnauthorized.
func NextStatus(current models.ReservationStatus, action models.Action, party Party) (models.ReservationStatus, error) {
	rule, ok := transitions[action]
	if !ok {
		return current, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	if !party.can(action) {
		return current, fmt.Errorf("%w: %s", ErrUnauthorized, action)
	}
	for _, from := range rule.from {
		if current == from {
			return rule.to, nil
		}
	}
	return current, fmt.Errorf("%w: cannot %s a %s reservation", ErrInvalidTransition, action, current)
}
