package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"turfie/internal/database"
	"turfie/internal/models"
)

// PublicVenue returns an approved venue. Unapproved venues are reported as not found.
func (e *Engine) PublicVenue(ctx context.Context, venueID int64) (*models.Venue, error) {
	venue, err := e.venue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if !venue.IsApproved() {
		return nil, fmt.Errorf("%w: %d", ErrVenueNotFound, venueID)
	}
	return venue, nil
}

// SearchVenues lists approved venues, optionally in one city.
func (e *Engine) SearchVenues(ctx context.Context, city string) ([]*models.Venue, error) {
	venues, err := e.venues.ListVenues(ctx, models.VenueFilter{Status: models.ApprovalApproved, City: city})
	if err != nil {
		return nil, fmt.Errorf("search venues: %w", err)
	}
	return venues, nil
}

// AdminVenues is the admin review queue: venues with the given approval
// status, oldest submission first.
func (e *Engine) AdminVenues(ctx context.Context, actor models.Actor, status models.ApprovalStatus) ([]*models.Venue, error) {
	if actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: venue review requires admin", ErrUnauthorized)
	}
	venues, err := e.venues.ListVenues(ctx, models.VenueFilter{Status: status})
	if err != nil {
		return nil, fmt.Errorf("list venues: %w", err)
	}
	return venues, nil
}

// OwnerVenues lists the actor's own venues in every approval state.
func (e *Engine) OwnerVenues(ctx context.Context, actor models.Actor) ([]*models.Venue, error) {
	if err := requireUser(actor); err != nil {
		return nil, err
	}
	venues, err := e.venues.ListVenues(ctx, models.VenueFilter{OwnerID: actor.UserID})
	if err != nil {
		return nil, fmt.Errorf("list owner venues: %w", err)
	}
	return venues, nil
}

// CreateVenue submits a new listing owned by actor. It stays pending until an
// admin approves it.
func (e *Engine) CreateVenue(ctx context.Context, actor models.Actor, venue *models.Venue) (*models.Venue, error) {
	if actor.UserID == 0 || (actor.Role != models.RoleOwner && actor.Role != models.RoleAdmin) {
		return nil, fmt.Errorf("%w: listing a venue requires an owner account", ErrUnauthorized)
	}
	venue.ID = 0
	venue.OwnerID = actor.UserID
	venue.ApprovalStatus = models.ApprovalPending
	if err := venue.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVenue, err)
	}
	if err := e.venues.CreateVenue(ctx, venue); err != nil {
		return nil, fmt.Errorf("create venue: %w", err)
	}
	e.logger.Info().Int64("venue_id", venue.ID).Int64("owner_id", actor.UserID).Msg("venue listing submitted")
	return venue, nil
}

// PublicSlots lists slots of an approved venue.
func (e *Engine) PublicSlots(ctx context.Context, venueID int64, date time.Time) (iter.Seq[models.Slot], error) {
	if _, err := e.PublicVenue(ctx, venueID); err != nil {
		return nil, err
	}
	return e.ListSlots(ctx, venueID, date)
}

// Reservation returns a reservation visible to its requester and the venue owner.
func (e *Engine) Reservation(ctx context.Context, reservationID int64, actor models.Actor) (*models.Reservation, error) {
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
	if p := partyOf(actor, r, venue); !p.Owner && !p.Requester && actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: reservation %d", ErrUnauthorized, reservationID)
	}
	e.localize(r)
	return r, nil
}

// VenueReservations lists the ledger of a venue for its owner.
func (e *Engine) VenueReservations(ctx context.Context, venueID int64, actor models.Actor, filter models.ReservationFilter) (*models.Venue, []*models.Reservation, error) {
	venue, err := e.venue(ctx, venueID)
	if err != nil {
		return nil, nil, err
	}
	if actor.UserID == 0 || (actor.UserID != venue.OwnerID && actor.Role != models.RoleAdmin) {
		return nil, nil, fmt.Errorf("%w: venue %d", ErrUnauthorized, venueID)
	}
	filter.VenueID = venueID
	filter.RequesterID = 0
	list, err := e.list(ctx, filter)
	return venue, list, err
}

// VenueLedger returns every reservation of the venue in [from, to) for its
// owner, reading the ledger page by page.
func (e *Engine) VenueLedger(ctx context.Context, venueID int64, actor models.Actor, from, to time.Time) (*models.Venue, []*models.Reservation, error) {
	filter := models.ReservationFilter{From: from, To: to, Limit: models.MaxListLimit}
	venue, all, err := e.VenueReservations(ctx, venueID, actor, filter)
	if err != nil {
		return nil, nil, err
	}
	for page := all; uint64(len(page)) == filter.Limit; {
		filter.Offset += filter.Limit
		if _, page, err = e.VenueReservations(ctx, venueID, actor, filter); err != nil {
			return nil, nil, err
		}
		all = append(all, page...)
	}
	return venue, all, nil
}

// MyReservations lists the actor's own reservations.
func (e *Engine) MyReservations(ctx context.Context, actor models.Actor, filter models.ReservationFilter) ([]*models.Reservation, error) {
	if err := requireUser(actor); err != nil {
		return nil, err
	}
	filter.RequesterID = actor.UserID
	return e.list(ctx, filter)
}

func (e *Engine) list(ctx context.Context, filter models.ReservationFilter) ([]*models.Reservation, error) {
	list, err := e.ledger.ListReservations(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	for _, r := range list {
		e.localize(r)
	}
	return list, nil
}

// SetVenueApproval is the admin approval step of the venue directory.
func (e *Engine) SetVenueApproval(ctx context.Context, venueID int64, actor models.Actor, status models.ApprovalStatus) (*models.Venue, error) {
	if actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: approval requires admin", ErrUnauthorized)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("unknown approval status %q", status)
	}
	if err := e.venues.SetApprovalStatus(ctx, venueID, status); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrVenueNotFound, venueID)
		}
		return nil, err
	}
	e.logger.Info().Int64("venue_id", venueID).Str("status", string(status)).Int64("admin_id", actor.UserID).Msg("venue approval changed")
	return e.venue(ctx, venueID)
}
