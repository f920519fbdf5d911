package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"turfie/internal/export"
	"turfie/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type reservationRequest struct {
	StartTime *time.Time `json:"start_time" validate:"required"`
	EndTime   *time.Time `json:"end_time" validate:"required"`
}

type approvalRequest struct {
	Status models.ApprovalStatus `json:"status" validate:"required,oneof=pending approved rejected"`
}

type venueRequest struct {
	Name         string            `json:"name" validate:"required,max=120"`
	City         string            `json:"city" validate:"required,max=80"`
	OpeningTime  *models.ClockTime `json:"opening_time" validate:"required"`
	ClosingTime  *models.ClockTime `json:"closing_time" validate:"required"`
	PricePerHour decimal.Decimal   `json:"price_per_hour"`
}

type venuesResponse struct {
	Venues []*models.Venue `json:"venues"`
}

type slotsResponse struct {
	VenueID int64         `json:"venue_id"`
	Date    string        `json:"date"`
	Slots   []models.Slot `json:"slots"`
}

type reservationsResponse struct {
	Reservations []*models.Reservation `json:"reservations"`
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func actorOf(r *http.Request) models.Actor {
	actor, _ := ActorFrom(r.Context())
	return actor
}

func (s *HTTPServer) handleGetVenue(w http.ResponseWriter, r *http.Request) {
	venueID, err := pathID(r, "venueID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	venue, err := s.svc.PublicVenue(r.Context(), venueID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, venue)
}

func (s *HTTPServer) handleSearchVenues(w http.ResponseWriter, r *http.Request) {
	venues, err := s.svc.SearchVenues(r.Context(), strings.TrimSpace(r.URL.Query().Get("city")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, venuesResponse{Venues: venues})
}

func (s *HTTPServer) handleCreateVenue(w http.ResponseWriter, r *http.Request) {
	var req venueRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	venue, err := s.svc.CreateVenue(r.Context(), actorOf(r), &models.Venue{
		Name:         strings.TrimSpace(req.Name),
		City:         strings.TrimSpace(req.City),
		OpeningTime:  *req.OpeningTime,
		ClosingTime:  *req.ClosingTime,
		PricePerHour: req.PricePerHour,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/venues/%d", venue.ID))
	writeJSON(w, http.StatusCreated, venue)
}

func (s *HTTPServer) handleMyVenues(w http.ResponseWriter, r *http.Request) {
	venues, err := s.svc.OwnerVenues(r.Context(), actorOf(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, venuesResponse{Venues: venues})
}

// handleAdminVenues serves the review queue, pending venues by default.
func (s *HTTPServer) handleAdminVenues(w http.ResponseWriter, r *http.Request) {
	status := models.ApprovalPending
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = models.ApprovalStatus(strings.ToLower(raw))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
	}
	venues, err := s.svc.AdminVenues(r.Context(), actorOf(r), status)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, venuesResponse{Venues: venues})
}

func (s *HTTPServer) handleListSlots(w http.ResponseWriter, r *http.Request) {
	venueID, err := pathID(r, "venueID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	date, err := time.ParseInLocation(models.DateFormat, raw, s.svc.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format, expected YYYY-MM-DD")
		return
	}

	seq, err := s.svc.PublicSlots(r.Context(), venueID, date)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	slots := []models.Slot{}
	for slot := range seq {
		slots = append(slots, slot)
	}
	writeJSON(w, http.StatusOK, slotsResponse{VenueID: venueID, Date: raw, Slots: slots})
}

func (s *HTTPServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	venueID, err := pathID(r, "venueID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req reservationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.svc.ValidateRequest(r.Context(), venueID, actorOf(r), *req.StartTime, *req.EndTime); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	venueID, err := pathID(r, "venueID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req reservationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	reservation, err := s.svc.SubmitReservation(r.Context(), venueID, actorOf(r), *req.StartTime, *req.EndTime)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/reservations/%d", reservation.ID))
	writeJSON(w, http.StatusCreated, reservation)
}

func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	reservationID, err := pathID(r, "reservationID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reservation, err := s.svc.Reservation(r.Context(), reservationID, actorOf(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	reservationID, err := pathID(r, "reservationID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Completion is time-driven and never requested over HTTP.
	action, ok := models.ParseAction(chi.URLParam(r, "action"))
	if !ok || action == models.ActionComplete {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	reservation, err := s.svc.Transition(r.Context(), reservationID, actorOf(r), action)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (s *HTTPServer) handleVenueReservations(w http.ResponseWriter, r *http.Request) {
	venueID, err := pathID(r, "venueID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := s.parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, reservations, err := s.svc.VenueReservations(r.Context(), venueID, actorOf(r), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reservationsResponse{Reservations: reservations})
}

func (s *HTTPServer) handleMyReservations(w http.ResponseWriter, r *http.Request) {
	filter, err := s.parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reservations, err := s.svc.MyReservations(r.Context(), actorOf(r), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reservationsResponse{Reservations: reservations})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusNotFound, "export is disabled")
		return
	}
	venueID, err := pathID(r, "venueID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, to, err := s.parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if from.IsZero() || to.IsZero() {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	venue, reservations, err := s.svc.VenueLedger(r.Context(), venueID, actorOf(r), from, to)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	// The last day is inclusive in the file name.
	last := to.AddDate(0, 0, -1)
	var buf bytes.Buffer
	if err := s.exporter.Write(&buf, venue, from, last, reservations); err != nil {
		s.logger.Error().Err(err).Int64("venue_id", venueID).Msg("export reservations")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(venue, from, last)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) handleSetApproval(w http.ResponseWriter, r *http.Request) {
	venueID, err := pathID(r, "venueID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req approvalRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	venue, err := s.svc.SetVenueApproval(r.Context(), venueID, actorOf(r), req.Status)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, venue)
}

// parseRange reads inclusive from/to dates and returns [from, to+1day).
func (s *HTTPServer) parseRange(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, err := time.ParseInLocation(models.DateFormat, raw, s.svc.Location())
		if err != nil {
			return from, to, fmt.Errorf("invalid from date")
		}
		from = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.ParseInLocation(models.DateFormat, raw, s.svc.Location())
		if err != nil {
			return from, to, fmt.Errorf("invalid to date")
		}
		to = t.AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return from, to, fmt.Errorf("from must not be after to")
	}
	return from, to, nil
}

func (s *HTTPServer) parseFilter(r *http.Request) (models.ReservationFilter, error) {
	from, to, err := s.parseRange(r)
	if err != nil {
		return models.ReservationFilter{}, err
	}
	filter := models.ReservationFilter{From: from, To: to}

	q := r.URL.Query()
	for _, raw := range splitCSV(q.Get("status")) {
		status := models.ReservationStatus(strings.ToLower(raw))
		switch status {
		case models.StatusPending, models.StatusConfirmed, models.StatusCancelled, models.StatusCompleted:
			filter.Statuses = append(filter.Statuses, status)
		default:
			return filter, fmt.Errorf("unknown status %q", raw)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || limit == 0 {
			return filter, fmt.Errorf("invalid limit")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
