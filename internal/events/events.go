package events

import (
	"encoding/json"
	"sync"
	"time"

	"turfie/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	EventReservationCreated   = "reservation.created"
	EventReservationConfirmed = "reservation.confirmed"
	EventReservationRejected  = "reservation.rejected"
	EventReservationCancelled = "reservation.cancelled"
	EventReservationCompleted = "reservation.completed"
)

// ReservationEventTypes lists every event the slot engine emits.
var ReservationEventTypes = []string{
	EventReservationCreated,
	EventReservationConfirmed,
	EventReservationRejected,
	EventReservationCancelled,
	EventReservationCompleted,
}

// EventForAction maps a lifecycle action to the event it emits.
func EventForAction(action models.Action) string {
	switch action {
	case models.ActionConfirm:
		return EventReservationConfirmed
	case models.ActionReject:
		return EventReservationRejected
	case models.ActionCancel:
		return EventReservationCancelled
	case models.ActionComplete:
		return EventReservationCompleted
	}
	return ""
}

// ReservationEventPayload is the reservation snapshot sent to notification consumers.
type ReservationEventPayload struct {
	ReservationID int64           `json:"reservation_id"`
	VenueID       int64           `json:"venue_id"`
	VenueName     string          `json:"venue_name,omitempty"`
	OwnerID       int64           `json:"owner_id,omitempty"`
	RequesterID   int64           `json:"requester_id"`
	Status        string          `json:"status"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Amount        decimal.Decimal `json:"amount"`
	ChangedBy     string          `json:"changed_by,omitempty"`
	ChangedByID   int64           `json:"changed_by_id,omitempty"`
}

// NewReservationPayload snapshots r. venue may be nil.
func NewReservationPayload(r *models.Reservation, venue *models.Venue, actor models.Actor) ReservationEventPayload {
	p := ReservationEventPayload{
		ReservationID: r.ID,
		VenueID:       r.VenueID,
		RequesterID:   r.RequesterID,
		Status:        string(r.Status),
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Amount:        r.Amount,
		ChangedBy:     string(actor.Role),
		ChangedByID:   actor.UserID,
	}
	if venue != nil {
		p.VenueName = venue.Name
		p.OwnerID = venue.OwnerID
	}
	return p
}

// Event represents a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. logger may be nil.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handler errors are logged
// and never reach the publisher.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Str("event_id", event.ID).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{ID: uuid.NewString(), Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
