package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// Venue is a bookable location with daily operating hours and an hourly price.
type Venue struct {
	ID             int64           `yaml:"id" json:"id"`
	OwnerID        int64           `yaml:"owner_id" json:"owner_id"`
	Name           string          `yaml:"name" json:"name"`
	City           string          `yaml:"city" json:"city"`
	OpeningTime    ClockTime       `yaml:"opening_time" json:"opening_time"`
	ClosingTime    ClockTime       `yaml:"closing_time" json:"closing_time"`
	PricePerHour   decimal.Decimal `yaml:"price_per_hour" json:"price_per_hour"`
	ApprovalStatus ApprovalStatus  `yaml:"approval_status" json:"approval_status"`
	CreatedAt      time.Time       `yaml:"-" json:"created_at"`
	UpdatedAt      time.Time       `yaml:"-" json:"updated_at"`
}

func (v *Venue) Validate() error {
	if v.OwnerID == 0 {
		return errors.New("venue owner is required")
	}
	if !v.OpeningTime.Before(v.ClosingTime) {
		return fmt.Errorf("opening time %s must be before closing time %s", v.OpeningTime, v.ClosingTime)
	}
	if !v.PricePerHour.IsPositive() {
		return fmt.Errorf("price per hour must be positive, got %s", v.PricePerHour)
	}
	if v.ApprovalStatus != "" && !v.ApprovalStatus.Valid() {
		return fmt.Errorf("unknown approval status %q", v.ApprovalStatus)
	}
	return nil
}

func (v *Venue) IsApproved() bool {
	return v.ApprovalStatus == ApprovalApproved
}

// OpensAt returns the opening instant on the calendar day of date in loc.
func (v *Venue) OpensAt(date time.Time, loc *time.Location) time.Time {
	return v.OpeningTime.On(date, loc)
}

// ClosesAt returns the closing instant on the calendar day of date in loc.
func (v *Venue) ClosesAt(date time.Time, loc *time.Location) time.Time {
	return v.ClosingTime.On(date, loc)
}

// VenueFilter narrows directory listings. Zero values mean "any".
type VenueFilter struct {
	Status  ApprovalStatus
	City    string
	OwnerID int64
}
