package models

import "time"

// Slot is a fixed-width candidate interval within a venue's operating hours.
type Slot struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Occupied bool      `json:"occupied"`
}
