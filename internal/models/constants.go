package models

import "time"

const (
	DateFormat = "2006-01-02"

	// DefaultSlotDuration is the width of every listed slot.
	DefaultSlotDuration = time.Hour

	// DefaultMinDuration is the shortest reservation that may be submitted.
	DefaultMinDuration = time.Hour

	// DefaultHorizonDays is how many days past today are bookable.
	DefaultHorizonDays = 7

	// DefaultLockTimeout bounds the wait for a venue lock.
	DefaultLockTimeout = 3 * time.Second

	// DefaultLockTTL caps how long a crashed holder keeps a distributed lock.
	DefaultLockTTL = 10 * time.Second

	// DefaultCompletionInterval is how often confirmed reservations are swept.
	DefaultCompletionInterval = 5 * time.Minute

	DefaultCompletionBatchSize = 100

	DefaultListLimit = 50
	MaxListLimit     = 500
)
