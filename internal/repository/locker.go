package repository

import (
	"errors"
	"fmt"
)

// ErrLockTimeout is returned when a venue lock could not be taken within the
// locker's bounded wait.
var ErrLockTimeout = errors.New("timed out waiting for venue lock")

func lockKey(venueID int64) string {
	return fmt.Sprintf("venue_lock:%d", venueID)
}
