package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// ClockTime is a wall-clock time of day in minutes since midnight.
// 24:00 is accepted and means the end of the day.
type ClockTime int

const (
	MinutesPerDay           = 24 * 60
	EndOfDay      ClockTime = MinutesPerDay
)

func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

func ParseClockTime(s string) (ClockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return NewClockTime(h, m), nil
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c ClockTime) Before(o ClockTime) bool { return c < o }

func (c ClockTime) Valid() bool {
	return c >= 0 && c <= EndOfDay
}

// On returns the instant of this wall-clock time on the calendar day of date
// in loc. time.Date normalizes 24:00 to midnight of the following day.
func (c ClockTime) On(date time.Time, loc *time.Location) time.Time {
	d := date.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), 0, 0, loc)
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(text []byte) error {
	parsed, err := ParseClockTime(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c ClockTime) Value() (driver.Value, error) {
	return c.String(), nil
}

func (c *ClockTime) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return c.UnmarshalText([]byte(v))
	case []byte:
		return c.UnmarshalText(v)
	case int64:
		*c = ClockTime(v)
		return nil
	case nil:
		*c = 0
		return nil
	}
	return fmt.Errorf("cannot scan %T into ClockTime", src)
}
