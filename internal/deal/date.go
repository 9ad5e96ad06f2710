package deal

import (
	"fmt"
	"time"
)

const secondsPerDay = 86400

// Date is a UTC calendar date stored as days since the Unix epoch.
// Rollup rows carry a Date for day-boundary rollover; the carry fields
// re-baseline only when a deal's Date exceeds the previous state's Date.
type Date int32

// DateOfUnix truncates a Unix timestamp (seconds) to its UTC calendar date.
func DateOfUnix(sec int64) Date {
	if sec < 0 {
		return 0
	}
	return Date(sec / secondsPerDay)
}

// DateOf converts a time.Time to its UTC calendar date.
func DateOf(t time.Time) Date {
	return DateOfUnix(t.UTC().Unix())
}

// Prev returns the previous calendar date.
func (d Date) Prev() Date {
	if d == 0 {
		return 0
	}
	return d - 1
}

// StartUnix returns the Unix timestamp of midnight UTC on this date.
func (d Date) StartUnix() int64 {
	return int64(d) * secondsPerDay
}

// EndUnix returns the last second of this date, used for as-of lookups.
func (d Date) EndUnix() int64 {
	return (int64(d)+1)*secondsPerDay - 1
}

func (d Date) Time() time.Time {
	return time.Unix(d.StartUnix(), 0).UTC()
}

func (d Date) String() string {
	return d.Time().Format("2006-01-02")
}

// MarshalJSON encodes the date as "YYYY-MM-DD".
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts "YYYY-MM-DD".
func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date %q", s)
	}
	t, err := time.ParseInLocation("2006-01-02", s[1:len(s)-1], time.UTC)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	*d = DateOf(t)
	return nil
}
