package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account is the immutable account snapshot used by one generation pass.
type Account struct {
	ID                    snowflake.ID
	TenantID              int64
	Currency              string
	TimeZone              string
	BillCycleDayLocal     int
	IsNotifiedForInvoices bool
}

// Location resolves the account time zone, defaulting to UTC.
func (a Account) Location() *time.Location {
	if a.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LocalDate truncates an instant to the account-local calendar day.
func (a Account) LocalDate(t time.Time) time.Time {
	return ToLocalDate(t, a.Location())
}

// Instant returns the UTC instant at which the local date starts for the account.
func (a Account) Instant(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, a.Location()).UTC()
}

// ToLocalDate truncates t to the calendar day it falls on in loc. Local dates are
// represented as midnight UTC so they compare and hash consistently.
func ToLocalDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
}

// Date builds a local date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts a local date by n calendar days.
func AddDays(date time.Time, n int) time.Time {
	return date.AddDate(0, 0, n)
}

// DaysBetween counts whole days from start to end.
func DaysBetween(start, end time.Time) int {
	return int(end.Sub(start).Hours() / 24)
}
