package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// User is the stored profile of one chat: birth data, delivery preferences and access state.
type User struct {
	ID         int64 // Telegram chat id
	Name       string
	TZ         string     // IANA zone used for SendAt and the local date
	SendAt     *ClockTime // nil until the user picks a time
	BirthDate  string     // DD.MM.YYYY
	BirthTime  string     // HH:MM, empty means unknown
	BirthPlace string

	TrialStart        *civil.Date
	SubscriptionUntil *civil.Date
	BonusDays         int
	ReferralCode      string
	ReferredBy        *int64 // write-once

	Blocked   bool
	CreatedAt time.Time // UTC
}

// Schedulable reports whether the user should have a live daily trigger.
func (u *User) Schedulable() bool {
	return !u.Blocked && u.SendAt != nil
}

// Location resolves the user's zone, falling back to UTC for unknown names.
func (u *User) Location() *time.Location {
	loc, err := time.LoadLocation(u.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LocalDate returns the calendar date of t in the user's zone.
func (u *User) LocalDate(t time.Time) civil.Date {
	return civil.DateOf(t.In(u.Location()))
}

// SendInstant is the moment the daily message for d is due in the user's zone. A user
// without a send time is treated as due at noon.
func (u *User) SendInstant(d civil.Date) time.Time {
	at := ClockTime{Hour: 12}
	if u.SendAt != nil {
		at = *u.SendAt
	}
	return time.Date(d.Year, d.Month, d.Day, at.Hour, at.Minute, 0, 0, u.Location()).UTC()
}

// BirthInstant interprets the stored birth date and time in the user's zone.
// A missing time defaults to noon. ok is false when the date is absent or malformed.
func (u *User) BirthInstant() (t time.Time, ok bool) {
	d, err := ParseBirthDate(u.BirthDate)
	if err != nil {
		return time.Time{}, false
	}
	clock := ClockTime{Hour: 12}
	if u.BirthTime != "" {
		c, err := ParseClock(u.BirthTime)
		if err != nil {
			return time.Time{}, false
		}
		clock = c
	}
	return time.Date(d.Year, d.Month, d.Day, clock.Hour, clock.Minute, 0, 0, u.Location()), true
}
