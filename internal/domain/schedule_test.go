package domain

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

// helper: build a time in given tz and return its UTC
func mustLocalUTC(t *testing.T, tz string, y int, m time.Month, d, hh, mm int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	lt := time.Date(y, m, d, hh, mm, 0, 0, loc)
	return lt.UTC()
}

func TestNextFire_LaterToday(t *testing.T) {
	at := ClockTime{Hour: 21, Minute: 0}
	nowUTC := mustLocalUTC(t, "Europe/Moscow", 2025, time.May, 5, 19, 46)
	next, err := NextFire(nowUTC, at, "Europe/Moscow")
	if err != nil {
		t.Fatalf("next fire: %v", err)
	}
	got, _ := LocalizeTime(next, "Europe/Moscow")
	if want := "2025-05-05 21:00"; got != want {
		t.Fatalf("want %s, got %s", want, got)
	}
}

func TestNextFire_PassedTodayRollsToTomorrow(t *testing.T) {
	at := ClockTime{Hour: 9, Minute: 0}
	nowUTC := mustLocalUTC(t, "Europe/Moscow", 2025, time.May, 6, 9, 30)
	next, err := NextFire(nowUTC, at, "Europe/Moscow")
	if err != nil {
		t.Fatalf("next fire: %v", err)
	}
	got, _ := LocalizeTime(next, "Europe/Moscow")
	if want := "2025-05-07 09:00"; got != want {
		t.Fatalf("want %s, got %s", want, got)
	}
}

func TestNextFire_ExactlyAtTimeIsStrict(t *testing.T) {
	at := ClockTime{Hour: 9, Minute: 0}
	nowUTC := mustLocalUTC(t, "UTC", 2025, time.May, 6, 9, 0)
	next, err := NextFire(nowUTC, at, "UTC")
	if err != nil {
		t.Fatalf("next fire: %v", err)
	}
	if want := nowUTC.Add(24 * time.Hour); !next.Equal(want) {
		t.Fatalf("want %s, got %s", want, next)
	}
}

func TestNextFire_BerlinAcrossSpringForward(t *testing.T) {
	const tz = "Europe/Berlin"
	at := ClockTime{Hour: 9, Minute: 0}

	// 2025-03-30 is the CET→CEST switch.
	fired := mustLocalUTC(t, tz, 2025, time.March, 29, 9, 0)
	next, err := NextFire(fired, at, tz)
	if err != nil {
		t.Fatalf("next fire: %v", err)
	}
	got, _ := LocalizeTime(next, tz)
	if want := "2025-03-30 09:00"; got != want {
		t.Fatalf("want %s, got %s", want, got)
	}
	if gap := next.Sub(fired); gap != 23*time.Hour {
		t.Fatalf("want 23h between firings across the switch, got %s", gap)
	}
	if next.Hour() != 7 {
		t.Fatalf("want 07:00 UTC in summer time, got %s", next)
	}
}

func TestNextFire_BerlinAcrossFallBack(t *testing.T) {
	const tz = "Europe/Berlin"
	at := ClockTime{Hour: 9, Minute: 0}

	fired := mustLocalUTC(t, tz, 2025, time.October, 25, 9, 0)
	next, err := NextFire(fired, at, tz)
	if err != nil {
		t.Fatalf("next fire: %v", err)
	}
	got, _ := LocalizeTime(next, tz)
	if want := "2025-10-26 09:00"; got != want {
		t.Fatalf("want %s, got %s", want, got)
	}
	if gap := next.Sub(fired); gap != 25*time.Hour {
		t.Fatalf("want 25h between firings across the switch, got %s", gap)
	}
}

func TestNextFire_TimeInsideSpringForwardGap(t *testing.T) {
	const tz = "Europe/Berlin"
	at := ClockTime{Hour: 2, Minute: 30}

	// 02:30 does not exist on 2026-03-29; the clocks jump from 02:00 to 03:00.
	after := mustLocalUTC(t, tz, 2026, time.March, 28, 12, 0)
	next, err := NextFire(after, at, tz)
	if err != nil {
		t.Fatalf("next fire: %v", err)
	}
	got, _ := LocalizeTime(next, tz)
	if want := "2026-03-29 03:30"; got != want {
		t.Fatalf("want %s, got %s", want, got)
	}

	following, err := NextFire(next, at, tz)
	if err != nil {
		t.Fatalf("next fire: %v", err)
	}
	got, _ = LocalizeTime(following, tz)
	if want := "2026-03-30 02:30"; got != want {
		t.Fatalf("want %s, got %s", want, got)
	}
}

func TestNextFire_RepeatedHourFiresFirstOccurrence(t *testing.T) {
	const tz = "Europe/Berlin"
	at := ClockTime{Hour: 2, Minute: 30}

	after := mustLocalUTC(t, tz, 2026, time.October, 24, 12, 0)
	next, err := NextFire(after, at, tz)
	if err != nil {
		t.Fatalf("next fire: %v", err)
	}
	// 02:30 CEST, before the clocks fall back.
	if want := time.Date(2026, time.October, 25, 0, 30, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("want %s, got %s", want, next)
	}
}

func TestNextFire_InvalidZone(t *testing.T) {
	if _, err := NextFire(time.Now(), ClockTime{Hour: 9}, "Mars/Olympus"); err == nil {
		t.Fatal("want error for unknown zone")
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want ClockTime
		ok   bool
	}{
		{"09:00", ClockTime{9, 0}, true},
		{" 23:59 ", ClockTime{23, 59}, true},
		{"24:00", ClockTime{}, false},
		{"9", ClockTime{}, false},
		{"12:60", ClockTime{}, false},
		{"", ClockTime{}, false},
	}
	for _, c := range cases {
		got, err := ParseClock(c.in)
		if c.ok != (err == nil) {
			t.Fatalf("%q: unexpected err=%v", c.in, err)
		}
		if c.ok && got != c.want {
			t.Fatalf("%q: want %v, got %v", c.in, c.want, got)
		}
	}
}

func TestBirthInstant(t *testing.T) {
	u := User{TZ: "UTC", BirthDate: "14.07.1990", BirthTime: "18:25"}
	got, ok := u.BirthInstant()
	if !ok {
		t.Fatal("want valid birth instant")
	}
	if want := time.Date(1990, time.July, 14, 18, 25, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("want %s, got %s", want, got)
	}

	u.BirthTime = ""
	got, ok = u.BirthInstant()
	if !ok || got.Hour() != 12 {
		t.Fatalf("missing birth time should default to noon, got %s ok=%v", got, ok)
	}

	for _, bad := range []User{
		{TZ: "UTC"},
		{TZ: "UTC", BirthDate: "31.02.1990"},
		{TZ: "UTC", BirthDate: "1990-07-14"},
		{TZ: "UTC", BirthDate: "14.07.1990", BirthTime: "noon"},
	} {
		if _, ok := bad.BirthInstant(); ok {
			t.Fatalf("want invalid birth instant for %+v", bad)
		}
	}
}

func TestSendInstant(t *testing.T) {
	u := User{TZ: "Europe/Berlin", SendAt: &ClockTime{Hour: 9, Minute: 15}}
	got := u.SendInstant(civil.Date{Year: 2025, Month: time.July, Day: 1})
	if want := time.Date(2025, time.July, 1, 7, 15, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("want %s, got %s", want, got)
	}

	u.SendAt = nil
	got = u.SendInstant(civil.Date{Year: 2025, Month: time.January, Day: 1})
	if want := time.Date(2025, time.January, 1, 11, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("want noon local %s, got %s", want, got)
	}
}
