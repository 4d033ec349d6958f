package store

import (
	"database/sql"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/thedetect/universe-talk-bot/internal/domain"
)

// Dates are stored as ISO "YYYY-MM-DD" text and send times as "HH:MM" so both backends
// share one representation.

func toNullDate(d *civil.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func fromNullDate(ns sql.NullString) (*civil.Date, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", ns.String, err)
	}
	return &d, nil
}

func toNullClock(c *domain.ClockTime) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: c.String(), Valid: true}
}

func fromNullClock(ns sql.NullString) (*domain.ClockTime, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	c, err := domain.ParseClock(ns.String)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt64(ns sql.NullInt64) *int64 {
	if !ns.Valid {
		return nil
	}
	v := ns.Int64
	return &v
}

// userRow is the column set shared by every SELECT on users.
type userRow struct {
	id                int64
	name              string
	tz                string
	sendAt            sql.NullString
	birthDate         string
	birthTime         string
	birthPlace        string
	trialStart        sql.NullString
	subscriptionUntil sql.NullString
	bonusDays         int
	referralCode      sql.NullString
	referredBy        sql.NullInt64
	blocked           bool
	createdAt         int64
}

const userColumns = `id, name, tz, send_at, birth_date, birth_time, birth_place,
	trial_start, subscription_until, bonus_days, referral_code, referred_by,
	blocked, created_at`

// scanner is satisfied by *sql.Row, *sql.Rows and pgx.Row.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*domain.User, error) {
	var r userRow
	if err := s.Scan(
		&r.id, &r.name, &r.tz, &r.sendAt, &r.birthDate, &r.birthTime, &r.birthPlace,
		&r.trialStart, &r.subscriptionUntil, &r.bonusDays, &r.referralCode, &r.referredBy,
		&r.blocked, &r.createdAt,
	); err != nil {
		return nil, err
	}
	return r.toDomain()
}

func (r userRow) toDomain() (*domain.User, error) {
	sendAt, err := fromNullClock(r.sendAt)
	if err != nil {
		return nil, fmt.Errorf("user %d send_at: %w", r.id, err)
	}
	trial, err := fromNullDate(r.trialStart)
	if err != nil {
		return nil, fmt.Errorf("user %d trial_start: %w", r.id, err)
	}
	sub, err := fromNullDate(r.subscriptionUntil)
	if err != nil {
		return nil, fmt.Errorf("user %d subscription_until: %w", r.id, err)
	}
	return &domain.User{
		ID:                r.id,
		Name:              r.name,
		TZ:                r.tz,
		SendAt:            sendAt,
		BirthDate:         r.birthDate,
		BirthTime:         r.birthTime,
		BirthPlace:        r.birthPlace,
		TrialStart:        trial,
		SubscriptionUntil: sub,
		BonusDays:         r.bonusDays,
		ReferralCode:      r.referralCode.String,
		ReferredBy:        fromNullInt64(r.referredBy),
		Blocked:           r.blocked,
		CreatedAt:         time.Unix(r.createdAt, 0).UTC(),
	}, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// extendFrom returns max(today, current) + days.
func extendFrom(current *civil.Date, today civil.Date, days int) civil.Date {
	base := today
	if current != nil && current.After(base) {
		base = *current
	}
	return base.AddDays(days)
}
