// Package access decides whether a user gets today's full message and which resource pays
// for it.
package access

import (
	"cloud.google.com/go/civil"

	"github.com/thedetect/universe-talk-bot/internal/domain"
)

// DefaultTrialDays is the trial length used when configuration does not override it.
const DefaultTrialDays = 10

// Source is the resource that grants a day of access.
type Source int

const (
	SourceNone Source = iota
	SourceSubscription
	SourceTrial
	SourceBonusDay
)

func (s Source) String() string {
	switch s {
	case SourceSubscription:
		return "subscription"
	case SourceTrial:
		return "trial"
	case SourceBonusDay:
		return "bonus_day"
	default:
		return "none"
	}
}

// Decision is the outcome of Decide. When Source is SourceBonusDay the caller owes exactly
// one bonus day for this date, charged only after the message is delivered.
type Decision struct {
	Eligible bool
	Source   Source
	Blocked  bool // blocked users get nothing, not even a reminder
}

// Decide evaluates access in fixed priority order: blocked, subscription, trial, bonus day.
// It reads u and never mutates it.
func Decide(today civil.Date, u domain.User, trialDays int) Decision {
	switch {
	case u.Blocked:
		return Decision{Blocked: true}
	case u.SubscriptionUntil != nil && !u.SubscriptionUntil.Before(today):
		return Decision{Eligible: true, Source: SourceSubscription}
	case InTrial(today, u, trialDays):
		return Decision{Eligible: true, Source: SourceTrial}
	case u.BonusDays > 0:
		return Decision{Eligible: true, Source: SourceBonusDay}
	default:
		return Decision{}
	}
}

// InTrial reports whether today falls inside the trial window: the start day counts as day 0
// and the window is open while fewer than trialDays days have passed.
func InTrial(today civil.Date, u domain.User, trialDays int) bool {
	if u.TrialStart == nil {
		return false
	}
	elapsed := today.DaysSince(*u.TrialStart)
	return elapsed >= 0 && elapsed < trialDays
}

// TrialEnds returns the last day covered by the trial, if one was started.
func TrialEnds(u domain.User, trialDays int) (civil.Date, bool) {
	if u.TrialStart == nil {
		return civil.Date{}, false
	}
	return u.TrialStart.AddDays(trialDays - 1), true
}
