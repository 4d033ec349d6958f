package store

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"

	"github.com/thedetect/universe-talk-bot/internal/domain"
)

var (
	ErrNotFound         = errors.New("user not found")
	ErrAlreadyConsumed  = errors.New("bonus day already consumed for this date")
	ErrNoBonusDays      = errors.New("no bonus days left")
	ErrAlreadyDelivered = errors.New("delivery already recorded for this date")
	ErrAlreadyReferred  = errors.New("referrer already set")
	ErrCodeTaken        = errors.New("referral code already taken")
)

// DeliveryKind tells a full daily message apart from the access reminder.
type DeliveryKind string

const (
	DeliveryFull     DeliveryKind = "full"
	DeliveryReminder DeliveryKind = "reminder"
)

// Profile holds the user-editable fields written by UpdateProfile.
type Profile struct {
	Name       string
	BirthDate  string
	BirthTime  string
	BirthPlace string
}

// Repo defines storage operations for users, access state and delivery bookkeeping.
type Repo interface {
	// CreateUser inserts a new user; an existing row is left untouched and reported false.
	CreateUser(ctx context.Context, u *domain.User) (created bool, err error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	// ListActive returns every non-blocked user that has a daily send time.
	ListActive(ctx context.Context) ([]domain.User, error)
	UpdateProfile(ctx context.Context, id int64, p Profile) error
	UpdateSchedule(ctx context.Context, id int64, at domain.ClockTime, tz string) error
	SetBlocked(ctx context.Context, id int64, blocked bool) error

	// StartTrial sets trial_start if it was never set.
	StartTrial(ctx context.Context, id int64, day civil.Date) error
	// ExtendSubscription moves subscription_until to max(today, current) + days.
	ExtendSubscription(ctx context.Context, id int64, today civil.Date, days int) (civil.Date, error)
	AddBonusDays(ctx context.Context, id int64, days int) error
	// ApplyBonusDayConsumption charges one bonus day for (id, day) exactly once.
	ApplyBonusDayConsumption(ctx context.Context, id int64, day civil.Date) error

	RecordDelivery(ctx context.Context, id int64, day civil.Date, kind DeliveryKind, at time.Time) error
	DeliveredOn(ctx context.Context, id int64, day civil.Date) (bool, error)

	SetReferralCode(ctx context.Context, id int64, code string) error
	FindByReferralCode(ctx context.Context, code string) (*domain.User, error)
	// SetReferredBy records the referrer once; later calls fail with ErrAlreadyReferred.
	SetReferredBy(ctx context.Context, id, referrerID int64) error
	ListReferrals(ctx context.Context, referrerID int64) ([]domain.User, error)

	Close() error
}

var (
	_ Repo = (*SQLiteRepo)(nil)
	_ Repo = (*PostgresRepo)(nil)
)
