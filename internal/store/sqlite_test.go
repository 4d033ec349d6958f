package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/thedetect/universe-talk-bot/internal/domain"
)

func openTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func mustCreate(t *testing.T, repo *SQLiteRepo, u domain.User) {
	t.Helper()
	created, err := repo.CreateUser(context.Background(), &u)
	if err != nil {
		t.Fatalf("create user %d: %v", u.ID, err)
	}
	if !created {
		t.Fatalf("user %d already existed", u.ID)
	}
}

func day(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func TestCreateAndGetUser(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	at := domain.ClockTime{Hour: 9, Minute: 30}
	trial := day(2025, time.May, 1)
	mustCreate(t, repo, domain.User{
		ID: 42, Name: "Anna", TZ: "Europe/Berlin", SendAt: &at,
		BirthDate: "14.07.1990", BirthTime: "18:25", BirthPlace: "Berlin",
		TrialStart: &trial, BonusDays: 2, ReferralCode: "ABCD2345",
	})

	created, err := repo.CreateUser(ctx, &domain.User{ID: 42, Name: "Other"})
	if err != nil || created {
		t.Fatalf("second create: created=%v err=%v", created, err)
	}

	u, err := repo.GetUser(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.Name != "Anna" || u.TZ != "Europe/Berlin" || u.BirthPlace != "Berlin" {
		t.Fatalf("unexpected profile: %+v", u)
	}
	if u.SendAt == nil || *u.SendAt != at {
		t.Fatalf("send_at: want %v, got %v", at, u.SendAt)
	}
	if u.TrialStart == nil || *u.TrialStart != trial {
		t.Fatalf("trial_start: want %v, got %v", trial, u.TrialStart)
	}
	if u.SubscriptionUntil != nil || u.ReferredBy != nil || u.Blocked {
		t.Fatalf("unexpected access state: %+v", u)
	}
	if u.BonusDays != 2 || u.ReferralCode != "ABCD2345" {
		t.Fatalf("unexpected bonus/code: %+v", u)
	}

	if _, err := repo.GetUser(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestListActive(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	at := domain.ClockTime{Hour: 8}

	mustCreate(t, repo, domain.User{ID: 3, TZ: "UTC", SendAt: &at})
	mustCreate(t, repo, domain.User{ID: 1, TZ: "UTC", SendAt: &at})
	mustCreate(t, repo, domain.User{ID: 2, TZ: "UTC"})
	mustCreate(t, repo, domain.User{ID: 4, TZ: "UTC", SendAt: &at, Blocked: true})

	users, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 2 || users[0].ID != 1 || users[1].ID != 3 {
		t.Fatalf("want users 1 and 3, got %+v", users)
	}

	if err := repo.SetBlocked(ctx, 1, true); err != nil {
		t.Fatalf("block: %v", err)
	}
	users, _ = repo.ListActive(ctx)
	if len(users) != 1 || users[0].ID != 3 {
		t.Fatalf("blocked user still listed: %+v", users)
	}
}

func TestUpdateProfileKeepsEmptyFields(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	mustCreate(t, repo, domain.User{ID: 1, TZ: "UTC", Name: "Anna", BirthPlace: "Berlin"})

	if err := repo.UpdateProfile(ctx, 1, Profile{BirthDate: "01.02.1993"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	u, _ := repo.GetUser(ctx, 1)
	if u.Name != "Anna" || u.BirthPlace != "Berlin" || u.BirthDate != "01.02.1993" {
		t.Fatalf("unexpected profile: %+v", u)
	}

	if err := repo.UpdateProfile(ctx, 99, Profile{Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdateSchedule(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	mustCreate(t, repo, domain.User{ID: 1, TZ: "UTC"})

	at := domain.ClockTime{Hour: 21, Minute: 5}
	if err := repo.UpdateSchedule(ctx, 1, at, "Asia/Tokyo"); err != nil {
		t.Fatalf("update schedule: %v", err)
	}
	u, _ := repo.GetUser(ctx, 1)
	if u.SendAt == nil || *u.SendAt != at || u.TZ != "Asia/Tokyo" {
		t.Fatalf("unexpected schedule: %+v", u)
	}
}

func TestStartTrialOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	mustCreate(t, repo, domain.User{ID: 1, TZ: "UTC"})

	first := day(2025, time.June, 1)
	if err := repo.StartTrial(ctx, 1, first); err != nil {
		t.Fatalf("start trial: %v", err)
	}
	if err := repo.StartTrial(ctx, 1, day(2025, time.July, 1)); err != nil {
		t.Fatalf("second start trial: %v", err)
	}
	u, _ := repo.GetUser(ctx, 1)
	if u.TrialStart == nil || *u.TrialStart != first {
		t.Fatalf("trial start moved: %v", u.TrialStart)
	}
	if err := repo.StartTrial(ctx, 2, first); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestExtendSubscriptionIsMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	mustCreate(t, repo, domain.User{ID: 1, TZ: "UTC"})
	today := day(2025, time.March, 10)

	until, err := repo.ExtendSubscription(ctx, 1, today, 30)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if want := day(2025, time.April, 9); until != want {
		t.Fatalf("want %v, got %v", want, until)
	}

	// A second payment stacks on the remaining period.
	until, err = repo.ExtendSubscription(ctx, 1, today.AddDays(5), 30)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if want := day(2025, time.May, 9); until != want {
		t.Fatalf("want %v, got %v", want, until)
	}

	// After expiry the period restarts from today.
	later := day(2025, time.December, 1)
	until, err = repo.ExtendSubscription(ctx, 1, later, 60)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if want := later.AddDays(60); until != want {
		t.Fatalf("want %v, got %v", want, until)
	}

	u, _ := repo.GetUser(ctx, 1)
	if u.SubscriptionUntil == nil || *u.SubscriptionUntil != until {
		t.Fatalf("stored %v, returned %v", u.SubscriptionUntil, until)
	}

	if _, err := repo.ExtendSubscription(ctx, 1, later, 0); err == nil {
		t.Fatal("want error for zero days")
	}
	if _, err := repo.ExtendSubscription(ctx, 9, later, 30); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestApplyBonusDayConsumptionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	mustCreate(t, repo, domain.User{ID: 1, TZ: "UTC", BonusDays: 2})
	d := day(2025, time.May, 5)

	if err := repo.ApplyBonusDayConsumption(ctx, 1, d); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := repo.ApplyBonusDayConsumption(ctx, 1, d); !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("want ErrAlreadyConsumed, got %v", err)
	}
	u, _ := repo.GetUser(ctx, 1)
	if u.BonusDays != 1 {
		t.Fatalf("want 1 bonus day left, got %d", u.BonusDays)
	}
}

func TestApplyBonusDayConsumptionNeverNegative(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	mustCreate(t, repo, domain.User{ID: 1, TZ: "UTC", BonusDays: 1})

	if err := repo.ApplyBonusDayConsumption(ctx, 1, day(2025, time.May, 5)); err != nil {
		t.Fatalf("consume: %v", err)
	}
	err := repo.ApplyBonusDayConsumption(ctx, 1, day(2025, time.May, 6))
	if !errors.Is(err, ErrNoBonusDays) {
		t.Fatalf("want ErrNoBonusDays, got %v", err)
	}
	u, _ := repo.GetUser(ctx, 1)
	if u.BonusDays != 0 {
		t.Fatalf("want 0 bonus days, got %d", u.BonusDays)
	}

	// The failed attempt must not have left a consumption row behind.
	if err := repo.AddBonusDays(ctx, 1, 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repo.ApplyBonusDayConsumption(ctx, 1, day(2025, time.May, 6)); err != nil {
		t.Fatalf("consume after top-up: %v", err)
	}
}

func TestApplyBonusDayConsumptionConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	mustCreate(t, repo, domain.User{ID: 1, TZ: "UTC", BonusDays: 5})
	d := day(2025, time.May, 5)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		charged int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.ApplyBonusDayConsumption(ctx, 1, d); err == nil {
				mu.Lock()
				charged++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if charged != 1 {
		t.Fatalf("want exactly one charge, got %d", charged)
	}
	u, _ := repo.GetUser(ctx, 1)
	if u.BonusDays != 4 {
		t.Fatalf("want 4 bonus days, got %d", u.BonusDays)
	}
}

func TestRecordDelivery(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	mustCreate(t, repo, domain.User{ID: 1, TZ: "UTC"})
	d := day(2025, time.May, 5)

	ok, err := repo.DeliveredOn(ctx, 1, d)
	if err != nil || ok {
		t.Fatalf("before record: ok=%v err=%v", ok, err)
	}
	if err := repo.RecordDelivery(ctx, 1, d, DeliveryFull, time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := repo.RecordDelivery(ctx, 1, d, DeliveryReminder, time.Now()); !errors.Is(err, ErrAlreadyDelivered) {
		t.Fatalf("want ErrAlreadyDelivered, got %v", err)
	}
	ok, err = repo.DeliveredOn(ctx, 1, d)
	if err != nil || !ok {
		t.Fatalf("after record: ok=%v err=%v", ok, err)
	}
	if ok, _ := repo.DeliveredOn(ctx, 1, d.AddDays(1)); ok {
		t.Fatal("next day must not count as delivered")
	}
}

func TestReferralBookkeeping(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	mustCreate(t, repo, domain.User{ID: 1, TZ: "UTC", CreatedAt: time.Unix(100, 0)})
	mustCreate(t, repo, domain.User{ID: 2, TZ: "UTC", CreatedAt: time.Unix(300, 0)})
	mustCreate(t, repo, domain.User{ID: 3, TZ: "UTC", CreatedAt: time.Unix(200, 0)})

	if err := repo.SetReferralCode(ctx, 1, "QWERTY23"); err != nil {
		t.Fatalf("set code: %v", err)
	}
	if err := repo.SetReferralCode(ctx, 2, "QWERTY23"); !errors.Is(err, ErrCodeTaken) {
		t.Fatalf("want ErrCodeTaken, got %v", err)
	}

	owner, err := repo.FindByReferralCode(ctx, "QWERTY23")
	if err != nil || owner.ID != 1 {
		t.Fatalf("find by code: %+v %v", owner, err)
	}
	if _, err := repo.FindByReferralCode(ctx, "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	for _, id := range []int64{2, 3} {
		if err := repo.SetReferredBy(ctx, id, 1); err != nil {
			t.Fatalf("set referred_by %d: %v", id, err)
		}
	}
	if err := repo.SetReferredBy(ctx, 2, 3); !errors.Is(err, ErrAlreadyReferred) {
		t.Fatalf("want ErrAlreadyReferred, got %v", err)
	}
	if err := repo.SetReferredBy(ctx, 99, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	refs, err := repo.ListReferrals(ctx, 1)
	if err != nil {
		t.Fatalf("list referrals: %v", err)
	}
	if len(refs) != 2 || refs[0].ID != 3 || refs[1].ID != 2 {
		t.Fatalf("want referrals [3 2], got %+v", refs)
	}
	u, _ := repo.GetUser(ctx, 2)
	if u.ReferredBy == nil || *u.ReferredBy != 1 {
		t.Fatalf("referred_by changed: %v", u.ReferredBy)
	}
}

func TestExtendFrom(t *testing.T) {
	today := day(2025, time.January, 10)
	past := day(2024, time.December, 1)
	future := day(2025, time.February, 1)

	if got := extendFrom(nil, today, 30); got != today.AddDays(30) {
		t.Fatalf("nil current: got %v", got)
	}
	if got := extendFrom(&past, today, 30); got != today.AddDays(30) {
		t.Fatalf("expired current: got %v", got)
	}
	if got := extendFrom(&future, today, 30); got != future.AddDays(30) {
		t.Fatalf("active current: got %v", got)
	}
}
