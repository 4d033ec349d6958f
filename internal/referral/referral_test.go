package referral

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/thedetect/universe-talk-bot/internal/domain"
	"github.com/thedetect/universe-talk-bot/internal/store"
)

func newTestService(t *testing.T, users ...domain.User) (*Service, *store.SQLiteRepo) {
	t.Helper()
	ctx := context.Background()
	repo, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	for i := range users {
		if _, err := repo.CreateUser(ctx, &users[i]); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	return NewService(repo, zap.NewNop(), 10, "universe_talk_bot"), repo
}

func TestNewCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := NewCode()
		if err != nil {
			t.Fatalf("new code: %v", err)
		}
		if len(code) != CodeLength {
			t.Fatalf("want length %d, got %q", CodeLength, code)
		}
		for _, c := range code {
			if !strings.ContainsRune(alphabet, c) {
				t.Fatalf("code %q has %q outside the alphabet", code, c)
			}
		}
		seen[code] = true
	}
	if len(seen) < 190 {
		t.Fatalf("codes repeat too often: %d distinct of 200", len(seen))
	}
}

func TestEnsureCodeRetriesOnCollision(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t,
		domain.User{ID: 1, TZ: "UTC", ReferralCode: "AAAAAAAA"},
		domain.User{ID: 2, TZ: "UTC"},
	)
	codes := []string{"AAAAAAAA", "BBBBBBBB"}
	svc.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	u, _ := repo.GetUser(ctx, 2)
	code, err := svc.EnsureCode(ctx, u)
	if err != nil {
		t.Fatalf("ensure code: %v", err)
	}
	if code != "BBBBBBBB" {
		t.Fatalf("want BBBBBBBB, got %s", code)
	}

	// An existing code is returned as is.
	again, err := svc.EnsureCode(ctx, u)
	if err != nil || again != code {
		t.Fatalf("want stable code %s, got %s (%v)", code, again, err)
	}
}

func TestApplyCreditsReferrerOnce(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t,
		domain.User{ID: 1, TZ: "UTC", ReferralCode: "REFCODE2"},
		domain.User{ID: 2, TZ: "UTC"},
		domain.User{ID: 3, TZ: "UTC", ReferralCode: "OTHER234"},
	)

	referrer, err := svc.Apply(ctx, 2, " refcode2 ")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if referrer.ID != 1 {
		t.Fatalf("want referrer 1, got %d", referrer.ID)
	}
	if _, err := svc.Apply(ctx, 2, "OTHER234"); !errors.Is(err, store.ErrAlreadyReferred) {
		t.Fatalf("want ErrAlreadyReferred, got %v", err)
	}

	u1, _ := repo.GetUser(ctx, 1)
	if u1.BonusDays != 10 {
		t.Fatalf("want referrer credited 10 days, got %d", u1.BonusDays)
	}
	u3, _ := repo.GetUser(ctx, 3)
	if u3.BonusDays != 0 {
		t.Fatalf("second referrer must not be credited, got %d", u3.BonusDays)
	}
	u2, _ := repo.GetUser(ctx, 2)
	if u2.ReferredBy == nil || *u2.ReferredBy != 1 {
		t.Fatalf("referred_by: %v", u2.ReferredBy)
	}
}

func TestApplyWithoutBonusStillRecordsReferral(t *testing.T) {
	ctx := context.Background()
	base, repo := newTestService(t,
		domain.User{ID: 1, TZ: "UTC", ReferralCode: "REFCODE2"},
		domain.User{ID: 2, TZ: "UTC"},
	)
	svc := NewService(repo, zap.NewNop(), 0, base.botUsername)

	if _, err := svc.Apply(ctx, 2, "REFCODE2"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	u1, _ := repo.GetUser(ctx, 1)
	if u1.BonusDays != 0 {
		t.Fatalf("want no credit, got %d", u1.BonusDays)
	}
	u2, _ := repo.GetUser(ctx, 2)
	if u2.ReferredBy == nil || *u2.ReferredBy != 1 {
		t.Fatalf("referred_by: %v", u2.ReferredBy)
	}
}

func TestApplyRejectsSelfAndUnknown(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t, domain.User{ID: 1, TZ: "UTC", ReferralCode: "SELFCODE"})

	if _, err := svc.Apply(ctx, 1, "SELFCODE"); !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("want ErrSelfReferral, got %v", err)
	}
	if _, err := svc.Apply(ctx, 1, "NOSUCH22"); !errors.Is(err, ErrUnknownCode) {
		t.Fatalf("want ErrUnknownCode, got %v", err)
	}
	if _, err := svc.Apply(ctx, 1, ""); !errors.Is(err, ErrUnknownCode) {
		t.Fatalf("want ErrUnknownCode for empty code, got %v", err)
	}
	u, _ := repo.GetUser(ctx, 1)
	if u.BonusDays != 0 || u.ReferredBy != nil {
		t.Fatalf("rejected referral changed state: %+v", u)
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t,
		domain.User{ID: 1, TZ: "UTC", Name: "Anna"},
		domain.User{ID: 2, TZ: "UTC", Name: "Boris"},
		domain.User{ID: 3, TZ: "UTC"},
	)

	st, err := svc.Status(ctx, 1)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(st.Code) != CodeLength || len(st.Invited) != 0 {
		t.Fatalf("unexpected fresh status: %+v", st)
	}
	if want := "https://t.me/universe_talk_bot?start=" + st.Code; st.Link != want {
		t.Fatalf("want link %s, got %s", want, st.Link)
	}

	for _, id := range []int64{2, 3} {
		if _, err := svc.Apply(ctx, id, st.Code); err != nil {
			t.Fatalf("apply %d: %v", id, err)
		}
	}
	st, err = svc.Status(ctx, 1)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(st.Invited) != 2 || st.Invited[0] != "Boris" || st.Invited[1] != "3" {
		t.Fatalf("unexpected invitees: %v", st.Invited)
	}
	if st.BonusDays != 20 {
		t.Fatalf("want 20 bonus days, got %d", st.BonusDays)
	}
}
