// Package referral assigns invite codes and credits referrers with bonus days.
package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/thedetect/universe-talk-bot/internal/domain"
	"github.com/thedetect/universe-talk-bot/internal/store"
)

const (
	CodeLength = 8
	// No 0/O or 1/I so codes survive being read aloud.
	alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	codeAttempts = 5
)

var (
	ErrSelfReferral = errors.New("self referral")
	ErrUnknownCode  = errors.New("unknown referral code")
)

// NewCode returns a random code of CodeLength characters.
func NewCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeLength)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Normalize upper-cases and trims a user-supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Status is what /referrals shows.
type Status struct {
	Code      string
	Link      string
	Invited   []string
	BonusDays int
}

// Service owns referral bookkeeping on top of the store.
type Service struct {
	repo        store.Repo
	log         *zap.Logger
	bonusDays   int
	botUsername string
	newCode     func() (string, error)
}

func NewService(repo store.Repo, log *zap.Logger, bonusDays int, botUsername string) *Service {
	return &Service{
		repo:        repo,
		log:         log,
		bonusDays:   bonusDays,
		botUsername: botUsername,
		newCode:     NewCode,
	}
}

// Link builds the deep link that opens the bot with /start <code>.
func (s *Service) Link(code string) string {
	if s.botUsername == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s?start=%s", s.botUsername, code)
}

// EnsureCode returns the user's code, assigning a fresh unique one if needed.
func (s *Service) EnsureCode(ctx context.Context, u *domain.User) (string, error) {
	if u.ReferralCode != "" {
		return u.ReferralCode, nil
	}
	for i := 0; i < codeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		err = s.repo.SetReferralCode(ctx, u.ID, code)
		if errors.Is(err, store.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return "", err
		}
		u.ReferralCode = code
		return code, nil
	}
	return "", fmt.Errorf("no free referral code after %d attempts", codeAttempts)
}

// Apply links userID to the owner of code and credits the owner.
// It returns the referrer on success.
func (s *Service) Apply(ctx context.Context, userID int64, code string) (*domain.User, error) {
	code = Normalize(code)
	if code == "" {
		return nil, ErrUnknownCode
	}
	referrer, err := s.repo.FindByReferralCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownCode
	}
	if err != nil {
		return nil, err
	}
	if referrer.ID == userID {
		return nil, ErrSelfReferral
	}
	if err := s.repo.SetReferredBy(ctx, userID, referrer.ID); err != nil {
		return nil, err
	}
	if s.bonusDays > 0 {
		if err := s.repo.AddBonusDays(ctx, referrer.ID, s.bonusDays); err != nil {
			return nil, fmt.Errorf("credit referrer %d: %w", referrer.ID, err)
		}
	}
	s.log.Info("referral applied",
		zap.Int64("user_id", userID),
		zap.Int64("referrer_id", referrer.ID),
		zap.Int("bonus_days", s.bonusDays),
	)
	return referrer, nil
}

// Status collects the user's code, link and invitees.
func (s *Service) Status(ctx context.Context, userID int64) (Status, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	code, err := s.EnsureCode(ctx, u)
	if err != nil {
		return Status{}, err
	}
	invited, err := s.repo.ListReferrals(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	st := Status{Code: code, Link: s.Link(code), BonusDays: u.BonusDays}
	for _, inv := range invited {
		name := inv.Name
		if name == "" {
			name = strconv.FormatInt(inv.ID, 10)
		}
		st.Invited = append(st.Invited, name)
	}
	return st, nil
}
