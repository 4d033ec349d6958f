package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/thedetect/universe-talk-bot/internal/access"
	"github.com/thedetect/universe-talk-bot/internal/domain"
	"github.com/thedetect/universe-talk-bot/internal/referral"
	"github.com/thedetect/universe-talk-bot/internal/store"
)

// --- Registration ---

func (r *Router) handleStart(ctx context.Context, msg *tgbotapi.Message, args string) {
	chatID := msg.Chat.ID
	now := r.clk.Now().UTC()
	at := r.cfg.DefaultSendAt
	u := &domain.User{
		ID:        chatID,
		Name:      firstName(msg),
		TZ:        r.cfg.DefaultTZ,
		SendAt:    &at,
		CreatedAt: now,
	}
	created, err := r.repo.CreateUser(ctx, u)
	if err != nil {
		r.log.Error("create user failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, errorText)
		return
	}
	if !created {
		r.welcomeBack(ctx, chatID)
		return
	}

	if err := r.repo.StartTrial(ctx, chatID, u.LocalDate(now)); err != nil {
		r.log.Error("start trial failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	if _, err := r.refs.EnsureCode(ctx, u); err != nil {
		r.log.Error("assign referral code failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	if args != "" {
		r.applyReferral(ctx, chatID, args)
	}

	fresh, err := r.repo.GetUser(ctx, chatID)
	if err != nil {
		r.log.Error("reload user failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, errorText)
		return
	}
	if err := r.triggers.Update(*fresh); err != nil {
		r.log.Error("arm trigger failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	if r.mirror != nil {
		if err := r.mirror.RecordRegistration(ctx, *fresh); err != nil {
			r.log.Warn("mirror registration failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
	r.log.Info("user registered", zap.Int64("chat_id", chatID), zap.Bool("referred", fresh.ReferredBy != nil))

	trialEnd := "—"
	if end, ok := access.TrialEnds(*fresh, r.cfg.TrialDays); ok {
		trialEnd = end.String()
	}
	r.sendWithMenu(chatID, fmt.Sprintf(welcomeText, trialEnd, fresh.SendAt, fresh.TZ))
}

// welcomeBack re-enables a returning user who had blocked the bot.
func (r *Router) welcomeBack(ctx context.Context, chatID int64) {
	u, err := r.repo.GetUser(ctx, chatID)
	if err != nil {
		r.log.Error("load user failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, errorText)
		return
	}
	if u.Blocked {
		if err := r.repo.SetBlocked(ctx, chatID, false); err != nil {
			r.log.Error("unblock failed", zap.Int64("chat_id", chatID), zap.Error(err))
			r.sendText(chatID, errorText)
			return
		}
		u.Blocked = false
		if err := r.triggers.Update(*u); err != nil {
			r.log.Error("arm trigger failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
	sendAt := "—"
	if u.SendAt != nil {
		sendAt = u.SendAt.String()
	}
	r.sendWithMenu(chatID, fmt.Sprintf(welcomeBackText, sendAt, u.TZ))
}

func (r *Router) applyReferral(ctx context.Context, chatID int64, code string) {
	_, err := r.refs.Apply(ctx, chatID, code)
	switch {
	case err == nil:
		r.sendText(chatID, referralAppliedText)
	case errors.Is(err, referral.ErrSelfReferral):
		r.sendText(chatID, referralSelfText)
	case errors.Is(err, referral.ErrUnknownCode):
		r.sendText(chatID, referralUnknownText)
	case errors.Is(err, store.ErrAlreadyReferred):
	default:
		r.log.Error("apply referral failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) handleHelp(_ context.Context, msg *tgbotapi.Message, _ string) {
	r.sendWithMenu(msg.Chat.ID, helpText)
}

// --- Profile ---

func (r *Router) handleName(ctx context.Context, msg *tgbotapi.Message, args string) {
	if args == "" {
		r.sendText(msg.Chat.ID, usageNameText)
		return
	}
	if !r.updateProfile(ctx, msg.Chat.ID, store.Profile{Name: args}) {
		return
	}
	r.sendText(msg.Chat.ID, fmt.Sprintf(savedNameText, args))
}

func (r *Router) handleBirth(ctx context.Context, msg *tgbotapi.Message, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		r.sendText(msg.Chat.ID, usageBirthText)
		return
	}
	date, err := domain.ParseBirthDate(fields[0])
	if err != nil || date.After(civil.DateOf(r.clk.Now().UTC())) {
		r.sendText(msg.Chat.ID, usageBirthText)
		return
	}
	p := store.Profile{BirthDate: fields[0]}
	suffix := ""
	if len(fields) == 2 {
		bt, err := domain.ParseClock(fields[1])
		if err != nil {
			r.sendText(msg.Chat.ID, usageBirthText)
			return
		}
		p.BirthTime = bt.String()
		suffix = " " + p.BirthTime
	}
	if !r.updateProfile(ctx, msg.Chat.ID, p) {
		return
	}
	r.sendText(msg.Chat.ID, fmt.Sprintf(savedBirthText, fields[0], suffix))
}

func (r *Router) handlePlace(ctx context.Context, msg *tgbotapi.Message, args string) {
	if args == "" {
		r.sendText(msg.Chat.ID, usagePlaceText)
		return
	}
	if !r.updateProfile(ctx, msg.Chat.ID, store.Profile{BirthPlace: args}) {
		return
	}
	r.sendText(msg.Chat.ID, fmt.Sprintf(savedPlaceText, args))
}

// updateProfile saves p and reports whether the caller should confirm.
func (r *Router) updateProfile(ctx context.Context, chatID int64, p store.Profile) bool {
	err := r.repo.UpdateProfile(ctx, chatID, p)
	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrNotFound):
		r.sendText(chatID, notRegisteredText)
	default:
		r.log.Error("update profile failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, errorText)
	}
	return false
}

// --- Schedule ---

func (r *Router) handleTime(ctx context.Context, msg *tgbotapi.Message, args string) {
	at, err := domain.ParseClock(args)
	if err != nil {
		r.sendText(msg.Chat.ID, usageTimeText)
		return
	}
	u, ok := r.loadUser(ctx, msg.Chat.ID)
	if !ok {
		return
	}
	next, ok := r.reschedule(ctx, u, at, u.TZ)
	if !ok {
		return
	}
	r.sendText(msg.Chat.ID, fmt.Sprintf(savedTimeText, at, u.TZ, next))
}

func (r *Router) handleTZ(ctx context.Context, msg *tgbotapi.Message, args string) {
	tz, err := domain.ValidateTZ(args)
	if err != nil {
		r.sendText(msg.Chat.ID, usageTZText)
		return
	}
	u, ok := r.loadUser(ctx, msg.Chat.ID)
	if !ok {
		return
	}
	at := r.cfg.DefaultSendAt
	if u.SendAt != nil {
		at = *u.SendAt
	}
	next, ok := r.reschedule(ctx, u, at, tz)
	if !ok {
		return
	}
	r.sendText(msg.Chat.ID, fmt.Sprintf(savedTZText, tz, next))
}

// reschedule persists the new time and zone, then replaces the live trigger.
// It returns the next delivery formatted in the user's zone.
func (r *Router) reschedule(ctx context.Context, u *domain.User, at domain.ClockTime, tz string) (string, bool) {
	if err := r.repo.UpdateSchedule(ctx, u.ID, at, tz); err != nil {
		r.log.Error("update schedule failed", zap.Int64("chat_id", u.ID), zap.Error(err))
		r.sendText(u.ID, errorText)
		return "", false
	}
	u.SendAt = &at
	u.TZ = tz
	if err := r.triggers.Update(*u); err != nil {
		r.log.Error("re-arm trigger failed", zap.Int64("chat_id", u.ID), zap.Error(err))
		r.sendText(u.ID, errorText)
		return "", false
	}
	return r.nextDelivery(u), true
}

func (r *Router) nextDelivery(u *domain.User) string {
	next, ok := r.triggers.Next(u.ID)
	if !ok {
		return "—"
	}
	s, err := domain.LocalizeTime(next, u.TZ)
	if err != nil {
		return next.UTC().Format("2006-01-02 15:04 UTC")
	}
	return s
}

// --- Status & referrals ---

func (r *Router) handleStatus(ctx context.Context, msg *tgbotapi.Message, _ string) {
	u, ok := r.loadUser(ctx, msg.Chat.ID)
	if !ok {
		return
	}
	r.sendWithMenu(msg.Chat.ID, r.statusText(u))
}

func (r *Router) statusText(u *domain.User) string {
	today := u.LocalDate(r.clk.Now())
	dec := access.Decide(today, *u, r.cfg.TrialDays)

	var b strings.Builder
	b.WriteString("🧾 Your profile:\n")
	fmt.Fprintf(&b, "• Name: %s\n", orDash(u.Name))
	birth := u.BirthDate
	if birth != "" && u.BirthTime != "" {
		birth += " " + u.BirthTime
	}
	fmt.Fprintf(&b, "• Birth: %s\n", orDash(birth))
	fmt.Fprintf(&b, "• Place: %s\n", orDash(u.BirthPlace))
	sendAt := "—"
	if u.SendAt != nil {
		sendAt = u.SendAt.String()
	}
	fmt.Fprintf(&b, "• Daily message: %s (%s)\n", sendAt, u.TZ)
	fmt.Fprintf(&b, "• Next: %s\n\n", r.nextDelivery(u))

	b.WriteString("🔑 Access:\n")
	if dec.Eligible {
		fmt.Fprintf(&b, "• Today: %s\n", dec.Source)
	} else {
		b.WriteString("• Today: reminder only, see /subscribe\n")
	}
	if end, ok := access.TrialEnds(*u, r.cfg.TrialDays); ok {
		fmt.Fprintf(&b, "• Trial until: %s\n", end)
	}
	if u.SubscriptionUntil != nil {
		fmt.Fprintf(&b, "• Subscription until: %s\n", u.SubscriptionUntil)
	}
	fmt.Fprintf(&b, "• Bonus days: %d", u.BonusDays)
	return b.String()
}

func (r *Router) handleReferrals(ctx context.Context, msg *tgbotapi.Message, _ string) {
	st, err := r.refs.Status(ctx, msg.Chat.ID)
	if errors.Is(err, store.ErrNotFound) {
		r.sendText(msg.Chat.ID, notRegisteredText)
		return
	}
	if err != nil {
		r.log.Error("referral status failed", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
		r.sendText(msg.Chat.ID, errorText)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎁 Your invite code: %s\n", st.Code)
	if st.Link != "" {
		fmt.Fprintf(&b, "Link: %s\n", st.Link)
	}
	fmt.Fprintf(&b, "Invited: %d\n", len(st.Invited))
	for _, name := range st.Invited {
		fmt.Fprintf(&b, "• %s\n", name)
	}
	fmt.Fprintf(&b, "Bonus days: %d", st.BonusDays)
	r.sendText(msg.Chat.ID, b.String())
}

func (r *Router) handleSubscribe(_ context.Context, msg *tgbotapi.Message, _ string) {
	r.sendText(msg.Chat.ID, subscribeText(msg.Chat.ID))
}

// --- Admin ---

// extendHandler returns the /extend_<days> handler. Only admins may use it; the argument is
// the chat id to extend and defaults to the admin's own chat.
func (r *Router) extendHandler(days int) commandFunc {
	return func(ctx context.Context, msg *tgbotapi.Message, args string) {
		chatID := msg.Chat.ID
		if msg.From == nil || !r.admins[msg.From.ID] {
			r.sendText(chatID, adminOnlyText)
			return
		}
		target := chatID
		if args != "" {
			id, err := strconv.ParseInt(args, 10, 64)
			if err != nil {
				r.sendText(chatID, usageExtend)
				return
			}
			target = id
		}
		u, err := r.repo.GetUser(ctx, target)
		if errors.Is(err, store.ErrNotFound) {
			r.sendText(chatID, notRegisteredText)
			return
		}
		if err != nil {
			r.log.Error("load user failed", zap.Int64("chat_id", target), zap.Error(err))
			r.sendText(chatID, errorText)
			return
		}
		until, err := r.repo.ExtendSubscription(ctx, target, u.LocalDate(r.clk.Now()), days)
		if err != nil {
			r.log.Error("extend subscription failed", zap.Int64("chat_id", target), zap.Error(err))
			r.sendText(chatID, errorText)
			return
		}
		r.log.Info("subscription extended",
			zap.Int64("admin_id", msg.From.ID),
			zap.Int64("chat_id", target),
			zap.Int("days", days),
			zap.String("until", until.String()),
		)
		r.sendText(chatID, fmt.Sprintf(extendedText, target, days, until))
		if target != chatID {
			r.sendText(target, fmt.Sprintf(extendedUserText, until))
		}
	}
}

// --- Generic helpers ---

func (r *Router) loadUser(ctx context.Context, chatID int64) (*domain.User, bool) {
	u, err := r.repo.GetUser(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		r.sendText(chatID, notRegisteredText)
		return nil, false
	}
	if err != nil {
		r.log.Error("load user failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, errorText)
		return nil, false
	}
	return u, true
}

func firstName(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return ""
	}
	return strings.TrimSpace(msg.From.FirstName)
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}
