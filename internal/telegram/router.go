package telegram

import (
	"context"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/thedetect/universe-talk-bot/internal/clock"
	"github.com/thedetect/universe-talk-bot/internal/domain"
	"github.com/thedetect/universe-talk-bot/internal/referral"
	"github.com/thedetect/universe-talk-bot/internal/store"
)

// Triggers is the part of the scheduler the router drives.
type Triggers interface {
	Update(u domain.User) error
	Next(userID int64) (time.Time, bool)
}

// Mirror receives every new registration. It may be nil.
type Mirror interface {
	RecordRegistration(ctx context.Context, u domain.User) error
}

// Config holds the router's defaults.
type Config struct {
	DefaultTZ     string
	DefaultSendAt domain.ClockTime
	TrialDays     int
	AdminIDs      []int64
}

// commandFunc handles one slash command; args is the text after the command.
type commandFunc func(ctx context.Context, msg *tgbotapi.Message, args string)

// Router wires Telegram updates to handlers.
type Router struct {
	api      chattableSender
	log      *zap.Logger
	repo     store.Repo
	triggers Triggers
	refs     *referral.Service
	mirror   Mirror
	clk      clock.Clock
	cfg      Config
	admins   map[int64]bool
	commands map[string]commandFunc
}

// NewRouter creates a new Telegram router.
func NewRouter(api chattableSender, log *zap.Logger, repo store.Repo, triggers Triggers, refs *referral.Service, mirror Mirror, clk clock.Clock, cfg Config) *Router {
	r := &Router{
		api:      api,
		log:      log,
		repo:     repo,
		triggers: triggers,
		refs:     refs,
		mirror:   mirror,
		clk:      clk,
		cfg:      cfg,
		admins:   make(map[int64]bool, len(cfg.AdminIDs)),
	}
	for _, id := range cfg.AdminIDs {
		r.admins[id] = true
	}
	r.commands = map[string]commandFunc{
		"start":     r.handleStart,
		"help":      r.handleHelp,
		"name":      r.handleName,
		"birth":     r.handleBirth,
		"place":     r.handlePlace,
		"time":      r.handleTime,
		"tz":        r.handleTZ,
		"status":    r.handleStatus,
		"referrals": r.handleReferrals,
		"subscribe": r.handleSubscribe,
	}
	for _, days := range tariffs {
		r.commands["extend_"+strconv.Itoa(days)] = r.extendHandler(days)
	}
	return r
}

// HandleUpdate routes a single update to its command handler. Anything that is not a known
// command gets a short hint.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if !msg.IsCommand() {
		r.sendText(msg.Chat.ID, unknownText)
		return
	}
	cmd := strings.ToLower(msg.Command())
	h, ok := r.commands[cmd]
	if !ok {
		r.sendText(msg.Chat.ID, unknownText)
		return
	}
	r.log.Debug("command",
		zap.Int64("chat_id", msg.Chat.ID),
		zap.String("command", cmd),
	)
	h(ctx, msg, strings.TrimSpace(msg.CommandArguments()))
}

func (r *Router) sendText(chatID int64, text string) {
	if _, err := r.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) sendWithMenu(chatID int64, text string) {
	m := tgbotapi.NewMessage(chatID, text)
	m.ReplyMarkup = mainMenuKeyboard()
	if _, err := r.api.Send(m); err != nil {
		r.log.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
