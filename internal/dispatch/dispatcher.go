// Package dispatch runs one firing for one user: access check, content, delivery and the
// bookkeeping that makes a second firing for the same local date a no-op.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thedetect/universe-talk-bot/internal/access"
	"github.com/thedetect/universe-talk-bot/internal/astro"
	"github.com/thedetect/universe-talk-bot/internal/clock"
	"github.com/thedetect/universe-talk-bot/internal/content"
	"github.com/thedetect/universe-talk-bot/internal/store"
)

// Notifier delivers text to a chat. Errors wrapping ErrPermanent are not retried.
type Notifier interface {
	Send(ctx context.Context, userID int64, text string) error
}

// Ranker produces the transit ranking for a birth instant at a target instant.
type Ranker interface {
	ComputeRanking(ctx context.Context, birth, target time.Time) astro.Ranking
}

// Config bounds delivery attempts.
type Config struct {
	TrialDays   int
	SendTimeout time.Duration // per attempt
	SendRetries int           // retries after the first attempt
	Backoff     time.Duration // first retry delay, doubled up to MaxBackoff
	MaxBackoff  time.Duration
}

// Dispatcher handles scheduler firings.
type Dispatcher struct {
	repo     store.Repo
	ranker   Ranker
	composer *content.Composer
	notifier Notifier
	clk      clock.Clock
	log      *zap.Logger
	cfg      Config
	locks    *keyedMutex
}

func New(repo store.Repo, ranker Ranker, composer *content.Composer, notifier Notifier, clk clock.Clock, cfg Config, log *zap.Logger) *Dispatcher {
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = access.DefaultTrialDays
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.SendRetries < 0 {
		cfg.SendRetries = 0
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}
	return &Dispatcher{
		repo:     repo,
		ranker:   ranker,
		composer: composer,
		notifier: notifier,
		clk:      clk,
		log:      log,
		cfg:      cfg,
		locks:    newKeyedMutex(),
	}
}

// Handle delivers at most one message to userID for localDate.
// Concurrent calls for the same user run one after another.
func (d *Dispatcher) Handle(ctx context.Context, userID int64, localDate civil.Date) Outcome {
	log := d.log.With(
		zap.String("run_id", uuid.NewString()),
		zap.Int64("user_id", userID),
		zap.String("local_date", localDate.String()),
	)

	unlock := d.locks.Lock(userID)
	defer unlock()

	delivered, err := d.repo.DeliveredOn(ctx, userID, localDate)
	if err != nil {
		log.Error("delivery lookup failed", zap.Error(err))
		return OutcomeFailed
	}
	if delivered {
		log.Debug("already delivered")
		return OutcomeDuplicate
	}

	u, err := d.repo.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("user gone")
		return OutcomeGone
	}
	if err != nil {
		log.Error("load user failed", zap.Error(err))
		return OutcomeFailed
	}

	dec := access.Decide(localDate, *u, d.cfg.TrialDays)
	if dec.Blocked {
		return OutcomeBlocked
	}

	var (
		text    string
		kind    = store.DeliveryFull
		outcome = OutcomeDelivered
	)
	if dec.Eligible {
		birth, _ := u.BirthInstant() // zero on bad data; the engine reports invalid input
		ranking := d.ranker.ComputeRanking(ctx, birth, u.SendInstant(localDate))
		if ranking.Status != astro.StatusOK {
			log.Warn("ranking unavailable, sending fallback", zap.Stringer("status", ranking.Status))
		}
		text = d.composer.Compose(ranking, u.ID, localDate, u.Name).Render()
	} else {
		text = d.composer.Reminder(u.Name)
		kind = store.DeliveryReminder
		outcome = OutcomeReminded
	}

	if err := d.send(ctx, log, u.ID, text); err != nil {
		if errors.Is(err, ErrPermanent) {
			log.Warn("chat rejected delivery, blocking user", zap.Error(err))
			if err := d.repo.SetBlocked(ctx, u.ID, true); err != nil {
				log.Error("set blocked failed", zap.Error(err))
			}
			return OutcomeBlocked
		}
		log.Error("delivery abandoned", zap.Error(err))
		return OutcomeFailed
	}

	if dec.Source == access.SourceBonusDay {
		switch err := d.repo.ApplyBonusDayConsumption(ctx, u.ID, localDate); {
		case err == nil:
		case errors.Is(err, store.ErrAlreadyConsumed):
			log.Debug("bonus day already charged")
		default:
			log.Error("bonus day charge failed", zap.Error(err))
		}
	}
	if err := d.repo.RecordDelivery(ctx, u.ID, localDate, kind, d.clk.Now()); err != nil && !errors.Is(err, store.ErrAlreadyDelivered) {
		log.Error("record delivery failed", zap.Error(err))
	}

	log.Info("firing done",
		zap.Stringer("outcome", outcome),
		zap.Stringer("source", dec.Source),
	)
	return outcome
}

// send tries the notifier with a per-attempt timeout and exponential backoff between attempts.
func (d *Dispatcher) send(ctx context.Context, log *zap.Logger, userID int64, text string) error {
	backoff := d.cfg.Backoff
	for attempt := 1; ; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err := d.notifier.Send(sendCtx, userID, text)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			return err
		}
		if attempt > d.cfg.SendRetries {
			return fmt.Errorf("send failed after %d attempts: %w", attempt, err)
		}

		log.Warn("send failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.clk.After(backoff):
		}
		backoff *= 2
		if backoff > d.cfg.MaxBackoff {
			backoff = d.cfg.MaxBackoff
		}
	}
}
