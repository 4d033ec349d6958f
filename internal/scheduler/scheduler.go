package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/thedetect/universe-talk-bot/internal/clock"
	"github.com/thedetect/universe-talk-bot/internal/dispatch"
	"github.com/thedetect/universe-talk-bot/internal/domain"
)

var ErrStopped = errors.New("scheduler stopped")

// Handler runs one firing. dispatch.Dispatcher implements it.
type Handler interface {
	Handle(ctx context.Context, userID int64, localDate civil.Date) dispatch.Outcome
}

// Lister supplies the users to arm on startup. store.Repo implements it.
type Lister interface {
	ListActive(ctx context.Context) ([]domain.User, error)
}

// Trigger is the live daily timer of one user.
type Trigger struct {
	UserID     int64
	At         domain.ClockTime
	TZ         string
	NextFireAt time.Time // UTC

	loc   *time.Location
	timer clock.Timer
}

// Scheduler keeps exactly one trigger per user and fires it every day at the user's local
// time. Firings run on their own goroutines.
type Scheduler struct {
	clk     clock.Clock
	handler Handler
	log     *zap.Logger

	mu       sync.Mutex
	triggers map[int64]*Trigger
	stopped  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. Nothing fires until users are registered.
func New(clk clock.Clock, handler Handler, log *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clk:      clk,
		handler:  handler,
		log:      log,
		triggers: make(map[int64]*Trigger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register arms (or re-arms) the user's daily trigger. Users that are blocked or have no
// send time lose any trigger they had.
func (s *Scheduler) Register(u domain.User) error {
	if !u.Schedulable() {
		s.Cancel(u.ID)
		return nil
	}
	loc, err := time.LoadLocation(u.TZ)
	if err != nil {
		return fmt.Errorf("user %d: %w: %s", u.ID, domain.ErrInvalidTZName, u.TZ)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	next, err := domain.NextFire(s.clk.Now(), *u.SendAt, u.TZ)
	if err != nil {
		return fmt.Errorf("user %d: %w", u.ID, err)
	}

	// Cancel and recreate under one lock so no caller can observe two triggers.
	s.cancelLocked(u.ID)
	trig := &Trigger{UserID: u.ID, At: *u.SendAt, TZ: u.TZ, NextFireAt: next, loc: loc}
	s.triggers[u.ID] = trig
	s.armLocked(trig)

	s.log.Debug("trigger armed",
		zap.Int64("user_id", u.ID),
		zap.String("at", trig.At.String()),
		zap.String("tz", trig.TZ),
		zap.Time("next_fire_at", next),
	)
	return nil
}

// Update replaces the user's trigger after a settings change.
func (s *Scheduler) Update(u domain.User) error {
	return s.Register(u)
}

// Cancel removes the user's trigger. A firing already running is left to finish.
func (s *Scheduler) Cancel(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(userID)
}

// Restore arms a trigger for every active user and returns how many were armed.
// Users that cannot be scheduled are logged and skipped.
func (s *Scheduler) Restore(ctx context.Context, lister Lister) (int, error) {
	users, err := lister.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active users: %w", err)
	}
	armed := 0
	for _, u := range users {
		if err := s.Register(u); err != nil {
			if errors.Is(err, ErrStopped) {
				return armed, err
			}
			s.log.Warn("skip user on restore", zap.Int64("user_id", u.ID), zap.Error(err))
			continue
		}
		armed++
	}
	s.log.Info("triggers restored", zap.Int("armed", armed), zap.Int("listed", len(users)))
	return armed, nil
}

// Len returns the number of live triggers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggers)
}

// Next returns the next firing instant of the user's trigger.
func (s *Scheduler) Next(userID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trig, ok := s.triggers[userID]
	if !ok {
		return time.Time{}, false
	}
	return trig.NextFireAt, true
}

// Stop disarms every trigger, cancels the context of running firings and waits for them
// to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id := range s.triggers {
		s.cancelLocked(id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) cancelLocked(userID int64) bool {
	trig, ok := s.triggers[userID]
	if !ok {
		return false
	}
	trig.timer.Stop()
	delete(s.triggers, userID)
	return true
}

func (s *Scheduler) armLocked(trig *Trigger) {
	trig.timer = s.clk.AfterFunc(trig.NextFireAt.Sub(s.clk.Now()), func() { s.fire(trig) })
}

// fire re-arms the trigger for the following day before handing the firing off, so a slow
// delivery never delays the next one.
func (s *Scheduler) fire(trig *Trigger) {
	s.mu.Lock()
	if s.stopped || s.triggers[trig.UserID] != trig {
		s.mu.Unlock()
		return
	}
	firedAt := trig.NextFireAt
	next, err := domain.NextFire(firedAt, trig.At, trig.TZ)
	if err != nil {
		delete(s.triggers, trig.UserID)
		s.mu.Unlock()
		s.log.Error("cannot re-arm trigger", zap.Int64("user_id", trig.UserID), zap.Error(err))
		return
	}
	trig.NextFireAt = next
	s.armLocked(trig)
	s.wg.Add(1)
	s.mu.Unlock()

	localDate := civil.DateOf(firedAt.In(trig.loc))
	go func() {
		defer s.wg.Done()
		outcome := s.handler.Handle(s.ctx, trig.UserID, localDate)
		if outcome.Terminal() {
			s.dropIfCurrent(trig)
			s.log.Info("trigger dropped",
				zap.Int64("user_id", trig.UserID),
				zap.Stringer("outcome", outcome),
			)
		}
	}()
}

// dropIfCurrent cancels trig unless it was replaced by a newer registration meanwhile.
func (s *Scheduler) dropIfCurrent(trig *Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.triggers[trig.UserID] == trig {
		s.cancelLocked(trig.UserID)
	}
}
