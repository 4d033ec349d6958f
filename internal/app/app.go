package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/thedetect/universe-talk-bot/internal/astro"
	"github.com/thedetect/universe-talk-bot/internal/clock"
	"github.com/thedetect/universe-talk-bot/internal/config"
	"github.com/thedetect/universe-talk-bot/internal/content"
	"github.com/thedetect/universe-talk-bot/internal/dispatch"
	"github.com/thedetect/universe-talk-bot/internal/mirror"
	"github.com/thedetect/universe-talk-bot/internal/referral"
	"github.com/thedetect/universe-talk-bot/internal/scheduler"
	"github.com/thedetect/universe-talk-bot/internal/store"
	"github.com/thedetect/universe-talk-bot/internal/telegram"
)

// pollTimeout is the long-polling window of getUpdates in seconds.
const pollTimeout = 30

type App struct {
	cfg     config.Config
	log     *zap.Logger
	bot     *tgbotapi.BotAPI
	httpSrv *http.Server
	health  *health
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	// The client timeout must outlive a long-poll request.
	client := &http.Client{Timeout: (pollTimeout + 30) * time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	bot.Debug = false

	h := &health{triggers: func() int { return 0 }}
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      newHealthRouter(h),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return &App{cfg: cfg, log: log, bot: bot, httpSrv: srv, health: h}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting universe-talk-bot",
		zap.String("bot", a.bot.Self.UserName),
		zap.String("db_driver", a.cfg.DBDriver),
		zap.String("http", a.cfg.HTTPAddr),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openRepo(ctx, a.cfg)
	if err != nil {
		a.log.Error("open store failed", zap.Error(err))
		return err
	}
	defer func() { _ = repo.Close() }()
	a.log.Info("store ready", zap.String("driver", a.cfg.DBDriver))

	catalog, err := loadCatalog(a.cfg.ContentPath)
	if err != nil {
		return fmt.Errorf("content catalog: %w", err)
	}
	tables, err := astro.DefaultTables()
	if err != nil {
		return fmt.Errorf("aspect tables: %w", err)
	}

	clk := clock.Real()
	engine := astro.NewEngine(astro.KeplerSource{}, tables, a.cfg.EphemerisTimeout, a.log.Named("astro"))
	dispatcher := dispatch.New(repo, engine, content.NewComposer(catalog, tables), telegram.NewNotifier(a.bot), clk,
		dispatch.Config{
			TrialDays:   a.cfg.TrialDays,
			SendTimeout: a.cfg.SendTimeout,
			SendRetries: a.cfg.SendRetries,
			Backoff:     a.cfg.SendBackoff,
			MaxBackoff:  a.cfg.SendMaxBackoff,
		}, a.log.Named("dispatch"))

	sched := scheduler.New(clk, dispatcher, a.log.Named("scheduler"))
	defer sched.Stop()
	a.health.triggers = sched.Len

	var regMirror telegram.Mirror
	if a.cfg.SheetsSpreadsheetID != "" {
		sheet, err := mirror.New(ctx, a.cfg.SheetsSpreadsheetID, a.cfg.SheetsRange, a.log.Named("mirror"),
			option.WithCredentialsFile(a.cfg.GoogleCreds))
		if err != nil {
			return fmt.Errorf("sheets mirror: %w", err)
		}
		regMirror = sheet
	}

	refs := referral.NewService(repo, a.log.Named("referral"), a.cfg.RefBonusDays, a.bot.Self.UserName)
	router := telegram.NewRouter(a.bot, a.log.Named("telegram"), repo, sched, refs, regMirror, clk, telegram.Config{
		DefaultTZ:     a.cfg.DefaultTZ,
		DefaultSendAt: a.cfg.SendAt(),
		TrialDays:     a.cfg.TrialDays,
		AdminIDs:      a.cfg.AdminIDs,
	})

	// Triggers must be live before the first update is handled.
	if _, err := sched.Restore(ctx, repo); err != nil {
		return err
	}
	a.health.ready.Store(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutdown signal received")
		a.health.ready.Store(false)
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.httpSrv.Shutdown(shCtx); err != nil {
			a.log.Warn("http server shutdown error", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = pollTimeout
		updCh := a.bot.GetUpdatesChan(u)
		for {
			select {
			case <-gctx.Done():
				a.bot.StopReceivingUpdates()
				return nil
			case upd, ok := <-updCh:
				if !ok {
					return nil
				}
				router.HandleUpdate(gctx, upd)
			}
		}
	})
	return g.Wait()
}

func openRepo(ctx context.Context, cfg config.Config) (store.Repo, error) {
	if cfg.DBDriver == "postgres" {
		repo, err := store.OpenPostgres(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return repo, nil
	}
	repo, err := store.OpenSQLite(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return repo, nil
}

func loadCatalog(path string) (*content.Catalog, error) {
	if path == "" {
		return content.Default()
	}
	return content.Load(path)
}
