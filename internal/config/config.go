package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/thedetect/universe-talk-bot/internal/domain"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken string `envconfig:"BOT_TOKEN" required:"true"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`  // debug|info|warn|error
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"` // healthz, readyz

	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"` // sqlite|postgres
	DBPath      string `envconfig:"DB_PATH" default:"./data/universe.db"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"8"`

	DefaultTZ       string  `envconfig:"DEFAULT_TZ" default:"Europe/Berlin"`
	DefaultSendTime string  `envconfig:"DEFAULT_SEND_TIME" default:"09:00"`
	TrialDays       int     `envconfig:"TRIAL_DAYS" default:"10"`
	RefBonusDays    int     `envconfig:"REF_BONUS_DAYS" default:"10"`
	AdminIDs        []int64 `envconfig:"ADMIN_IDS"`

	SendTimeout      time.Duration `envconfig:"SEND_TIMEOUT" default:"10s"`
	SendRetries      int           `envconfig:"SEND_RETRIES" default:"3"`
	SendBackoff      time.Duration `envconfig:"SEND_BACKOFF" default:"2s"`
	SendMaxBackoff   time.Duration `envconfig:"SEND_MAX_BACKOFF" default:"30s"`
	EphemerisTimeout time.Duration `envconfig:"EPHEMERIS_TIMEOUT" default:"2s"`

	ContentPath string `envconfig:"CONTENT_PATH"` // overrides the embedded catalog

	SheetsSpreadsheetID string `envconfig:"SHEETS_SPREADSHEET_ID"`
	SheetsRange         string `envconfig:"SHEETS_RANGE" default:"Users!A:H"`
	GoogleCreds         string `envconfig:"GOOGLE_CREDS"` // service account JSON file
}

// Load reads an optional .env file, then environment variables into Config.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values envconfig cannot.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if _, err := domain.ValidateTZ(c.DefaultTZ); err != nil {
		return fmt.Errorf("DEFAULT_TZ: %w", err)
	}
	if _, err := domain.ParseClock(c.DefaultSendTime); err != nil {
		return fmt.Errorf("DEFAULT_SEND_TIME: %w", err)
	}
	if c.TrialDays < 0 || c.RefBonusDays < 0 || c.SendRetries < 0 {
		return errors.New("TRIAL_DAYS, REF_BONUS_DAYS and SEND_RETRIES must not be negative")
	}
	if c.SheetsSpreadsheetID != "" && c.GoogleCreds == "" {
		return errors.New("GOOGLE_CREDS is required when SHEETS_SPREADSHEET_ID is set")
	}
	return nil
}

// SendAt returns the parsed DEFAULT_SEND_TIME. Call after Validate.
func (c Config) SendAt() domain.ClockTime {
	at, _ := domain.ParseClock(c.DefaultSendTime)
	return at
}
