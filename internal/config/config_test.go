package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir()) // no .env here
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBDriver != "sqlite" || cfg.DefaultTZ != "Europe/Berlin" || cfg.TrialDays != 10 || cfg.RefBonusDays != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SendTimeout != 10*time.Second || cfg.SendRetries != 3 {
		t.Fatalf("unexpected send defaults: %+v", cfg)
	}
	if at := cfg.SendAt(); at.Hour != 9 || at.Minute != 0 {
		t.Fatalf("unexpected send time %v", at)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	env := "BOT_TOKEN=from-file\nADMIN_IDS=1,2\nDEFAULT_SEND_TIME=07:45\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("BOT_TOKEN", "from-env")
	// godotenv sets variables in the process; drop them afterwards.
	t.Cleanup(func() {
		_ = os.Unsetenv("ADMIN_IDS")
		_ = os.Unsetenv("DEFAULT_SEND_TIME")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BotToken != "from-env" {
		t.Fatalf("environment should win over .env, got %q", cfg.BotToken)
	}
	if len(cfg.AdminIDs) != 2 || cfg.AdminIDs[0] != 1 || cfg.AdminIDs[1] != 2 {
		t.Fatalf("unexpected admin ids %v", cfg.AdminIDs)
	}
	if at := cfg.SendAt(); at.Hour != 7 || at.Minute != 45 {
		t.Fatalf("unexpected send time %v", at)
	}
}

func TestValidate(t *testing.T) {
	base := Config{DBDriver: "sqlite", DefaultTZ: "UTC", DefaultSendTime: "09:00"}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(c *Config){
		"unknown driver":       func(c *Config) { c.DBDriver = "mysql" },
		"postgres without url": func(c *Config) { c.DBDriver = "postgres" },
		"bad zone":             func(c *Config) { c.DefaultTZ = "Nowhere/Land" },
		"bad send time":        func(c *Config) { c.DefaultSendTime = "9am" },
		"negative trial":       func(c *Config) { c.TrialDays = -1 },
		"sheets without creds": func(c *Config) { c.SheetsSpreadsheetID = "abc" },
	}
	for name, mutate := range cases {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: want error", name)
		}
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}
