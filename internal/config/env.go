package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment override, e.g.
// DISPATCHBOT_DISCORD_TOKEN or DISPATCHBOT_STORAGE_PATH.
const EnvPrefix = "DISPATCHBOT"

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing
// files are skipped; variables already set win over file values.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides config sections from the environment.
// Priority: environment > file > defaults.
func ApplyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + "_PLATFORM")); v != "" {
		cfg.Platform = v
	}
	sections := []struct {
		name string
		dst  any
	}{
		{"COMMANDS", &cfg.Commands},
		{"DISCORD", &cfg.Discord},
		{"TELEGRAM", &cfg.Telegram},
		{"STORAGE", &cfg.Storage},
		{"DISPATCH", &cfg.Dispatch},
		{"LOGGING", &cfg.Logging},
		{"SYNC", &cfg.Sync},
		{"OPS", &cfg.Ops},
		{"TRACING", &cfg.Tracing},
	}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix+"_"+s.name, s.dst); err != nil {
			return fmt.Errorf("env %s_%s: %w", EnvPrefix, s.name, err)
		}
	}

	// Older deployments only had a .env with DISCORD_TOKEN.
	if cfg.Discord.Token == "" {
		cfg.Discord.Token = strings.TrimSpace(os.Getenv("DISCORD_TOKEN"))
	}
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN"))
	}
	return nil
}
