package app

import (
	"fmt"

	"dispatchbot/internal/config"
	"dispatchbot/internal/observability/ops"
	kit "dispatchbot/internal/transport"
	"dispatchbot/internal/transport/discord"
	"dispatchbot/internal/transport/telegram"
	logx "dispatchbot/pkg/logx"
)

func newAdapter(cfg *config.Config, durs config.Durations, log logx.Logger) (kit.Adapter, error) {
	switch cfg.Platform {
	case config.PlatformDiscord:
		return discord.New(discord.Config{Token: cfg.Discord.Token}, log)
	case config.PlatformTelegram:
		return telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: durs.PollTimeout}, log)
	default:
		return nil, fmt.Errorf("unknown platform %q", cfg.Platform)
	}
}

func logConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			ChannelID:  l.Chat.ChannelID,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

func opsConfig(cfg *config.Config, durs config.Durations) ops.Config {
	o := cfg.Ops
	return ops.Config{
		Addr:          o.Addr,
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		PprofPrefix:   o.PprofPrefix,
		ReadTimeout:   durs.OpsReadTimeout,
		WriteTimeout:  durs.OpsWriteTimeout,
		IdleTimeout:   durs.OpsIdleTimeout,
	}
}
