package config

import (
	"strings"
	"time"
)

const (
	DefaultPrefix       = "!"
	DefaultStoragePath  = "./data/dispatchbot.db"
	DefaultMaxContent   = 2000
	DefaultParallel     = 4
	DefaultRatePerSec   = 5
	DefaultSyncSchedule = "@every 6h"
	DefaultOpsAddr      = "127.0.0.1:9090"
	DefaultPprofPrefix  = "/debug/pprof/"
	DefaultOTLPEndpoint = "127.0.0.1:4317"
	DefaultServiceName  = "dispatchbot"
)

// ApplyDefaults fills omitted fields. It never overrides explicit values.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Platform) == "" {
		cfg.Platform = PlatformDiscord
	}
	cfg.Platform = strings.ToLower(strings.TrimSpace(cfg.Platform))

	c := &cfg.Commands
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = DefaultPrefix
	}
	c.OperatorIDs = compact(c.OperatorIDs)

	if strings.TrimSpace(cfg.Telegram.PollTimeout) == "" {
		cfg.Telegram.PollTimeout = "10s"
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = DefaultStoragePath
	}

	d := &cfg.Dispatch
	if d.MaxContent == 0 {
		d.MaxContent = DefaultMaxContent
	}
	if d.Parallel == 0 {
		d.Parallel = DefaultParallel
	}
	if d.RatePerSec == 0 {
		d.RatePerSec = DefaultRatePerSec
	}

	l := &cfg.Logging
	if l.Level == "" {
		l.Level = "info"
	}
	if l.File.Enabled && l.File.Path == "" {
		l.File.Path = "./logs/dispatchbot.log"
	}
	if l.Chat.MinLevel == "" {
		l.Chat.MinLevel = "warn"
	}

	if strings.TrimSpace(cfg.Sync.Schedule) == "" {
		cfg.Sync.Schedule = DefaultSyncSchedule
	}

	o := &cfg.Ops
	if strings.TrimSpace(o.Addr) == "" {
		o.Addr = DefaultOpsAddr
	}
	if strings.TrimSpace(o.PprofPrefix) == "" {
		o.PprofPrefix = DefaultPprofPrefix
	}

	t := &cfg.Tracing
	if strings.TrimSpace(t.Endpoint) == "" {
		t.Endpoint = DefaultOTLPEndpoint
	}
	if strings.TrimSpace(t.ServiceName) == "" {
		t.ServiceName = DefaultServiceName
	}
	if t.SampleRatio == 0 {
		t.SampleRatio = 1
	}
}

// Durations are the parsed duration fields of a validated Config.
type Durations struct {
	CommandTimeout  time.Duration
	PollTimeout     time.Duration
	BusyTimeout     time.Duration
	SyncTimeout     time.Duration
	OpsReadTimeout  time.Duration
	OpsWriteTimeout time.Duration
	OpsIdleTimeout  time.Duration
}

// ParseDurations parses every duration field. Empty fields fall back to
// their defaults.
func ParseDurations(cfg *Config) (Durations, error) {
	var (
		d   Durations
		err error
	)
	fields := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"commands.timeout", cfg.Commands.Timeout, 30 * time.Second, &d.CommandTimeout},
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout, 10 * time.Second, &d.PollTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout, 5 * time.Second, &d.BusyTimeout},
		{"sync.timeout", cfg.Sync.Timeout, 5 * time.Minute, &d.SyncTimeout},
		{"ops.read_timeout", cfg.Ops.ReadTimeout, 5 * time.Second, &d.OpsReadTimeout},
		{"ops.write_timeout", cfg.Ops.WriteTimeout, 0, &d.OpsWriteTimeout},
		{"ops.idle_timeout", cfg.Ops.IdleTimeout, 60 * time.Second, &d.OpsIdleTimeout},
	}
	for _, f := range fields {
		if *f.dst, err = ParseDurationOrDefault(f.path, f.raw, f.def); err != nil {
			return Durations{}, err
		}
	}
	return d, nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fieldErr(path, "invalid duration %q", raw)
	}
	if d < 0 {
		return 0, fieldErr(path, "duration must be >= 0")
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
