package config

import (
	"reflect"
	"sort"
	"strings"

	logx "dispatchbot/pkg/logx"
)

// Sections applied live on reload. Anything else needs a restart.
var liveSections = map[string]bool{
	"commands": true,
	"logging":  true,
	"sync":     true,
}

// SummarizeConfigChange returns the changed sections and safe fields for
// logging. Tokens are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	if oldCfg.Platform != newCfg.Platform {
		mark("platform", logx.String("platform", newCfg.Platform))
	}
	if !reflect.DeepEqual(oldCfg.Commands, newCfg.Commands) {
		mark("commands",
			logx.String("commands.prefix", newCfg.Commands.Prefix),
			logx.Int("commands.operator_count", len(newCfg.Commands.OperatorIDs)),
			logx.Int("commands.workers", newCfg.Commands.Workers),
		)
	}
	if oldCfg.Discord != newCfg.Discord {
		mark("discord", logx.Bool("discord.token_set", tokenSet(newCfg.Discord.Token)))
	}
	if oldCfg.Telegram != newCfg.Telegram {
		mark("telegram",
			logx.Bool("telegram.token_set", tokenSet(newCfg.Telegram.Token)),
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage",
			logx.String("storage.path", newCfg.Storage.Path),
			logx.String("storage.busy_timeout", newCfg.Storage.BusyTimeout),
		)
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		mark("dispatch",
			logx.Int("dispatch.max_content", newCfg.Dispatch.MaxContent),
			logx.Int("dispatch.parallel", newCfg.Dispatch.Parallel),
			logx.Any("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.ConsoleEnabled()),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}
	if oldCfg.Sync != newCfg.Sync {
		mark("sync",
			logx.Bool("sync.enabled", newCfg.Sync.Enabled),
			logx.String("sync.schedule", newCfg.Sync.Schedule),
		)
	}
	if oldCfg.Ops != newCfg.Ops {
		mark("ops",
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", tokenSet(newCfg.Ops.Token)),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
	}
	if oldCfg.Tracing != newCfg.Tracing {
		mark("tracing",
			logx.Bool("tracing.enabled", newCfg.Tracing.Enabled),
			logx.String("tracing.endpoint", newCfg.Tracing.Endpoint),
		)
	}
	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !liveSections[s] {
			out = append(out, s)
		}
	}
	return out
}

func tokenSet(s string) bool { return strings.TrimSpace(s) != "" }
