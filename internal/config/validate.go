package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"dispatchbot/internal/task/scheduler"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			d, err := time.ParseDuration(strings.TrimSpace(fl.Field().String()))
			return err == nil && d >= 0
		})
		_ = v.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
			return scheduler.Validate(fl.Field().String()) == nil
		})
		validate = v
	})
	return validate
}

// FieldError is one rejected config field.
type FieldError struct {
	Path string
	Msg  string
}

func (e *FieldError) Error() string { return e.Path + ": " + e.Msg }

func fieldErr(path, format string, args ...any) error {
	return &FieldError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Validate checks struct tags and then cross-field rules. Defaults should be
// applied first.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := structValidator().Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return err
		}
		for _, fe := range ve {
			errs = append(errs, fieldErr(trimRoot(fe.Namespace()), "failed %q%s", fe.Tag(), param(fe.Param())))
		}
	}

	if strings.ContainsAny(cfg.Commands.Prefix, " \t\n") {
		errs = append(errs, fieldErr("commands.prefix", "must not contain whitespace"))
	}
	switch cfg.Platform {
	case PlatformDiscord:
		if strings.TrimSpace(cfg.Discord.Token) == "" {
			errs = append(errs, fieldErr("discord.token", "required (or set DISCORD_TOKEN)"))
		}
	case PlatformTelegram:
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, fieldErr("telegram.token", "required (or set TELEGRAM_TOKEN)"))
		}
	}
	if cfg.Logging.Chat.Enabled && strings.TrimSpace(cfg.Logging.Chat.ChannelID) == "" {
		errs = append(errs, fieldErr("logging.chat.channel_id", "required when chat logging is enabled"))
	}
	if tz := strings.TrimSpace(cfg.Sync.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fieldErr("sync.timezone", "unknown timezone %q", tz))
		}
	}
	if cfg.Ops.Enabled && !cfg.Ops.AllowInsecure && strings.TrimSpace(cfg.Ops.Token) == "" && !isLoopback(cfg.Ops.Addr) {
		errs = append(errs, fieldErr("ops.addr", "non-loopback address needs ops.token or ops.allow_insecure"))
	}
	if _, err := ParseDurations(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateHook adapts Validate for ConfigManager.SetValidator.
func ValidateHook(_ context.Context, cfg *Config) error { return Validate(cfg) }

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func trimRoot(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}

func param(p string) string {
	if p == "" {
		return ""
	}
	return " (" + p + ")"
}
