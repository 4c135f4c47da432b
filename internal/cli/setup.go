package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dispatchbot/internal/config"
	"dispatchbot/internal/storage"
	logx "dispatchbot/pkg/logx"
)

var (
	okMark   = color.GreenString("✓")
	warnMark = color.YellowString("!")
	failMark = color.RedString("✗")
)

type checklist struct {
	w      io.Writer
	failed int
}

func (c *checklist) ok(name, detail string) {
	fmt.Fprintf(c.w, " %s %-12s %s\n", okMark, name, detail)
}

func (c *checklist) warn(name, detail string) {
	fmt.Fprintf(c.w, " %s %-12s %s\n", warnMark, name, detail)
}

func (c *checklist) fail(name string, err error) {
	c.failed++
	fmt.Fprintf(c.w, " %s %-12s %v\n", failMark, name, err)
}

func newSetupCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Check config, create the database and normalize stored statuses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd.Context(), cmd.OutOrStdout(), opts.configPath)
		},
	}
}

func setup(ctx context.Context, w io.Writer, cfgPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Fprintln(w, color.New(color.Bold).Sprint("dispatchbot setup"))
	c := &checklist{w: w}

	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		c.fail("config", err)
		return fmt.Errorf("setup failed")
	}
	c.ok("config", cfgPath)

	token := cfg.Discord.Token
	if cfg.Platform == config.PlatformTelegram {
		token = cfg.Telegram.Token
	}
	if strings.TrimSpace(token) == "" {
		c.fail("token", fmt.Errorf("%s token is not set", cfg.Platform))
	} else {
		c.ok("token", cfg.Platform+" token present")
	}

	if err := config.Validate(cfg); err != nil {
		c.fail("validate", err)
	} else {
		c.ok("validate", "config is valid")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		c.fail("database", err)
		return fmt.Errorf("setup failed")
	}
	defer st.Close()
	c.ok("database", cfg.Storage.Path)

	n, err := st.NormalizeLegacyStatuses(ctx)
	switch {
	case err != nil:
		c.fail("statuses", err)
	case n > 0:
		c.warn("statuses", fmt.Sprintf("rewrote %d legacy status values", n))
	default:
		c.ok("statuses", "all canonical")
	}

	if c.failed > 0 {
		return fmt.Errorf("setup found %d problem(s)", c.failed)
	}
	fmt.Fprintln(w, color.GreenString("ready"))
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*storage.Store, error) {
	durs, err := config.ParseDurations(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, storage.Config{Path: cfg.Storage.Path, BusyTimeout: durs.BusyTimeout}, logx.Nop())
}
