package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dispatchbot/internal/config"
	"dispatchbot/internal/storage"
)

var errNeedConfirm = errors.New("refusing to modify the database without --yes")

func newResetDBCommand(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset-db",
		Short: "Drop and recreate every table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errNeedConfirm
			}
			return withStore(cmd, opts, "database reset", (*storage.Store).Reset)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the destructive operation")
	return cmd
}

func newClearDBCommand(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear-db",
		Short: "Delete every row and keep the schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errNeedConfirm
			}
			return withStore(cmd, opts, "database cleared", (*storage.Store).Clear)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the destructive operation")
	return cmd
}

func withStore(cmd *cobra.Command, opts *rootOptions, done string, fn func(*storage.Store, context.Context) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.NewConfigManager(opts.configPath).Parse()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := fn(st, ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", okMark, done, cfg.Storage.Path)
	return nil
}
