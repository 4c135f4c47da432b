// Package cli is the dispatchbot command tree.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dispatchbot/internal/config"
)

// version can be overridden at build time via:
// go build -ldflags "-X dispatchbot/internal/cli.version=1.2.3"
var version = "dev"

type rootOptions struct {
	configPath string
	envFiles   []string
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "dispatchbot",
		Short:         "Dispatch messages to partner channels and track their status",
		Long:          color.CyanString("dispatchbot") + " fans operator directives out to partner project channels\nand tracks partner replies through a forward-only status machine.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.LoadDotEnv(opts.envFiles...)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.yaml", "path to config file (yaml or json)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load (default .env)")

	root.AddCommand(
		newRunCommand(opts),
		newSetupCommand(opts),
		newResetDBCommand(opts),
		newClearDBCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("dispatchbot %s\n", version)
		},
	}
}
