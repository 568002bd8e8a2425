// Package cli holds the keystone command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

type rootFlags struct {
	logLevel   string
	configPath string
}

// NewRootCommand builds `keystone` and its subcommands.
func NewRootCommand() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "keystone",
		Short: "Keystone security assistant server and chat client",
		Long: `Keystone runs the chat API (serve), the completion job worker (worker)
and an interactive terminal chat client (chat).

Quick Start:
  keystone migrate                 # create tables in DB_DSN
  AI_PROVIDER=static keystone serve
  keystone chat --email me@example.com`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "client config file (chat only)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newServeCommand(f),
		newWorkerCommand(f),
		newMigrateCommand(f),
		newChatCommand(f),
	)
	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
