// Package main provides the penf-chat entry point.
// penf-chat records @mentions of clones in chat messages and answers them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-chat/cmd"
	"github.com/otherjamesbrown/penf-chat/config"
	"github.com/otherjamesbrown/penf-chat/pkg/logging"
)

// Global flags.
var (
	cfgFile      string
	outputFormat string
	debug        bool
)

// newRootCommand builds the command tree.
func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "penf-chat",
		Short: "Clone mention service for team chat",
		Long: `penf-chat records @mentions of clones in chat messages and answers them.

A message such as "@Helper what changed today?" is resolved against the
workspace's clones (then global clones), rewritten to the canonical
"@Helper[id:<clone>]" form and stored with one pending mention per clone.
The service drains each clone's pending mentions in order, asks the
responder for a reply and posts it in the thread.

COMMON WORKFLOWS:
  Set up database:  penf-chat db migrate  →  penf-chat db status
  Run the service:  penf-chat serve
  Inspect backlog:  penf-chat mentions list --status pending
  Catch up offline: penf-chat mentions process --all`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.penf-chat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "", "default output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	deps := cmd.DefaultDeps("")
	deps.LoadConfig = loadConfig

	rootCmd.AddGroup(
		&cobra.Group{ID: "service", Title: "Service:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
	)

	serveCmd := cmd.NewServeCommand(deps)
	serveCmd.GroupID = "service"
	mentionsCmd := cmd.NewMentionsCommand(deps)
	mentionsCmd.GroupID = "service"
	clonesCmd := cmd.NewClonesCommand(deps)
	clonesCmd.GroupID = "service"
	dbCmd := cmd.NewDbCommand(deps)
	dbCmd.GroupID = "ops"

	rootCmd.AddCommand(serveCmd, mentionsCmd, clonesCmd, dbCmd, cmd.NewVersionCommand(deps))

	return rootCmd
}

// loadConfig reads the config file and applies global flag overrides.
func loadConfig() (*config.ServiceConfig, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if outputFormat != "" {
		cfg.OutputFormat = config.OutputFormat(outputFormat)
	}
	if debug {
		cfg.Logging.Level = logging.LevelDebug
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
