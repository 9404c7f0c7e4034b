// Package cmd provides the ccswap command line interface.
package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ccswap/ccswap/internal/config"
	"github.com/ccswap/ccswap/internal/exitcode"
	"github.com/ccswap/ccswap/internal/style"
)

// Version is stamped by the release build with -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "ccswap",
	Short:   "Account-swapping supervisor for the claude CLI",
	Version: Version,
	Long: `ccswap runs the claude CLI under a PTY and watches its output for
rate-limit banners. When one appears it kills the child, migrates the
session transcript to the account with the most headroom, and resumes
the same conversation there. A Slack relay can mirror the session into
a channel and type replies back into tmux.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: loadEnvironment,
}

// Commands that must work before any configuration exists.
var envExemptCommands = map[string]bool{
	"version":    true,
	"help":       true,
	"completion": true,
}

// loadEnvironment pulls the config directory's .env file into the
// process environment so Slack tokens reach every command. A broken
// .env warns instead of blocking the swap loop.
func loadEnvironment(cmd *cobra.Command, args []string) error {
	if envExemptCommands[cmd.Name()] {
		return nil
	}
	if err := config.LoadEnv(); err != nil {
		style.PrintWarning("%v", err)
	}
	return nil
}

// Execute runs the root command and returns a process exit code. Coded
// errors pass their status through so `ccswap run` exits exactly like
// the child did.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var coded *exitcode.Error
		if errors.As(err, &coded) {
			if msg := coded.Error(); msg != "" {
				style.PrintError("%s", msg)
			}
			return coded.Code
		}
		style.PrintError("%v", err)
		return exitcode.ErrGeneral
	}
	return exitcode.Success
}

// Command group IDs; order determines help output order.
const (
	GroupSession  = "session"
	GroupAccounts = "accounts"
	GroupRelay    = "relay"
)

// commandPath walks the command hierarchy to the full invocation, as
// in "ccswap accounts list".
func commandPath(cmd *cobra.Command) string {
	var parts []string
	for c := cmd; c != nil; c = c.Parent() {
		parts = append([]string{c.Name()}, parts...)
	}
	return strings.Join(parts, " ")
}

// requireSubcommand is the RunE for parent commands. Without it cobra
// shows help and exits 0 on unknown subcommands, masking typos.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a subcommand\n\nRun '%s --help' for usage", commandPath(cmd))
	}
	return fmt.Errorf("unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], commandPath(cmd), commandPath(cmd))
}

func init() {
	// Prefix matching lets "ccswap acc ls" reach "ccswap accounts list".
	cobra.EnablePrefixMatching = true

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupSession, Title: "Session:"},
		&cobra.Group{ID: GroupAccounts, Title: "Accounts:"},
		&cobra.Group{ID: GroupRelay, Title: "Relay:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupSession)
	rootCmd.SetCompletionCommandGroupID(GroupSession)
}
