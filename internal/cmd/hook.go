package cmd

import (
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/ccswap/ccswap/internal/channels"
	"github.com/ccswap/ccswap/internal/config"
	"github.com/ccswap/ccswap/internal/hook"
	"github.com/ccswap/ccswap/internal/logging"
	"github.com/ccswap/ccswap/internal/progress"
)

var hookCmd = &cobra.Command{
	Use:     "hook",
	Short:   "Process one child lifecycle event from stdin",
	GroupID: GroupRelay,
	Long: `Hook reads a single JSON event context from stdin and relays it to
Slack: channel setup on session start, progress updates during tool
use, transcript posts when the child pauses or finishes. The child
invokes it through its hooks configuration; it is not meant to be run
by hand.`,
	Args: cobra.NoArgs,
	RunE: runHook,
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

// runHook never returns an error: a hook failure must not surface in
// the child's own output. Problems go to the log file instead.
func runHook(cmd *cobra.Command, args []string) error {
	settings := config.Slack()
	if !settings.Configured() {
		return nil
	}

	logPath, err := config.RelayLogPath()
	if err != nil {
		return nil
	}
	logger, logFile, err := logging.NewFile(logPath, "hook")
	if err != nil {
		return nil
	}
	defer logFile.Close()

	api := channels.Throttle(slack.New(settings.BotToken, slack.OptionAppLevelToken(settings.AppToken)))
	cm, err := channels.Open(api, settings)
	if err != nil {
		logger.Error("opening channel map", "error", err)
		return nil
	}
	store, err := progress.Open()
	if err != nil {
		logger.Error("opening progress store", "error", err)
		return nil
	}

	hook.NewHandler(cm, store, logger).Run(cmd.InOrStdin())
	return nil
}
