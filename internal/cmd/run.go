package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/ccswap/ccswap/internal/channels"
	"github.com/ccswap/ccswap/internal/config"
	"github.com/ccswap/ccswap/internal/credentials"
	"github.com/ccswap/ccswap/internal/daemon"
	"github.com/ccswap/ccswap/internal/exitcode"
	"github.com/ccswap/ccswap/internal/hook"
	"github.com/ccswap/ccswap/internal/logging"
	"github.com/ccswap/ccswap/internal/progress"
	"github.com/ccswap/ccswap/internal/registry"
	"github.com/ccswap/ccswap/internal/selector"
	"github.com/ccswap/ccswap/internal/style"
	"github.com/ccswap/ccswap/internal/swap"
	"github.com/ccswap/ccswap/internal/tmux"
	"github.com/ccswap/ccswap/internal/usage"
)

var (
	runAccount  string
	runRemote   bool
	runMaxSwaps int
)

var runCmd = &cobra.Command{
	Use:     "run [flags] [-- <child args>...]",
	Short:   "Run the child under rate-limit supervision",
	GroupID: GroupSession,
	Long: `Run starts the child on the account with the most headroom and watches
its terminal output. When the rate-limit banner appears, the child is
killed, the session transcript is migrated to the next account, and the
child is resumed there with the same conversation.

Arguments after -- go to the child unchanged:

  ccswap run -- --model opus "review this diff"`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runAccount, "account", "", "Start on this account instead of the best one")
	runCmd.Flags().BoolVar(&runRemote, "remote", false, "Mirror the session to Slack and accept replies from it")
	runCmd.Flags().IntVar(&runMaxSwaps, "max-swaps", 0, "Cap counted swaps (default max(5, 2×accounts))")

	// Flags after the first positional belong to the child.
	runCmd.Flags().SetInterspersed(false)

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if _, err := config.EnsureDir(); err != nil {
		return err
	}
	reg, err := registry.Open()
	if err != nil {
		return err
	}
	if added, err := reg.EnsureDefault(); err != nil {
		return err
	} else if added {
		style.Notify("registered the child's own profile as account %q", registry.DefaultName)
	}
	accounts, err := reg.List()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return exitcode.New(exitcode.ErrUsage, "no accounts registered; add one with `ccswap accounts add <name>`")
	}

	store := credentials.NewStore()
	results := usage.NewClient().CheckAll(ctx, swap.Candidates(ctx, store, accounts))

	current, reason, err := startAccount(accounts, results, runAccount)
	if err != nil {
		return err
	}
	style.Notify("starting on %s (%s)", current.Name, reason)

	childArgs := args
	var notifier swap.Notifier
	if runRemote {
		settings := config.Slack()
		if !settings.Configured() {
			path, _ := config.EnvFilePath()
			return exitcode.Newf(exitcode.ErrUsage, "remote mode needs SLACK_BOT_TOKEN and SLACK_APP_TOKEN in %s", path)
		}
		n, err := newRelayNotifier(settings)
		if err != nil {
			return fmt.Errorf("connecting relay: %w", err)
		}
		notifier = n
		if running, _, _ := daemon.IsRunning(); !running {
			style.PrintWarning("relay daemon is not running; Slack replies will not reach the session (`ccswap daemon start`)")
		}
		childArgs = remoteArgs(childArgs)
	}

	loop := swap.New(swap.Options{MaxSwaps: runMaxSwaps, Remote: runRemote}, notifier, loginAccount)
	code, err := loop.Run(ctx, current, accounts, childArgs)
	if err != nil {
		return exitcode.Wrap(code, "", err)
	}
	if code != exitcode.Success {
		return exitcode.Silent(code)
	}
	return nil
}

// startAccount picks where the run begins: the explicit --account
// override, the priority policy when any account carries one, else
// lowest effective utilization.
func startAccount(accounts []registry.Account, results []usage.Result, override string) (registry.Account, string, error) {
	if override != "" {
		for _, a := range accounts {
			if a.Name == override {
				return a, "requested", nil
			}
		}
		return registry.Account{}, "", exitcode.Newf(exitcode.ErrUsage, "account %q is not registered", override)
	}

	pick := selector.Best(results, selector.Options{UsePriority: selector.HasPriorities(results)})
	if pick == nil {
		return registry.Account{}, "", errors.New("no account has usable credentials; run `ccswap login <name>`")
	}
	for _, a := range accounts {
		if a.Name == pick.Account.Name {
			return a, pick.Reason, nil
		}
	}
	return registry.Account{}, "", fmt.Errorf("selected account %q missing from registry", pick.Account.Name)
}

// remoteSystemPrompt primes the child for an operator who answers over
// Slack rather than at the terminal.
const remoteSystemPrompt = "Your output is mirrored to a Slack channel and replies are typed " +
	"back into your terminal. Keep responses self-contained; nobody is watching the terminal."

// remoteArgs adds the flags a relay-driven child needs: permission
// prompts cannot be answered from Slack, so they are skipped, and the
// system prompt explains the relay. User-supplied duplicates win.
func remoteArgs(args []string) []string {
	skip := true
	for _, a := range args {
		if a == "--dangerously-skip-permissions" {
			skip = false
		}
	}
	out := make([]string, 0, len(args)+3)
	if skip {
		out = append(out, "--dangerously-skip-permissions")
	}
	out = append(out, "--append-system-prompt", remoteSystemPrompt)
	return append(out, args...)
}

// relayNotifier delivers swap notices through the hook dispatcher, the
// same path the child's own lifecycle events take.
type relayNotifier struct {
	channels *channels.Map
	handler  *hook.Handler
	tmuxName string
}

func newRelayNotifier(settings config.SlackSettings) (*relayNotifier, error) {
	api := channels.Throttle(slack.New(settings.BotToken, slack.OptionAppLevelToken(settings.AppToken)))
	cm, err := channels.Open(api, settings)
	if err != nil {
		return nil, err
	}
	store, err := progress.Open()
	if err != nil {
		return nil, err
	}
	logPath, err := config.RelayLogPath()
	if err != nil {
		return nil, err
	}
	logger, _, err := logging.NewFile(logPath, "notify")
	if err != nil {
		return nil, err
	}

	name, err := tmux.NewTmux().CurrentSession()
	if err != nil {
		name = ""
	}
	return &relayNotifier{
		channels: cm,
		handler:  hook.NewHandler(cm, store, logger),
		tmuxName: name,
	}, nil
}

func (n *relayNotifier) BeginRun(keepSessionID string) error {
	if n.tmuxName == "" {
		return nil
	}
	return n.channels.DeactivateOthersForTmux(n.tmuxName, keepSessionID)
}

func (n *relayNotifier) AccountSwitch(sessionID, account string) error {
	return n.notice(hook.Context{
		HookEventName: hook.EventAccountSwitch,
		SessionID:     sessionID,
		Account:       account,
	})
}

func (n *relayNotifier) SleepUntilReset(sessionID string, wake time.Time) error {
	return n.notice(hook.Context{
		HookEventName: hook.EventSleepUntilReset,
		SessionID:     sessionID,
		ResetsAt:      wake.Format("15:04:05 MST"),
	})
}

func (n *relayNotifier) SleepWake(sessionID string) error {
	return n.notice(hook.Context{HookEventName: hook.EventSleepWake, SessionID: sessionID})
}

// notice routes one synthetic event through the hook dispatcher. A
// session without a channel mapping is the local-only case, not an
// error.
func (n *relayNotifier) notice(ctx hook.Context) error {
	if err := n.handler.Handle(ctx); err != nil && !errors.Is(err, channels.ErrNoChannel) {
		return err
	}
	return nil
}
