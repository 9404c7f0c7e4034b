package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccswap/ccswap/internal/config"
	"github.com/ccswap/ccswap/internal/daemon"
	"github.com/ccswap/ccswap/internal/style"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	Short:   "Manage the Slack relay daemon",
	GroupID: GroupRelay,
	Long: `The relay daemon holds the socket-mode connection to Slack: it types
channel messages into the tmux session bound to that channel and serves
the built-in !stop, !status and !archive commands.`,
	RunE: requireSubcommand,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay daemon in the background",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the relay daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the relay daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonRestart,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the relay daemon is running",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show relay daemon logs",
	Args:  cobra.NoArgs,
	RunE:  runDaemonLogs,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the relay daemon in the foreground (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runDaemonRun,
}

var (
	daemonLogLines  int
	daemonLogFollow bool
	daemonRunDebug  bool
)

func init() {
	daemonLogsCmd.Flags().IntVarP(&daemonLogLines, "lines", "n", 50, "Number of lines to show")
	daemonLogsCmd.Flags().BoolVarP(&daemonLogFollow, "follow", "f", false, "Follow log output")
	daemonRunCmd.Flags().BoolVar(&daemonRunDebug, "debug", false, "Verbose Slack client logging")

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonCmd.AddCommand(daemonRunCmd)

	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	pid, err := daemon.Start()
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		style.PrintWarning("relay daemon already running (PID %d)", pid)
		return nil
	}
	if err != nil {
		return err
	}
	style.PrintSuccess("relay daemon started (PID %d, v%s)", pid, Version)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	_, pid, err := daemon.IsRunning()
	if err != nil {
		return err
	}
	if err := daemon.Stop(); err != nil {
		return err
	}
	style.PrintSuccess("relay daemon stopped (was PID %d)", pid)
	return nil
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	if err := daemon.Stop(); err != nil && !errors.Is(err, daemon.ErrDaemonNotRunning) {
		return err
	}
	// Give the old instance a beat to release the lock.
	time.Sleep(200 * time.Millisecond)
	return runDaemonStart(cmd, args)
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	running, pid, err := daemon.IsRunning()
	if err != nil {
		return err
	}

	logPath, err := config.RelayLogPath()
	if err != nil {
		return err
	}

	if running {
		style.PrintSuccess("relay daemon running (PID %d)", pid)
	} else {
		fmt.Println("relay daemon not running; start with `ccswap daemon start`")
	}
	fmt.Printf("  log: %s\n", logPath)
	return nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	logPath, err := config.RelayLogPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		return fmt.Errorf("no log file at %s", logPath)
	}

	tailArgs := []string{"-n", strconv.Itoa(daemonLogLines)}
	if daemonLogFollow {
		tailArgs = []string{"-f"}
	}
	tail := exec.Command("tail", append(tailArgs, logPath)...)
	tail.Stdout = os.Stdout
	tail.Stderr = os.Stderr
	return tail.Run()
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	return daemon.Run(cmd.Context(), daemonRunDebug)
}
