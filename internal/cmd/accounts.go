package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ccswap/ccswap/internal/config"
	"github.com/ccswap/ccswap/internal/registry"
	"github.com/ccswap/ccswap/internal/style"
	"github.com/ccswap/ccswap/internal/util"
)

var accountsCmd = &cobra.Command{
	Use:     "accounts",
	Short:   "Manage the account registry",
	GroupID: GroupAccounts,
	RunE:    requireSubcommand,
}

var accountsListJSON bool

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	Args:  cobra.NoArgs,
	RunE:  runAccountsList,
}

var accountsAddCmd = &cobra.Command{
	Use:   "add <name> [profile-dir]",
	Short: "Register an account",
	Long: `Add registers an account under its own profile directory. Without an
explicit directory the profile lives inside the ccswap config dir. The
account still needs credentials: run 'ccswap login <name>' next.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runAccountsAdd,
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an account from the registry",
	Long: `Remove deletes the registry entry only. The profile directory and any
stored credentials stay on disk.`,
	Args: cobra.ExactArgs(1),
	RunE: runAccountsRemove,
}

var accountsSetPriorityCmd = &cobra.Command{
	Use:   "set-priority <name> <priority>",
	Short: "Assign a priority (lower is preferred)",
	Args:  cobra.ExactArgs(2),
	RunE:  runAccountsSetPriority,
}

var accountsClearPriorityCmd = &cobra.Command{
	Use:   "clear-priority <name>",
	Short: "Remove an account's priority",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsClearPriority,
}

func init() {
	accountsListCmd.Flags().BoolVar(&accountsListJSON, "json", false, "Output as JSON")

	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(accountsRemoveCmd)
	accountsCmd.AddCommand(accountsSetPriorityCmd)
	accountsCmd.AddCommand(accountsClearPriorityCmd)

	rootCmd.AddCommand(accountsCmd)
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	reg, err := registry.Open()
	if err != nil {
		return err
	}
	if _, err := reg.EnsureDefault(); err != nil {
		return err
	}
	accounts, err := reg.List()
	if err != nil {
		return err
	}

	if accountsListJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(accounts)
	}

	if len(accounts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no accounts registered")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPRIORITY\tPROFILE")
	for _, a := range accounts {
		prio := "-"
		if a.Priority > 0 {
			prio = strconv.Itoa(a.Priority)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.Name, prio, a.ProfileDir)
	}
	return w.Flush()
}

func runAccountsAdd(cmd *cobra.Command, args []string) error {
	name := args[0]

	var profileDir string
	if len(args) == 2 {
		profileDir = args[1]
	} else {
		var err error
		profileDir, err = config.ProfileDir(name)
		if err != nil {
			return err
		}
	}

	reg, err := registry.Open()
	if err != nil {
		return err
	}
	if err := reg.Add(name, profileDir, 0); err != nil {
		return err
	}
	if err := os.MkdirAll(util.ExpandHome(profileDir), 0700); err != nil {
		return fmt.Errorf("creating profile dir: %w", err)
	}

	style.PrintSuccess("added %s (%s)", name, profileDir)
	style.Notify("authenticate it with `ccswap login %s`", name)
	return nil
}

func runAccountsRemove(cmd *cobra.Command, args []string) error {
	reg, err := registry.Open()
	if err != nil {
		return err
	}
	if err := reg.Remove(args[0]); err != nil {
		return err
	}
	style.PrintSuccess("removed %s (profile dir kept)", args[0])
	return nil
}

func runAccountsSetPriority(cmd *cobra.Command, args []string) error {
	priority, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("priority %q is not a number", args[1])
	}

	reg, err := registry.Open()
	if err != nil {
		return err
	}
	if err := reg.SetPriority(args[0], priority); err != nil {
		return err
	}
	style.PrintSuccess("%s now has priority %d", args[0], priority)
	return nil
}

func runAccountsClearPriority(cmd *cobra.Command, args []string) error {
	reg, err := registry.Open()
	if err != nil {
		return err
	}
	if err := reg.ClearPriority(args[0]); err != nil {
		return err
	}
	style.PrintSuccess("cleared priority for %s", args[0])
	return nil
}
