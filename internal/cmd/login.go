package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccswap/ccswap/internal/child"
	"github.com/ccswap/ccswap/internal/credentials"
	"github.com/ccswap/ccswap/internal/registry"
	"github.com/ccswap/ccswap/internal/style"
	"github.com/ccswap/ccswap/internal/usage"
	"github.com/ccswap/ccswap/internal/util"
)

var loginCmd = &cobra.Command{
	Use:     "login <account>",
	Short:   "Authenticate an account through the child's /login flow",
	GroupID: GroupAccounts,
	Args:    cobra.ExactArgs(1),
	RunE:    runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	reg, err := registry.Open()
	if err != nil {
		return err
	}
	acct, err := reg.Get(args[0])
	if err != nil {
		return err
	}
	return loginAccount(cmd.Context(), *acct)
}

// loginAccount drops the user into the child on the account's profile
// directory to complete /login, then verifies credentials landed. The
// swap loop calls this for accounts whose tokens the API rejected.
func loginAccount(ctx context.Context, acct registry.Account) error {
	profileDir := util.ExpandHome(acct.ProfileDir)
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return fmt.Errorf("creating profile dir: %w", err)
	}

	style.Notify("launching the child on %s; run /login inside, then exit", acct.Name)
	if _, err := child.Run(ctx, nil, child.Options{ProfileDir: acct.ProfileDir}); err != nil {
		return fmt.Errorf("launching child for login: %w", err)
	}

	store := credentials.NewStore()
	creds, err := store.Read(acct.ProfileDir)
	if err != nil {
		return fmt.Errorf("no credentials stored for %s after login: %w", acct.Name, err)
	}
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("credentials for %s: %w", acct.Name, err)
	}

	// Label the success with the account's email when the profile
	// endpoint cooperates.
	if token, err := store.TokenFor(ctx, acct.ProfileDir); err == nil {
		if prof, err := usage.NewClient().FetchProfile(ctx, token); err == nil && prof.Email != "" {
			style.PrintSuccess("%s authenticated as %s", acct.Name, prof.Email)
			return nil
		}
	}
	style.PrintSuccess("credentials stored for %s", acct.Name)
	return nil
}
