package users

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/gridauth/cmd/gridauth/cmd/cmdutil"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/verifier"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List directory accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dir, err := cmdutil.OpenDirectory(ctx)
		if err != nil {
			return err
		}
		defer dir.Close()

		users, err := dir.Users.List(ctx, realmFlag)
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "REALM\tUSERNAME\tROLES\tSTATUS\tLAST LOGIN")
		for _, u := range users {
			status := "active"
			if u.Disabled() {
				status = "disabled"
			}
			lastLogin := "never"
			if u.LastLoginAt != nil {
				lastLogin = u.LastLoginAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", u.Realm, u.Username, []string(u.Roles), status, lastLogin)
		}
		return w.Flush()
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Replace an account's local password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}
		hash, err := verifier.HashPassword(password)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		dir, err := cmdutil.OpenDirectory(ctx)
		if err != nil {
			return err
		}
		defer dir.Close()

		user, err := dir.Users.GetByUsername(ctx, realm(), args[0])
		if err != nil {
			return fmt.Errorf("failed to find user: %w", err)
		}
		if err := dir.Users.SetPasswordHash(ctx, user.ID, hash); err != nil {
			return fmt.Errorf("failed to set password: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %s\n", user.Username)
		return nil
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <username>",
	Short: "Disable an account",
	Long: `Disables an account. Running servers revoke its cached logins at the next
verifier refresh, or immediately on SIGHUP.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDisabled(cmd, args[0], true)
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable <username>",
	Short: "Re-enable a disabled account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDisabled(cmd, args[0], false)
	},
}

func setDisabled(cmd *cobra.Command, username string, disabled bool) error {
	ctx := cmd.Context()
	dir, err := cmdutil.OpenDirectory(ctx)
	if err != nil {
		return err
	}
	defer dir.Close()

	user, err := dir.Users.GetByUsername(ctx, realm(), username)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if err := dir.Users.SetDisabled(ctx, user.ID, disabled); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	state := "enabled"
	if disabled {
		state = "disabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "User %s %s\n", user.Username, state)
	return nil
}
