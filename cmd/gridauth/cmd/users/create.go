package users

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/gridauth/cmd/gridauth/cmd/cmdutil"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/repository"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/verifier"
)

var createCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a directory account with a local password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		username := strings.TrimSpace(args[0])

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

		existing, err := dir.Users.GetByUsername(ctx, realm(), username)
		if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("failed to check username uniqueness: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("user %q already exists in realm %q", username, realm())
		}

		user := &models.User{
			Realm:        realm(),
			Username:     username,
			DisplayName:  displayFlag,
			PasswordHash: &hash,
			Roles:        models.RoleList(rolesInput),
		}
		if err := dir.Users.Create(ctx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "User created successfully!")
		fmt.Fprintln(out, "----------------------------------------")
		fmt.Fprintf(out, "User ID: %s\n", user.ID)
		fmt.Fprintf(out, "Realm: %s\n", user.Realm)
		fmt.Fprintf(out, "Username: %s\n", user.Username)
		if len(user.Roles) > 0 {
			fmt.Fprintf(out, "Roles: %s\n", strings.Join(user.Roles, ", "))
		}
		fmt.Fprintln(out, "----------------------------------------")
		return nil
	},
}

func realm() string {
	if realmFlag == "" {
		return models.DefaultRealm
	}
	return realmFlag
}

// readPassword takes the password from --password or, with --stdin, the first line of
// standard input.
func readPassword(cmd *cobra.Command) (string, error) {
	password := passwordFlag
	if stdinFlag {
		var err error
		if password, err = firstLine(cmd.InOrStdin()); err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
	}
	if password == "" {
		return "", fmt.Errorf("password is required (use --password or --stdin)")
	}
	return password, nil
}

func firstLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	return "", scanner.Err()
}
