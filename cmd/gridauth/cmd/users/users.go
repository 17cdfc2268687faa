package users

import "github.com/spf13/cobra"

// UsersCmd is the parent command for directory account management
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage directory accounts",
	Long:  `Commands for managing the accounts the credential verifier checks logins against.`,
}

var (
	realmFlag    string
	passwordFlag string
	rolesInput   []string
	displayFlag  string
	stdinFlag    bool
)

func init() {
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Password for the user (use --stdin to avoid shell history)")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")
	createCmd.Flags().StringSliceVar(&rolesInput, "role", []string{}, "Role(s) granted to the user")
	createCmd.Flags().StringVar(&displayFlag, "display-name", "", "Display name")

	passwdCmd.Flags().StringVar(&passwordFlag, "password", "", "New password (use --stdin to avoid shell history)")
	passwdCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")

	UsersCmd.PersistentFlags().StringVar(&realmFlag, "realm", "", "Directory realm (defaults to the primary realm)")

	UsersCmd.AddCommand(createCmd, listCmd, passwdCmd, disableCmd, enableCmd)
}
