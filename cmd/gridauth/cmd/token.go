package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Credential helpers",
}

var tokenEncodeCmd = &cobra.Command{
	Use:   "encode <username> <password>",
	Short: "Print the Authorization header value for Basic credentials",
	Long: `Encodes a username and password the way clients must send them in an
Authorization: Basic header. Useful for scripting requests with curl.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "Basic %s\n", auth.EncodeBasic(args[0], args[1]))
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenEncodeCmd)
	rootCmd.AddCommand(tokenCmd)
}
