package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/terraconstructs/gridauth/cmd/gridauth/cmd/users"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/config"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/logging"
)

var (
	cfg     *config.Config
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "gridauth",
	Short: "Session-cached HTTP authentication server",
	Long: `gridauth resolves the identity behind every HTTP request from a session cache,
credential token cookie, Basic credentials, delegated authorization codes or a
trusted ambient identity, and decides whether to serve, redirect or reject it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		slog.SetDefault(logging.New(cfg.LogFormat, cfg.Debug))
		return nil
	},
}

func init() {
	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Configuration file (YAML, JSON or TOML)")
	flags.String("db-url", "", "Database connection URL (env: GRIDAUTH_DATABASE_URL)")
	flags.String("redis-url", "", "Redis URL for shared credential tokens (env: GRIDAUTH_REDIS_URL)")
	flags.String("server-addr", "", "Server bind address (env: GRIDAUTH_SERVER_ADDR)")
	flags.Bool("debug", false, "Enable debug logging and detailed failure headers (env: GRIDAUTH_DEBUG)")

	for key, flag := range map[string]string{
		"database_url": "db-url",
		"redis_url":    "redis-url",
		"server_addr":  "server-addr",
		"debug":        "debug",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	// Add subcommands
	rootCmd.AddCommand(users.UsersCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
