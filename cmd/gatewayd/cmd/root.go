package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/storefront-labs/gateway/internal/config"
	"github.com/storefront-labs/gateway/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "Storefront authorization gateway",
	Long: `gatewayd fronts the storefront application. Every navigation is classified and
checked against the caller's session token before it reaches the storefront; the
sign-in, sign-up and sign-out forms are handled here and issue the session cookies.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger = logging.New(os.Stderr, cfg.Debug)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	flags.String("db-url", "", "Database connection URL (env: STOREFRONT_DATABASE_URL)")
	flags.String("server-addr", "", "Server bind address (env: STOREFRONT_SERVER_ADDR)")
	flags.String("server-url", "", "Public base URL of the gateway (env: STOREFRONT_SERVER_URL)")
	flags.String("upstream-url", "", "Storefront application URL (env: STOREFRONT_UPSTREAM_URL)")
	flags.Bool("debug", false, "Enable debug logging (env: STOREFRONT_DEBUG)")

	for key, flag := range map[string]string{
		"database_url": "db-url",
		"server_addr":  "server-addr",
		"server_url":   "server-url",
		"upstream.url": "upstream-url",
		"debug":        "debug",
	} {
		cobra.CheckErr(viper.BindPFlag(key, flags.Lookup(flag)))
	}

	rootCmd.AddCommand(serveCmd, dbCmd, explainCmd, customersCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
