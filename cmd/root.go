package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/matheuscscp/session-proxy-e2e/internal/config"
	"github.com/matheuscscp/session-proxy-e2e/internal/constants"
	"github.com/matheuscscp/session-proxy-e2e/internal/logging"
)

// global flags
var (
	configFile string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   constants.SessionProxyE2E,
	Short: "Verify the sessions a session proxy forwards to its upstream",
	Long: `session-proxy-e2e resolves the proxy's published signing keys, verifies the
session tokens it forwards and checks what the upstream app observes before
and after login.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Configure(logLevel, logFormat)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("execution failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Configuration file (default is $"+config.EnvConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level, overrides $LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text), overrides $LOG_FORMAT")

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func loadConfig() (*config.Config, error) {
	return config.Load(configFile)
}
