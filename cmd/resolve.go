package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matheuscscp/session-proxy-e2e/internal/keys"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [kid]",
	Short: "Print the public key the proxy publishes for a kid",
	Long:  "Print the public key the proxy publishes for a kid. Without a kid the first key is printed.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		var kid string
		if len(args) == 1 {
			kid = args[0]
		}

		v, err := newVerification(conf)
		if err != nil {
			return err
		}
		pk, err := v.resolver.ResolveKey(cmd.Context(), kid, v.endpoint)
		if err != nil {
			return fmt.Errorf("resolving key (%s): %w", keys.CodeOf(err), err)
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"source": pk.Source,
			"key":    pk.Key,
		})
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
