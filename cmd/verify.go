package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matheuscscp/session-proxy-e2e/internal/verifier"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [token]",
	Short: "Verify a session token against the proxy's key set",
	Long: `Verify a compact JWS session token and print its claims. The token is read
from standard input when no argument is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading token: %w", err)
			}
			token = string(b)
		}
		token = strings.TrimSpace(token)

		v, err := newVerification(conf)
		if err != nil {
			return err
		}
		claims, err := v.verify(cmd.Context(), token)
		if err != nil {
			return fmt.Errorf("token rejected (%s): %w", verifier.CodeOf(err), err)
		}
		return printJSON(cmd.OutOrStdout(), claims)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
