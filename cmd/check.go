package cmd

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/matheuscscp/session-proxy-e2e/internal/forwarding"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check what the upstream app observes through the proxy",
	Long: `Request the upstream echo app through the proxy and check the forwarded
headers against the expected session state for the configured mode.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		stateFlag, _ := cmd.Flags().GetString("state")
		email, _ := cmd.Flags().GetString("email")
		cookie, _ := cmd.Flags().GetString("cookie")

		state, err := forwarding.ParseState(stateFlag)
		if err != nil {
			return err
		}
		mode := conf.Harness.ParsedMode()
		if mode == forwarding.ModeDirect && state == forwarding.StateAuthenticated && email == "" {
			return fmt.Errorf("--email is required to check an authenticated direct session")
		}

		echoURL, err := conf.Harness.EchoURL()
		if err != nil {
			return err
		}
		whoamiURL, err := conf.Harness.WhoamiURL()
		if err != nil {
			return err
		}

		jar, err := cookiejar.New(nil)
		if err != nil {
			return fmt.Errorf("creating cookie jar: %w", err)
		}
		if cookie != "" {
			jar.SetCookies(echoURL, []*http.Cookie{{
				Name:  conf.Harness.SessionCookie,
				Value: cookie,
				Path:  "/",
			}})
		}
		client := &http.Client{Jar: jar, Timeout: conf.Resolver.Timeout}

		v, err := newVerification(conf)
		if err != nil {
			return err
		}
		contract := &forwarding.Contract{
			Mode:       mode,
			CookieName: conf.Harness.SessionCookie,
			Verify:     v.verify,
		}
		if whoamiURL != nil {
			contract.Probe = forwarding.NewWhoamiProbe(&http.Client{Timeout: conf.Resolver.Timeout}, whoamiURL.String())
		}

		h := &forwarding.Harness{
			Contract: contract,
			Client:   client,
			EchoURL:  echoURL.String(),
		}
		ch := forwarding.NewChannelInState(mode, state, email)
		if err := h.Assert(cmd.Context(), ch); err != nil {
			return err
		}

		logrus.WithField("channel", logrus.Fields{
			"mode":  mode,
			"state": state,
		}).Info("forwarding contract satisfied")
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok: %s/%s\n", mode, state)
		return err
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().String("state", string(forwarding.StateUnauthenticated),
		"expected session state (authenticated, unauthenticated)")
	checkCmd.Flags().String("email", "", "email of the authenticated identity")
	checkCmd.Flags().String("cookie", "", "session cookie value to present to the proxy")
}
