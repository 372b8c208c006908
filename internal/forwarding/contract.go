package forwarding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/matheuscscp/session-proxy-e2e/internal/constants"
	"github.com/matheuscscp/session-proxy-e2e/internal/logging"
	"github.com/matheuscscp/session-proxy-e2e/internal/verifier"
)

// TokenVerifier checks a bearer token and returns its claims.
type TokenVerifier func(ctx context.Context, token string) (verifier.Claims, error)

// SessionProbe reports whether cookie still grants a session.
type SessionProbe func(ctx context.Context, cookie *http.Cookie) (bool, error)

// Contract states what the upstream must observe for each mode and state.
type Contract struct {
	Mode       Mode
	CookieName string
	Verify     TokenVerifier

	// Probe is optional. Without it any non-empty session cookie observed
	// after logout is a violation.
	Probe SessionProbe
}

// ViolationError describes an observation that breaks the contract.
type ViolationError struct {
	Mode   Mode
	State  State
	Reason string
	Err    error
}

func (v *ViolationError) Error() string {
	msg := fmt.Sprintf("forwarding contract violated (%s/%s): %s", v.Mode, v.State, v.Reason)
	if v.Err != nil {
		msg += ": " + v.Err.Error()
	}
	return msg
}

func (v *ViolationError) Unwrap() error {
	return v.Err
}

// Check returns nil when obs satisfies the contract for the channel's
// current state, a *ViolationError otherwise.
func (c *Contract) Check(ctx context.Context, ch *Channel, obs *Observation) error {
	if ch.Mode() != c.Mode {
		return fmt.Errorf("channel mode '%s' does not match contract mode '%s'", ch.Mode(), c.Mode)
	}

	var err error
	switch c.Mode {
	case ModeDirect:
		err = c.checkDirect(ctx, ch, obs)
	case ModeTunnel:
		err = c.checkTunnel(ctx, ch, obs)
	default:
		return fmt.Errorf("unknown mode '%s'", c.Mode)
	}
	if err != nil {
		return err
	}

	logging.FromContext(ctx).WithField("channel", logrus.Fields{
		"mode":  ch.Mode(),
		"state": ch.State(),
	}).Debug("forwarding contract satisfied")
	return nil
}

func (c *Contract) checkDirect(ctx context.Context, ch *Channel, obs *Observation) error {
	authz, present := obs.Authorization()

	if ch.State() == StateUnauthenticated {
		if present {
			return c.violation(ch, "Authorization header forwarded without a session", nil)
		}
		return nil
	}

	if !present {
		return c.violation(ch, "no Authorization header forwarded", nil)
	}
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, constants.AuthSchemeBearer) {
		return c.violation(ch, fmt.Sprintf("Authorization scheme is not '%s'", constants.AuthSchemeBearer), nil)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return c.violation(ch, "bearer token is empty", nil)
	}
	if c.Verify == nil {
		return fmt.Errorf("contract has no token verifier for mode '%s'", ModeDirect)
	}
	claims, err := c.Verify(ctx, token)
	if err != nil {
		return c.violation(ch, "bearer token does not verify", err)
	}
	if email, _ := claims.Email(); email != ch.Email() {
		return c.violation(ch, fmt.Sprintf("token email '%s' does not match session email '%s'", email, ch.Email()), nil)
	}
	return nil
}

func (c *Contract) checkTunnel(ctx context.Context, ch *Channel, obs *Observation) error {
	name := c.cookieName()
	cookie, present := obs.Cookie(name)

	if ch.State() == StateAuthenticated {
		if !present || !strings.Contains(obs.CookieHeader(), name) {
			return c.violation(ch, fmt.Sprintf("cookie '%s' not forwarded", name), nil)
		}
		return nil
	}

	if !present || cookie.Value == "" {
		return nil
	}
	if c.Probe == nil {
		return c.violation(ch, fmt.Sprintf("cookie '%s' still forwarded after logout", name), nil)
	}
	active, err := c.Probe(ctx, cookie)
	if err != nil {
		return fmt.Errorf("failed to probe session cookie '%s': %w", name, err)
	}
	if active {
		return c.violation(ch, fmt.Sprintf("cookie '%s' still grants a session after logout", name), nil)
	}
	return nil
}

func (c *Contract) cookieName() string {
	if c.CookieName == "" {
		return constants.SessionCookieName
	}
	return c.CookieName
}

func (c *Contract) violation(ch *Channel, reason string, err error) error {
	return &ViolationError{
		Mode:   ch.Mode(),
		State:  ch.State(),
		Reason: reason,
		Err:    err,
	}
}

// Harness observes the echo upstream through the proxy and checks the
// result against Contract.
type Harness struct {
	Contract *Contract
	Client   *http.Client
	EchoURL  string
}

func (h *Harness) Assert(ctx context.Context, ch *Channel) error {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	obs, err := Observe(ctx, client, h.EchoURL)
	if err != nil {
		return err
	}
	return h.Contract.Check(ctx, ch, obs)
}

// NewWhoamiProbe returns a SessionProbe that presents the cookie to
// whoamiURL. 200 means the session is active, 401 and 403 mean it is not.
func NewWhoamiProbe(client *http.Client, whoamiURL string) SessionProbe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, cookie *http.Cookie) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, whoamiURL, nil)
		if err != nil {
			return false, fmt.Errorf("failed to create request for '%s': %w", whoamiURL, err)
		}
		req.Header.Set("Accept", "application/json")
		req.AddCookie(cookie)

		resp, err := client.Do(req)
		if err != nil {
			return false, fmt.Errorf("failed to request '%s': %w", whoamiURL, err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			return true, nil
		case http.StatusUnauthorized, http.StatusForbidden:
			return false, nil
		default:
			return false, fmt.Errorf("unexpected status code %d from '%s'", resp.StatusCode, whoamiURL)
		}
	}
}
