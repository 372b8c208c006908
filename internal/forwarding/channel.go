package forwarding

import "fmt"

// Mode is how the browser reaches the proxy.
type Mode string

const (
	// ModeDirect: the proxy injects "Authorization: bearer <token>".
	ModeDirect Mode = "direct"
	// ModeTunnel: the session travels in the session cookie.
	ModeTunnel Mode = "tunnel"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDirect, ModeTunnel:
		return m, nil
	default:
		return "", fmt.Errorf("invalid mode '%s', must be one of [%s, %s]", s, ModeDirect, ModeTunnel)
	}
}

type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
)

func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateUnauthenticated, StateAuthenticated:
		return st, nil
	default:
		return "", fmt.Errorf("invalid state '%s', must be one of [%s, %s]", s, StateUnauthenticated, StateAuthenticated)
	}
}

// Event is a completed identity UI flow.
type Event string

const (
	EventRegister Event = "register"
	EventLogin    Event = "login"
	EventLogout   Event = "logout"
)

// Channel tracks the session state of one browser against the proxy.
type Channel struct {
	mode  Mode
	state State
	email string
}

func NewChannel(mode Mode) *Channel {
	return &Channel{mode: mode, state: StateUnauthenticated}
}

// NewChannelInState builds a channel for observing an already known state,
// e.g. from the command line.
func NewChannelInState(mode Mode, state State, email string) *Channel {
	return &Channel{mode: mode, state: state, email: email}
}

func (c *Channel) Mode() Mode    { return c.mode }
func (c *Channel) State() State  { return c.state }
func (c *Channel) Email() string { return c.email }

// Apply moves the channel through a completed flow. Registration and login
// authenticate, logout ends the session; anything else is rejected.
func (c *Channel) Apply(ev Event, email string) error {
	switch ev {
	case EventRegister, EventLogin:
		if c.state == StateAuthenticated {
			return fmt.Errorf("cannot %s: channel is already authenticated as '%s'", ev, c.email)
		}
		if email == "" {
			return fmt.Errorf("cannot %s: email is empty", ev)
		}
		c.state = StateAuthenticated
		c.email = email
	case EventLogout:
		if c.state != StateAuthenticated {
			return fmt.Errorf("cannot logout: channel is not authenticated")
		}
		c.state = StateUnauthenticated
	default:
		return fmt.Errorf("unknown event '%s'", ev)
	}
	return nil
}
