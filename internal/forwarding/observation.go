package forwarding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/matheuscscp/session-proxy-e2e/internal/constants"
	"github.com/matheuscscp/session-proxy-e2e/internal/logging"
)

const maxEchoBytes = 1 << 20

// Observation holds the request headers the upstream echo app received.
type Observation struct {
	Headers http.Header
}

// DecodeObservation reads an echo report of the form
// {"headers": {"Name": "value" | ["value", ...]}}.
func DecodeObservation(r io.Reader) (*Observation, error) {
	var report struct {
		Headers map[string]json.RawMessage `json:"headers"`
	}
	if err := json.NewDecoder(io.LimitReader(r, maxEchoBytes)).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode echo report: %w", err)
	}
	if report.Headers == nil {
		return nil, fmt.Errorf("echo report has no 'headers' member")
	}

	h := make(http.Header, len(report.Headers))
	for name, raw := range report.Headers {
		var one string
		if err := json.Unmarshal(raw, &one); err == nil {
			h.Add(name, one)
			continue
		}
		var many []string
		if err := json.Unmarshal(raw, &many); err != nil {
			return nil, fmt.Errorf("header '%s' is neither a string nor a list of strings", name)
		}
		for _, v := range many {
			h.Add(name, v)
		}
	}
	return &Observation{Headers: h}, nil
}

// Observe requests target with client and decodes the echo report.
func Observe(ctx context.Context, client *http.Client, target string) (*Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for '%s': %w", target, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request '%s': %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expected status code 200 but got %d from '%s'", resp.StatusCode, target)
	}

	obs, err := DecodeObservation(resp.Body)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).WithField("target", target).Debug("echo observed")
	return obs, nil
}

// Authorization reports whether an Authorization header was received at
// all, and its first value.
func (o *Observation) Authorization() (string, bool) {
	vals, ok := o.Headers[http.CanonicalHeaderKey(constants.HeaderAuthorization)]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// CookieHeader joins every Cookie header line received.
func (o *Observation) CookieHeader() string {
	return strings.Join(o.Headers.Values(constants.HeaderCookie), "; ")
}

// Cookie returns the named cookie if it was received.
func (o *Observation) Cookie(name string) (*http.Cookie, bool) {
	r := &http.Request{Header: http.Header{
		http.CanonicalHeaderKey(constants.HeaderCookie): o.Headers.Values(constants.HeaderCookie),
	}}
	c, err := r.Cookie(name)
	if err != nil {
		return nil, false
	}
	return c, true
}
