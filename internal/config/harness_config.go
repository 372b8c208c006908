package config

import (
	"fmt"
	"net/url"

	"github.com/matheuscscp/session-proxy-e2e/internal/constants"
	"github.com/matheuscscp/session-proxy-e2e/internal/forwarding"
)

// HarnessConfig describes how the check command reaches the upstream echo
// app through the proxy.
type HarnessConfig struct {
	Mode          string `yaml:"mode" json:"mode"`
	ProxyURL      string `yaml:"proxyURL" json:"proxyURL"`
	EchoPath      string `yaml:"echoPath" json:"echoPath"`
	SessionCookie string `yaml:"sessionCookie" json:"sessionCookie"`
	// WhoamiPath enables the session probe for logged out tunnel sessions.
	WhoamiPath string `yaml:"whoamiPath" json:"whoamiPath"`
}

func (h *HarnessConfig) applyDefaults() {
	if h.Mode == "" {
		h.Mode = string(forwarding.ModeDirect)
	}
	if h.EchoPath == "" {
		h.EchoPath = constants.PathEcho
	}
	if h.SessionCookie == "" {
		h.SessionCookie = constants.SessionCookieName
	}
}

func (h *HarnessConfig) validate() error {
	if _, err := forwarding.ParseMode(h.Mode); err != nil {
		return fmt.Errorf("harness.mode: %w", err)
	}
	return nil
}

func (h *HarnessConfig) ParsedMode() forwarding.Mode {
	m, _ := forwarding.ParseMode(h.Mode)
	return m
}

func (h *HarnessConfig) EchoURL() (*url.URL, error) {
	if h.ProxyURL == "" {
		return nil, fmt.Errorf("harness.proxyURL must be set")
	}
	return joinURL(h.ProxyURL, h.EchoPath)
}

// WhoamiURL returns nil when no probe is configured.
func (h *HarnessConfig) WhoamiURL() (*url.URL, error) {
	if h.WhoamiPath == "" {
		return nil, nil
	}
	if h.ProxyURL == "" {
		return nil, fmt.Errorf("harness.proxyURL must be set")
	}
	return joinURL(h.ProxyURL, h.WhoamiPath)
}
