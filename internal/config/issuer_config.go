package config

import (
	"fmt"
	"net/url"

	"github.com/matheuscscp/session-proxy-e2e/internal/constants"
)

// IssuerConfig points at the proxy publishing the session key set.
type IssuerConfig struct {
	BaseURL  string `yaml:"baseURL" json:"baseURL"`
	JWKSPath string `yaml:"jwksPath" json:"jwksPath"`
}

func (i *IssuerConfig) applyDefaults() {
	if i.JWKSPath == "" {
		i.JWKSPath = constants.PathProxyJWKS
	}
}

func (i *IssuerConfig) validate() error {
	if i.BaseURL == "" {
		return fmt.Errorf("issuer.baseURL must be set")
	}
	u, err := url.Parse(i.BaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse issuer.baseURL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("issuer.baseURL must be an http or https URL")
	}
	return nil
}

// JWKSURL is the key-set endpoint: BaseURL joined with JWKSPath.
func (i *IssuerConfig) JWKSURL() (*url.URL, error) {
	return joinURL(i.BaseURL, i.JWKSPath)
}

func joinURL(base, path string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL '%s': %w", base, err)
	}
	return u.JoinPath(path), nil
}
