package config

import (
	"fmt"
	"time"

	"github.com/matheuscscp/session-proxy-e2e/internal/keys"
)

const defaultResolverTimeout = 10 * time.Second

type ResolverConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// CacheTTL of zero fetches the key set on every resolution.
	CacheTTL time.Duration `yaml:"cacheTTL" json:"cacheTTL"`
	MaxBytes int64         `yaml:"maxBytes" json:"maxBytes"`
}

func (r *ResolverConfig) applyDefaults() {
	if r.Timeout == 0 {
		r.Timeout = defaultResolverTimeout
	}
	if r.MaxBytes == 0 {
		r.MaxBytes = keys.DefaultMaxBytes
	}
}

func (r *ResolverConfig) validate() error {
	if r.Timeout < 0 {
		return fmt.Errorf("resolver.timeout must not be negative")
	}
	if r.CacheTTL < 0 {
		return fmt.Errorf("resolver.cacheTTL must not be negative")
	}
	if r.MaxBytes < 0 {
		return fmt.Errorf("resolver.maxBytes must not be negative")
	}
	return nil
}

type VerifierConfig struct {
	// Algorithm pins the accepted signature algorithm when set.
	Algorithm string        `yaml:"algorithm" json:"algorithm"`
	ClockSkew time.Duration `yaml:"clockSkew" json:"clockSkew"`
}

func (v *VerifierConfig) validate() error {
	if v.Algorithm == "none" {
		return fmt.Errorf("verifier.algorithm must not be 'none'")
	}
	if v.ClockSkew < 0 {
		return fmt.Errorf("verifier.clockSkew must not be negative")
	}
	return nil
}
