package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigFile = "/etc/session-proxy-e2e/config/config.yaml"

	EnvConfigFile = "SESSION_PROXY_E2E_CONFIG"
)

type Config struct {
	Issuer   IssuerConfig   `yaml:"issuer" json:"issuer"`
	Harness  HarnessConfig  `yaml:"harness" json:"harness"`
	Resolver ResolverConfig `yaml:"resolver" json:"resolver"`
	Verifier VerifierConfig `yaml:"verifier" json:"verifier"`
	Server   ServerConfig   `yaml:"server" json:"server"`
}

// Load reads the YAML file at fileName. An empty fileName falls back to
// SESSION_PROXY_E2E_CONFIG and then to the default location.
func Load(fileName string) (*Config, error) {
	if fileName == "" {
		fileName = defaultConfigFile
		if fn := os.Getenv(EnvConfigFile); fn != "" {
			fileName = fn
		}
	}
	var cfg Config
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file '%s': %w", fileName, err)
	}
	if err := cfg.ValidateAndInitialize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ValidateAndInitialize() error {
	// Apply defaults.
	c.Issuer.applyDefaults()
	c.Harness.applyDefaults()
	c.Resolver.applyDefaults()
	c.Server.applyDefaults()

	// Validate.
	if err := c.Issuer.validate(); err != nil {
		return err
	}
	if err := c.Harness.validate(); err != nil {
		return err
	}
	if err := c.Resolver.validate(); err != nil {
		return err
	}
	if err := c.Verifier.validate(); err != nil {
		return err
	}
	return nil
}
