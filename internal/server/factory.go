package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matheuscscp/session-proxy-e2e/internal/config"
	"github.com/matheuscscp/session-proxy-e2e/internal/issuer"
	"github.com/matheuscscp/session-proxy-e2e/internal/keys"
	"github.com/matheuscscp/session-proxy-e2e/internal/verifier"
)

func New(conf *config.Config) (*http.Server, error) {
	return newFromConfig(conf, prometheus.DefaultRegisterer, prometheus.DefaultGatherer, time.Now)
}

func newFromConfig(conf *config.Config, promRegisterer prometheus.Registerer,
	promGatherer prometheus.Gatherer, nowFunc func() time.Time) (*http.Server, error) {

	endpoint, err := conf.Issuer.JWKSURL()
	if err != nil {
		return nil, fmt.Errorf("failed to build key set URL: %w", err)
	}

	m := newMetrics(promRegisterer)
	resolver := NewResolver(conf, m.instrument(http.DefaultTransport), nowFunc)
	v := NewVerifier(conf, nowFunc)

	var devIssuer issuer.Issuer
	if conf.Server.DevIssuer {
		devIssuer = issuer.New()
	}

	api := newAPI(conf, v, resolver.KeyFunc(endpoint), devIssuer, m.verifyResults, nowFunc)
	return newServer(conf, api, promRegisterer, promGatherer), nil
}

// NewResolver builds a key resolver from the resolver section of conf.
func NewResolver(conf *config.Config, transport http.RoundTripper, nowFunc func() time.Time) *keys.Resolver {
	client := &http.Client{
		Timeout:   conf.Resolver.Timeout,
		Transport: transport,
	}
	return keys.NewResolver(
		keys.WithHTTPClient(client),
		keys.WithMaxBytes(conf.Resolver.MaxBytes),
		keys.WithCacheTTL(conf.Resolver.CacheTTL),
		keys.WithNowFunc(nowFunc),
	)
}

// NewVerifier builds a token verifier from the verifier section of conf.
func NewVerifier(conf *config.Config, nowFunc func() time.Time) *verifier.Verifier {
	return verifier.New(
		verifier.WithAlgorithm(conf.Verifier.Algorithm),
		verifier.WithClockSkew(conf.Verifier.ClockSkew),
		verifier.WithNowFunc(nowFunc),
	)
}
