package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/matheuscscp/session-proxy-e2e/internal/config"
	"github.com/matheuscscp/session-proxy-e2e/internal/keys"
	"github.com/matheuscscp/session-proxy-e2e/internal/server"
	"github.com/matheuscscp/session-proxy-e2e/internal/verifier"
)

// verification binds the configured resolver and verifier to the key-set
// endpoint.
type verification struct {
	resolver *keys.Resolver
	verifier *verifier.Verifier
	endpoint *url.URL
}

func newVerification(conf *config.Config) (*verification, error) {
	endpoint, err := conf.Issuer.JWKSURL()
	if err != nil {
		return nil, fmt.Errorf("building key set URL: %w", err)
	}
	return &verification{
		resolver: server.NewResolver(conf, http.DefaultTransport, time.Now),
		verifier: server.NewVerifier(conf, time.Now),
		endpoint: endpoint,
	}, nil
}

func (v *verification) verify(ctx context.Context, token string) (verifier.Claims, error) {
	return v.verifier.Verify(ctx, token, v.resolver.KeyFunc(v.endpoint))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
