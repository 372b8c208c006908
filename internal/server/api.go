package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matheuscscp/session-proxy-e2e/internal/config"
	"github.com/matheuscscp/session-proxy-e2e/internal/constants"
	"github.com/matheuscscp/session-proxy-e2e/internal/issuer"
	"github.com/matheuscscp/session-proxy-e2e/internal/logging"
	"github.com/matheuscscp/session-proxy-e2e/internal/verifier"
)

const (
	resultValid        = "valid"
	resultMissingToken = "missing_token"
	resultError        = "error"
)

// newAPI serves token verification and, when devIssuer is not nil, a local
// key set and mint endpoint.
func newAPI(conf *config.Config, v *verifier.Verifier, resolve verifier.KeyResolverFunc,
	devIssuer issuer.Issuer, results *prometheus.CounterVec, nowFunc func() time.Time) http.Handler {

	mux := http.NewServeMux()

	mux.HandleFunc(constants.PathVerify, func(w http.ResponseWriter, r *http.Request) {
		l := logging.FromRequest(r)

		token, ok := bearerToken(r)
		if !ok {
			results.WithLabelValues(resultMissingToken).Inc()
			respondWWWAuthenticate(w, r, resultMissingToken, nil)
			return
		}

		claims, err := v.Verify(r.Context(), token, resolve)
		if err != nil {
			code := string(verifier.CodeOf(err))
			if code == "" {
				code = resultError
			}
			l.WithError(err).WithField("code", code).Info("token rejected")
			results.WithLabelValues(code).Inc()
			respondWWWAuthenticate(w, r, code, err)
			return
		}

		results.WithLabelValues(resultValid).Inc()
		email, _ := claims.Email()
		l.WithField("email", email).Debug("token accepted")
		respondJSON(w, r, http.StatusOK, map[string]any{
			"claims": claims,
			"email":  email,
		})
	})

	if devIssuer == nil {
		return mux
	}

	mux.HandleFunc(constants.PathProxyJWKS, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, r, http.StatusOK, map[string]any{
			"keys": devIssuer.PublicKeys(nowFunc()),
		})
	})

	mux.HandleFunc(constants.PathProxyMint, func(w http.ResponseWriter, r *http.Request) {
		l := logging.FromRequest(r)

		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			l.WithError(err).Error("failed to parse request body as JSON")
			http.Error(w, "Failed to parse request body as JSON", http.StatusBadRequest)
			return
		}
		if req.Email == "" {
			http.Error(w, "Email must be set", http.StatusBadRequest)
			return
		}

		tok, err := devIssuer.Issue(conf.Issuer.BaseURL, issuer.NewSession(req.Email), nowFunc())
		if err != nil {
			l.WithError(err).Error("failed to issue token")
			http.Error(w, "Failed to issue token", http.StatusInternalServerError)
			return
		}
		respondJSON(w, r, http.StatusOK, map[string]any{
			"access_token": tok.AccessToken,
			"token_type":   tok.TokenType,
			"expires_in":   tok.ExpiresIn,
		})
	})

	return mux
}
