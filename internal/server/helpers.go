package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/matheuscscp/session-proxy-e2e/internal/constants"
	"github.com/matheuscscp/session-proxy-e2e/internal/keys"
	"github.com/matheuscscp/session-proxy-e2e/internal/logging"
)

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get(constants.HeaderAuthorization), " ")
	if !ok || !strings.EqualFold(scheme, constants.AuthSchemeBearer) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondWWWAuthenticate(w http.ResponseWriter, r *http.Request, code string, err error) {
	wwwAuthenticate := fmt.Sprintf(`Bearer realm="%s", error="invalid_token", error_description="%s"`,
		constants.SessionProxyE2E, code)
	w.Header().Set("WWW-Authenticate", wwwAuthenticate)
	body := map[string]any{"error": code}
	if keyCode := keys.CodeOf(err); keyCode != "" {
		body["key_error"] = keyCode
	}
	respondJSON(w, r, http.StatusUnauthorized, body)
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromRequest(r).WithError(err).Error("failed to write response")
	}
}
