package constants

const (
	SessionProxyE2E = "session-proxy-e2e"

	// Cookie carrying the session when the proxy is reached through a tunnel.
	SessionCookieName = "ory_session_playground"

	HeaderAuthorization = "Authorization"
	HeaderCookie        = "Cookie"
	AuthSchemeBearer    = "bearer"

	PathProxyJWKS = "/.ory/proxy/jwks.json"
	PathProxyMint = "/.ory/proxy/mint"
	PathVerify    = "/verify"
	PathWhoami    = "/sessions/whoami"
	PathEcho      = "/anything"

	ClaimSession = "session"
)
