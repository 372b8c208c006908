package verifier

import "github.com/matheuscscp/session-proxy-e2e/internal/constants"

// Claims is the decoded payload of a verified token.
type Claims map[string]any

// Email returns session.identity.traits.email.
func (c Claims) Email() (string, bool) {
	return c.stringAt(constants.ClaimSession, "identity", "traits", "email")
}

// IdentityID returns session.identity.id.
func (c Claims) IdentityID() (string, bool) {
	return c.stringAt(constants.ClaimSession, "identity", "id")
}

func (c Claims) Subject() (string, bool) {
	return c.stringAt("sub")
}

func (c Claims) stringAt(path ...string) (string, bool) {
	var cur any = map[string]any(c)
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		if cur, ok = m[p]; !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}
