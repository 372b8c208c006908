package issuer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/matheuscscp/session-proxy-e2e/internal/constants"
)

// tokenDuration matches the lifetime of the tokens the proxy injects.
const tokenDuration = time.Minute

func Algorithm() jwa.SignatureAlgorithm { return jwa.RS256() }

type Traits struct {
	Email string `json:"email"`
}

type Identity struct {
	ID     string `json:"id"`
	Traits Traits `json:"traits"`
}

// Session is embedded in minted tokens under the "session" claim.
type Session struct {
	ID       string   `json:"id"`
	Active   bool     `json:"active"`
	Identity Identity `json:"identity"`
}

func NewSession(email string) *Session {
	return &Session{
		ID:     uuid.NewString(),
		Active: true,
		Identity: Identity{
			ID:     uuid.NewString(),
			Traits: Traits{Email: email},
		},
	}
}

// Issuer mints session tokens signed with a rotating RSA key.
type Issuer interface {
	Issue(iss string, s *Session, now time.Time) (*oauth2.Token, error)
	PublicKeys(now time.Time) []jwk.Key
	LookupKey(kid string, now time.Time) (jwk.Key, bool)
}

type tokenIssuer struct{ keySource }

func New() Issuer {
	return &tokenIssuer{&rotatingKeySource{}}
}

func (t *tokenIssuer) Issue(iss string, s *Session, now time.Time) (*oauth2.Token, error) {
	if s == nil {
		return nil, fmt.Errorf("session is nil")
	}

	cur, err := t.current(now)
	if err != nil {
		return nil, fmt.Errorf("failed to get current signing key: %w", err)
	}
	keyID, ok := cur.KeyID()
	if !ok {
		return nil, fmt.Errorf("signing key has no key ID")
	}

	exp := now.Add(tokenDuration)
	tok, err := jwt.NewBuilder().
		Issuer(iss).
		Subject(s.Identity.ID).
		Expiration(exp).
		NotBefore(now).
		IssuedAt(now).
		JwtID(uuid.NewString()).
		Claim(constants.ClaimSession, s).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build token: %w", err)
	}

	b, err := jwt.Sign(tok, jwt.WithKey(Algorithm(), cur))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	logrus.WithField("token", logrus.Fields{
		jwk.KeyIDKey: keyID,
		"sub":        s.Identity.ID,
		"session":    s.ID,
		"exp":        exp,
	}).Info("session token issued")

	return &oauth2.Token{
		AccessToken: string(b),
		TokenType:   "Bearer",
		Expiry:      exp,
		ExpiresIn:   int64(exp.Sub(now).Seconds()),
	}, nil
}

func (t *tokenIssuer) PublicKeys(now time.Time) []jwk.Key {
	return t.publicKeys(now)
}

func (t *tokenIssuer) LookupKey(kid string, now time.Time) (jwk.Key, bool) {
	for _, k := range t.publicKeys(now) {
		if id, ok := k.KeyID(); ok && id == kid {
			return k, true
		}
	}
	return nil, false
}
