package issuer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/sirupsen/logrus"
)

// keyLifetime is how long a signing key mints tokens before rotation.
const keyLifetime = time.Hour

type keySource interface {
	current(now time.Time) (jwk.Key, error)
	publicKeys(now time.Time) []jwk.Key
}

type signingKey struct {
	private  jwk.Key
	public   jwk.Key
	deadline time.Time
}

func (s *signingKey) expiredForSigning(now time.Time) bool {
	return s == nil || s.deadline.Before(now)
}

// Tokens minted right before rotation stay verifiable until they expire.
func (s *signingKey) expiredForVerifying(now time.Time) bool {
	return s == nil || s.deadline.Add(tokenDuration).Before(now)
}

type rotatingKeySource struct {
	cur  *signingKey
	prev *signingKey
	mu   sync.RWMutex
}

func (a *rotatingKeySource) current(now time.Time) (jwk.Key, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cur.expiredForSigning(now) {
		cur, err := generateSigningKey(now)
		if err != nil {
			return nil, err
		}
		a.prev = a.cur
		a.cur = cur
	}

	return a.cur.private, nil
}

func (a *rotatingKeySource) publicKeys(now time.Time) []jwk.Key {
	a.mu.RLock()
	cur, prev := a.cur, a.prev
	a.mu.RUnlock()

	var keys []jwk.Key
	if !cur.expiredForVerifying(now) {
		keys = append(keys, cur.public)
	}
	if !prev.expiredForVerifying(now) {
		keys = append(keys, prev.public)
	}
	return keys
}

func generateSigningKey(now time.Time) (*signingKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}

	private, public, err := importKeyPair(priv)
	if err != nil {
		return nil, err
	}

	deadline := now.Add(keyLifetime)
	keyID, _ := public.KeyID()
	logrus.WithField("key", logrus.Fields{
		jwk.KeyIDKey: keyID,
		"deadline":   deadline,
	}).Info("signing key generated")

	return &signingKey{
		private:  private,
		public:   public,
		deadline: deadline,
	}, nil
}

// importKeyPair converts priv into a private/public JWK pair sharing a
// thumbprint-derived kid.
func importKeyPair(priv crypto.Signer) (jwk.Key, jwk.Key, error) {
	private, err := jwk.Import(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert private key to jwk: %w", err)
	}

	public, err := private.PublicKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get public key from jwk: %w", err)
	}

	thumbprint, err := public.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get thumbprint from public key: %w", err)
	}

	keyID := fmt.Sprintf("%x", thumbprint)
	private.Set(jwk.KeyIDKey, keyID)
	public.Set(jwk.KeyIDKey, keyID)
	return private, public, nil
}
