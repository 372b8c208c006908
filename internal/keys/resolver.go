package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/sirupsen/logrus"

	"github.com/matheuscscp/session-proxy-e2e/internal/logging"
)

const (
	DefaultMaxBytes = 1 << 20

	cacheMaxEntries = 1000

	// SourceCertificate marks keys taken from the record's x5c leaf certificate.
	SourceCertificate = "certificate"
	// SourceMaterial marks keys synthesized from the record's key parameters.
	SourceMaterial = "material"
)

// PublicKey is a resolved verification key.
type PublicKey struct {
	Key    jwk.Key
	Raw    crypto.PublicKey
	Source string
}

// Resolver looks up public keys by kid in a remote key set. Without
// WithCacheTTL every call fetches the key set again.
type Resolver struct {
	client   *http.Client
	maxBytes int64
	cacheTTL time.Duration
	nowFunc  func() time.Time

	cache         map[cacheKey]cacheEntry
	evictionQueue []cacheKey
	mu            sync.Mutex
}

type Option func(*Resolver)

type keyRecord struct {
	keyID string
	x5c   []string
	raw   json.RawMessage
}

type cacheKey struct {
	endpoint string
	keyID    string
}

type cacheEntry struct {
	key      *PublicKey
	deadline time.Time
}

func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.client = c
	}
}

// WithMaxBytes limits the size of the key set document.
func WithMaxBytes(n int64) Option {
	return func(r *Resolver) {
		r.maxBytes = n
	}
}

// WithCacheTTL keeps resolved keys for ttl. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cacheTTL = ttl
	}
}

func WithNowFunc(f func() time.Time) Option {
	return func(r *Resolver) {
		r.nowFunc = f
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client:   http.DefaultClient,
		maxBytes: DefaultMaxBytes,
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.cacheTTL > 0 {
		r.cache = make(map[cacheKey]cacheEntry)
	}
	return r
}

// ResolveKey fetches the key set published at endpoint and returns the
// public key of the first record whose kid matches. An empty kid selects
// the first record.
func (r *Resolver) ResolveKey(ctx context.Context, kid string, endpoint *url.URL) (*PublicKey, error) {
	if endpoint == nil {
		return nil, newError(ErrCodeFetchFailed, kid, fmt.Errorf("key set endpoint is not set"))
	}

	if pk, ok := r.cached(endpoint, kid); ok {
		return pk, nil
	}

	records, err := r.fetch(ctx, endpoint)
	if err != nil {
		return nil, newError(ErrCodeFetchFailed, kid, err)
	}

	rec, ok := findRecord(records, kid)
	if !ok {
		return nil, newError(ErrCodeKeyNotFound, kid, nil)
	}

	pk, err := publicKeyFromRecord(rec)
	if err != nil {
		return nil, newError(ErrCodeUnusableKey, kid, err)
	}

	r.store(endpoint, kid, pk)

	logging.FromContext(ctx).WithField("key", logrus.Fields{
		jwk.KeyIDKey: rec.keyID,
		"source":     pk.Source,
		"endpoint":   endpoint.String(),
	}).Debug("key resolved")

	return pk, nil
}

// KeyFunc binds the resolver to endpoint for injection into the verifier.
func (r *Resolver) KeyFunc(endpoint *url.URL) func(ctx context.Context, kid string) (jwk.Key, error) {
	return func(ctx context.Context, kid string) (jwk.Key, error) {
		pk, err := r.ResolveKey(ctx, kid, endpoint)
		if err != nil {
			return nil, err
		}
		return pk.Key, nil
	}
}

func (r *Resolver) fetch(ctx context.Context, endpoint *url.URL) ([]keyRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for '%s': %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request key set from '%s': %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expected status code 200 but got %d when fetching '%s'", resp.StatusCode, endpoint)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read key set from '%s': %w", endpoint, err)
	}
	if int64(len(b)) > r.maxBytes {
		return nil, fmt.Errorf("key set document exceeds maximum of %d bytes", r.maxBytes)
	}

	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode key set: %w", err)
	}
	if doc.Keys == nil {
		return nil, fmt.Errorf("key set document has no 'keys' member")
	}

	records := make([]keyRecord, 0, len(doc.Keys))
	for i, raw := range doc.Keys {
		var hdr struct {
			KeyID string   `json:"kid"`
			X5C   []string `json:"x5c"`
		}
		if err := json.Unmarshal(raw, &hdr); err != nil {
			return nil, fmt.Errorf("failed to decode keys[%d]: %w", i, err)
		}
		records = append(records, keyRecord{keyID: hdr.KeyID, x5c: hdr.X5C, raw: raw})
	}
	return records, nil
}

func findRecord(records []keyRecord, kid string) (keyRecord, bool) {
	if kid == "" {
		if len(records) == 0 {
			return keyRecord{}, false
		}
		return records[0], true
	}
	for _, rec := range records {
		if rec.keyID == kid {
			return rec, true
		}
	}
	return keyRecord{}, false
}

func publicKeyFromRecord(rec keyRecord) (*PublicKey, error) {
	if len(rec.x5c) > 0 {
		der, err := base64.StdEncoding.DecodeString(rec.x5c[0])
		if err != nil {
			return nil, fmt.Errorf("failed to decode x5c certificate: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse x5c certificate: %w", err)
		}
		if err := checkPublicKeyType(cert.PublicKey); err != nil {
			return nil, err
		}
		key, err := jwk.Import(cert.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to convert certificate key to jwk: %w", err)
		}
		if rec.keyID != "" {
			key.Set(jwk.KeyIDKey, rec.keyID)
		}
		return &PublicKey{Key: key, Raw: cert.PublicKey, Source: SourceCertificate}, nil
	}

	parsed, err := jwk.ParseKey(rec.raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key record: %w", err)
	}
	public, err := parsed.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get public key from jwk: %w", err)
	}
	var raw any
	if err := jwk.Export(public, &raw); err != nil {
		return nil, fmt.Errorf("failed to export public key: %w", err)
	}
	if err := checkPublicKeyType(raw); err != nil {
		return nil, err
	}
	return &PublicKey{Key: public, Raw: raw, Source: SourceMaterial}, nil
}

func checkPublicKeyType(raw any) error {
	switch raw.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return nil
	default:
		return fmt.Errorf("unsupported public key type %T", raw)
	}
}

func (r *Resolver) cached(endpoint *url.URL, kid string) (*PublicKey, bool) {
	if r.cache == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := cacheKey{endpoint: endpoint.String(), keyID: kid}
	e, ok := r.cache[k]
	if !ok {
		return nil, false
	}
	if !r.nowFunc().Before(e.deadline) {
		return nil, false
	}
	return e.key, true
}

func (r *Resolver) store(endpoint *url.URL, kid string, pk *PublicKey) {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	k := cacheKey{endpoint: endpoint.String(), keyID: kid}
	if _, ok := r.cache[k]; !ok {
		// Enforce maximum size.
		for len(r.cache) >= cacheMaxEntries && len(r.evictionQueue) > 0 {
			oldest := r.evictionQueue[0]
			r.evictionQueue = r.evictionQueue[1:]
			delete(r.cache, oldest)
		}
		r.evictionQueue = append(r.evictionQueue, k)
	}
	r.cache[k] = cacheEntry{
		key:      pk,
		deadline: r.nowFunc().Add(r.cacheTTL),
	}
}
