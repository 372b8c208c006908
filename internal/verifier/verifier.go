package verifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/sirupsen/logrus"

	"github.com/matheuscscp/session-proxy-e2e/internal/logging"
)

const algNone = "none"

// KeyResolverFunc returns the public key identified by kid.
type KeyResolverFunc func(ctx context.Context, kid string) (jwk.Key, error)

// Verifier checks compact JWS session tokens. It holds no state between
// calls and is safe for concurrent use.
type Verifier struct {
	nowFunc   func() time.Time
	clockSkew time.Duration
	algorithm string
}

type Option func(*Verifier)

func WithNowFunc(f func() time.Time) Option {
	return func(v *Verifier) {
		v.nowFunc = f
	}
}

func WithClockSkew(d time.Duration) Option {
	return func(v *Verifier) {
		v.clockSkew = d
	}
}

// WithAlgorithm pins the accepted signature algorithm. Without it the
// algorithm declared in the token header is used.
func WithAlgorithm(alg string) Option {
	return func(v *Verifier) {
		v.algorithm = alg
	}
}

func New(opts ...Option) *Verifier {
	v := &Verifier{nowFunc: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

type header struct {
	keyID     string
	algorithm jwa.SignatureAlgorithm
}

// segments holds the three parts of a compact token as they appear on the
// wire.
type segments struct {
	header    string
	payload   string
	signature string
}

// Verify parses the token header, resolves the signing key through
// resolve, checks the signature and the validity window, and returns the
// decoded claims.
func (v *Verifier) Verify(ctx context.Context, token string, resolve KeyResolverFunc) (Claims, error) {
	segs, err := splitToken(token)
	if err != nil {
		return nil, newError(ErrCodeMalformed, err)
	}
	hdr, err := parseHeader(segs.header)
	if err != nil {
		return nil, newError(ErrCodeMalformed, err)
	}
	if _, err := base64.RawURLEncoding.DecodeString(segs.payload); err != nil {
		return nil, newError(ErrCodeMalformed, fmt.Errorf("failed to decode payload: %w", err))
	}

	key, err := resolve(ctx, hdr.keyID)
	if err != nil {
		return nil, newError(ErrCodeKeyResolutionFailed, err)
	}
	if key == nil {
		return nil, newError(ErrCodeKeyResolutionFailed, fmt.Errorf("no key returned for kid '%s'", hdr.keyID))
	}

	alg := hdr.algorithm.String()
	if alg == algNone {
		return nil, newError(ErrCodeBadSignature, fmt.Errorf("unsigned tokens are not accepted"))
	}
	if v.algorithm != "" && alg != v.algorithm {
		return nil, newError(ErrCodeBadSignature, fmt.Errorf("algorithm '%s' does not match expected '%s'", alg, v.algorithm))
	}
	if err := checkSignatureEncoding(segs.signature); err != nil {
		return nil, newError(ErrCodeBadSignature, err)
	}

	payload, err := jws.Verify([]byte(token), jws.WithKey(hdr.algorithm, key))
	if err != nil {
		return nil, newError(ErrCodeBadSignature, err)
	}

	tok, err := jwt.ParseInsecure([]byte(token))
	if err != nil {
		return nil, newError(ErrCodeMalformed, fmt.Errorf("failed to parse claims: %w", err))
	}
	now := v.nowFunc()
	if exp, ok := tok.Expiration(); ok && !now.Before(exp.Add(v.clockSkew)) {
		return nil, newError(ErrCodeExpired, fmt.Errorf("token expired at %s", exp.UTC().Format(time.RFC3339)))
	}
	if nbf, ok := tok.NotBefore(); ok && now.Add(v.clockSkew).Before(nbf) {
		return nil, newError(ErrCodeExpired, fmt.Errorf("token not valid before %s", nbf.UTC().Format(time.RFC3339)))
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil || claims == nil {
		return nil, newError(ErrCodeMalformed, fmt.Errorf("payload is not a JSON object"))
	}

	logging.FromContext(ctx).WithField("token", logrus.Fields{
		jwk.KeyIDKey: hdr.keyID,
		"alg":        alg,
	}).Debug("token verified")

	return claims, nil
}

func splitToken(token string) (*segments, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected three dot-separated parts but got %d", len(parts))
	}
	return &segments{header: parts[0], payload: parts[1], signature: parts[2]}, nil
}

func parseHeader(segment string) (*header, error) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	headers := jws.NewHeaders()
	if err := json.Unmarshal(raw, headers); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	alg, ok := headers.Algorithm()
	if !ok {
		return nil, fmt.Errorf("token header has no 'alg'")
	}
	kid, _ := headers.KeyID()

	return &header{keyID: kid, algorithm: alg}, nil
}

// checkSignatureEncoding accepts only the canonical unpadded base64url form
// of the signature. jws decodes it leniently, ignoring trailing bits and
// line breaks.
func checkSignatureEncoding(segment string) error {
	if strings.ContainsAny(segment, "\r\n") {
		return fmt.Errorf("signature contains line breaks")
	}
	if _, err := base64.RawURLEncoding.Strict().DecodeString(segment); err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}
	return nil
}
