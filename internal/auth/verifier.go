package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/sebastianruiz9504/calculadora/internal/common"
)

// Verifier checks bearer tokens issued by the corporate identity provider and
// maps their claims onto a common.Identity.
type Verifier struct {
	secret    []byte
	keys      jwk.Set
	validator TokenValidator
	now       func() time.Time
}

// Options configures token validation.
type Options struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Now       func() time.Time
}

// NewSecretVerifier validates HS256 tokens signed with a shared secret.
func NewSecretVerifier(secret string, opts Options) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: secret is required")
	}
	return newVerifier(opts, []jwa.SignatureAlgorithm{jwa.HS256}, []byte(secret), nil), nil
}

// NewJWKSVerifier validates RS256 tokens against a remote key set that is kept
// fresh in the background.
func NewJWKSVerifier(ctx context.Context, jwksURL string, opts Options) (*Verifier, error) {
	if strings.TrimSpace(jwksURL) == "" {
		return nil, errors.New("auth: jwks url is required")
	}
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("auth: register jwks: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("auth: fetch jwks: %w", err)
	}
	return newVerifier(opts, []jwa.SignatureAlgorithm{jwa.RS256}, nil, jwk.NewCachedSet(cache, jwksURL)), nil
}

func newVerifier(opts Options, algs []jwa.SignatureAlgorithm, secret []byte, keys jwk.Set) *Verifier {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		secret: secret,
		keys:   keys,
		validator: TokenValidator{
			Issuer:     opts.Issuer,
			Audience:   opts.Audience,
			ClockSkew:  opts.ClockSkew,
			Algorithms: algs,
		},
		now: now,
	}
}

// Verify parses and validates the token and returns the caller identity. The
// directory object id comes from the oid claim, falling back to sub.
func (v *Verifier) Verify(token string) (common.Identity, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return common.Identity{}, unauthorized("missing token", nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return common.Identity{}, unauthorized("invalid token", err)
	}

	var keyOpt jwt.ParseOption
	if v.keys != nil {
		keyOpt = jwt.WithKeySet(v.keys, jws.WithInferAlgorithmFromKey(true))
	} else {
		keyOpt = jwt.WithKey(algorithm, v.secret)
	}
	parsed, err := jwt.ParseString(trimmed, keyOpt, jwt.WithValidate(false))
	if err != nil {
		return common.Identity{}, unauthorized("invalid token", err)
	}
	if err := v.validator.Validate(parsed, algorithm, v.now()); err != nil {
		return common.Identity{}, unauthorized("invalid token", err)
	}

	id := common.Identity{
		ObjectID: stringClaim(parsed, "oid"),
		Name:     stringClaim(parsed, "name"),
		Email:    firstNonEmpty(stringClaim(parsed, "preferred_username"), stringClaim(parsed, "email"), stringClaim(parsed, "upn")),
	}
	if id.ObjectID == "" {
		id.ObjectID = strings.TrimSpace(parsed.Subject())
	}
	if id.ObjectID == "" {
		return common.Identity{}, unauthorized("token has no subject", nil)
	}
	return id, nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: expected exactly one signature")
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	switch alg {
	case "":
		return "", errors.New("auth: token missing algorithm")
	case jwa.NoSignature:
		return "", errors.New("auth: token uses none algorithm")
	}
	return alg, nil
}

func stringClaim(tok jwt.Token, name string) string {
	raw, ok := tok.Get(name)
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return strings.TrimSpace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func unauthorized(message string, err error) *common.AppError {
	return common.NewAppError("UNAUTHORIZED", message, http.StatusUnauthorized, err)
}
