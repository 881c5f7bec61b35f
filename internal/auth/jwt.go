// AngelaMos | 2026
// jwt.go

package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/storywork/storywork-api/internal/config"
	"github.com/storywork/storywork-api/internal/core"
	"github.com/storywork/storywork-api/internal/middleware"
)

const jwksRefreshInterval = time.Hour

// Verifier checks session tokens issued by the identity provider.
type Verifier struct {
	mu        sync.RWMutex
	keys      jwk.Set
	fetchedAt time.Time
	config    config.IdentityConfig
}

func NewVerifier(
	ctx context.Context,
	cfg config.IdentityConfig,
) (*Verifier, error) {
	if cfg.JWKSURL != "" {
		keys, err := jwk.Fetch(ctx, cfg.JWKSURL)
		if err != nil {
			return nil, fmt.Errorf("fetch jwks: %w", err)
		}
		return &Verifier{keys: keys, fetchedAt: time.Now(), config: cfg}, nil
	}

	publicKeyPEM, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}

	publicKey, err := jwk.ParseKey(publicKeyPEM, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	if _, err := prepareKey(publicKey, cfg.Algorithm); err != nil {
		return nil, err
	}

	keys := jwk.NewSet()
	if err := keys.AddKey(publicKey); err != nil {
		return nil, fmt.Errorf("add key to set: %w", err)
	}

	return NewVerifierFromKeySet(keys, cfg), nil
}

func NewVerifierFromKeySet(keys jwk.Set, cfg config.IdentityConfig) *Verifier {
	return &Verifier{keys: keys, fetchedAt: time.Now(), config: cfg}
}

func (v *Verifier) VerifyAccessToken(
	ctx context.Context,
	tokenString string,
) (*middleware.Identity, error) {
	opts := []jwt.ParseOption{
		jwt.WithKeySet(v.keySet(ctx)),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(30 * time.Second),
	}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.config.Audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		if isTokenExpiredError(err) {
			return nil, fmt.Errorf("verify token: %w", core.ErrTokenExpired)
		}
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenInvalid)
	}

	subject, ok := token.Subject()
	if !ok || subject == "" {
		return nil, fmt.Errorf(
			"verify token: missing subject: %w",
			core.ErrTokenInvalid,
		)
	}

	identity := &middleware.Identity{
		ExternalID: subject,
		Role:       "user",
	}

	var email string
	if err := token.Get("email", &email); err == nil {
		identity.Email = strings.ToLower(strings.TrimSpace(email))
	}

	var verified bool
	if err := token.Get("email_verified", &verified); err == nil {
		identity.EmailVerified = verified
	}

	var firstName string
	if err := token.Get("first_name", &firstName); err == nil {
		identity.FirstName = firstName
	}

	var role string
	if err := token.Get("role", &role); err == nil && role != "" {
		identity.Role = role
	}

	return identity, nil
}

// keySet refreshes a remote JWKS at most once per interval. A failed
// refresh keeps serving the previous keys.
func (v *Verifier) keySet(ctx context.Context) jwk.Set {
	v.mu.RLock()
	keys, fetchedAt := v.keys, v.fetchedAt
	v.mu.RUnlock()

	if v.config.JWKSURL == "" || time.Since(fetchedAt) < jwksRefreshInterval {
		return keys
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if time.Since(v.fetchedAt) < jwksRefreshInterval {
		return v.keys
	}

	fresh, err := jwk.Fetch(ctx, v.config.JWKSURL)
	v.fetchedAt = time.Now()
	if err != nil {
		return v.keys
	}
	v.keys = fresh
	return fresh
}

func isTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "exp") &&
		(strings.Contains(errStr, "not satisfied") ||
			strings.Contains(errStr, "expired"))
}

// Signer mints identity tokens with a local key. It stands in for the
// identity provider in development and tests.
type Signer struct {
	privateKey jwk.Key
	publicJWKS jwk.Set
	algorithm  jwa.SignatureAlgorithm
	config     config.IdentityConfig
}

func NewSigner(cfg config.IdentityConfig) (*Signer, error) {
	privateKeyPEM, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	privateKey, err := jwk.ParseKey(privateKeyPEM, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return NewSignerFromKey(privateKey, cfg)
}

func NewSignerFromKey(
	privateKey jwk.Key,
	cfg config.IdentityConfig,
) (*Signer, error) {
	sigAlg, err := prepareKey(privateKey, cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	publicKey, err := privateKey.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	if setErr := publicKey.Set(jwk.KeyUsageKey, "sig"); setErr != nil {
		return nil, fmt.Errorf("set key usage: %w", setErr)
	}

	publicJWKS := jwk.NewSet()
	if addErr := publicJWKS.AddKey(publicKey); addErr != nil {
		return nil, fmt.Errorf("add key to set: %w", addErr)
	}

	return &Signer{
		privateKey: privateKey,
		publicJWKS: publicJWKS,
		algorithm:  sigAlg,
		config:     cfg,
	}, nil
}

func (s *Signer) CreateAccessToken(identity middleware.Identity) (string, error) {
	now := time.Now()

	builder := jwt.NewBuilder().
		JwtID(uuid.New().String()).
		Subject(identity.ExternalID).
		IssuedAt(now).
		Expiration(now.Add(s.config.AccessTokenExpire)).
		NotBefore(now).
		Claim("email", identity.Email).
		Claim("email_verified", identity.EmailVerified).
		Claim("first_name", identity.FirstName).
		Claim("role", identity.Role)

	if s.config.Issuer != "" {
		builder = builder.Issuer(s.config.Issuer)
	}
	if s.config.Audience != "" {
		builder = builder.Audience([]string{s.config.Audience})
	}

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}

	headers := jws.NewHeaders()
	if setErr := headers.Set(jws.KeyIDKey, s.KeyID()); setErr != nil {
		return "", fmt.Errorf("set key id header: %w", setErr)
	}

	signed, err := jwt.Sign(
		token,
		jwt.WithKey(s.algorithm, s.privateKey, jws.WithProtectedHeaders(headers)),
	)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return string(signed), nil
}

func (s *Signer) PublicKeySet() jwk.Set {
	return s.publicJWKS
}

func (s *Signer) KeyID() string {
	var kid string
	//nolint:errcheck // key ID always set by prepareKey
	_ = s.privateKey.Get(jwk.KeyIDKey, &kid)
	return kid
}

func (s *Signer) GetJWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")

		if err := json.NewEncoder(w).Encode(s.publicJWKS); err != nil {
			http.Error(
				w,
				"Internal Server Error",
				http.StatusInternalServerError,
			)
			return
		}
	}
}

func GenerateKeyPair(privateKeyPath, publicKeyPath string) error {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	jwkPrivate, err := jwk.Import(privateKey)
	if err != nil {
		return fmt.Errorf("import private key: %w", err)
	}

	privatePEM, err := jwk.Pem(jwkPrivate)
	if err != nil {
		return fmt.Errorf("encode private key: %w", err)
	}

	if writeErr := os.WriteFile(privateKeyPath, privatePEM, 0o600); writeErr != nil {
		return fmt.Errorf("write private key: %w", writeErr)
	}

	jwkPublic, err := jwkPrivate.PublicKey()
	if err != nil {
		return fmt.Errorf("derive public key: %w", err)
	}

	publicPEM, err := jwk.Pem(jwkPublic)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}

	//nolint:gosec // G306: public key is intentionally world-readable
	if writeErr := os.WriteFile(publicKeyPath, publicPEM, 0o644); writeErr != nil {
		return fmt.Errorf("write public key: %w", writeErr)
	}

	return nil
}

// prepareKey pins the signature algorithm and derives a stable key id from
// the key's thumbprint, so a signer and a verifier loaded from the two
// halves of one pair agree on the kid.
func prepareKey(key jwk.Key, algorithm string) (jwa.SignatureAlgorithm, error) {
	if algorithm == "" {
		switch key.KeyType().String() {
		case "EC":
			algorithm = "ES256"
		case "RSA":
			algorithm = "RS256"
		default:
			return jwa.SignatureAlgorithm{}, fmt.Errorf(
				"cannot infer algorithm for key type %s",
				key.KeyType().String(),
			)
		}
	}

	alg, ok := jwa.LookupSignatureAlgorithm(algorithm)
	if !ok {
		return jwa.SignatureAlgorithm{}, fmt.Errorf(
			"unsupported signing algorithm %q",
			algorithm,
		)
	}

	if err := key.Set(jwk.AlgorithmKey, alg); err != nil {
		return jwa.SignatureAlgorithm{}, fmt.Errorf("set algorithm: %w", err)
	}

	thumbprint, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return jwa.SignatureAlgorithm{}, fmt.Errorf("compute thumbprint: %w", err)
	}

	keyID := base64.RawURLEncoding.EncodeToString(thumbprint)[:16]
	if err := key.Set(jwk.KeyIDKey, keyID); err != nil {
		return jwa.SignatureAlgorithm{}, fmt.Errorf("set key id: %w", err)
	}

	return alg, nil
}
