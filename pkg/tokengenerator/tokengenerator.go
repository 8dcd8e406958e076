// Package tokengenerator signs the OpenID Connect id_token handed out with
// token sets of clients that request one.
package tokengenerator

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/zix99/simple-auth/pkg/jwks"
)

// IDTokenClaims are the claims of an id_token. Email and Name are only set
// when the granted scope asks for them.
type IDTokenClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// IDTokenRequest describes one id_token to sign
type IDTokenRequest struct {
	Issuer    string
	Subject   string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Email     string
	Name      string
}

// Signer signs and verifies id tokens with a single key
type Signer struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	keyID     string
}

// NewSigner parses key for the given method: HS* methods take the raw secret,
// RS* methods a PEM encoded RSA private key.
func NewSigner(method, key string) (*Signer, error) {
	lm := strings.ToUpper(method)
	sm := jwt.GetSigningMethod(lm)
	if sm == nil {
		return nil, fmt.Errorf("unsupported signing method: %s", method)
	}
	if key == "" {
		return nil, errors.New("signing key is required")
	}

	switch {
	case strings.HasPrefix(lm, "HS"):
		return &Signer{method: sm, signKey: []byte(key), verifyKey: []byte(key)}, nil
	case strings.HasPrefix(lm, "RS"):
		privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA private key: %w", err)
		}
		return NewRSASigner(sm, privateKey, ""), nil
	}
	return nil, fmt.Errorf("unable to parse key for %s", method)
}

// NewRSASigner wraps an already parsed RSA key. keyID is sent as the "kid"
// header and defaults to the key's JWK thumbprint.
func NewRSASigner(method jwt.SigningMethod, privateKey *rsa.PrivateKey, keyID string) *Signer {
	if keyID == "" {
		keyID = jwks.Thumbprint(&privateKey.PublicKey)
	}
	return &Signer{
		method:    method,
		signKey:   privateKey,
		verifyKey: &privateKey.PublicKey,
		keyID:     keyID,
	}
}

// Algorithm returns the JWS alg header value
func (s *Signer) Algorithm() string {
	return s.method.Alg()
}

// KeySet returns the public verification keys. It is empty for HMAC signers.
func (s *Signer) KeySet() *jwks.JWKS {
	set := &jwks.JWKS{Keys: []jwks.JWK{}}
	if pub, ok := s.verifyKey.(*rsa.PublicKey); ok {
		set.Keys = append(set.Keys, jwks.NewRSAKey(pub, s.method.Alg(), s.keyID))
	}
	return set
}

// SignIDToken signs the id_token for req
func (s *Signer) SignIDToken(req IDTokenRequest) (string, error) {
	claims := IDTokenClaims{
		Email: req.Email,
		Name:  req.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    req.Issuer,
			Subject:   req.Subject,
			Audience:  jwt.ClaimStrings{req.Audience},
			IssuedAt:  jwt.NewNumericDate(req.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(req.ExpiresAt),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(s.method, claims)
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}
	ss, err := token.SignedString(s.signKey)
	if err != nil {
		slog.Error("Failed to sign id token", "alg", s.method.Alg(), "err", err)
		return "", err
	}
	return ss, nil
}

// ParseIDToken verifies signature, expiry and issuer and returns the claims
func (s *Signer) ParseIDToken(tokenStr, issuer string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return s.verifyKey, nil
	}, jwt.WithValidMethods([]string{s.method.Alg()}), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid id token: %w", err)
	}
	return claims, nil
}
