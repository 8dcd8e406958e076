// Package jwks publishes the public half of the id token signing key as a
// JSON Web Key Set (RFC 7517).
package jwks

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
)

// JWKS represents a JSON Web Key Set as defined in RFC 7517
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is an RSA public key
type JWK struct {
	// Key Type - "RSA" for RSA keys
	Kty string `json:"kty"`

	// Public Key Use - "sig" for signature
	Use string `json:"use"`

	Kid string `json:"kid"`
	Alg string `json:"alg,omitempty"`

	// RSA public key modulus (base64url encoded)
	N string `json:"n"`

	// RSA public key exponent (base64url encoded)
	E string `json:"e"`
}

// NewRSAKey describes publicKey. An empty kid is replaced by the key's thumbprint.
func NewRSAKey(publicKey *rsa.PublicKey, alg, kid string) JWK {
	if kid == "" {
		kid = Thumbprint(publicKey)
	}
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		Alg: alg,
		N:   EncodeRSAPublicKeyModulus(publicKey),
		E:   EncodeRSAPublicKeyExponent(publicKey),
	}
}

// Thumbprint is the RFC 7638 SHA-256 thumbprint of an RSA public key, base64url encoded
func Thumbprint(publicKey *rsa.PublicKey) string {
	// members in lexical order, no whitespace
	canonical, _ := json.Marshal(struct {
		E   string `json:"e"`
		Kty string `json:"kty"`
		N   string `json:"n"`
	}{
		E:   EncodeRSAPublicKeyExponent(publicKey),
		Kty: "RSA",
		N:   EncodeRSAPublicKeyModulus(publicKey),
	})
	sum := sha256.Sum256(canonical)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// EncodeRSAPublicKeyModulus encodes the RSA public key modulus as base64url
func EncodeRSAPublicKeyModulus(publicKey *rsa.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes())
}

// EncodeRSAPublicKeyExponent encodes the RSA public key exponent as base64url
func EncodeRSAPublicKeyExponent(publicKey *rsa.PublicKey) string {
	exponentBytes := big.NewInt(int64(publicKey.E)).Bytes()
	return base64.RawURLEncoding.EncodeToString(exponentBytes)
}

// Find returns the key with the given kid
func (s *JWKS) Find(kid string) (*JWK, bool) {
	for i := range s.Keys {
		if s.Keys[i].Kid == kid {
			return &s.Keys[i], true
		}
	}
	return nil, false
}

// PublicKey decodes the modulus and exponent back into an RSA public key
func (k *JWK) PublicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}, nil
}
