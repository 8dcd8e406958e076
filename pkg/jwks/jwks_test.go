package jwks

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThumbprint_RFC7638Example(t *testing.T) {
	n, err := decode("0vx7agoebGcQSuuPiLJXZptN9nndrQmbXEps2aiAFbWhM78LhWx4cbbfAAtVT86zwu1RK7aPFFxuhDR1L6tSoc_BJECPebWKRXjBZCiFV4n3oknjhMstn64tZ_2W-5JsGY4Hc5n9yBXArwl93lqt7_RN5w6Cf0h4QyQ5v-65YGjQR0_FDW2QvzqY368QQMicAtaSqzs8KJZgnYb9c7d0zgdAZHzu6qMQvRL5hajrn1n91CbOpbISD08qNLyrdkt-bFTWhAI4vMQFh6WeZu0fM4lFd2NcRwr3XPksINHaQ-G_xBniIqbw0Ls1jF44-csFCur-kEgU8awapJzKnqDKgw")
	require.NoError(t, err)
	pub := &rsa.PublicKey{N: n, E: 65537}
	assert.Equal(t, "NzbLsXh8uDCcd-6MNwXF4W_7noWXFZAfHkxZsRGC9Xs", Thumbprint(pub))
}

func decode(s string) (*big.Int, error) {
	k := JWK{N: s, E: "AQAB"}
	pub, err := k.PublicKey()
	if err != nil {
		return nil, err
	}
	return pub.N, nil
}

func TestNewRSAKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwk := NewRSAKey(&key.PublicKey, "RS256", "")
	assert.Equal(t, "RSA", jwk.Kty)
	assert.Equal(t, "sig", jwk.Use)
	assert.Equal(t, "AQAB", jwk.E)
	assert.Equal(t, Thumbprint(&key.PublicKey), jwk.Kid)

	set := JWKS{Keys: []JWK{jwk, NewRSAKey(&key.PublicKey, "RS256", "named")}}
	b, err := json.Marshal(set)
	require.NoError(t, err)

	var decoded JWKS
	require.NoError(t, json.Unmarshal(b, &decoded))
	found, ok := decoded.Find("named")
	require.True(t, ok)
	pub, err := found.PublicKey()
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(pub))

	_, ok = decoded.Find("missing")
	assert.False(t, ok)
}
