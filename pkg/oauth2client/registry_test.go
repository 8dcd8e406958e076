package oauth2client

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zix99/simple-auth/pkg/scope"
	"golang.org/x/crypto/bcrypt"
)

func testConfigs() []ClientConfig {
	no := false
	return []ClientConfig{
		{
			ID:           "testid",
			Secret:       "client-secret",
			Name:         "Test Client",
			Author:       "sa",
			AuthorURL:    "http://sa.com",
			RedirectURIs: []string{"http://example.com/redirect"},
			Scopes:       []string{"email", "Username"},
		},
		{
			ID:               "locked",
			Secret:           "other",
			RedirectURIs:     []string{"http://locked.example.com/cb"},
			SingleIssue:      true,
			AllowCredentials: &no,
			AccessTokenTTL:   "15m",
		},
	}
}

func TestRegistry_GetClient(t *testing.T) {
	ctx := context.Background()
	reg, err := NewRegistry(testConfigs(), WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	client, err := reg.GetClient(ctx, "testid")
	require.NoError(t, err)
	assert.Equal(t, "Test Client", client.Name)
	assert.Equal(t, "sa", client.Author)
	assert.Equal(t, "http://sa.com", client.AuthorURL)
	assert.Equal(t, scope.Set{"email", "username"}, client.Scopes)
	assert.True(t, client.AllowCredentials)
	assert.True(t, client.AllowAutoGrant)
	assert.False(t, client.SingleIssue)

	locked, err := reg.GetClient(ctx, "locked")
	require.NoError(t, err)
	assert.Empty(t, locked.Name)
	assert.Empty(t, locked.Author)
	assert.False(t, locked.AllowCredentials)
	assert.True(t, locked.SingleIssue)
	assert.Equal(t, 15*time.Minute, locked.AccessTokenTTL)

	_, err = reg.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestRegistry_ValidateClientCredentials(t *testing.T) {
	ctx := context.Background()
	reg, err := NewRegistry(testConfigs(), WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	client, err := reg.ValidateClientCredentials(ctx, "testid", "client-secret")
	require.NoError(t, err)
	assert.Equal(t, "testid", client.ID)

	_, err = reg.ValidateClientCredentials(ctx, "testid", "bad-secret")
	assert.ErrorIs(t, err, ErrInvalidSecret)

	_, err = reg.ValidateClientCredentials(ctx, "testid", "")
	assert.ErrorIs(t, err, ErrInvalidSecret)

	_, err = reg.ValidateClientCredentials(ctx, "nope", "client-secret")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestRegistry_PreHashedSecret(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	reg, err := NewRegistry([]ClientConfig{{
		ID:           "hashed",
		Secret:       string(hash),
		RedirectURIs: []string{"http://localhost/cb"},
	}})
	require.NoError(t, err)

	_, err = reg.ValidateClientCredentials(context.Background(), "hashed", "s3cret")
	assert.NoError(t, err)
}

func TestRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		configs []ClientConfig
		errMsg  string
	}{
		{"missing id", []ClientConfig{{Secret: "x", RedirectURIs: []string{"a"}}}, "id"},
		{"missing secret", []ClientConfig{{ID: "a", RedirectURIs: []string{"a"}}}, "secret"},
		{"missing redirect", []ClientConfig{{ID: "a", Secret: "x"}}, "redirect_uris"},
		{"bad ttl", []ClientConfig{{ID: "a", Secret: "x", RedirectURIs: []string{"a"}, CodeTTL: "soon"}}, "code_ttl"},
		{"duplicate", []ClientConfig{
			{ID: "a", Secret: "x", RedirectURIs: []string{"a"}},
			{ID: "a", Secret: "y", RedirectURIs: []string{"b"}},
		}, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.configs, WithBcryptCost(bcrypt.MinCost))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestClient_Validate(t *testing.T) {
	reg, err := NewRegistry(testConfigs(), WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	client, err := reg.GetClient(context.Background(), "testid")
	require.NoError(t, err)

	assert.True(t, client.ValidateRedirectURI("http://example.com/redirect"))
	assert.False(t, client.ValidateRedirectURI("http://example.com/redirect/"))
	assert.True(t, client.ValidateScope(scope.Parse("EMAIL")))
	assert.True(t, client.ValidateScope(scope.Parse("")))
	assert.False(t, client.ValidateScope(scope.Parse("email admin")))
}

func TestDecode(t *testing.T) {
	doc := `
clients:
  - id: testid
    secret: client-secret
    name: Test Client
    redirect_uris: [http://example.com/redirect]
    scopes: [email, username]
    single_issue: true
    allow_auto_grant: false
`
	configs, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "testid", configs[0].ID)
	assert.True(t, configs[0].SingleIssue)
	require.NotNil(t, configs[0].AllowAutoGrant)
	assert.False(t, *configs[0].AllowAutoGrant)
	assert.Nil(t, configs[0].AllowCredentials)

	_, err = Decode(strings.NewReader("clients:\n  - id: a\n    colour: blue\n"))
	assert.Error(t, err)

	configs, err = Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestLoadEnv(t *testing.T) {
	env := map[string]string{
		"OAUTH2_CLIENTS":                      "app",
		"OAUTH2_CLIENT_APP_ID":                "app-id",
		"OAUTH2_CLIENT_APP_SECRET":            "secret",
		"OAUTH2_CLIENT_APP_REDIRECT_URIS":     "http://a/cb, http://b/cb",
		"OAUTH2_CLIENT_APP_SCOPES":            "email",
		"OAUTH2_CLIENT_APP_ISSUES_ID_TOKEN":   "true",
		"OAUTH2_CLIENT_APP_ALLOW_CREDENTIALS": "false",
	}
	configs, err := loadEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "app-id", configs[0].ID)
	assert.Equal(t, []string{"http://a/cb", "http://b/cb"}, configs[0].RedirectURIs)
	assert.True(t, configs[0].IssuesIDToken)
	require.NotNil(t, configs[0].AllowCredentials)
	assert.False(t, *configs[0].AllowCredentials)

	none, err := loadEnv(func(string) string { return "" })
	require.NoError(t, err)
	assert.Nil(t, none)
}
