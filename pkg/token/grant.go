package token

// GrantType is the OAuth2 grant_type parameter
type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeRefreshToken      GrantType = "refresh_token"
	GrantTypePassword          GrantType = "password"
)

// GrantRequest is the closed set of grants the engine accepts. The unexported
// method keeps other packages from adding variants that Exchange cannot handle.
type GrantRequest interface {
	GrantType() GrantType
	isGrantRequest()
}

// AuthorizationCodeGrant redeems a code from the grant endpoint
type AuthorizationCodeGrant struct {
	Code        string
	RedirectURI string
}

// RefreshTokenGrant mints a new access token in an existing chain
type RefreshTokenGrant struct {
	RefreshToken string
}

// PasswordGrant trades resource owner credentials for tokens
type PasswordGrant struct {
	Username string
	Password string
	TOTP     *string
	Scope    string
}

func (AuthorizationCodeGrant) GrantType() GrantType { return GrantTypeAuthorizationCode }
func (RefreshTokenGrant) GrantType() GrantType      { return GrantTypeRefreshToken }
func (PasswordGrant) GrantType() GrantType          { return GrantTypePassword }

func (AuthorizationCodeGrant) isGrantRequest() {}
func (RefreshTokenGrant) isGrantRequest()      {}
func (PasswordGrant) isGrantRequest()          {}

// ClientCredentials authenticate the client on the token endpoint
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}
