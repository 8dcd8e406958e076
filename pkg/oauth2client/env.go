package oauth2client

import (
	"fmt"
	"os"
	"strings"
)

// LoadEnv reads clients from environment variables:
//
//	OAUTH2_CLIENTS=client1,client2
//	OAUTH2_CLIENT_CLIENT1_ID=my_client_id
//	OAUTH2_CLIENT_CLIENT1_SECRET=my_secret
//	OAUTH2_CLIENT_CLIENT1_NAME=My App
//	OAUTH2_CLIENT_CLIENT1_REDIRECT_URIS=https://app.example.com/callback
//	OAUTH2_CLIENT_CLIENT1_SCOPES=email,username
//	OAUTH2_CLIENT_CLIENT1_SINGLE_ISSUE=true
//	OAUTH2_CLIENT_CLIENT1_ISSUES_ID_TOKEN=true
func LoadEnv() ([]ClientConfig, error) {
	return loadEnv(os.Getenv)
}

func loadEnv(getenv func(string) string) ([]ClientConfig, error) {
	clientList := getenv("OAUTH2_CLIENTS")
	if clientList == "" {
		return nil, nil
	}

	var configs []ClientConfig
	for _, name := range parseCommaSeparatedList(clientList) {
		prefix := fmt.Sprintf("OAUTH2_CLIENT_%s_", strings.ToUpper(name))
		cfg := ClientConfig{
			ID:             getenv(prefix + "ID"),
			Secret:         getenv(prefix + "SECRET"),
			Name:           getenv(prefix + "NAME"),
			Author:         getenv(prefix + "AUTHOR"),
			AuthorURL:      getenv(prefix + "AUTHOR_URL"),
			RedirectURIs:   parseCommaSeparatedList(getenv(prefix + "REDIRECT_URIS")),
			Scopes:         parseCommaSeparatedList(getenv(prefix + "SCOPES")),
			SingleIssue:    getenv(prefix+"SINGLE_ISSUE") == "true",
			IssuesIDToken:  getenv(prefix+"ISSUES_ID_TOKEN") == "true",
			ReuseToken:     getenv(prefix+"REUSE_TOKEN") == "true",
			CodeTTL:        getenv(prefix + "CODE_TTL"),
			AccessTokenTTL: getenv(prefix + "ACCESS_TOKEN_TTL"),
		}
		if v := getenv(prefix + "ALLOW_CREDENTIALS"); v != "" {
			b := v == "true"
			cfg.AllowCredentials = &b
		}
		if v := getenv(prefix + "ALLOW_AUTO_GRANT"); v != "" {
			b := v == "true"
			cfg.AllowAutoGrant = &b
		}
		if cfg.ID == "" {
			return nil, fmt.Errorf("client %s missing required field: ID (set %sID)", name, prefix)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func parseCommaSeparatedList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
