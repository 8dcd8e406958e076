package oauth2client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/zix99/simple-auth/pkg/scope"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrInvalidSecret  = errors.New("invalid client secret")
)

// ClientConfig is the on-disk / environment description of a client.
// Secret may be plaintext or an existing bcrypt hash.
type ClientConfig struct {
	ID               string   `yaml:"id"`
	Secret           string   `yaml:"secret"`
	Name             string   `yaml:"name"`
	Author           string   `yaml:"author"`
	AuthorURL        string   `yaml:"author_url"`
	RedirectURIs     []string `yaml:"redirect_uris"`
	Scopes           []string `yaml:"scopes"`
	SingleIssue      bool     `yaml:"single_issue"`
	IssuesIDToken    bool     `yaml:"issues_id_token"`
	ReuseToken       bool     `yaml:"reuse_token"`
	AllowCredentials *bool    `yaml:"allow_credentials"`
	AllowAutoGrant   *bool    `yaml:"allow_auto_grant"`
	CodeTTL          string   `yaml:"code_ttl"`
	AccessTokenTTL   string   `yaml:"access_token_ttl"`
}

// Registry is an immutable, read-only set of clients keyed by id.
type Registry struct {
	clients map[string]*Client
}

type registryOptions struct {
	bcryptCost int
}

// Option configures NewRegistry
type Option func(*registryOptions)

// WithBcryptCost sets the cost used to hash plaintext secrets at load time.
func WithBcryptCost(cost int) Option {
	return func(o *registryOptions) {
		o.bcryptCost = cost
	}
}

// NewRegistry validates and hashes the configured clients.
func NewRegistry(configs []ClientConfig, opts ...Option) (*Registry, error) {
	o := registryOptions{bcryptCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{clients: make(map[string]*Client, len(configs))}
	for _, cfg := range configs {
		client, err := buildClient(cfg, o)
		if err != nil {
			return nil, err
		}
		if _, exists := r.clients[client.ID]; exists {
			return nil, fmt.Errorf("duplicate client id: %s", client.ID)
		}
		r.clients[client.ID] = client
		slog.Info("Registered OAuth2 client", "client_id", client.ID, "name", client.Name,
			"single_issue", client.SingleIssue, "issues_id_token", client.IssuesIDToken)
	}
	return r, nil
}

func buildClient(cfg ClientConfig, o registryOptions) (*Client, error) {
	if cfg.ID == "" {
		return nil, errors.New("client missing required field: id")
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("client %s missing required field: secret", cfg.ID)
	}
	if len(cfg.RedirectURIs) == 0 {
		return nil, fmt.Errorf("client %s missing required field: redirect_uris", cfg.ID)
	}

	hash, err := hashSecret(cfg.Secret, o.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("client %s: hash secret: %w", cfg.ID, err)
	}

	client := &Client{
		ID:               cfg.ID,
		secretHash:       hash,
		Name:             cfg.Name,
		Author:           cfg.Author,
		AuthorURL:        cfg.AuthorURL,
		RedirectURIs:     append([]string(nil), cfg.RedirectURIs...),
		Scopes:           scope.New(cfg.Scopes...),
		SingleIssue:      cfg.SingleIssue,
		IssuesIDToken:    cfg.IssuesIDToken,
		ReuseToken:       cfg.ReuseToken,
		AllowCredentials: boolOrDefault(cfg.AllowCredentials, true),
		AllowAutoGrant:   boolOrDefault(cfg.AllowAutoGrant, true),
	}
	if client.CodeTTL, err = parseOptionalDuration(cfg.CodeTTL); err != nil {
		return nil, fmt.Errorf("client %s: code_ttl: %w", cfg.ID, err)
	}
	if client.AccessTokenTTL, err = parseOptionalDuration(cfg.AccessTokenTTL); err != nil {
		return nil, fmt.Errorf("client %s: access_token_ttl: %w", cfg.ID, err)
	}
	return client, nil
}

func hashSecret(secret string, cost int) ([]byte, error) {
	if isBcryptHash(secret) {
		if _, err := bcrypt.Cost([]byte(secret)); err != nil {
			return nil, err
		}
		return []byte(secret), nil
	}
	return bcrypt.GenerateFromPassword([]byte(secret), cost)
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}

func boolOrDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// GetClient retrieves a client by id
func (r *Registry) GetClient(ctx context.Context, clientID string) (*Client, error) {
	client, exists := r.clients[clientID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	return client, nil
}

// ValidateClientCredentials validates client id and secret, returns the client if valid
func (r *Registry) ValidateClientCredentials(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	client, err := r.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !client.VerifySecret(clientSecret) {
		return nil, ErrInvalidSecret
	}
	return client, nil
}

// ListClients returns every client ordered by id
func (r *Registry) ListClients(ctx context.Context) []*Client {
	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients
}

// Len returns the number of registered clients
func (r *Registry) Len() int {
	return len(r.clients)
}
