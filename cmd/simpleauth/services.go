package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/zix99/simple-auth/pkg/account"
	"github.com/zix99/simple-auth/pkg/authcode"
	"github.com/zix99/simple-auth/pkg/config"
	"github.com/zix99/simple-auth/pkg/grant"
	"github.com/zix99/simple-auth/pkg/introspection"
	"github.com/zix99/simple-auth/pkg/metrics"
	"github.com/zix99/simple-auth/pkg/oauth2client"
	"github.com/zix99/simple-auth/pkg/ratelimit"
	"github.com/zix99/simple-auth/pkg/reaper"
	"github.com/zix99/simple-auth/pkg/router"
	"github.com/zix99/simple-auth/pkg/scope"
	"github.com/zix99/simple-auth/pkg/sessions"
	"github.com/zix99/simple-auth/pkg/storage"
	"github.com/zix99/simple-auth/pkg/token"
	tokenapi "github.com/zix99/simple-auth/pkg/token/api"
	"github.com/zix99/simple-auth/pkg/tokengenerator"
	"github.com/zix99/simple-auth/pkg/vouch"
	"github.com/zix99/simple-auth/pkg/wellknown"
)

type Services struct {
	clients       *oauth2client.Registry
	issuer        *authcode.Issuer
	engine        *token.Engine
	introspection *introspection.Service
	authenticator sessions.Chain
	vouch         *vouch.Service
	metrics       *metrics.Metrics
	signer        *tokengenerator.Signer
	reaper        *reaper.Reaper

	pool  *pgxpool.Pool
	db    *sql.DB
	redis redis.UniversalClient
}

// Close releases database connections
func (s *Services) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("Failed to close sqlite database", "err", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			slog.Warn("Failed to close redis client", "err", err)
		}
	}
}

func initializeServices(ctx context.Context, cfg *config.Config) (_ *Services, err error) {
	s := &Services{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.clients, err = loadClients(cfg.OAuth2); err != nil {
		return nil, err
	}

	accounts := account.NewInMemoryStore().WithBcryptCost(cfg.OAuth2.BcryptCost)
	if cfg.OAuth2.AccountsFile != "" {
		if err = accounts.LoadFile(cfg.OAuth2.AccountsFile); err != nil {
			return nil, err
		}
	} else {
		slog.Warn("No ACCOUNTS_FILE configured, the password grant will reject every login")
	}

	if err = s.openStores(ctx, cfg.Store); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
	}

	if cfg.OAuth2.IDTokenKey != "" {
		if s.signer, err = tokengenerator.NewSigner(cfg.OAuth2.IDTokenMethod, cfg.OAuth2.IDTokenKey); err != nil {
			return nil, fmt.Errorf("id token signer: %w", err)
		}
	}

	grants, tokens := s.repositories(cfg.Store.Driver)
	codes := s.codeRepository(cfg.Store)

	s.issuer = authcode.NewIssuer(s.clients, grants, codes,
		authcode.WithCodeTTL(cfg.OAuth2.CodeTTL),
		authcode.WithMetrics(s.metrics),
	)

	engineOpts := []token.Option{
		token.WithAccessTokenTTL(cfg.OAuth2.AccessTokenTTL),
		token.WithRefreshTokenTTL(cfg.OAuth2.RefreshTokenTTL),
		token.WithIssuer(cfg.Issuer),
		token.WithMetrics(s.metrics),
	}
	if s.signer != nil {
		engineOpts = append(engineOpts, token.WithIDTokenSigner(s.signer))
	}
	s.engine = token.NewEngine(s.clients, s.issuer, accounts, tokens, engineOpts...)
	s.introspection = introspection.NewService(tokens, introspection.WithIssuer(cfg.Issuer))

	if s.authenticator, err = buildAuthenticator(cfg.Session); err != nil {
		return nil, err
	}

	if cfg.Vouch.Enabled {
		var vcfg vouch.Config
		if vcfg, err = cfg.VouchService(); err != nil {
			return nil, err
		}
		if s.vouch, err = vouch.NewService(s.authenticator, vcfg, vouch.WithMetrics(s.metrics)); err != nil {
			return nil, err
		}
	}

	s.reaper = reaper.New(reaper.WithInterval(cfg.Reaper.Interval), reaper.WithGrace(cfg.Reaper.Grace)).
		Add("authorization_codes", s.issuer).
		Add("tokens", s.engine)

	return s, nil
}

func loadClients(cfg config.OAuth2Config) (*oauth2client.Registry, error) {
	var configs []oauth2client.ClientConfig
	if cfg.ClientsFile != "" {
		fromFile, err := oauth2client.LoadFile(cfg.ClientsFile)
		if err != nil {
			return nil, err
		}
		configs = append(configs, fromFile...)
	}
	fromEnv, err := oauth2client.LoadEnv()
	if err != nil {
		return nil, err
	}
	configs = append(configs, fromEnv...)

	registry, err := oauth2client.NewRegistry(configs, oauth2client.WithBcryptCost(cfg.BcryptCost))
	if err != nil {
		return nil, fmt.Errorf("failed to load oauth2 clients: %w", err)
	}
	if registry.Len() == 0 {
		slog.Warn("No OAuth2 clients configured")
	}
	return registry, nil
}

func (s *Services) openStores(ctx context.Context, cfg config.StoreConfig) error {
	drivers := map[string]bool{cfg.Driver: true, cfg.CodeStoreDriver(): true}
	var err error
	if drivers[config.DriverPostgres] {
		if s.pool, err = storage.NewPostgresPool(ctx, cfg.DatabaseURL); err != nil {
			return err
		}
	}
	if drivers[config.DriverSQLite] {
		if s.db, err = storage.OpenSQLite(ctx, cfg.SQLitePath); err != nil {
			return err
		}
	}
	if drivers[config.DriverRedis] {
		if s.redis, err = storage.NewRedisClient(ctx, cfg.RedisURL); err != nil {
			return err
		}
	}
	return nil
}

func (s *Services) repositories(driver string) (grant.Repository, token.Repository) {
	switch driver {
	case config.DriverPostgres:
		return grant.NewPostgresRepository(s.pool), token.NewPostgresRepository(s.pool)
	case config.DriverSQLite:
		return grant.NewSQLiteRepository(s.db), token.NewSQLiteRepository(s.db)
	default:
		return grant.NewInMemoryRepository(), token.NewInMemoryRepository()
	}
}

func (s *Services) codeRepository(cfg config.StoreConfig) authcode.Repository {
	switch cfg.CodeStoreDriver() {
	case config.DriverPostgres:
		return authcode.NewPostgresRepository(s.pool)
	case config.DriverSQLite:
		return authcode.NewSQLiteRepository(s.db)
	case config.DriverRedis:
		return authcode.NewRedisRepository(s.redis, cfg.RedisPrefix)
	default:
		return authcode.NewInMemoryRepository()
	}
}

func buildAuthenticator(cfg config.SessionConfig) (sessions.Chain, error) {
	var chain sessions.Chain
	if cfg.JWTKey != "" {
		ja, err := sessions.NewJWTAuth(cfg.JWTMethod, cfg.JWTKey)
		if err != nil {
			return nil, fmt.Errorf("session jwt: %w", err)
		}
		chain = append(chain, sessions.NewJWTAuthenticator(ja, cfg.CookieName))
	}
	if cfg.SharedSecret != "" {
		chain = append(chain, sessions.NewSharedKeyAuthenticator(cfg.SharedSecret))
	}
	if len(chain) == 0 {
		slog.Warn("Neither SESSION_JWT_KEY nor SHARED_SECRET is set, session endpoints will reject every request")
	}
	return chain, nil
}

func (s *Services) routerConfig(cfg *config.Config) (router.Config, error) {
	rl, err := cfg.RateLimiter()
	if err != nil {
		return router.Config{}, err
	}

	var scopes scope.Set
	for _, c := range s.clients.ListClients(context.Background()) {
		scopes = scopes.Union(c.Scopes)
	}
	scopes = scopes.Union(scope.New(cfg.OAuth2.Scopes...))

	wk := wellknown.Config{
		Issuer:  cfg.Issuer,
		BaseURL: cfg.BaseURL + cfg.APIPrefix + "/oauth2",
		Scopes:  scopes,
	}
	if s.signer != nil {
		wk.IDTokenAlgorithm = s.signer.Algorithm()
		wk.KeySet = s.signer.KeySet()
		wk.JWKSURI = cfg.BaseURL + router.JWKSPath
	}

	metricsPath := ""
	if s.metrics != nil {
		metricsPath = cfg.Metrics.Path
	}

	return router.Config{
		Prefix:           cfg.APIPrefix,
		OAuth2Handle:     tokenapi.NewHandle(s.issuer, s.engine, s.introspection, s.clients),
		VouchService:     s.vouch,
		WellKnownHandler: wellknown.NewHandler(wk),
		Authenticator:    s.authenticator,
		CSRF:             cfg.Session.CSRF,
		RateLimiter:      ratelimit.NewMiddleware(rl),
		Metrics:          s.metrics,
		MetricsPath:      metricsPath,
	}, nil
}
