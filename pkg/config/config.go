// Package config loads service configuration from an optional YAML file,
// overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jinzhu/copier"
	"github.com/zix99/simple-auth/pkg/ratelimit"
	"github.com/zix99/simple-auth/pkg/vouch"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

type Config struct {
	Issuer    string `yaml:"issuer" env:"ISSUER" env-default:"simple-auth" env-description:"iss claim of id tokens and introspection results"`
	BaseURL   string `yaml:"base_url" env:"BASE_URL" env-default:"http://localhost:4000"`
	APIPrefix string `yaml:"api_prefix" env:"API_PREFIX" env-default:"/api/v1/auth"`

	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	OAuth2    OAuth2Config    `yaml:"oauth2"`
	Session   SessionConfig   `yaml:"session"`
	Vouch     VouchConfig     `yaml:"vouch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Reaper    ReaperConfig    `yaml:"reaper"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text" env-description:"text or json"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver" env:"STORE_DRIVER" env-default:"memory" env-description:"memory, postgres or sqlite"`
	CodeDriver  string `yaml:"code_driver" env:"CODE_STORE_DRIVER" env-description:"authorization code store; defaults to STORE_DRIVER, also accepts redis"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	SQLitePath  string `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"simple-auth.db"`
	RedisURL    string `yaml:"redis_url" env:"REDIS_URL"`
	RedisPrefix string `yaml:"redis_prefix" env:"REDIS_PREFIX" env-default:"simple-auth:"`
}

// CodeStoreDriver resolves the authorization code driver
func (c StoreConfig) CodeStoreDriver() string {
	if c.CodeDriver == "" {
		return c.Driver
	}
	return c.CodeDriver
}

type OAuth2Config struct {
	ClientsFile     string        `yaml:"clients_file" env:"OAUTH2_CLIENTS_FILE"`
	AccountsFile    string        `yaml:"accounts_file" env:"ACCOUNTS_FILE"`
	BcryptCost      int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
	CodeTTL         time.Duration `yaml:"code_ttl" env:"OAUTH2_CODE_TTL" env-default:"5m"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"OAUTH2_ACCESS_TOKEN_TTL" env-default:"1h"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"OAUTH2_REFRESH_TOKEN_TTL" env-default:"876000h"`
	IDTokenMethod   string        `yaml:"id_token_method" env:"OAUTH2_ID_TOKEN_METHOD" env-default:"HS256"`
	IDTokenKey      string        `yaml:"id_token_key" env:"OAUTH2_ID_TOKEN_KEY" env-description:"HMAC secret or PEM RSA key; id tokens are not issued when empty"`
	Scopes          []string      `yaml:"scopes" env:"OAUTH2_SCOPES" env-default:"email,username"`
}

type SessionConfig struct {
	JWTMethod    string `yaml:"jwt_method" env:"SESSION_JWT_METHOD" env-default:"HS256"`
	JWTKey       string `yaml:"jwt_key" env:"SESSION_JWT_KEY" env-description:"verifies session tokens; session auth is disabled when empty"`
	CookieName   string `yaml:"cookie_name" env:"SESSION_COOKIE_NAME" env-default:"auth"`
	SharedSecret string `yaml:"shared_secret" env:"SHARED_SECRET" env-description:"enables the SharedKey authorization scheme"`
	CSRF         bool   `yaml:"csrf" env:"SESSION_CSRF" env-default:"true"`
}

type VouchConfig struct {
	Enabled             bool     `yaml:"enabled" env:"VOUCH_ENABLED" env-default:"true"`
	LoginURL            string   `yaml:"login_url" env:"VOUCH_LOGIN_URL" env-default:"/"`
	UserHeader          string   `yaml:"user_header" env:"VOUCH_USER_HEADER" env-default:"X-User-Id"`
	AllowedContinueURLs []string `yaml:"allowed_continue_urls" env:"VOUCH_ALLOWED_CONTINUE_URLS"`
}

type RateLimitConfig struct {
	PerIPEnabled         bool          `yaml:"per_ip_enabled" env:"RATE_LIMIT_PER_IP_ENABLED" env-default:"true"`
	PerIPCapacity        int           `yaml:"per_ip_capacity" env:"RATE_LIMIT_PER_IP_CAPACITY" env-default:"10"`
	PerIPRefillRate      float64       `yaml:"per_ip_refill_rate" env:"RATE_LIMIT_PER_IP_REFILL_RATE" env-default:"0.1667" env-description:"tokens per second"`
	PerAccountEnabled    bool          `yaml:"per_account_enabled" env:"RATE_LIMIT_PER_ACCOUNT_ENABLED" env-default:"true"`
	PerAccountCapacity   int           `yaml:"per_account_capacity" env:"RATE_LIMIT_PER_ACCOUNT_CAPACITY" env-default:"20"`
	PerAccountRefillRate float64       `yaml:"per_account_refill_rate" env:"RATE_LIMIT_PER_ACCOUNT_REFILL_RATE" env-default:"0.3333"`
	BucketTTL            time.Duration `yaml:"bucket_ttl" env:"RATE_LIMIT_BUCKET_TTL" env-default:"1h"`
	TrustForwardedFor    bool          `yaml:"trust_forwarded_for" env:"RATE_LIMIT_TRUST_FORWARDED_FOR" env-default:"false"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED" env-default:"true"`
	Path    string `yaml:"path" env:"METRICS_PATH" env-default:"/metrics"`
}

type ReaperConfig struct {
	Interval time.Duration `yaml:"interval" env:"REAPER_INTERVAL" env-default:"10m"`
	Grace    time.Duration `yaml:"grace" env:"REAPER_GRACE" env-default:"1h"`
}

// Load reads path (if not empty) and then the environment
func Load(path string) (*Config, error) {
	cfg := &Config{}
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks driver names and the settings each driver requires
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverMemory, DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}
	switch c.Store.CodeStoreDriver() {
	case DriverMemory, DriverPostgres, DriverSQLite, DriverRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown CODE_STORE_DRIVER %q", c.Store.CodeDriver))
	}
	if c.uses(DriverPostgres) && c.Store.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
	}
	if c.uses(DriverSQLite) && c.Store.SQLitePath == "" {
		errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
	}
	if c.Store.CodeStoreDriver() == DriverRedis && c.Store.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required for the redis code store"))
	}

	if c.OAuth2.CodeTTL <= 0 || c.OAuth2.AccessTokenTTL <= 0 || c.OAuth2.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("code and token lifetimes must be positive"))
	}
	if !strings.HasPrefix(c.APIPrefix, "/") {
		errs = append(errs, fmt.Errorf("API_PREFIX must start with /: %q", c.APIPrefix))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (c *Config) uses(driver string) bool {
	return c.Store.Driver == driver || c.Store.CodeStoreDriver() == driver
}

// RateLimiter converts the settings for the ratelimit middleware
func (c *Config) RateLimiter() (ratelimit.Config, error) {
	var rl ratelimit.Config
	if err := copier.Copy(&rl, &c.RateLimit); err != nil {
		return rl, fmt.Errorf("rate limit config: %w", err)
	}
	return rl, nil
}

// VouchService converts the settings for the vouch service
func (c *Config) VouchService() (vouch.Config, error) {
	var v vouch.Config
	if err := copier.Copy(&v, &c.Vouch); err != nil {
		return v, fmt.Errorf("vouch config: %w", err)
	}
	return v, nil
}

// Usage prints every supported environment variable after the given usage text
func Usage(usage func()) func() {
	header := "\nEnvironment variables:"
	return cleanenv.FUsage(os.Stderr, &Config{}, &header, usage)
}
