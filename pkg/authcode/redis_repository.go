package authcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zix99/simple-auth/pkg/scope"
)

// DefaultRedisKeyPrefix namespaces every key written by RedisRepository
const DefaultRedisKeyPrefix = "simpleauth:"

// RedisRepository stores codes as JSON values that expire with the code.
// Consumption writes a separate marker with SETNX, so exactly one caller can
// create it.
type RedisRepository struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisRepository creates a repository on an existing client
func NewRedisRepository(client redis.UniversalClient, keyPrefix string) *RedisRepository {
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisRepository{client: client, keyPrefix: keyPrefix}
}

type redisCode struct {
	Code        string    `json:"code"`
	ClientID    string    `json:"client_id"`
	AccountID   string    `json:"account_id"`
	Scope       string    `json:"scope"`
	RedirectURI string    `json:"redirect_uri"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (r *RedisRepository) codeKey(code string) string {
	return r.keyPrefix + "code:" + code
}

func (r *RedisRepository) consumedKey(code string) string {
	return r.keyPrefix + "code_consumed:" + code
}

// ttl keeps keys a little past expiry so an expired code still reads as expired rather than missing.
func ttl(expiresAt time.Time) time.Duration {
	d := time.Until(expiresAt) + time.Minute
	if d < time.Second {
		d = time.Second
	}
	return d
}

func (r *RedisRepository) CreateCode(ctx context.Context, code *AuthorizationCode) error {
	data, err := json.Marshal(redisCode{
		Code:        code.Code,
		ClientID:    code.ClientID,
		AccountID:   code.AccountID,
		Scope:       code.Scope.String(),
		RedirectURI: code.RedirectURI,
		State:       code.State,
		CreatedAt:   code.CreatedAt.UTC(),
		ExpiresAt:   code.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.codeKey(code.Code), data, ttl(code.ExpiresAt)).Result()
	if err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	if !ok {
		return ErrDuplicateCode
	}
	return nil
}

func (r *RedisRepository) GetCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, r.codeKey(code))
	consumedCmd := pipe.Get(ctx, r.consumedKey(code))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	data, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var rc redisCode
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	c := &AuthorizationCode{
		Code:        rc.Code,
		ClientID:    rc.ClientID,
		AccountID:   rc.AccountID,
		Scope:       scope.Parse(rc.Scope),
		RedirectURI: rc.RedirectURI,
		State:       rc.State,
		CreatedAt:   rc.CreatedAt,
		ExpiresAt:   rc.ExpiresAt,
	}

	if consumedAt, err := consumedCmd.Int64(); err == nil {
		t := time.UnixMilli(consumedAt).UTC()
		c.ConsumedAt = &t
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read consumption marker: %w", err)
	}
	return c, nil
}

func (r *RedisRepository) ConsumeCode(ctx context.Context, code string, now time.Time) (bool, error) {
	c, err := r.GetCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if c.IsExpired(now) {
		return false, nil
	}
	ok, err := r.client.SetNX(ctx, r.consumedKey(code), now.UTC().UnixMilli(), ttl(c.ExpiresAt)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	return ok, nil
}

// DeleteExpired is a no-op; redis expires keys on its own.
func (r *RedisRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
