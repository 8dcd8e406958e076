package authcode

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zix99/simple-auth/pkg/scope"
	"github.com/zix99/simple-auth/pkg/storage/storagetest"
)

func TestInMemoryRepository(t *testing.T) {
	testRepository(t, NewInMemoryRepository())
}

func TestSQLiteRepository(t *testing.T) {
	testRepository(t, NewSQLiteRepository(storagetest.SQLite(t)))
}

func TestPostgresRepository(t *testing.T) {
	testRepository(t, NewPostgresRepository(storagetest.Postgres(t)))
}

func TestRedisRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := NewRedisRepository(client, "test:")
	testRepository(t, repo)

	t.Run("keys are prefixed and expire", func(t *testing.T) {
		now := time.Now().UTC()
		require.NoError(t, repo.CreateCode(context.Background(), &AuthorizationCode{
			Code: "999999", ClientID: "testid", CreatedAt: now, ExpiresAt: now.Add(time.Minute),
		}))
		assert.True(t, mr.Exists("test:code:999999"))
		mr.FastForward(3 * time.Minute)
		assert.False(t, mr.Exists("test:code:999999"))
	})
}

func newCode(value string, now time.Time, ttl time.Duration) *AuthorizationCode {
	return &AuthorizationCode{
		Code:        value,
		ClientID:    "testid",
		AccountID:   "acc-1",
		Scope:       scope.Parse("email username"),
		RedirectURI: "http://example.com/redirect",
		State:       "xyz",
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func testRepository(t *testing.T, repo Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, repo.CreateCode(ctx, newCode("123456", now, time.Minute)))

		c, err := repo.GetCode(ctx, "123456")
		require.NoError(t, err)
		assert.Equal(t, "testid", c.ClientID)
		assert.Equal(t, "acc-1", c.AccountID)
		assert.True(t, c.Scope.Matches(scope.Parse("email username")))
		assert.Equal(t, "http://example.com/redirect", c.RedirectURI)
		assert.Equal(t, "xyz", c.State)
		assert.True(t, c.ExpiresAt.Equal(now.Add(time.Minute)))
		assert.False(t, c.IsConsumed())
	})

	t.Run("duplicate", func(t *testing.T) {
		err := repo.CreateCode(ctx, newCode("123456", now, time.Minute))
		assert.ErrorIs(t, err, ErrDuplicateCode)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := repo.GetCode(ctx, "000000")
		assert.ErrorIs(t, err, ErrNotFound)

		ok, err := repo.ConsumeCode(ctx, "000000", now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("consume once", func(t *testing.T) {
		ok, err := repo.ConsumeCode(ctx, "123456", now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.ConsumeCode(ctx, "123456", now)
		require.NoError(t, err)
		assert.False(t, ok)

		c, err := repo.GetCode(ctx, "123456")
		require.NoError(t, err)
		assert.True(t, c.IsConsumed())
	})

	t.Run("expired cannot be consumed", func(t *testing.T) {
		require.NoError(t, repo.CreateCode(ctx, newCode("222222", now, time.Minute)))
		ok, err := repo.ConsumeCode(ctx, "222222", now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent consumers have one winner", func(t *testing.T) {
		require.NoError(t, repo.CreateCode(ctx, newCode("333333", now, time.Minute)))

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.ConsumeCode(ctx, "333333", now)
				assert.NoError(t, err)
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})

	t.Run("delete expired", func(t *testing.T) {
		require.NoError(t, repo.CreateCode(ctx, newCode("444444", now.Add(-time.Hour), time.Minute)))
		_, err := repo.DeleteExpired(ctx, now)
		require.NoError(t, err)

		c, err := repo.GetCode(ctx, "333333")
		require.NoError(t, err)
		assert.Equal(t, "333333", c.Code)
	})
}
