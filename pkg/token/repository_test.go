package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
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

func mint(kind Kind, accountID, clientID string, now time.Time, ttl time.Duration) *Token {
	return &Token{
		ID:        uuid.NewString(),
		Kind:      kind,
		Value:     uuid.NewString(),
		ClientID:  clientID,
		AccountID: accountID,
		Scope:     scope.Parse("email"),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// chain returns a refresh token and an access token minted in its chain
func chain(accountID, clientID string, now time.Time) (*Token, *Token) {
	refresh := mint(KindRefresh, accountID, clientID, now, 24*time.Hour)
	refresh.ChainID = refresh.ID
	access := mint(KindAccess, accountID, clientID, now, time.Hour)
	access.ChainID = refresh.ID
	return refresh, access
}

func liveValues(t *testing.T, repo Repository, accountID, clientID string, now time.Time) []string {
	t.Helper()
	tokens, err := repo.ListLive(context.Background(), accountID, clientID, now)
	require.NoError(t, err)
	var ret []string
	for _, tok := range tokens {
		ret = append(ret, tok.Value)
	}
	return ret
}

func testRepository(t *testing.T, repo Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("issue and get", func(t *testing.T) {
		refresh, access := chain("acc-get", "testid", now)
		n, err := repo.IssueSet(ctx, []*Token{refresh, access}, false, now)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		got, err := repo.GetToken(ctx, access.Value)
		require.NoError(t, err)
		assert.Equal(t, access.ID, got.ID)
		assert.Equal(t, KindAccess, got.Kind)
		assert.Equal(t, "testid", got.ClientID)
		assert.Equal(t, "acc-get", got.AccountID)
		assert.Equal(t, refresh.ID, got.ChainID)
		assert.True(t, got.Scope.Matches(scope.Parse("email")))
		assert.True(t, got.IssuedAt.Equal(now))
		assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))
		assert.False(t, got.IsRevoked())

		_, err = repo.GetToken(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("revoke prior on issue", func(t *testing.T) {
		r1, a1 := chain("acc-single", "testid", now)
		_, err := repo.IssueSet(ctx, []*Token{r1, a1}, true, now)
		require.NoError(t, err)
		other, otherAccess := chain("acc-single", "otherclient", now)
		_, err = repo.IssueSet(ctx, []*Token{other, otherAccess}, false, now)
		require.NoError(t, err)

		r2, a2 := chain("acc-single", "testid", now.Add(time.Second))
		n, err := repo.IssueSet(ctx, []*Token{r2, a2}, true, now.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		assert.ElementsMatch(t, []string{r2.Value, a2.Value}, liveValues(t, repo, "acc-single", "testid", now.Add(time.Second)))
		assert.Len(t, liveValues(t, repo, "acc-single", "otherclient", now.Add(time.Second)), 2)

		got, err := repo.GetToken(ctx, a1.Value)
		require.NoError(t, err)
		assert.True(t, got.IsRevoked())
	})

	t.Run("refresh advances generation", func(t *testing.T) {
		refresh, access := chain("acc-refresh", "testid", now)
		_, err := repo.IssueSet(ctx, []*Token{refresh, access}, false, now)
		require.NoError(t, err)

		next := mint(KindAccess, "acc-refresh", "testid", now, time.Hour)
		n, err := repo.Refresh(ctx, refresh.ID, next, false, now)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, refresh.ID, next.ChainID)
		assert.Equal(t, 1, next.Generation)

		head, err := repo.GetToken(ctx, refresh.Value)
		require.NoError(t, err)
		assert.Equal(t, 1, head.Generation)
		assert.Len(t, liveValues(t, repo, "acc-refresh", "testid", now), 3)
	})

	t.Run("exclusive refresh keeps the chain head", func(t *testing.T) {
		refresh, access := chain("acc-excl", "testid", now)
		_, err := repo.IssueSet(ctx, []*Token{refresh, access}, true, now)
		require.NoError(t, err)

		next := mint(KindAccess, "acc-excl", "testid", now, time.Hour)
		n, err := repo.Refresh(ctx, refresh.ID, next, true, now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.ElementsMatch(t, []string{refresh.Value, next.Value}, liveValues(t, repo, "acc-excl", "testid", now))
	})

	t.Run("refresh of inactive chain", func(t *testing.T) {
		refresh, access := chain("acc-inactive", "testid", now)
		_, err := repo.IssueSet(ctx, []*Token{refresh, access}, false, now)
		require.NoError(t, err)
		_, err = repo.Revoke(ctx, "acc-inactive", "testid", refresh.Value, false, now)
		require.NoError(t, err)

		_, err = repo.Refresh(ctx, refresh.ID, mint(KindAccess, "acc-inactive", "testid", now, time.Hour), false, now)
		assert.ErrorIs(t, err, ErrChainInactive)

		_, err = repo.Refresh(ctx, access.ID, mint(KindAccess, "acc-inactive", "testid", now, time.Hour), false, now)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent exclusive refresh leaves one live access token", func(t *testing.T) {
		refresh, access := chain("acc-race", "testid", now)
		_, err := repo.IssueSet(ctx, []*Token{refresh, access}, true, now)
		require.NoError(t, err)

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Refresh(ctx, refresh.ID, mint(KindAccess, "acc-race", "testid", now, time.Hour), true, now)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		live, err := repo.ListLive(ctx, "acc-race", "testid", now)
		require.NoError(t, err)
		var accessCount int
		for _, tok := range live {
			if tok.Kind == KindAccess {
				accessCount++
			}
		}
		assert.Equal(t, 1, accessCount)

		head, err := repo.GetToken(ctx, refresh.Value)
		require.NoError(t, err)
		assert.Equal(t, workers, head.Generation)
		assert.False(t, head.IsRevoked())
	})

	t.Run("revoke single token", func(t *testing.T) {
		refresh, access := chain("acc-revoke", "testid", now)
		_, err := repo.IssueSet(ctx, []*Token{refresh, access}, false, now)
		require.NoError(t, err)

		n, err := repo.Revoke(ctx, "acc-revoke", "otherclient", access.Value, false, now)
		require.NoError(t, err)
		assert.Equal(t, 0, n, "token of another client is untouched")

		n, err = repo.Revoke(ctx, "acc-revoke", "testid", refresh.Value, false, now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{access.Value}, liveValues(t, repo, "acc-revoke", "testid", now))

		n, err = repo.Revoke(ctx, "acc-revoke", "testid", refresh.Value, false, now)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("revoke refresh with cascade", func(t *testing.T) {
		refresh, access := chain("acc-cascade", "testid", now)
		_, err := repo.IssueSet(ctx, []*Token{refresh, access}, false, now)
		require.NoError(t, err)

		n, err := repo.Revoke(ctx, "acc-cascade", "testid", refresh.Value, true, now)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Empty(t, liveValues(t, repo, "acc-cascade", "testid", now))
	})

	t.Run("revoke all", func(t *testing.T) {
		r1, a1 := chain("acc-all", "testid", now)
		r2, a2 := chain("acc-all", "testid", now)
		_, err := repo.IssueSet(ctx, []*Token{r1, a1, r2, a2}, false, now)
		require.NoError(t, err)

		n, err := repo.Revoke(ctx, "acc-all", "testid", "", false, now)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Empty(t, liveValues(t, repo, "acc-all", "testid", now))
	})

	t.Run("list filters", func(t *testing.T) {
		r1, a1 := chain("acc-list", "testid", now)
		r2, a2 := chain("acc-list", "otherclient", now)
		expired := mint(KindAccess, "acc-list", "testid", now.Add(-2*time.Hour), time.Hour)
		_, err := repo.IssueSet(ctx, []*Token{r1, a1}, false, now)
		require.NoError(t, err)
		_, err = repo.IssueSet(ctx, []*Token{r2, a2}, false, now)
		require.NoError(t, err)
		_, err = repo.IssueSet(ctx, []*Token{expired}, false, now)
		require.NoError(t, err)

		assert.Len(t, liveValues(t, repo, "acc-list", "", now), 4)
		assert.ElementsMatch(t, []string{r1.Value, a1.Value}, liveValues(t, repo, "acc-list", "testid", now))
		assert.Empty(t, liveValues(t, repo, "acc-nobody", "", now))
	})

	t.Run("delete expired", func(t *testing.T) {
		old := mint(KindAccess, "acc-expire", "testid", now.Add(-48*time.Hour), time.Hour)
		_, err := repo.IssueSet(ctx, []*Token{old}, false, now)
		require.NoError(t, err)

		n, err := repo.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))
		_, err = repo.GetToken(ctx, old.Value)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
