package grant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zix99/simple-auth/pkg/scope"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) GetGrant(ctx context.Context, accountID, clientID string) (*Grant, error) {
	var g Grant
	var scopeStr string
	err := r.pool.QueryRow(ctx, `
		SELECT account_id, client_id, scope, created_at, updated_at
		FROM oauth_grants
		WHERE account_id = $1 AND client_id = $2
	`, accountID, clientID).Scan(&g.AccountID, &g.ClientID, &scopeStr, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	g.Scope = scope.Parse(scopeStr)
	return &g, nil
}

// UpsertGrant locks the grant row for the duration of the merge.
func (r *PostgresRepository) UpsertGrant(ctx context.Context, accountID, clientID string, scopes scope.Set) (*Grant, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO oauth_grants (account_id, client_id, scope, created_at, updated_at)
		VALUES ($1, $2, '', $3, $3)
		ON CONFLICT (account_id, client_id) DO NOTHING
	`, accountID, clientID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert grant: %w", err)
	}

	g := Grant{AccountID: accountID, ClientID: clientID}
	var scopeStr string
	err = tx.QueryRow(ctx, `
		SELECT scope, created_at FROM oauth_grants
		WHERE account_id = $1 AND client_id = $2
		FOR UPDATE
	`, accountID, clientID).Scan(&scopeStr, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to lock grant: %w", err)
	}

	g.Scope = scope.Parse(scopeStr).Union(scopes)
	g.UpdatedAt = now
	_, err = tx.Exec(ctx, `
		UPDATE oauth_grants SET scope = $3, updated_at = $4
		WHERE account_id = $1 AND client_id = $2
	`, accountID, clientID, g.Scope.String(), now)
	if err != nil {
		return nil, fmt.Errorf("failed to update grant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit grant: %w", err)
	}
	return &g, nil
}
