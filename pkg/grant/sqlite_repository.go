package grant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zix99/simple-auth/pkg/scope"
	"github.com/zix99/simple-auth/pkg/storage"
)

// SQLiteRepository implements Repository on a database opened by storage.OpenSQLite
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getGrant(ctx context.Context, q queryRower, accountID, clientID string) (*Grant, error) {
	var g Grant
	var scopeStr string
	var created, updated int64
	err := q.QueryRowContext(ctx, `
		SELECT account_id, client_id, scope, created_at, updated_at
		FROM oauth_grants WHERE account_id = ? AND client_id = ?
	`, accountID, clientID).Scan(&g.AccountID, &g.ClientID, &scopeStr, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	g.Scope = scope.Parse(scopeStr)
	g.CreatedAt = storage.FromMillis(created)
	g.UpdatedAt = storage.FromMillis(updated)
	return &g, nil
}

func (r *SQLiteRepository) GetGrant(ctx context.Context, accountID, clientID string) (*Grant, error) {
	return getGrant(ctx, r.db, accountID, clientID)
}

func (r *SQLiteRepository) UpsertGrant(ctx context.Context, accountID, clientID string, scopes scope.Set) (*Grant, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	g, err := getGrant(ctx, tx, accountID, clientID)
	switch {
	case errors.Is(err, ErrNotFound):
		g = &Grant{AccountID: accountID, ClientID: clientID, Scope: scopes.Union(nil), CreatedAt: now, UpdatedAt: now}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO oauth_grants (account_id, client_id, scope, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, accountID, clientID, g.Scope.String(), storage.ToMillis(now), storage.ToMillis(now))
	case err != nil:
		return nil, err
	default:
		g.Scope = g.Scope.Union(scopes)
		g.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE oauth_grants SET scope = ?, updated_at = ?
			WHERE account_id = ? AND client_id = ?
		`, g.Scope.String(), storage.ToMillis(now), accountID, clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert grant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit grant: %w", err)
	}
	return g, nil
}
