package authcode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zix99/simple-auth/pkg/scope"
)

const pgUniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateCode(ctx context.Context, code *AuthorizationCode) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO oauth_codes (code, client_id, account_id, scope, redirect_uri, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, code.Code, code.ClientID, code.AccountID, code.Scope.String(), code.RedirectURI, code.State,
		code.CreatedAt.UTC(), code.ExpiresAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to insert authorization code: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var c AuthorizationCode
	var scopeStr string
	err := r.pool.QueryRow(ctx, `
		SELECT code, client_id, account_id, scope, redirect_uri, state, created_at, expires_at, consumed_at
		FROM oauth_codes WHERE code = $1
	`, code).Scan(&c.Code, &c.ClientID, &c.AccountID, &scopeStr, &c.RedirectURI, &c.State,
		&c.CreatedAt, &c.ExpiresAt, &c.ConsumedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	c.Scope = scope.Parse(scopeStr)
	return &c, nil
}

func (r *PostgresRepository) ConsumeCode(ctx context.Context, code string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE oauth_codes SET consumed_at = $2
		WHERE code = $1 AND consumed_at IS NULL AND expires_at > $2
	`, code, now.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM oauth_codes WHERE expires_at <= $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}
	return tag.RowsAffected(), nil
}
