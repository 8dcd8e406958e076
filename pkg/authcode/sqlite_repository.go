package authcode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
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

func (r *SQLiteRepository) CreateCode(ctx context.Context, code *AuthorizationCode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO oauth_codes (code, client_id, account_id, scope, redirect_uri, state, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, code.Code, code.ClientID, code.AccountID, code.Scope.String(), code.RedirectURI, code.State,
		storage.ToMillis(code.CreatedAt), storage.ToMillis(code.ExpiresAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to insert authorization code: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var c AuthorizationCode
	var scopeStr string
	var created, expires int64
	var consumed sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT code, client_id, account_id, scope, redirect_uri, state, created_at, expires_at, consumed_at
		FROM oauth_codes WHERE code = ?
	`, code).Scan(&c.Code, &c.ClientID, &c.AccountID, &scopeStr, &c.RedirectURI, &c.State,
		&created, &expires, &consumed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	c.Scope = scope.Parse(scopeStr)
	c.CreatedAt = storage.FromMillis(created)
	c.ExpiresAt = storage.FromMillis(expires)
	if consumed.Valid {
		t := storage.FromMillis(consumed.Int64)
		c.ConsumedAt = &t
	}
	return &c, nil
}

func (r *SQLiteRepository) ConsumeCode(ctx context.Context, code string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE oauth_codes SET consumed_at = ?
		WHERE code = ? AND consumed_at IS NULL AND expires_at > ?
	`, storage.ToMillis(now), code, storage.ToMillis(now))
	if err != nil {
		return false, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *SQLiteRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM oauth_codes WHERE expires_at <= ?`, storage.ToMillis(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}
	return result.RowsAffected()
}
