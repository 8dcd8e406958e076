package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zix99/simple-auth/pkg/scope"
	"github.com/zix99/simple-auth/pkg/storage"
)

// SQLiteRepository implements Repository on a database opened by
// storage.OpenSQLite, whose immediate transactions serialize writers.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const sqliteTokenColumns = `id, kind, token, client_id, account_id, scope, chain_id, generation, issued_at, expires_at, revoked_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteToken(row rowScanner) (*Token, error) {
	var t Token
	var kind, scopeStr string
	var chainID sql.NullString
	var issued, expires int64
	var revoked sql.NullInt64
	err := row.Scan(&t.ID, &kind, &t.Value, &t.ClientID, &t.AccountID, &scopeStr, &chainID,
		&t.Generation, &issued, &expires, &revoked)
	if err != nil {
		return nil, err
	}
	t.Kind = Kind(kind)
	t.Scope = scope.Parse(scopeStr)
	t.ChainID = chainID.String
	t.IssuedAt = storage.FromMillis(issued)
	t.ExpiresAt = storage.FromMillis(expires)
	if revoked.Valid {
		r := storage.FromMillis(revoked.Int64)
		t.RevokedAt = &r
	}
	return &t, nil
}

func insertSQLiteToken(ctx context.Context, tx *sql.Tx, t *Token) error {
	var chainID sql.NullString
	if t.ChainID != "" {
		chainID = sql.NullString{String: t.ChainID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO oauth_tokens (`+sqliteTokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, t.ID, string(t.Kind), t.Value, t.ClientID, t.AccountID, t.Scope.String(), chainID,
		t.Generation, storage.ToMillis(t.IssuedAt), storage.ToMillis(t.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) IssueSet(ctx context.Context, tokens []*Token, revokePrior bool, now time.Time) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var revoked int64
	if revokePrior {
		res, err := tx.ExecContext(ctx, `
			UPDATE oauth_tokens SET revoked_at = ?
			WHERE account_id = ? AND client_id = ? AND revoked_at IS NULL
		`, storage.ToMillis(now), tokens[0].AccountID, tokens[0].ClientID)
		if err != nil {
			return 0, fmt.Errorf("failed to revoke prior tokens: %w", err)
		}
		if revoked, err = res.RowsAffected(); err != nil {
			return 0, err
		}
	}
	for _, t := range tokens {
		if err := insertSQLiteToken(ctx, tx, t); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit token set: %w", err)
	}
	return int(revoked), nil
}

func (r *SQLiteRepository) Refresh(ctx context.Context, chainID string, access *Token, exclusive bool, now time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	head, err := scanSQLiteToken(tx.QueryRowContext(ctx, `
		SELECT `+sqliteTokenColumns+` FROM oauth_tokens WHERE id = ? AND kind = ?
	`, chainID, string(KindRefresh)))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	} else if err != nil {
		return 0, fmt.Errorf("failed to load refresh chain: %w", err)
	}
	if !head.IsActive(now) {
		return 0, ErrChainInactive
	}

	if _, err := tx.ExecContext(ctx, `UPDATE oauth_tokens SET generation = generation + 1 WHERE id = ?`, chainID); err != nil {
		return 0, fmt.Errorf("failed to advance refresh chain: %w", err)
	}
	access.ChainID = head.ID
	access.Generation = head.Generation + 1

	var revoked int64
	if exclusive {
		res, err := tx.ExecContext(ctx, `
			UPDATE oauth_tokens SET revoked_at = ?
			WHERE account_id = ? AND client_id = ? AND id <> ? AND revoked_at IS NULL
		`, storage.ToMillis(now), head.AccountID, head.ClientID, head.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to revoke superseded tokens: %w", err)
		}
		if revoked, err = res.RowsAffected(); err != nil {
			return 0, err
		}
	}
	if err := insertSQLiteToken(ctx, tx, access); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit refresh: %w", err)
	}
	return int(revoked), nil
}

func (r *SQLiteRepository) GetToken(ctx context.Context, value string) (*Token, error) {
	t, err := scanSQLiteToken(r.db.QueryRowContext(ctx, `SELECT `+sqliteTokenColumns+` FROM oauth_tokens WHERE token = ?`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListLive(ctx context.Context, accountID, clientID string, now time.Time) ([]*Token, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sqliteTokenColumns+` FROM oauth_tokens
		WHERE account_id = ? AND (? = '' OR client_id = ?) AND revoked_at IS NULL AND expires_at > ?
		ORDER BY issued_at, id
	`, accountID, clientID, clientID, storage.ToMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var ret []*Token
	for rows.Next() {
		t, err := scanSQLiteToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		ret = append(ret, t)
	}
	return ret, rows.Err()
}

func (r *SQLiteRepository) Revoke(ctx context.Context, accountID, clientID, value string, cascade bool, now time.Time) (int, error) {
	var res sql.Result
	var err error
	if value == "" {
		res, err = r.db.ExecContext(ctx, `
			UPDATE oauth_tokens SET revoked_at = ?
			WHERE account_id = ? AND client_id = ? AND revoked_at IS NULL
		`, storage.ToMillis(now), accountID, clientID)
	} else {
		res, err = r.db.ExecContext(ctx, `
			WITH target AS (
				SELECT id, kind FROM oauth_tokens
				WHERE token = ? AND account_id = ? AND client_id = ? AND revoked_at IS NULL
			)
			UPDATE oauth_tokens SET revoked_at = ?
			WHERE revoked_at IS NULL AND (
				id IN (SELECT id FROM target)
				OR (? AND chain_id IN (SELECT id FROM target WHERE kind = 'refresh_token'))
			)
		`, value, accountID, clientID, storage.ToMillis(now), cascade)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to revoke tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *SQLiteRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE expires_at <= ?`, storage.ToMillis(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}
