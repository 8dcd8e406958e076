package token

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

// PostgresRepository implements Repository using PostgreSQL. Mutations of one
// (account, client) pair are serialized with a transaction-scoped advisory lock.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const pgTokenColumns = `id, kind, token, client_id, account_id, scope, chain_id, generation, issued_at, expires_at, revoked_at`

func scanPgToken(row pgx.Row) (*Token, error) {
	var t Token
	var kind, scopeStr string
	var chainID *string
	err := row.Scan(&t.ID, &kind, &t.Value, &t.ClientID, &t.AccountID, &scopeStr, &chainID,
		&t.Generation, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt)
	if err != nil {
		return nil, err
	}
	t.Kind = Kind(kind)
	t.Scope = scope.Parse(scopeStr)
	if chainID != nil {
		t.ChainID = *chainID
	}
	return &t, nil
}

func lockPair(ctx context.Context, tx pgx.Tx, accountID, clientID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || '/' || $2))`, accountID, clientID)
	if err != nil {
		return fmt.Errorf("failed to lock token pair: %w", err)
	}
	return nil
}

func insertPgToken(ctx context.Context, tx pgx.Tx, t *Token) error {
	var chainID *string
	if t.ChainID != "" {
		chainID = &t.ChainID
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO oauth_tokens (`+pgTokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL)
	`, t.ID, string(t.Kind), t.Value, t.ClientID, t.AccountID, t.Scope.String(), chainID,
		t.Generation, t.IssuedAt.UTC(), t.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

func (r *PostgresRepository) IssueSet(ctx context.Context, tokens []*Token, revokePrior bool, now time.Time) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	accountID, clientID := tokens[0].AccountID, tokens[0].ClientID
	if err := lockPair(ctx, tx, accountID, clientID); err != nil {
		return 0, err
	}

	var revoked int64
	if revokePrior {
		tag, err := tx.Exec(ctx, `
			UPDATE oauth_tokens SET revoked_at = $3
			WHERE account_id = $1 AND client_id = $2 AND revoked_at IS NULL
		`, accountID, clientID, now.UTC())
		if err != nil {
			return 0, fmt.Errorf("failed to revoke prior tokens: %w", err)
		}
		revoked = tag.RowsAffected()
	}
	for _, t := range tokens {
		if err := insertPgToken(ctx, tx, t); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit token set: %w", err)
	}
	return int(revoked), nil
}

func (r *PostgresRepository) Refresh(ctx context.Context, chainID string, access *Token, exclusive bool, now time.Time) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockPair(ctx, tx, access.AccountID, access.ClientID); err != nil {
		return 0, err
	}

	head, err := scanPgToken(tx.QueryRow(ctx, `
		SELECT `+pgTokenColumns+` FROM oauth_tokens WHERE id = $1 AND kind = $2 FOR UPDATE
	`, chainID, string(KindRefresh)))
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	} else if err != nil {
		return 0, fmt.Errorf("failed to load refresh chain: %w", err)
	}
	if !head.IsActive(now) {
		return 0, ErrChainInactive
	}

	var generation int
	err = tx.QueryRow(ctx, `
		UPDATE oauth_tokens SET generation = generation + 1 WHERE id = $1 RETURNING generation
	`, chainID).Scan(&generation)
	if err != nil {
		return 0, fmt.Errorf("failed to advance refresh chain: %w", err)
	}
	access.ChainID = head.ID
	access.Generation = generation

	var revoked int64
	if exclusive {
		tag, err := tx.Exec(ctx, `
			UPDATE oauth_tokens SET revoked_at = $4
			WHERE account_id = $1 AND client_id = $2 AND id <> $3 AND revoked_at IS NULL
		`, head.AccountID, head.ClientID, head.ID, now.UTC())
		if err != nil {
			return 0, fmt.Errorf("failed to revoke superseded tokens: %w", err)
		}
		revoked = tag.RowsAffected()
	}
	if err := insertPgToken(ctx, tx, access); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit refresh: %w", err)
	}
	return int(revoked), nil
}

func (r *PostgresRepository) GetToken(ctx context.Context, value string) (*Token, error) {
	t, err := scanPgToken(r.pool.QueryRow(ctx, `SELECT `+pgTokenColumns+` FROM oauth_tokens WHERE token = $1`, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) ListLive(ctx context.Context, accountID, clientID string, now time.Time) ([]*Token, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+pgTokenColumns+` FROM oauth_tokens
		WHERE account_id = $1 AND ($2 = '' OR client_id = $2) AND revoked_at IS NULL AND expires_at > $3
		ORDER BY issued_at, id
	`, accountID, clientID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var ret []*Token
	for rows.Next() {
		t, err := scanPgToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		ret = append(ret, t)
	}
	return ret, rows.Err()
}

func (r *PostgresRepository) Revoke(ctx context.Context, accountID, clientID, value string, cascade bool, now time.Time) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockPair(ctx, tx, accountID, clientID); err != nil {
		return 0, err
	}

	var tag pgconn.CommandTag
	if value == "" {
		tag, err = tx.Exec(ctx, `
			UPDATE oauth_tokens SET revoked_at = $3
			WHERE account_id = $1 AND client_id = $2 AND revoked_at IS NULL
		`, accountID, clientID, now.UTC())
	} else {
		tag, err = tx.Exec(ctx, `
			WITH target AS (
				SELECT id, kind FROM oauth_tokens
				WHERE token = $3 AND account_id = $1 AND client_id = $2 AND revoked_at IS NULL
			)
			UPDATE oauth_tokens SET revoked_at = $4
			WHERE revoked_at IS NULL AND (
				id IN (SELECT id FROM target)
				OR ($5 AND chain_id IN (SELECT id FROM target WHERE kind = 'refresh_token'))
			)
		`, accountID, clientID, value, now.UTC(), cascade)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to revoke tokens: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit revocation: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM oauth_tokens WHERE expires_at <= $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
