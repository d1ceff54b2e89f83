package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRevocationRepo はPostgreSQLを使用したトークン失効リスト。
type PostgresRevocationRepo struct {
	db *sql.DB
}

// NewPostgresRevocationRepo はPostgresRevocationRepoを生成する。
func NewPostgresRevocationRepo(db *sql.DB) *PostgresRevocationRepo {
	return &PostgresRevocationRepo{db: db}
}

// Revoke はトークンIDを有効期限まで失効させる。同じIDの再登録は無視する。
func (r *PostgresRevocationRepo) Revoke(ctx context.Context, tokenID, username string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (token_id, username, expires_at, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (token_id) DO NOTHING`,
		tokenID, username, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked はトークンIDが失効済みかどうかを返す。期限切れの失効エントリは対象外。
func (r *PostgresRevocationRepo) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE token_id = $1 AND expires_at > now())`,
		tokenID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return exists, nil
}

// compile-time interface check
var _ TokenRevocationRepository = (*PostgresRevocationRepo)(nil)
