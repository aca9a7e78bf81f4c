package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/babyfamily/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// user_sessionsはOpenIDを主キーとし、1つの外部IDにつき最大1件を保持する。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Upsert はOpenIDをキーにセッションを作成または上書きする。
func (r *PostgresSessionRepo) Upsert(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_sessions (openid, user_id, session_key, unionid, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (openid) DO UPDATE SET
			user_id     = EXCLUDED.user_id,
			session_key = EXCLUDED.session_key,
			unionid     = EXCLUDED.unionid,
			expires_at  = EXCLUDED.expires_at,
			updated_at  = EXCLUDED.updated_at`,
		session.OpenID, session.UserID, session.SessionKey, session.UnionID,
		session.ExpiresAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// FindByOpenID はOpenIDのセッションを取得する。期限切れでも返す。
func (r *PostgresSessionRepo) FindByOpenID(ctx context.Context, openID string) (*model.Session, error) {
	session := &model.Session{}
	err := r.db.QueryRowContext(ctx,
		`SELECT openid, user_id, session_key, unionid, expires_at, created_at, updated_at
		 FROM user_sessions
		 WHERE openid = $1`,
		openID,
	).Scan(
		&session.OpenID, &session.UserID, &session.SessionKey, &session.UnionID,
		&session.ExpiresAt, &session.CreatedAt, &session.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return session, nil
}

// DeleteByOpenID はOpenIDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByOpenID(ctx context.Context, openID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE openid = $1`,
		openID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredBefore は有効期限がbefore以前のセッションを削除する。
func (r *PostgresSessionRepo) DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE expires_at <= $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
