package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/babyfamily/internal/model"
)

// PostgresTokenStore はwechat_access_tokensテーブルを使用したアクセストークンキャッシュ。
type PostgresTokenStore struct {
	db *sql.DB
}

// NewPostgresTokenStore はPostgresTokenStoreを生成する。
func NewPostgresTokenStore(db *sql.DB) *PostgresTokenStore {
	return &PostgresTokenStore{db: db}
}

// Get はAppIDのトークンを取得する。見つからない場合はnilを返す。
func (s *PostgresTokenStore) Get(ctx context.Context, appID string) (*model.AccessToken, error) {
	token := &model.AccessToken{}
	err := s.db.QueryRowContext(ctx,
		`SELECT appid, access_token, expires_at
		 FROM wechat_access_tokens
		 WHERE appid = $1`,
		appID,
	).Scan(&token.AppID, &token.Token, &token.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	return token, nil
}

// Put はAppIDをキーにトークンを作成または上書きする。
func (s *PostgresTokenStore) Put(ctx context.Context, token *model.AccessToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wechat_access_tokens (appid, access_token, expires_at, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (appid) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			expires_at   = EXCLUDED.expires_at,
			updated_at   = now()`,
		token.AppID, token.Token, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put access token: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AccessTokenStore = (*PostgresTokenStore)(nil)
