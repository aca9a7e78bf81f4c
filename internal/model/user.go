// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultNickname は初回ログイン時に作成されるユーザーの表示名。
const DefaultNickname = "微信用户"

// User はサービス利用ユーザーを表す。
// OpenIDはWeChatの外部ID（アプリ内で一意）。
type User struct {
	ID        string
	OpenID    string
	UnionID   string
	Nickname  string
	AvatarURL string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session は外部IDごとのログインセッションを表す。
// 1つのOpenIDにつき最大1件で、再ログイン時は上書きされる。
type Session struct {
	OpenID     string
	UserID     string
	SessionKey string
	UnionID    string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsValidAt は指定時刻においてセッションが有効かを返す。
// 有効期限ちょうどの時刻は期限切れとして扱う。
func (s *Session) IsValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// AccessToken はアプリ単位で共有されるWeChatアクセストークンのキャッシュエントリ。
type AccessToken struct {
	AppID     string
	Token     string
	ExpiresAt time.Time
}

// IsValidAt は指定時刻においてトークンが有効かを返す。
func (t *AccessToken) IsValidAt(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// UserPatch はプロフィールの部分更新内容を表す。
// nilのフィールドは変更しない。
type UserPatch struct {
	Nickname  *string
	Phone     *string
	AvatarURL *string
}
