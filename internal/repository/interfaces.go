// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/babyfamily/internal/model"
)

// ErrDuplicate は一意制約違反によって挿入が拒否されたことを示す。
// 存在確認を挟まず、挿入の結果そのもので重複を判定するために使用する。
var ErrDuplicate = errors.New("duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByOpenID はOpenIDでユーザーを検索する。見つからない場合はnilを返す。
	FindByOpenID(ctx context.Context, openID string) (*model.User, error)

	// Create はユーザーを作成する。OpenIDが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile はプロフィールを部分更新する。見つからない場合はnilを返す。
	UpdateProfile(ctx context.Context, id string, patch model.UserPatch) (*model.User, error)
}

// SessionRepository はOpenIDごとのログインセッションの永続化インターフェース。
type SessionRepository interface {
	// Upsert はOpenIDをキーにセッションを作成または上書きする。
	Upsert(ctx context.Context, session *model.Session) error

	// FindByOpenID はOpenIDのセッションを取得する。期限切れでも返し、判定は呼び出し側で行う。
	// 見つからない場合はnilを返す。
	FindByOpenID(ctx context.Context, openID string) (*model.Session, error)

	// DeleteByOpenID はOpenIDのセッションを削除する。
	DeleteByOpenID(ctx context.Context, openID string) error

	// DeleteExpiredBefore は有効期限がbefore以前のセッションを削除し、削除件数を返す。
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

// BabyRepository は赤ちゃんデータの永続化インターフェース。
type BabyRepository interface {
	// FindByID は指定IDの赤ちゃんを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Baby, error)

	// CreateWithCreator は赤ちゃんと作成者の管理者関係を同一トランザクションで作成する。
	CreateWithCreator(ctx context.Context, baby *model.Baby, creator *model.Membership) error

	// Update は赤ちゃん情報を部分更新する。見つからない場合はnilを返す。
	Update(ctx context.Context, id string, patch model.BabyPatch) (*model.Baby, error)

	// Delete は赤ちゃんを削除する。家族関係と招待はCASCADE削除される。
	// 削除対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, id string) (bool, error)

	// ListByUserID はユーザーが家族として所属する赤ちゃんの一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]model.BabyWithRole, error)
}

// MembershipRepository は家族関係の永続化インターフェース。
type MembershipRepository interface {
	// FindByBabyAndUser は赤ちゃんとユーザーの家族関係を取得する。見つからない場合はnilを返す。
	FindByBabyAndUser(ctx context.Context, babyID, userID string) (*model.Membership, error)

	// Create は家族関係を作成する。同じ組が既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, m *model.Membership) error

	// Update は家族関係を部分更新する。見つからない場合はnilを返す。
	Update(ctx context.Context, babyID, userID string, patch model.MembershipPatch) (*model.Membership, error)

	// Delete は家族関係を削除する。削除対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, babyID, userID string) (bool, error)

	// ListByBabyID は赤ちゃんの家族メンバー一覧をユーザー情報付きで返す。
	ListByBabyID(ctx context.Context, babyID string) ([]model.MemberWithUser, error)
}

// InvitationRepository は招待コードの永続化インターフェース。
type InvitationRepository interface {
	// Create は招待を作成する。コードが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, inv *model.Invitation) error

	// ExistsByCode は指定コードの招待が存在するかを返す。
	ExistsByCode(ctx context.Context, code string) (bool, error)

	// FindByCode はコードで招待を取得する。見つからない場合はnilを返す。
	FindByCode(ctx context.Context, code string) (*model.Invitation, error)

	// FindByIDAndBaby は赤ちゃんに属する指定IDの招待を取得する。見つからない場合はnilを返す。
	FindByIDAndBaby(ctx context.Context, id, babyID string) (*model.Invitation, error)

	// ListByBabyID は赤ちゃんの招待一覧を作成日時の降順で返す。
	ListByBabyID(ctx context.Context, babyID string) ([]*model.Invitation, error)

	// ExpireOverdue は赤ちゃんのactiveな招待のうち、now時点で期限を過ぎたものをexpiredに遷移する。
	// 遷移した件数を返す。
	ExpireOverdue(ctx context.Context, babyID string, now time.Time) (int64, error)

	// MarkExpired はactiveな招待をexpiredに遷移する。active以外の場合は何もしない。
	MarkExpired(ctx context.Context, id string) error

	// DeleteByIDAndBaby は赤ちゃんに属する招待を削除する。削除対象が存在しない場合はfalseを返す。
	DeleteByIDAndBaby(ctx context.Context, id, babyID string) (bool, error)

	// RunInTx は引き換え処理用のトランザクションを開始し、fnがnilを返した場合のみコミットする。
	RunInTx(ctx context.Context, fn func(tx RedemptionTx) error) error
}

// RedemptionTx は招待コード引き換えを単一トランザクションで行うための操作群。
type RedemptionTx interface {
	// FindByCodeForUpdate はコードで招待を取得し、トランザクション終了まで行ロックを保持する。
	// 見つからない場合はnilを返す。
	FindByCodeForUpdate(ctx context.Context, code string) (*model.Invitation, error)

	// MarkExpired は招待をexpiredに遷移する。
	MarkExpired(ctx context.Context, id string) error

	// MarkUsed は招待をusedに遷移し、引き換えたユーザーと日時を記録する。
	MarkUsed(ctx context.Context, id, userID string, usedAt time.Time) error

	// FindMembership は赤ちゃんとユーザーの家族関係を取得する。見つからない場合はnilを返す。
	FindMembership(ctx context.Context, babyID, userID string) (*model.Membership, error)

	// CreateMembership は家族関係を作成する。同じ組が既に存在する場合はErrDuplicateを返す。
	CreateMembership(ctx context.Context, m *model.Membership) error
}

// AccessTokenStore はアプリ単位で共有するWeChatアクセストークンのキャッシュストア。
type AccessTokenStore interface {
	// Get はAppIDのトークンを取得する。見つからない場合はnilを返す。
	// 有効期限の判定は呼び出し側で行う。
	Get(ctx context.Context, appID string) (*model.AccessToken, error)

	// Put はAppIDをキーにトークンを作成または上書きする。
	Put(ctx context.Context, token *model.AccessToken) error
}
