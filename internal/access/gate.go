// Package access はリクエスト単位の操作者（Actor）と、赤ちゃん単位の認可ゲートを提供する。
//
// 操作者はcontext.Contextに不変値として格納され、リクエストをまたいで共有されない。
// 認可判定は家族関係の変更（権限変更・メンバー削除）を即座に反映するため、
// キャッシュせず毎回リポジトリに問い合わせる。
package access

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/babyfamily/internal/metrics"
	"github.com/hitoshi/babyfamily/internal/model"
)

// Actor はセッション認証ゲートで解決された操作者を表す。
type Actor struct {
	UserID string
	OpenID string
}

// actorContextKey はコンテキストにActorを格納するための型安全なキー。
type actorContextKey struct{}

// WithActor はコンテキストに操作者を注入する。
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext はコンテキストから操作者を取得する。
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || actor.UserID == "" {
		return Actor{}, false
	}
	return actor, true
}

// CurrentActor はコンテキストから操作者を取得し、存在しない場合は未認証エラーを返す。
func CurrentActor(ctx context.Context) (Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return Actor{}, model.NewUnauthenticatedError("未ログインです。")
	}
	return actor, nil
}

// MembershipFinder は認可判定に必要な家族関係の検索インターフェース。
// repository.MembershipRepositoryの部分集合として定義する。
type MembershipFinder interface {
	FindByBabyAndUser(ctx context.Context, babyID, userID string) (*model.Membership, error)
}

// Gate は赤ちゃん単位のアクセス認可ゲート。
type Gate struct {
	members MembershipFinder
	metrics metrics.MetricsCollector
}

// NewGate はGateを生成する。
func NewGate(members MembershipFinder, collector metrics.MetricsCollector) *Gate {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Gate{members: members, metrics: collector}
}

// RequireMember は操作者が指定された赤ちゃんの家族メンバーであることを要求する。
func (g *Gate) RequireMember(ctx context.Context, babyID string) error {
	_, err := g.membership(ctx, babyID)
	return err
}

// RequireAdmin は操作者が指定された赤ちゃんの管理者であることを要求する。
func (g *Gate) RequireAdmin(ctx context.Context, babyID string) error {
	m, err := g.membership(ctx, babyID)
	if err != nil {
		return err
	}
	if !m.IsAdmin {
		g.deny(ctx, babyID, m.UserID, "not_admin")
		return model.NewNotAdminError()
	}
	return nil
}

// membership は操作者の家族関係を取得する。存在しない場合は権限エラーを返す。
func (g *Gate) membership(ctx context.Context, babyID string) (*model.Membership, error) {
	actor, err := CurrentActor(ctx)
	if err != nil {
		g.metrics.RecordAccessDenied("unauthenticated")
		return nil, err
	}

	m, err := g.members.FindByBabyAndUser(ctx, babyID, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	if m == nil {
		g.deny(ctx, babyID, actor.UserID, "not_member")
		return nil, model.NewNotMemberError()
	}
	return m, nil
}

func (g *Gate) deny(ctx context.Context, babyID, userID, reason string) {
	g.metrics.RecordAccessDenied(reason)
	slog.InfoContext(ctx, "access denied",
		slog.String("baby_id", babyID),
		slog.String("user_id", userID),
		slog.String("reason", reason),
	)
}
